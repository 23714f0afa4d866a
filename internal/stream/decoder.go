package stream

import (
	"strings"
	"unicode/utf8"
)

// chunkDecoder turns raw byte chunks into UTF-8 text. A multi-byte rune split
// across a chunk boundary is held back until its continuation bytes arrive,
// so geographic text fields are never corrupted by arbitrary chunk splits.
// Genuinely malformed sequences are replaced best-effort, never an error.
type chunkDecoder struct {
	pending []byte
}

// Write decodes a chunk and returns the completed text. Trailing bytes of an
// incomplete rune are carried over to the next call.
func (d *chunkDecoder) Write(p []byte) string {
	if len(p) == 0 && len(d.pending) == 0 {
		return ""
	}

	buf := p
	if len(d.pending) > 0 {
		buf = append(d.pending, p...)
		d.pending = nil
	}

	cut := completeBoundary(buf)
	if cut < len(buf) {
		d.pending = append([]byte(nil), buf[cut:]...)
	}

	return strings.ToValidUTF8(string(buf[:cut]), string(utf8.RuneError))
}

// Flush releases any held-back bytes best-effort and resets the decoder.
func (d *chunkDecoder) Flush() string {
	if len(d.pending) == 0 {
		return ""
	}
	tail := d.pending
	d.pending = nil

	return strings.ToValidUTF8(string(tail), string(utf8.RuneError))
}

// completeBoundary returns the length of the longest prefix of buf that does
// not end in a truncated multi-byte rune.
func completeBoundary(buf []byte) int {
	for i := len(buf) - 1; i >= 0 && i > len(buf)-utf8.UTFMax; i-- {
		b := buf[i]
		if !utf8.RuneStart(b) {
			continue
		}
		if b < utf8.RuneSelf {
			return len(buf)
		}
		if r, _ := utf8.DecodeRune(buf[i:]); r != utf8.RuneError {
			return len(buf)
		}
		// RuneError on the trailing rune start: hold it back only when the
		// declared sequence length exceeds the bytes available, otherwise
		// the sequence is invalid rather than incomplete.
		if leadLen(b) > len(buf)-i {
			return i
		}
		return len(buf)
	}

	return len(buf)
}

// leadLen reports the sequence length declared by a UTF-8 lead byte.
func leadLen(b byte) int {
	switch {
	case b&0xE0 == 0xC0:
		return 2
	case b&0xF0 == 0xE0:
		return 3
	case b&0xF8 == 0xF0:
		return 4
	default:
		return 1
	}
}
