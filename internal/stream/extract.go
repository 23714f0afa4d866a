package stream

import (
	"strings"

	"github.com/goccy/go-json"

	"github.com/tomtom215/cartographus-sub005/internal/geo"
)

// featuresMarker opens the features array in the wire payload. The server
// emits compact JSON, so the marker carries no whitespace.
const featuresMarker = `"features":[`

// extractor scans the accumulated text buffer for complete, balanced feature
// objects. Balanced means lexically balanced braces; the scan does not track
// string-literal state, so property values must not contain unescaped braces.
//
// The buffer never contains a feature that has already been emitted: every
// parsed object is consumed, and partial trailing content is preserved
// verbatim for the next chunk.
type extractor struct {
	buf        string
	arrayFound bool
}

// feed appends text to the buffer and returns the complete features found.
func (e *extractor) feed(text string) []geo.Feature {
	e.buf += text
	return e.scan(false)
}

// drain appends the final text, extracts whatever still parses and discards
// the rest. The extractor is spent afterwards.
func (e *extractor) drain(text string) []geo.Feature {
	e.buf += text
	return e.scan(true)
}

func (e *extractor) scan(final bool) []geo.Feature {
	buf := e.buf

	if !e.arrayFound {
		idx := strings.Index(buf, featuresMarker)
		if idx < 0 {
			// Marker may itself be split across chunks. Keep everything
			// until it completes.
			if final {
				e.buf = ""
			}
			return nil
		}
		e.arrayFound = true
		buf = buf[idx+len(featuresMarker):]
	}

	var features []geo.Feature
	depth := 0
	start := -1
	lastClose := -1

	for i := 0; i < len(buf); i++ {
		switch buf[i] {
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				// Collection tail ("]}") or stray punctuation, not an
				// object boundary.
				lastClose = i
				continue
			}
			depth--
			if depth == 0 {
				if f, ok := parseFeature(buf[start : i+1]); ok {
					features = append(features, f)
				}
				lastClose = i
				start = -1
			}
		}
	}

	switch {
	case final:
		e.buf = ""
	case depth > 0 && start >= 0:
		// Chunk ended mid-object: carry it over from its opening brace.
		e.buf = buf[start:]
	case lastClose >= 0:
		// Trailing separators or a partial array-close may still arrive.
		e.buf = buf[lastClose+1:]
	default:
		e.buf = buf
	}

	return features
}

type wireFeature struct {
	Type       string                 `json:"type"`
	Geometry   *geo.Geometry          `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
}

// parseFeature parses a candidate object. Failures are swallowed so that
// boundary artifacts never abort the stream.
func parseFeature(raw string) (geo.Feature, bool) {
	var wf wireFeature
	if err := json.Unmarshal([]byte(raw), &wf); err != nil {
		return geo.Feature{}, false
	}
	if wf.Type != "Feature" || wf.Geometry == nil {
		return geo.Feature{}, false
	}

	return geo.Feature{
		Type:       wf.Type,
		Geometry:   *wf.Geometry,
		Properties: wf.Properties,
	}, true
}
