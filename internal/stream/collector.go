// Package stream implements the incremental streaming-GeoJSON collector: a
// cancellable read loop over a chunked HTTP response that decodes, extracts
// and aggregates feature objects as they arrive, without materializing the
// whole payload first.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/tomtom215/cartographus-sub005/internal/geo"
)

const (
	// DefaultEstimatedTotal is assumed when the server does not report a
	// usable X-Total-Count header.
	DefaultEstimatedTotal = 10000

	// StreamPath is the chunked streaming endpoint.
	StreamPath = "/api/v1/stream/locations-geojson"

	// LocationsPath is the plain, non-streamed endpoint.
	LocationsPath = "/api/v1/locations-geojson"

	readBufferSize = 32 * 1024
)

var (
	// ErrCancelled reports a caller-initiated abort. It is an expected
	// outcome, distinct from transport failures, and is never delivered
	// through the OnError callback.
	ErrCancelled = errors.New("stream cancelled")

	// ErrStreamUnsupported reports a response body that cannot be read
	// incrementally.
	ErrStreamUnsupported = errors.New("response does not support streaming")
)

// State describes the collector session lifecycle.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateReceiving
	StateComplete
	StateCancelled
	StateErrored
)

// Filter narrows the requested date range. StartDate/EndDate are serialized
// as RFC3339; Days is an alternative relative range.
type Filter struct {
	StartDate *time.Time
	EndDate   *time.Time
	Days      int
}

func (f Filter) query() url.Values {
	q := url.Values{}
	if f.StartDate != nil {
		q.Set("start_date", f.StartDate.Format(time.RFC3339))
	}
	if f.EndDate != nil {
		q.Set("end_date", f.EndDate.Format(time.RFC3339))
	}
	if f.Days > 0 {
		q.Set("days", strconv.Itoa(f.Days))
	}
	return q
}

// Callbacks are the hooks a caller supplies to observe a streaming session.
// Any of them may be nil.
type Callbacks struct {
	OnProgress func(loaded, estimated int)
	OnBatch    func(batch []geo.Feature, total int)
	OnComplete func(fc geo.FeatureCollection)
	OnError    func(err error)
}

type session struct {
	cancel context.CancelFunc
}

// Collector streams location features from a backend. At most one session is
// active per collector; starting a new stream aborts the previous one first.
//
// Abort and Status are safe to call from other goroutines than the one
// running Stream.
type Collector struct {
	client  *http.Client
	baseURL string

	mu      sync.Mutex
	state   State
	status  string
	current *session
}

// New creates a collector for the given backend base URL. A nil client falls
// back to a client without an overall timeout, since streams may be
// long-lived; cancellation happens via context instead.
func New(baseURL string, client *http.Client) *Collector {
	if client == nil {
		client = &http.Client{}
	}
	return &Collector{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		state:   StateIdle,
	}
}

// Streaming reports whether a session is currently connecting or receiving.
func (c *Collector) Streaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnecting || c.state == StateReceiving
}

// State returns the current session state.
func (c *Collector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns the short human-readable phase string for UI binding.
func (c *Collector) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Abort cancels the in-flight session, if any. It is idempotent: calling it
// again, or with no active session, is a no-op.
func (c *Collector) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return
	}
	c.current.cancel()
	c.current = nil
	c.state = StateCancelled
	c.status = "Cancelled"
}

// Stream opens the chunked endpoint and collects features incrementally,
// invoking the callbacks as batches arrive. It returns the full collection
// on success. Cancellation returns ErrCancelled without invoking OnError;
// transport failures invoke OnError and are returned.
func (c *Collector) Stream(ctx context.Context, filter Filter, cb Callbacks) (geo.FeatureCollection, error) {
	c.Abort()

	ctx, cancel := context.WithCancel(ctx)
	sess := &session{cancel: cancel}

	c.mu.Lock()
	c.current = sess
	c.state = StateConnecting
	c.status = "Connecting..."
	c.mu.Unlock()

	fc, err := c.run(ctx, filter, cb)

	c.mu.Lock()
	owned := c.current == sess
	if owned {
		c.current = nil
	}
	switch {
	case !owned:
		// A newer session or Abort already took over the state.
	case err == nil:
		c.state = StateComplete
		c.status = fmt.Sprintf("Complete: %d locations loaded", len(fc.Features))
	case errors.Is(err, ErrCancelled):
		c.state = StateCancelled
		c.status = "Cancelled"
	default:
		c.state = StateErrored
		c.status = "Error loading data"
	}
	c.mu.Unlock()

	cancel()

	if err != nil {
		if errors.Is(err, ErrCancelled) {
			log.Debug().Msg("Streaming session cancelled")
		} else {
			log.Error().Err(err).Msg("Streaming session failed")
			if cb.OnError != nil {
				cb.OnError(err)
			}
		}
		return fc, err
	}

	if cb.OnComplete != nil {
		cb.OnComplete(fc)
	}
	return fc, nil
}

func (c *Collector) run(ctx context.Context, filter Filter, cb Callbacks) (geo.FeatureCollection, error) {
	fc := geo.NewCollection()

	reqURL := c.baseURL + StreamPath
	if q := filter.query().Encode(); q != "" {
		reqURL += "?" + q
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fc, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return fc, ErrCancelled
		}
		return fc, fmt.Errorf("open stream: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fc, fmt.Errorf("stream request failed: status %d", resp.StatusCode)
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		return fc, ErrStreamUnsupported
	}

	estimated := estimatedTotal(resp)

	c.setReceiving(0)

	dec := &chunkDecoder{}
	ext := &extractor{}
	buf := make([]byte, readBufferSize)

	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if batch := ext.feed(dec.Write(buf[:n])); len(batch) > 0 {
				fc.Features = append(fc.Features, batch...)
				c.setReceiving(len(fc.Features))
				c.emit(cb, batch, len(fc.Features), estimated)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			if ctx.Err() != nil || errors.Is(readErr, context.Canceled) {
				return fc, ErrCancelled
			}
			return fc, fmt.Errorf("read stream: %w", readErr)
		}
	}

	// Flush whatever the decoder still holds and run one final extraction
	// pass to pick up trailing parseable content.
	if batch := ext.drain(dec.Flush()); len(batch) > 0 {
		fc.Features = append(fc.Features, batch...)
		c.setReceiving(len(fc.Features))
		c.emit(cb, batch, len(fc.Features), estimated)
	}

	log.Debug().
		Int("features", len(fc.Features)).
		Int("estimated", estimated).
		Msg("Streaming session complete")

	return fc, nil
}

func (c *Collector) emit(cb Callbacks, batch []geo.Feature, total, estimated int) {
	if cb.OnBatch != nil {
		cb.OnBatch(batch, total)
	}
	if cb.OnProgress != nil {
		cb.OnProgress(total, estimated)
	}
}

func (c *Collector) setReceiving(loaded int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnecting && c.state != StateReceiving {
		return
	}
	c.state = StateReceiving
	if loaded > 0 {
		c.status = fmt.Sprintf("Loaded %d locations...", loaded)
	}
}

// Fetch retrieves the whole collection through the non-streamed endpoint.
// Intended for datasets below the streaming threshold.
func (c *Collector) Fetch(ctx context.Context, filter Filter) (geo.FeatureCollection, error) {
	fc := geo.NewCollection()

	reqURL := c.baseURL + LocationsPath
	if q := filter.query().Encode(); q != "" {
		reqURL += "?" + q
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fc, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fc, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fc, fmt.Errorf("locations request failed: status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(&fc); err != nil {
		return fc, fmt.Errorf("decode locations: %w", err)
	}
	return fc, nil
}

// PreferStreaming reports whether a dataset of the estimated size should be
// streamed rather than fetched in one response.
func PreferStreaming(estimated, threshold int) bool {
	if threshold <= 0 {
		threshold = DefaultEstimatedTotal
	}
	return estimated >= threshold
}

func estimatedTotal(resp *http.Response) int {
	v := resp.Header.Get("X-Total-Count")
	if v == "" {
		return DefaultEstimatedTotal
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return DefaultEstimatedTotal
	}
	return n
}
