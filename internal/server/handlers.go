// Package server handles HTTP requests and middleware.
package server

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/tomtom215/cartographus-sub005/internal/geo"
	"github.com/tomtom215/cartographus-sub005/internal/stream"
)

// flushBatchSize is how many features are written between flushes on the
// streaming endpoint.
const flushBatchSize = 100

// dateFilter narrows served features by the optional last_played property.
type dateFilter struct {
	start *time.Time
	end   *time.Time
}

// HandleDatasets serves the JSON list of available datasets.
func (s *Context) HandleDatasets(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	// Ignoring error as we cannot handle client disconnects
	_ = json.NewEncoder(w).Encode(s.Config.Datasets)
}

// HandleLocations serves a whole collection in one response. Intended for
// datasets below the streaming threshold.
func (s *Context) HandleLocations(w http.ResponseWriter, r *http.Request) {
	fc, ok := s.loadFiltered(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/geo+json")
	w.Header().Set("X-Total-Count", strconv.Itoa(len(fc.Features)))
	_ = json.NewEncoder(w).Encode(fc)
}

// HandleStreamLocations streams a collection with chunked transfer encoding,
// flushing every flushBatchSize features so large datasets never require the
// client to buffer the whole payload.
func (s *Context) HandleStreamLocations(w http.ResponseWriter, r *http.Request) {
	fc, ok := s.loadFiltered(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Total-Count", strconv.Itoa(len(fc.Features)))

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "SERVER_ERROR", "streaming not supported")
		return
	}

	_, _ = fmt.Fprint(w, `{"type":"FeatureCollection","features":[`)
	flusher.Flush()

	written := 0
	for i := range fc.Features {
		raw, err := json.Marshal(fc.Features[i])
		if err != nil {
			// Skip malformed features
			continue
		}
		if written > 0 {
			_, _ = fmt.Fprint(w, ",")
		}
		_, _ = w.Write(raw)
		written++

		if written%flushBatchSize == 0 {
			flusher.Flush()
		}
	}

	_, _ = fmt.Fprint(w, `]}`)
	flusher.Flush()
}

// loadFiltered resolves the dataset, parses the date filter and applies it.
// On failure it writes the error response and returns ok=false.
func (s *Context) loadFiltered(w http.ResponseWriter, r *http.Request) (geo.FeatureCollection, bool) {
	filter, err := parseDateFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return geo.FeatureCollection{}, false
	}

	fc, err := s.collection(r.URL.Query().Get("dataset"))
	if err != nil {
		respondError(w, http.StatusNotFound, "DATASET_NOT_FOUND", err.Error())
		return geo.FeatureCollection{}, false
	}

	return applyDateFilter(fc, filter), true
}

// parseDateFilter parses start_date/days and end_date from query parameters.
// start_date and end_date are RFC3339; days (1..3650) is a relative
// alternative to start_date and is ignored when out of range.
func parseDateFilter(r *http.Request) (dateFilter, error) {
	var f dateFilter
	q := r.URL.Query()

	if v := q.Get("start_date"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, fmt.Errorf("invalid start_date format: %w", err)
		}
		f.start = &t
	} else if v := q.Get("days"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil {
			return f, fmt.Errorf("invalid days value: %w", err)
		}
		if days >= 1 && days <= 3650 {
			since := time.Now().AddDate(0, 0, -days)
			f.start = &since
		}
	}

	if v := q.Get("end_date"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, fmt.Errorf("invalid end_date format: %w", err)
		}
		f.end = &t
	}

	return f, nil
}

// applyDateFilter keeps features whose last_played property falls in range.
// Features without the property always pass.
func applyDateFilter(fc geo.FeatureCollection, f dateFilter) geo.FeatureCollection {
	if f.start == nil && f.end == nil {
		return fc
	}

	out := geo.NewCollection()
	for i := range fc.Features {
		feat := fc.Features[i]
		raw, ok := feat.Properties["last_played"].(string)
		if !ok {
			out.Features = append(out.Features, feat)
			continue
		}
		played, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			out.Features = append(out.Features, feat)
			continue
		}
		if f.start != nil && played.Before(*f.start) {
			continue
		}
		if f.end != nil && played.After(*f.end) {
			continue
		}
		out.Features = append(out.Features, feat)
	}
	return out
}

// Routes mounts the API endpoints on the given mux.
func (s *Context) Routes(mux *http.ServeMux) {
	mux.HandleFunc(stream.StreamPath, s.HandleStreamLocations)
	mux.HandleFunc(stream.LocationsPath, s.HandleLocations)
	mux.HandleFunc("/api/v1/datasets", s.HandleDatasets)
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errorBody{Error: errorDetail{Code: code, Message: message}}); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}
