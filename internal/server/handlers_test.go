package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/cartographus-sub005/internal/config"
	"github.com/tomtom215/cartographus-sub005/internal/geo"
	"github.com/tomtom215/cartographus-sub005/internal/stream"
)

func testFeature(city string, count int, lastPlayed string) geo.Feature {
	props := map[string]interface{}{
		"country":        "DE",
		"city":           city,
		"playback_count": float64(count),
	}
	if lastPlayed != "" {
		props["last_played"] = lastPlayed
	}
	return geo.Feature{
		Type:       "Feature",
		Geometry:   geo.Geometry{Type: "Point", Coordinates: []float64{13.4, 52.52}},
		Properties: props,
	}
}

func testContext(t *testing.T, features ...geo.Feature) *Context {
	t.Helper()
	fc := geo.NewCollection()
	fc.Features = append(fc.Features, features...)

	cfg := &config.Config{
		Datasets: []config.Dataset{{
			Name:    "plex",
			Aliases: []string{"main"},
			Inline:  &fc,
		}},
		StreamThreshold: 5000,
		CacheTTL:        config.Duration{Duration: time.Minute},
	}
	return NewContext(cfg, nil)
}

func TestHandleStreamLocations_WireFormat(t *testing.T) {
	srvCtx := testContext(t,
		testFeature("Berlin", 3, ""),
		testFeature("Hamburg", 5, ""),
	)

	req := httptest.NewRequest(http.MethodGet, stream.StreamPath, nil)
	rec := httptest.NewRecorder()

	srvCtx.HandleStreamLocations(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "2", rec.Header().Get("X-Total-Count"))

	body := rec.Body.String()
	require.True(t, strings.HasPrefix(body, `{"type":"FeatureCollection","features":[`))
	require.True(t, strings.HasSuffix(body, `]}`))

	var fc geo.FeatureCollection
	require.NoError(t, json.Unmarshal([]byte(body), &fc))
	require.Len(t, fc.Features, 2)
	require.Equal(t, "Berlin", fc.Features[0].Properties["city"])
	require.Equal(t, "Hamburg", fc.Features[1].Properties["city"])
}

func TestHandleStreamLocations_InvalidDateFilter(t *testing.T) {
	srvCtx := testContext(t, testFeature("Berlin", 1, ""))

	tests := []struct {
		name  string
		query string
	}{
		{"bad start_date", "?start_date=yesterday"},
		{"bad end_date", "?end_date=2026-13-99"},
		{"bad days", "?days=soon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, stream.StreamPath+tt.query, nil)
			rec := httptest.NewRecorder()

			srvCtx.HandleStreamLocations(rec, req)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Contains(t, rec.Body.String(), "VALIDATION_ERROR")
		})
	}
}

func TestHandleStreamLocations_UnknownDataset(t *testing.T) {
	srvCtx := testContext(t, testFeature("Berlin", 1, ""))

	req := httptest.NewRequest(http.MethodGet, stream.StreamPath+"?dataset=emby", nil)
	rec := httptest.NewRecorder()

	srvCtx.HandleStreamLocations(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "DATASET_NOT_FOUND")
}

func TestHandleStreamLocations_DatasetAlias(t *testing.T) {
	srvCtx := testContext(t, testFeature("Berlin", 1, ""))

	req := httptest.NewRequest(http.MethodGet, stream.StreamPath+"?dataset=main", nil)
	rec := httptest.NewRecorder()

	srvCtx.HandleStreamLocations(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "1", rec.Header().Get("X-Total-Count"))
}

func TestDateFilterApplied(t *testing.T) {
	srvCtx := testContext(t,
		testFeature("Old", 1, "2024-01-01T00:00:00Z"),
		testFeature("Recent", 2, "2026-05-01T00:00:00Z"),
		testFeature("Undated", 3, ""),
	)

	req := httptest.NewRequest(http.MethodGet, stream.LocationsPath+"?start_date=2026-01-01T00:00:00Z", nil)
	rec := httptest.NewRecorder()

	srvCtx.HandleLocations(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var fc geo.FeatureCollection
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fc))
	require.Len(t, fc.Features, 2)
	require.Equal(t, "Recent", fc.Features[0].Properties["city"])
	require.Equal(t, "Undated", fc.Features[1].Properties["city"], "features without last_played always pass")
}

func TestHandleDatasets(t *testing.T) {
	srvCtx := testContext(t, testFeature("Berlin", 1, ""))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/datasets", nil)
	rec := httptest.NewRecorder()

	srvCtx.HandleDatasets(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"plex"`)
}

func TestDatasetFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "locations.geojson")

	fc := geo.NewCollection()
	fc.Features = append(fc.Features, testFeature("Zürich", 9, ""))
	data, err := json.Marshal(fc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))

	cfg := &config.Config{
		Datasets: []config.Dataset{{Name: "file-backed", Path: path}},
		CacheTTL: config.Duration{Duration: time.Minute},
	}
	srvCtx := NewContext(cfg, nil)

	req := httptest.NewRequest(http.MethodGet, stream.LocationsPath, nil)
	rec := httptest.NewRecorder()

	srvCtx.HandleLocations(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var got geo.FeatureCollection
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Features, 1)
	require.Equal(t, "Zürich", got.Features[0].Properties["city"])
}

func TestMissingDatasetFileSkipped(t *testing.T) {
	cfg := &config.Config{
		Datasets: []config.Dataset{{Name: "ghost", Path: "/nonexistent/locations.geojson"}},
		CacheTTL: config.Duration{Duration: time.Minute},
	}
	srvCtx := NewContext(cfg, nil)

	require.Empty(t, srvCtx.Config.Datasets)
	require.Empty(t, srvCtx.DefaultDataset)
}

// End-to-end: the streaming handler feeds the incremental collector through
// a real HTTP server, covering chunked transfer and batch flushing.
func TestStreamEndToEnd(t *testing.T) {
	features := make([]geo.Feature, 0, 250)
	for i := 0; i < 250; i++ {
		features = append(features, testFeature(fmt.Sprintf("City-%03d", i), i+1, ""))
	}
	srvCtx := testContext(t, features...)

	mux := http.NewServeMux()
	srvCtx.Routes(mux)
	srv := httptest.NewServer(RequestLogger(mux))
	defer srv.Close()

	c := stream.New(srv.URL, srv.Client())

	var estimated int
	fc, err := c.Stream(context.Background(), stream.Filter{}, stream.Callbacks{
		OnProgress: func(loaded, est int) { estimated = est },
	})

	require.NoError(t, err)
	require.Len(t, fc.Features, 250)
	require.Equal(t, 250, estimated, "X-Total-Count drives the estimate")
	for i := 0; i < 250; i++ {
		require.Equal(t, fmt.Sprintf("City-%03d", i), fc.Features[i].Properties["city"])
	}
	require.Equal(t, "Complete: 250 locations loaded", c.Status())
}
