// Package geo holds the GeoJSON data structures shared by the collector,
// the server and the renderer, plus the coordinate math for rendering.
package geo

// FeatureCollection is an ordered collection of features. Features are
// appended in arrival order and never removed or mutated afterwards.
type FeatureCollection struct {
	Type     string    `json:"type" yaml:"type"`
	Features []Feature `json:"features" yaml:"features"`
}

// Feature is a single playback-location record: a Point geometry and a small
// property bag (country, city, playback_count).
type Feature struct {
	Properties map[string]interface{} `json:"properties" yaml:"properties"`
	Type       string                 `json:"type" yaml:"type"`
	Geometry   Geometry               `json:"geometry" yaml:"geometry"`
}

// Geometry represents the geometry of a feature.
type Geometry struct {
	Type        string    `json:"type" yaml:"type"`
	Coordinates []float64 `json:"coordinates" yaml:"coordinates"` // [Lon, Lat]
}

// NewCollection returns an empty FeatureCollection with the type set.
func NewCollection() FeatureCollection {
	return FeatureCollection{Type: "FeatureCollection", Features: []Feature{}}
}

// Lon returns the feature longitude, or 0 if the geometry is malformed.
func (f *Feature) Lon() float64 {
	if len(f.Geometry.Coordinates) < 2 {
		return 0
	}
	return f.Geometry.Coordinates[0]
}

// Lat returns the feature latitude, or 0 if the geometry is malformed.
func (f *Feature) Lat() float64 {
	if len(f.Geometry.Coordinates) < 2 {
		return 0
	}
	return f.Geometry.Coordinates[1]
}

// PlaybackCount reads the playback_count property, defaulting to 1 so that
// records without the property still contribute to density rendering.
func (f *Feature) PlaybackCount() float64 {
	v, ok := f.Properties["playback_count"]
	if !ok {
		return 1
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 1
	}
}
