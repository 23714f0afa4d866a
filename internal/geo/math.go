package geo

import "math"

// MaxLat is the latitude limit of the Web Mercator projection.
const MaxLat = 85.05112878

// Mercator projects WGS84 (Lon/Lat) to normalized Web Mercator coordinates
// in [0..1], with (0,0) at the north-west corner as used by map renderers.
//
// Latitudes beyond the projection limit are clamped rather than rejected,
// since stray coordinates must not break density rendering.
func Mercator(lon, lat float64) (x, y float64) {
	if lat > MaxLat {
		lat = MaxLat
	} else if lat < -MaxLat {
		lat = -MaxLat
	}
	if lon > 180 {
		lon = 180
	} else if lon < -180 {
		lon = -180
	}

	x = (lon + 180.0) / 360.0

	latRad := lat * (math.Pi / 180.0)
	mercatorY := math.Log(math.Tan((math.Pi / 4.0) + (latRad / 2.0)))

	// mercatorY: [-PI..PI] -> y: [1..0] (north at the top)
	y = 0.5 - mercatorY/(2.0*math.Pi)

	if y < 0 {
		y = 0
	} else if y > 1 {
		y = 1
	}

	return x, y
}
