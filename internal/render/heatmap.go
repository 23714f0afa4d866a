// Package render rasterizes a feature collection into a playback-density
// heatmap image, the offline counterpart of the dashboard map view.
package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"io"
	"math"
	"os"

	"github.com/chai2010/webp"
	"github.com/rs/zerolog/log"
	xdraw "golang.org/x/image/draw"

	"github.com/tomtom215/cartographus-sub005/internal/geo"
)

// Options controls heatmap rendering. Zero values fall back to defaults.
type Options struct {
	Width       int     // output width in pixels (default 1024)
	Height      int     // output height in pixels (default 512)
	Supersample int     // internal grid scale factor (default 2)
	Radius      int     // splat radius in grid pixels (default 6)
	Quality     float32 // WebP quality (default 85)
}

func (o Options) withDefaults() Options {
	if o.Width <= 0 {
		o.Width = 1024
	}
	if o.Height <= 0 {
		o.Height = 512
	}
	if o.Supersample <= 0 {
		o.Supersample = 2
	}
	if o.Radius <= 0 {
		o.Radius = 6
	}
	if o.Quality <= 0 {
		o.Quality = 85
	}
	return o
}

// Heatmap renders the collection into an RGBA image. Each Point feature is
// splatted onto a supersampled density grid, weighted by its playback count,
// then colorized and downscaled.
func Heatmap(fc geo.FeatureCollection, opts Options) *image.RGBA {
	opts = opts.withDefaults()

	gw := opts.Width * opts.Supersample
	gh := opts.Height * opts.Supersample
	grid := make([]float64, gw*gh)

	plotted := 0
	for i := range fc.Features {
		f := &fc.Features[i]
		if f.Geometry.Type != "Point" || len(f.Geometry.Coordinates) < 2 {
			continue
		}
		nx, ny := geo.Mercator(f.Lon(), f.Lat())
		splat(grid, gw, gh, nx*float64(gw), ny*float64(gh), f.PlaybackCount(), opts.Radius)
		plotted++
	}

	maxDensity := 0.0
	for _, v := range grid {
		if v > maxDensity {
			maxDensity = v
		}
	}

	big := image.NewRGBA(image.Rect(0, 0, gw, gh))
	if maxDensity > 0 {
		for y := 0; y < gh; y++ {
			for x := 0; x < gw; x++ {
				big.SetRGBA(x, y, ramp(grid[y*gw+x]/maxDensity))
			}
		}
	}

	dst := image.NewRGBA(image.Rect(0, 0, opts.Width, opts.Height))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), big, big.Bounds(), draw.Over, nil)

	log.Debug().
		Int("features", len(fc.Features)).
		Int("plotted", plotted).
		Int("width", opts.Width).
		Int("height", opts.Height).
		Msg("Heatmap rendered")

	return dst
}

// splat adds a radial falloff kernel centered at (cx, cy).
func splat(grid []float64, gw, gh int, cx, cy, weight float64, radius int) {
	x0 := int(cx) - radius
	y0 := int(cy) - radius
	r2 := float64(radius * radius)

	for y := y0; y <= y0+2*radius; y++ {
		if y < 0 || y >= gh {
			continue
		}
		for x := x0; x <= x0+2*radius; x++ {
			if x < 0 || x >= gw {
				continue
			}
			dx := float64(x) - cx
			dy := float64(y) - cy
			d2 := dx*dx + dy*dy
			if d2 > r2 {
				continue
			}
			falloff := 1.0 - math.Sqrt(d2)/float64(radius)
			grid[y*gw+x] += weight * falloff
		}
	}
}

// ramp maps a normalized density to the blue-yellow-red color scale.
func ramp(t float64) color.RGBA {
	switch {
	case t <= 0:
		return color.RGBA{}
	case t < 0.5:
		// blue -> yellow; alpha stays above every channel because RGBA is
		// alpha-premultiplied
		f := t / 0.5
		return color.RGBA{
			R: uint8(30 + 225*f),
			G: uint8(60 + 195*f),
			B: uint8(180 * (1 - f)),
			A: uint8(180 + 75*f),
		}
	default:
		// yellow -> red
		f := (t - 0.5) / 0.5
		return color.RGBA{
			R: 255,
			G: uint8(255 * (1 - f)),
			B: 0,
			A: 255,
		}
	}
}

// EncodeWebP writes img as lossy WebP.
func EncodeWebP(w io.Writer, img image.Image, quality float32) error {
	if quality <= 0 {
		quality = 85
	}
	return webp.Encode(w, img, &webp.Options{Lossless: false, Quality: quality})
}

// SaveWebP renders the collection and writes the heatmap to path.
func SaveWebP(path string, fc geo.FeatureCollection, opts Options) error {
	img := Heatmap(fc, opts)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create heatmap file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return EncodeWebP(f, img, opts.Quality)
}
