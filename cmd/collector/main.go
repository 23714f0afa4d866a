package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog/log"
	"github.com/tdewolff/minify/v2"
	mjson "github.com/tdewolff/minify/v2/json"

	"github.com/tomtom215/cartographus-sub005/internal/geo"
	"github.com/tomtom215/cartographus-sub005/internal/logger"
	"github.com/tomtom215/cartographus-sub005/internal/render"
	"github.com/tomtom215/cartographus-sub005/internal/stream"
)

type Options struct {
	Logger logger.Logger `group:"Logger options"`

	URL       string `short:"u" long:"url"        env:"SERVER_URL" description:"Backend base URL"                       default:"http://127.0.0.1:3857"`
	Output    string `short:"o" long:"output"     env:"OUTPUT"     description:"Output GeoJSON path"                    default:"locations.geojson"`
	StartDate string `short:"s" long:"start-date"                  description:"Range start (RFC3339)"`
	EndDate   string `short:"e" long:"end-date"                    description:"Range end (RFC3339)"`
	Days      int    `short:"d" long:"days"                        description:"Relative range in days"`
	Heatmap   string `short:"m" long:"heatmap"                     description:"Also render a heatmap WebP to this path"`
	Compact   bool   `short:"C" long:"compact"                     description:"Minify the saved GeoJSON"`
	NoStream  bool   `short:"n" long:"no-stream"                   description:"Fetch in one response instead of streaming"`
	Timeout   int    `short:"t" long:"timeout"                     description:"Overall timeout in seconds, 0 for none"`
}

func main() {
	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	opts.Logger.Setup()

	filter, err := buildFilter(opts)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid date filter")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(opts.Timeout)*time.Second)
		defer cancel()
	}

	collector := stream.New(opts.URL, &http.Client{})

	var fc geo.FeatureCollection
	if opts.NoStream {
		fc, err = collector.Fetch(ctx, filter)
	} else {
		fc, err = collector.Stream(ctx, filter, stream.Callbacks{
			OnProgress: func(loaded, estimated int) {
				log.Debug().Int("loaded", loaded).Int("estimated", estimated).Msg("Progress")
			},
			OnBatch: func(batch []geo.Feature, total int) {
				log.Info().Int("batch", len(batch)).Int("total", total).Msg("Features received")
			},
		})
	}

	if errors.Is(err, stream.ErrCancelled) {
		log.Warn().Str("status", collector.Status()).Msg("Streaming cancelled, partial data discarded")
		os.Exit(130)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to collect locations")
	}

	if err := saveGeoJSON(opts.Output, fc, opts.Compact); err != nil {
		log.Fatal().Err(err).Str("path", opts.Output).Msg("Failed to save GeoJSON")
	}

	log.Info().
		Int("features", len(fc.Features)).
		Str("path", opts.Output).
		Str("status", collector.Status()).
		Msg("Collection saved")

	if opts.Heatmap != "" {
		if err := render.SaveWebP(opts.Heatmap, fc, render.Options{}); err != nil {
			log.Fatal().Err(err).Str("path", opts.Heatmap).Msg("Failed to render heatmap")
		}
		log.Info().Str("path", opts.Heatmap).Msg("Heatmap saved")
	}
}

func buildFilter(opts Options) (stream.Filter, error) {
	var filter stream.Filter

	if opts.StartDate != "" {
		t, err := time.Parse(time.RFC3339, opts.StartDate)
		if err != nil {
			return filter, err
		}
		filter.StartDate = &t
	}
	if opts.EndDate != "" {
		t, err := time.Parse(time.RFC3339, opts.EndDate)
		if err != nil {
			return filter, err
		}
		filter.EndDate = &t
	}
	filter.Days = opts.Days

	return filter, nil
}

// saveGeoJSON marshals the collection and writes it to disk, optionally
// through the JSON minifier.
func saveGeoJSON(path string, fc geo.FeatureCollection, compact bool) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(fc); err != nil {
		return err
	}

	out := buf.Bytes()
	if compact {
		m := minify.New()
		m.AddFunc("application/json", mjson.Minify)
		minified, err := m.Bytes("application/json", out)
		if err != nil {
			return err
		}
		out = minified
	}

	return os.WriteFile(path, out, 0644)
}
