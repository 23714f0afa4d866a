package server

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/tomtom215/cartographus-sub005/internal/cache"
	"github.com/tomtom215/cartographus-sub005/internal/config"
	"github.com/tomtom215/cartographus-sub005/internal/geo"
)

// Context holds dependencies for request handlers.
type Context struct {
	Config          *config.Config
	NameResolver    map[string]string
	DefaultDataset  string
	datasetsByName  map[string]config.Dataset
	collectionCache *cache.TTL[geo.FeatureCollection]
}

// NewContext initializes the context and validates the dataset configuration.
// Datasets whose backing file is missing are dropped with a warning.
func NewContext(cfg *config.Config, clock cache.Clock) *Context {
	log.Info().Int("config_datasets_count", len(cfg.Datasets)).Msg("Initializing server context")

	resolver := make(map[string]string)
	byName := make(map[string]config.Dataset)
	validDatasets := make([]config.Dataset, 0, len(cfg.Datasets))
	defaultName := ""

	for i := range cfg.Datasets {
		ds := cfg.Datasets[i]

		if ds.Path != "" {
			if _, err := os.Stat(ds.Path); err != nil {
				log.Warn().
					Str("dataset", ds.Name).
					Str("path", ds.Path).
					Msg("Skipping dataset: backing file not found")
				continue
			}
		}

		resolver[ds.Name] = ds.Name
		for _, alias := range ds.Aliases {
			resolver[alias] = ds.Name
		}
		byName[ds.Name] = ds

		if ds.Default && defaultName == "" {
			defaultName = ds.Name
		}

		log.Debug().
			Str("dataset", ds.Name).
			Bool("inline", ds.Inline != nil).
			Msg("Dataset validated and added to context")

		validDatasets = append(validDatasets, ds)
	}

	if defaultName == "" && len(validDatasets) > 0 {
		defaultName = validDatasets[0].Name
	}

	cfg.Datasets = validDatasets

	log.Info().
		Int("valid_datasets_count", len(cfg.Datasets)).
		Str("default_dataset", defaultName).
		Msg("Server context initialized successfully")

	return &Context{
		Config:          cfg,
		NameResolver:    resolver,
		DefaultDataset:  defaultName,
		datasetsByName:  byName,
		collectionCache: cache.NewTTL[geo.FeatureCollection](cfg.CacheTTL.Duration, clock),
	}
}

// collection resolves a dataset name (or alias, or "" for the default) and
// returns its feature collection, served from the TTL cache when fresh.
func (s *Context) collection(name string) (geo.FeatureCollection, error) {
	if name == "" {
		name = s.DefaultDataset
	}
	real, ok := s.NameResolver[name]
	if !ok {
		return geo.FeatureCollection{}, fmt.Errorf("unknown dataset %q", name)
	}

	if fc, ok := s.collectionCache.Get(real); ok {
		return fc, nil
	}

	ds := s.datasetsByName[real]

	var fc geo.FeatureCollection
	if ds.Inline != nil {
		fc = *ds.Inline
	} else {
		data, err := os.ReadFile(ds.Path)
		if err != nil {
			return geo.FeatureCollection{}, fmt.Errorf("read dataset %q: %w", real, err)
		}
		if err := json.Unmarshal(data, &fc); err != nil {
			return geo.FeatureCollection{}, fmt.Errorf("parse dataset %q: %w", real, err)
		}
	}

	if fc.Type == "" {
		fc.Type = "FeatureCollection"
	}

	s.collectionCache.Set(real, fc)
	return fc, nil
}
