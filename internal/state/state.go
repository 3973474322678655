// Package state loads the read-only lookup tables and model artifacts the
// prediction services share. Everything is built once at startup; nothing
// mutates a State afterwards, so handlers read it without locks.
package state

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"crowdpark/internal/carpark"
	"crowdpark/internal/config"
	"crowdpark/internal/crowd"
	"crowdpark/internal/dataset"
	"crowdpark/internal/external"
	"crowdpark/internal/inference"
	"crowdpark/internal/types"
)

// FileOpener opens local or object-store paths.
type FileOpener interface {
	Open(ctx context.Context, path string) (io.ReadCloser, error)
}

// CarparkStore serves the carpark catalogue and history from a database.
type CarparkStore interface {
	LoadLocations(ctx context.Context) ([]types.CarparkLocation, error)
	LoadHistory(ctx context.Context) ([]types.CarparkReading, error)
}

// Deps are the collaborators Load reads through.
type Deps struct {
	Files FileOpener
	// Carparks is required when the data source is postgres.
	Carparks CarparkStore
	// ModelClient is required when either model uses the remote backend.
	ModelClient *external.BaseClient
	Logger      *slog.Logger
}

// State is the immutable startup snapshot.
type State struct {
	// Schema is the classifier's feature order.
	Schema     []string
	Registry   *crowd.Registry
	Classifier inference.Classifier
	Regressor  inference.Regressor

	Locations []types.CarparkLocation
	History   *carpark.History
	Index     *carpark.SpatialIndex
	Suggester *carpark.Suggester
}

type classCounter interface {
	NumClass() int
}

// Load reads training columns, both models and the carpark data in parallel.
// Any failure aborts startup.
func Load(ctx context.Context, cfg *config.Config, deps Deps) (*State, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()

	var (
		columns    []string
		classifier inference.Classifier
		regressor  inference.Regressor
		locations  []types.CarparkLocation
		readings   []types.CarparkReading
	)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		columns, err = loadTrainingColumns(gCtx, deps.Files, cfg.Crowd.TrainingDataPath)
		return err
	})

	g.Go(func() error {
		var err error
		classifier, err = loadClassifier(gCtx, cfg.Crowd.Model(), deps)
		return err
	})

	g.Go(func() error {
		var err error
		regressor, err = loadRegressor(gCtx, cfg.Carpark.Model(), deps)
		return err
	})

	g.Go(func() error {
		var err error
		locations, readings, err = loadCarparks(gCtx, cfg, deps)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	registry := crowd.BuildMappings(columns)
	schema := classifier.FeatureNames()
	if len(schema) == 0 {
		logger.Warn("crowd model has no feature names; aligning to training columns")
		schema = columns
	}

	s := &State{
		Schema:     schema,
		Registry:   registry,
		Classifier: classifier,
		Regressor:  regressor,
		Locations:  locations,
		History:    carpark.NewHistory(readings),
		Index:      carpark.NewSpatialIndex(locations),
		Suggester:  carpark.NewSuggester(uniqueAddresses(locations)),
	}

	logger.Info("state loaded",
		"schema_width", len(schema),
		"stations", len(registry.Stations()),
		"days", len(registry.Days()),
		"carparks", s.Index.Len(),
		"readings", s.History.Len(),
		"duration", time.Since(start),
	)
	return s, nil
}

// CrowdService wires the classifier pipeline over this state.
func (s *State) CrowdService(logger *slog.Logger) *crowd.Service {
	return crowd.NewService(
		s.Registry,
		crowd.NewAssembler(s.Schema, s.Registry),
		crowd.NewAdapter(s.Classifier, logger),
		logger,
	)
}

// CarparkService wires the regressor and fallback search over this state.
func (s *State) CarparkService(cfg carpark.FallbackConfig, logger *slog.Logger, opts ...carpark.ServiceOption) *carpark.Service {
	return carpark.NewService(
		s.History,
		carpark.NewRegressorAdapter(s.Regressor, logger),
		carpark.NewFallback(s.Index, s.History, cfg, logger),
		s.Suggester,
		logger,
		opts...,
	)
}

func loadTrainingColumns(ctx context.Context, files FileOpener, path string) ([]string, error) {
	r, err := files.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("opening crowd training data: %w", err)
	}
	defer r.Close()

	columns, err := dataset.LoadTrainingColumns(r)
	if err != nil {
		return nil, fmt.Errorf("loading crowd training columns: %w", err)
	}
	return columns, nil
}

func loadBooster(ctx context.Context, files FileOpener, path string) (*inference.Booster, error) {
	r, err := files.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return inference.LoadBooster(r)
}

func loadLightGBM(ctx context.Context, files FileOpener, path string) (*inference.LightGBM, error) {
	r, err := files.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return inference.LoadLightGBM(r)
}

func loadClassifier(ctx context.Context, mc config.ModelConfig, deps Deps) (inference.Classifier, error) {
	var (
		model inference.Classifier
		err   error
	)
	switch mc.Backend {
	case config.BackendXGBoost:
		model, err = loadBooster(ctx, deps.Files, mc.Path)
	case config.BackendLightGBM:
		model, err = loadLightGBM(ctx, deps.Files, mc.Path)
	case config.BackendRemote:
		if deps.ModelClient == nil {
			return nil, fmt.Errorf("crowd model: remote backend needs a model client")
		}
		model, err = inference.NewRemoteClassifier(ctx, mc.URL, deps.ModelClient, mc.Timeout)
	default:
		return nil, fmt.Errorf("crowd model: unknown backend %q", mc.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("loading crowd model: %w", err)
	}

	if cc, ok := model.(classCounter); ok && cc.NumClass() != len(types.CrowdLevels) {
		return nil, fmt.Errorf("crowd model has %d classes, want %d", cc.NumClass(), len(types.CrowdLevels))
	}
	return model, nil
}

func loadRegressor(ctx context.Context, mc config.ModelConfig, deps Deps) (inference.Regressor, error) {
	var (
		model inference.Regressor
		err   error
	)
	switch mc.Backend {
	case config.BackendXGBoost:
		var b *inference.Booster
		b, err = loadBooster(ctx, deps.Files, mc.Path)
		if err == nil && b.NumClass() != 1 {
			err = fmt.Errorf("objective %q is not a single-output regression", b.Objective())
		}
		model = b
	case config.BackendLightGBM:
		var m *inference.LightGBM
		m, err = loadLightGBM(ctx, deps.Files, mc.Path)
		if err == nil && m.NumClass() != 1 {
			err = fmt.Errorf("objective %q is not a single-output regression", m.Objective())
		}
		model = m
	case config.BackendRemote:
		if deps.ModelClient == nil {
			return nil, fmt.Errorf("carpark model: remote backend needs a model client")
		}
		model, err = inference.NewRemoteRegressor(mc.URL, deps.ModelClient, mc.Timeout)
	default:
		return nil, fmt.Errorf("carpark model: unknown backend %q", mc.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("loading carpark model: %w", err)
	}
	return model, nil
}

func loadCarparks(ctx context.Context, cfg *config.Config, deps Deps) ([]types.CarparkLocation, []types.CarparkReading, error) {
	if cfg.Data.Source == config.SourcePostgres {
		if deps.Carparks == nil {
			return nil, nil, fmt.Errorf("postgres data source needs a carpark store")
		}
		locations, err := deps.Carparks.LoadLocations(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("loading carpark locations: %w", err)
		}
		readings, err := deps.Carparks.LoadHistory(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("loading carpark history: %w", err)
		}
		return locations, readings, nil
	}

	r, err := deps.Files.Open(ctx, cfg.Data.CarparkLocationPath)
	if err != nil {
		return nil, nil, fmt.Errorf("opening carpark information: %w", err)
	}
	catalog, err := dataset.LoadCarparkCatalog(r)
	r.Close()
	if err != nil {
		return nil, nil, fmt.Errorf("loading carpark information: %w", err)
	}

	r, err = deps.Files.Open(ctx, cfg.Data.CarparkHistoryPath)
	if err != nil {
		return nil, nil, fmt.Errorf("opening carpark availability: %w", err)
	}
	defer r.Close()
	readings, err := dataset.LoadHistory(r, catalog.Addresses)
	if err != nil {
		return nil, nil, fmt.Errorf("loading carpark availability: %w", err)
	}
	return catalog.Locations, readings, nil
}

// uniqueAddresses keeps the first occurrence of each address.
func uniqueAddresses(locations []types.CarparkLocation) []string {
	seen := make(map[string]struct{}, len(locations))
	out := make([]string, 0, len(locations))
	for _, l := range locations {
		if _, dup := seen[l.Address]; dup {
			continue
		}
		seen[l.Address] = struct{}{}
		out = append(out, l.Address)
	}
	return out
}
