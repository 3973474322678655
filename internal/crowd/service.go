package crowd

import (
	"context"
	"log/slog"

	"crowdpark/internal/types"
)

// Service answers crowd-level queries.
type Service struct {
	assembler *Assembler
	adapter   *Adapter
	registry  *Registry
	logger    *slog.Logger
}

// NewService wires an assembler and adapter that share one registry.
func NewService(registry *Registry, assembler *Assembler, adapter *Adapter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{assembler: assembler, adapter: adapter, registry: registry, logger: logger}
}

// Classify predicts the crowd level at a station for a day and hour.
func (s *Service) Classify(ctx context.Context, station, day string, hour float64) (*types.PredictionResult, error) {
	vec, err := s.assembler.Assemble(station, day, hour)
	if err != nil {
		return nil, err
	}
	res, err := s.adapter.Predict(ctx, vec)
	if err != nil {
		return nil, err
	}
	s.logger.DebugContext(ctx, "crowd level predicted",
		"station", station,
		"day", day,
		"hour", hour,
		"prediction", res.Prediction,
	)
	return res, nil
}

// Categories lists the stations and days the model knows about.
func (s *Service) Categories() (stations, days []string) {
	return s.registry.Stations(), s.registry.Days()
}
