package carpark

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"crowdpark/internal/types"
)

// AlertPublisher receives low-availability events. Implementations must be
// safe for concurrent use.
type AlertPublisher interface {
	PublishLowAvailability(ctx context.Context, event types.LowAvailabilityEvent) error
}

// LowAvailabilityCounter counts forecasts that triggered the fallback.
type LowAvailabilityCounter interface {
	RecordLowAvailability()
}

// Service answers carpark availability queries.
type Service struct {
	history   *History
	builder   *FeatureBuilder
	regressor *RegressorAdapter
	fallback  *Fallback
	suggester *Suggester
	alerts    AlertPublisher
	counter   LowAvailabilityCounter
	logger    *slog.Logger
	now       func() time.Time
}

// ServiceOption customises a Service.
type ServiceOption func(*Service)

// WithAlertPublisher publishes an event whenever the fallback triggers.
func WithAlertPublisher(p AlertPublisher) ServiceOption {
	return func(s *Service) { s.alerts = p }
}

// WithLowAvailabilityCounter counts every triggered fallback.
func WithLowAvailabilityCounter(c LowAvailabilityCounter) ServiceOption {
	return func(s *Service) { s.counter = c }
}

// NewService wires the carpark pipeline.
func NewService(history *History, regressor *RegressorAdapter, fallback *Fallback, suggester *Suggester, logger *slog.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		history:   history,
		builder:   NewFeatureBuilder(history),
		regressor: regressor,
		fallback:  fallback,
		suggester: suggester,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Regress forecasts available lots at address for the given date
// (YYYY-MM-DD) and time (HH:MM). When the forecast is low the response
// carries nearby alternatives.
func (s *Service) Regress(ctx context.Context, address, date, clock string) (*types.CarparkPrediction, error) {
	address = strings.TrimSpace(address)
	if !s.history.Has(address) {
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeValidationUnknownCarpark,
			"invalid or missing carpark address",
			nil,
			map[string]any{"address": address},
		)
	}

	timestamp := strings.TrimSpace(date) + " " + strings.TrimSpace(clock)
	features, err := s.builder.Build(address, timestamp)
	if err != nil {
		return nil, err
	}

	lots, err := s.regressor.Predict(ctx, features)
	if err != nil {
		return nil, err
	}

	res := &types.CarparkPrediction{
		Address:        address,
		Prediction:     lots,
		NearbyCarparks: s.fallback.FindAlternatives(address, lots),
	}

	if s.fallback.Triggered(lots) {
		s.logger.InfoContext(ctx, "low carpark availability forecast",
			"address", address,
			"prediction", lots,
			"alternatives", len(res.NearbyCarparks),
		)
		if s.counter != nil {
			s.counter.RecordLowAvailability()
		}
		s.publish(ctx, res, timestamp)
	}
	return res, nil
}

// publish is best effort; failures are logged and never fail the request.
func (s *Service) publish(ctx context.Context, res *types.CarparkPrediction, timestamp string) {
	if s.alerts == nil {
		return
	}
	event := types.LowAvailabilityEvent{
		Address:        res.Address,
		Prediction:     res.Prediction,
		TargetTime:     timestamp,
		NearbyCarparks: res.NearbyCarparks,
		OccurredAt:     s.now().UTC(),
	}
	if err := s.alerts.PublishLowAvailability(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to publish low availability event",
			"address", res.Address,
			"error", err,
		)
	}
}

// Suggest returns carpark addresses matching a partial query.
func (s *Service) Suggest(query string) []string {
	return s.suggester.Suggest(query)
}
