package carpark

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"crowdpark/internal/inference"
	"crowdpark/internal/types"
)

// LotBucket is the granularity predictions are floored to.
const LotBucket = 10

// RegressorAdapter turns the raw regressor output into a lot count.
type RegressorAdapter struct {
	model  inference.Regressor
	logger *slog.Logger
}

// NewRegressorAdapter wraps a regressor. A nil logger falls back to
// slog.Default().
func NewRegressorAdapter(model inference.Regressor, logger *slog.Logger) *RegressorAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RegressorAdapter{model: model, logger: logger}
}

// Predict returns the predicted lots floored to a multiple of LotBucket and
// never negative.
func (a *RegressorAdapter) Predict(ctx context.Context, features TemporalFeatures) (lots int, err error) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.ErrorContext(ctx, "carpark model panicked", "panic", r)
			lots = 0
			err = types.NewAppError(types.ErrCodeInternalInference, "carpark model failed", fmt.Errorf("panic: %v", r))
		}
	}()

	raw, err := a.model.Predict(ctx, features.Row())
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) {
			return 0, appErr
		}
		return 0, types.NewAppError(types.ErrCodeInternalInference, "carpark model failed", err)
	}
	return RoundLots(raw)
}

// RoundLots applies floor(x/10)*10 and clamps at zero.
func RoundLots(raw float64) (int, error) {
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return 0, types.NewAppError(types.ErrCodeInternalInference, "carpark model returned a non-finite value", nil)
	}
	floored := math.Floor(raw/LotBucket) * LotBucket
	return int(math.Max(0, floored)), nil
}
