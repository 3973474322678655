package crowd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"

	"crowdpark/internal/inference"
	"crowdpark/internal/types"
)

// Adapter runs the crowd classifier on a single assembled vector.
type Adapter struct {
	model  inference.Classifier
	logger *slog.Logger
}

// NewAdapter wraps a classifier. A nil logger falls back to slog.Default().
func NewAdapter(model inference.Classifier, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{model: model, logger: logger}
}

// Predict returns the most probable crowd level and the per-level
// percentages. Ties go to the lower level. Model failures, including panics
// inside the model, come back as *types.AppError.
func (a *Adapter) Predict(ctx context.Context, vector []float64) (result *types.PredictionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.ErrorContext(ctx, "crowd model panicked", "panic", r)
			result = nil
			err = types.NewAppError(types.ErrCodeInternalInference, "crowd model failed", fmt.Errorf("panic: %v", r))
		}
	}()

	rows, err := a.model.PredictProba(ctx, [][]float64{vector})
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, types.NewAppError(types.ErrCodeInternalInference, "crowd model failed", err)
	}
	if len(rows) != 1 || len(rows[0]) != len(types.CrowdLevels) {
		return nil, types.NewAppError(types.ErrCodeInternalInference,
			fmt.Sprintf("crowd model returned %d rows, want 1 row of %d probabilities", len(rows), len(types.CrowdLevels)), nil)
	}

	probs := rows[0]
	best := 0
	for i, p := range probs {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return nil, types.NewAppError(types.ErrCodeInternalInference, "crowd model returned a non-finite probability", nil)
		}
		if p > probs[best] {
			best = i
		}
	}

	out := &types.PredictionResult{
		Prediction:    types.CrowdLevels[best],
		Probabilities: make(map[types.CrowdLevel]float64, len(probs)),
	}
	for i, level := range types.CrowdLevels {
		out.Probabilities[level] = Percent(probs[i])
	}
	return out, nil
}

// Percent converts a probability to a percentage rounded to two decimals.
func Percent(p float64) float64 {
	return round2(p * 100)
}

// round2 rounds the exact binary value of v to two decimals, ties to even,
// so 2.675 (stored just below) gives 2.67 and 0.125 gives 0.12.
func round2(v float64) float64 {
	r, _ := strconv.ParseFloat(strconv.FormatFloat(v, 'f', 2, 64), 64)
	return r
}
