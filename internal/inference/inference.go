// Package inference provides the pre-trained model backends used by the
// crowd and carpark pipelines. A model is either evaluated in process from
// an XGBoost JSON dump or reached over HTTP through a sidecar.
package inference

import "context"

// Classifier produces one probability row per input row.
type Classifier interface {
	// FeatureNames returns the ordered input schema the model was trained on.
	FeatureNames() []string
	PredictProba(ctx context.Context, rows [][]float64) ([][]float64, error)
}

// Regressor produces a single continuous value per input row.
type Regressor interface {
	Predict(ctx context.Context, row []float64) (float64, error)
}
