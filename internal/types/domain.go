package types

import "time"

// CrowdLevel is the discrete label produced by the crowd classifier.
type CrowdLevel string

const (
	CrowdLow    CrowdLevel = "low"
	CrowdMedium CrowdLevel = "medium"
	CrowdHigh   CrowdLevel = "high"
)

// CrowdLevels lists the classifier's output classes in model column order.
// The index of a label here is the index of its probability in a model row.
var CrowdLevels = []CrowdLevel{CrowdLow, CrowdMedium, CrowdHigh}

// PredictionResult is the labeled output of the crowd classifier.
// Probabilities are percentages rounded independently to 2 decimals, so
// they sum to roughly (not exactly) 100.
type PredictionResult struct {
	Prediction    CrowdLevel             `json:"prediction"`
	Probabilities map[CrowdLevel]float64 `json:"probabilities"`
}

// CarparkReading is one historical availability observation. Readings for a
// carpark are kept in dataset order; the last one is the most recent.
type CarparkReading struct {
	Address       string `json:"address"`
	AvailableLots int    `json:"available_lots"`
}

// CarparkLocation is the planar position of one physical carpark.
type CarparkLocation struct {
	CarparkNo string  `json:"car_park_no,omitempty"`
	Address   string  `json:"address"`
	X         float64 `json:"x_coord"`
	Y         float64 `json:"y_coord"`
}

// Alternative is a nearby carpark recommended when availability is low.
type Alternative struct {
	Address       string `json:"address"`
	AvailableLots int    `json:"available_lots"`
}

// CarparkPrediction is the response payload for a carpark forecast.
// NearbyCarparks is non-empty only when the predicted lots fell below the
// fallback trigger.
type CarparkPrediction struct {
	Address        string        `json:"address"`
	Prediction     int           `json:"prediction"`
	NearbyCarparks []Alternative `json:"nearby_carparks"`
}

// LowAvailabilityEvent is published when a forecast falls below the
// fallback trigger.
type LowAvailabilityEvent struct {
	EventID        string        `json:"event_id"`
	Address        string        `json:"address"`
	Prediction     int           `json:"prediction"`
	TargetTime     string        `json:"target_time"`
	NearbyCarparks []Alternative `json:"nearby_carparks"`
	OccurredAt     time.Time     `json:"occurred_at"`
}
