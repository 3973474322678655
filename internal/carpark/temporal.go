package carpark

import (
	"fmt"
	"strings"
	"time"

	"crowdpark/internal/types"
)

// LagWindow is the number of recent readings the regressor consumes.
const LagWindow = 3

// timestampLayouts are tried in order.
var timestampLayouts = []string{
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	time.RFC3339,
}

// TemporalFeatures is the regressor input for one carpark at one instant.
type TemporalFeatures struct {
	Hour        int
	DayOfWeek   int // ISO: 1 = Monday .. 7 = Sunday
	IsWeekend   int
	Lag1        float64
	Lag2        float64
	RollingAvg3 float64
}

// Row returns the features in model column order.
func (f TemporalFeatures) Row() []float64 {
	return []float64{
		float64(f.Hour),
		float64(f.DayOfWeek),
		float64(f.IsWeekend),
		f.Lag1,
		f.Lag2,
		f.RollingAvg3,
	}
}

// FeatureBuilder derives calendar and lag features from static history.
type FeatureBuilder struct {
	history *History
}

// NewFeatureBuilder binds a builder to a history snapshot.
func NewFeatureBuilder(history *History) *FeatureBuilder {
	return &FeatureBuilder{history: history}
}

// ParseTimestamp accepts "2006-01-02 15:04", "2006-01-02T15:04" or RFC 3339.
func ParseTimestamp(ts string) (time.Time, error) {
	ts = strings.TrimSpace(ts)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, ts); err == nil {
			return t, nil
		}
	}
	return time.Time{}, types.NewAppErrorWithDetails(
		types.ErrCodeValidationBadTimestamp,
		"timestamp must look like 2006-01-02 15:04",
		nil,
		map[string]any{"timestamp": ts},
	)
}

// Build parses timestamp and combines it with the last LagWindow readings
// for address. Lag features come from the dataset, not from the requested
// instant.
func (b *FeatureBuilder) Build(address, timestamp string) (TemporalFeatures, error) {
	t, err := ParseTimestamp(timestamp)
	if err != nil {
		return TemporalFeatures{}, err
	}

	recent := b.history.Recent(address, LagWindow)
	if len(recent) < LagWindow {
		return TemporalFeatures{}, types.NewAppErrorWithDetails(
			types.ErrCodeInsufficientHistory,
			fmt.Sprintf("need %d historical readings for this carpark", LagWindow),
			nil,
			map[string]any{"address": address, "readings": len(recent)},
		)
	}

	sum := 0
	for _, v := range recent {
		sum += v
	}

	return TemporalFeatures{
		Hour:        t.Hour(),
		DayOfWeek:   isoWeekday(t),
		IsWeekend:   weekendFlag(t),
		Lag1:        float64(recent[len(recent)-1]),
		Lag2:        float64(recent[len(recent)-2]),
		RollingAvg3: float64(sum) / float64(len(recent)),
	}, nil
}

func isoWeekday(t time.Time) int {
	if t.Weekday() == time.Sunday {
		return 7
	}
	return int(t.Weekday())
}

func weekendFlag(t time.Time) int {
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return 1
	}
	return 0
}
