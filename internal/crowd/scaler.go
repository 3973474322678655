package crowd

import (
	"fmt"
	"math"

	"crowdpark/internal/types"
)

// Hour bounds the scaler was fitted on. The fitted output range is [0, 0.5].
const (
	MinHour     = 0
	MaxHour     = 23
	scaledUpper = 0.5
)

// ScaleHour maps an hour in [0, 23] linearly onto [0, 0.5].
func ScaleHour(hour float64) (float64, error) {
	if math.IsNaN(hour) || hour < MinHour || hour > MaxHour {
		return 0, types.NewAppErrorWithDetails(
			types.ErrCodeValidationOutOfRange,
			fmt.Sprintf("hour must be between %d and %d", MinHour, MaxHour),
			nil,
			map[string]any{"hour": hourDetail(hour)},
		)
	}
	return (hour - MinHour) / (MaxHour - MinHour) * scaledUpper, nil
}

// hourDetail keeps NaN out of JSON error details, which encoding/json rejects.
func hourDetail(hour float64) any {
	if math.IsNaN(hour) || math.IsInf(hour, 0) {
		return fmt.Sprint(hour)
	}
	return hour
}
