package crowd

import (
	"fmt"
	"strconv"
	"strings"

	"crowdpark/internal/types"
)

// ParseHour accepts "15", "3pm", "3 PM", "12am" and returns the 24-hour value.
func ParseHour(s string) (float64, error) {
	raw := strings.ToLower(strings.TrimSpace(s))
	suffix := ""
	for _, sfx := range []string{"am", "pm"} {
		if strings.HasSuffix(raw, sfx) {
			suffix = sfx
			raw = strings.TrimSpace(strings.TrimSuffix(raw, sfx))
			break
		}
	}

	if suffix == "" {
		h, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, badHour(s, err)
		}
		return h, nil
	}

	h, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badHour(s, err)
	}
	if h < 1 || h > 12 {
		return 0, types.NewAppErrorWithDetails(types.ErrCodeValidationOutOfRange,
			"12-hour clock values must be between 1 and 12", nil, map[string]any{"hour": s})
	}
	switch {
	case suffix == "pm" && h != 12:
		h += 12
	case suffix == "am" && h == 12:
		h = 0
	}
	return float64(h), nil
}

func badHour(s string, err error) *types.AppError {
	return types.NewAppErrorWithDetails(types.ErrCodeValidationOutOfRange,
		fmt.Sprintf("hour %q is not a number", s), err, map[string]any{"hour": s})
}
