package crowd

import (
	"strings"

	"crowdpark/internal/types"
)

// Assembler builds classifier inputs aligned to the model's feature schema.
type Assembler struct {
	schema   []string
	index    map[string]int
	registry *Registry
}

// NewAssembler binds a feature schema to a category registry. The schema
// slice is copied.
func NewAssembler(schema []string, registry *Registry) *Assembler {
	s := append([]string(nil), schema...)
	index := make(map[string]int, len(s))
	for i, name := range s {
		if _, dup := index[name]; !dup {
			index[name] = i
		}
	}
	return &Assembler{schema: s, index: index, registry: registry}
}

// Assemble returns a vector in schema order with the station and day columns
// set to 1 and Hour set to the scaled hour. Columns the schema does not carry
// are dropped.
func (a *Assembler) Assemble(station, day string, hour float64) ([]float64, error) {
	stationCol, ok := a.registry.Station(station)
	if !ok {
		return nil, unknownCategory("station", station)
	}
	dayCol, ok := a.registry.Day(day)
	if !ok {
		return nil, unknownCategory("day", day)
	}
	scaled, err := ScaleHour(hour)
	if err != nil {
		return nil, err
	}

	vec := make([]float64, len(a.schema))
	a.set(vec, stationCol, 1)
	a.set(vec, dayCol, 1)
	a.set(vec, HourColumn, scaled)
	return vec, nil
}

func (a *Assembler) set(vec []float64, column string, value float64) {
	if i, ok := a.index[column]; ok {
		vec[i] = value
	}
}

func unknownCategory(kind, value string) *types.AppError {
	return types.NewAppErrorWithDetails(
		types.ErrCodeValidationUnknownCategory,
		"unknown "+kind,
		nil,
		map[string]any{kind: strings.TrimSpace(value)},
	)
}
