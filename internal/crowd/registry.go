// Package crowd turns a (station, day, hour) query into the one-hot feature
// vector the crowd classifier was trained on and maps the model output to a
// crowd level.
package crowd

import (
	"maps"
	"slices"
	"strings"
)

// Column prefixes produced by one-hot encoding the training data.
const (
	StationPrefix = "Station_"
	DayPrefix     = "Day_"
	HourColumn    = "Hour"
)

// Registry maps normalised station and day names to their one-hot feature
// columns. It is built once and only read afterwards.
type Registry struct {
	stations map[string]string
	days     map[string]string
}

// BuildMappings scans training-time column names. "Station_Ang Mo Kio" is
// registered under "ang mo kio". Columns with other prefixes are ignored;
// when two columns normalise to the same key the later one wins.
func BuildMappings(columns []string) *Registry {
	r := &Registry{
		stations: make(map[string]string),
		days:     make(map[string]string),
	}
	for _, col := range columns {
		switch {
		case strings.HasPrefix(col, StationPrefix):
			r.stations[normalize(strings.TrimPrefix(col, StationPrefix))] = col
		case strings.HasPrefix(col, DayPrefix):
			r.days[normalize(strings.TrimPrefix(col, DayPrefix))] = col
		}
	}
	return r
}

// Station returns the feature column for a station name.
func (r *Registry) Station(name string) (string, bool) {
	col, ok := r.stations[normalize(name)]
	return col, ok
}

// Day returns the feature column for a day name.
func (r *Registry) Day(name string) (string, bool) {
	col, ok := r.days[normalize(name)]
	return col, ok
}

// Stations returns the known station keys in sorted order.
func (r *Registry) Stations() []string {
	return slices.Sorted(maps.Keys(r.stations))
}

// Days returns the known day keys in sorted order.
func (r *Registry) Days() []string {
	return slices.Sorted(maps.Keys(r.days))
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
