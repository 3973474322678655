package carpark

import (
	"log/slog"

	"github.com/golang/geo/r2"

	"crowdpark/internal/types"
)

// FallbackConfig tunes the nearby-carpark recommendation.
type FallbackConfig struct {
	// TriggerBelow: alternatives are searched only when the prediction is
	// strictly below this many lots.
	TriggerBelow    int
	Neighbors       int
	MinAvailable    int
	MaxAlternatives int
}

// DefaultFallbackConfig returns trigger 20, k 10, threshold 30, at most 2.
func DefaultFallbackConfig() FallbackConfig {
	return FallbackConfig{
		TriggerBelow:    20,
		Neighbors:       10,
		MinAvailable:    30,
		MaxAlternatives: 2,
	}
}

// Fallback recommends nearby carparks with enough free lots.
type Fallback struct {
	index   *SpatialIndex
	history *History
	cfg     FallbackConfig
	logger  *slog.Logger
}

// NewFallback builds a Fallback over a spatial index and history snapshot.
func NewFallback(index *SpatialIndex, history *History, cfg FallbackConfig, logger *slog.Logger) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fallback{index: index, history: history, cfg: cfg, logger: logger}
}

// Triggered reports whether predicted is low enough to search.
func (f *Fallback) Triggered(predicted int) bool {
	return predicted < f.cfg.TriggerBelow
}

// FindAlternatives walks the k nearest carparks in ascending distance and
// returns those whose latest reading is at least MinAvailable, stopping at
// MaxAlternatives. The nearest entry and any entry sharing the queried
// address are skipped. An address without coordinates yields an empty list.
func (f *Fallback) FindAlternatives(address string, predicted int) []types.Alternative {
	out := []types.Alternative{}
	if !f.Triggered(predicted) {
		return out
	}

	loc, ok := f.index.Locate(address)
	if !ok {
		f.logger.Warn("carpark has no coordinates, skipping alternatives", "address", address)
		return out
	}

	neighbors := f.index.Nearest(r2.Point{X: loc.X, Y: loc.Y}, f.cfg.Neighbors)
	for i, n := range neighbors {
		if i == 0 || n.Location.Address == address {
			continue
		}
		lots, ok := f.history.Latest(n.Location.Address)
		if !ok || lots < f.cfg.MinAvailable {
			continue
		}
		out = append(out, types.Alternative{Address: n.Location.Address, AvailableLots: lots})
		if len(out) == f.cfg.MaxAlternatives {
			break
		}
	}
	return out
}
