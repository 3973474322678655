// Package carpark forecasts lot availability for a carpark and recommends
// nearby carparks when the forecast is low.
package carpark

import "crowdpark/internal/types"

// History holds availability readings per address in dataset order. It is
// built once and never mutated.
type History struct {
	lots map[string][]int
	size int
}

// NewHistory groups readings by address, preserving their relative order.
// Readings without an address are dropped.
func NewHistory(readings []types.CarparkReading) *History {
	h := &History{lots: make(map[string][]int)}
	for _, r := range readings {
		if r.Address == "" {
			continue
		}
		h.lots[r.Address] = append(h.lots[r.Address], r.AvailableLots)
		h.size++
	}
	return h
}

// Has reports whether any reading exists for address.
func (h *History) Has(address string) bool {
	_, ok := h.lots[address]
	return ok
}

// Recent returns up to n of the most recent readings for address, oldest
// first. The returned slice must not be modified.
func (h *History) Recent(address string, n int) []int {
	lots := h.lots[address]
	if n <= 0 {
		return nil
	}
	if len(lots) > n {
		lots = lots[len(lots)-n:]
	}
	return lots[:len(lots):len(lots)]
}

// Latest returns the most recent reading for address.
func (h *History) Latest(address string) (int, bool) {
	lots := h.lots[address]
	if len(lots) == 0 {
		return 0, false
	}
	return lots[len(lots)-1], true
}

// Len is the total number of readings held.
func (h *History) Len() int {
	return h.size
}
