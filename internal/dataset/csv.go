package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"

	"crowdpark/internal/types"
)

// One-hot encoded columns of the crowd training data.
var crowdCategoricals = []string{"Station", "Day"}

// CarparkCatalog is the carpark information table.
type CarparkCatalog struct {
	// Locations holds rows with an address and both coordinates, in file
	// order.
	Locations []types.CarparkLocation
	// Addresses maps car_park_no to address for every row.
	Addresses map[string]string
}

func readHeader(r *csv.Reader, needed []string, source string) (map[string]int, error) {
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("reading %s header: %w", source, err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if _, dup := idx[h]; !dup {
			idx[h] = i
		}
	}
	for _, k := range needed {
		if _, ok := idx[k]; !ok {
			return nil, fmt.Errorf("%s csv missing column %q", source, k)
		}
	}
	return idx, nil
}

func newReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true
	return cr
}

func field(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// LoadTrainingColumns returns the column set the crowd model was trained
// on: the raw columns other than Station and Day in file order, followed by
// Station_<value> and Day_<value> for each distinct value in sorted order.
func LoadTrainingColumns(r io.Reader) ([]string, error) {
	cr := newReader(r)
	idx, err := readHeader(cr, crowdCategoricals, "crowd training")
	if err != nil {
		return nil, err
	}

	type col struct {
		name string
		pos  int
	}
	var passthrough []col
	for name, pos := range idx {
		if !slices.Contains(crowdCategoricals, name) {
			passthrough = append(passthrough, col{name, pos})
		}
	}
	slices.SortFunc(passthrough, func(a, b col) int { return a.pos - b.pos })

	seen := make(map[string]map[string]struct{}, len(crowdCategoricals))
	for _, c := range crowdCategoricals {
		seen[c] = make(map[string]struct{})
	}
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading crowd training row: %w", err)
		}
		for _, c := range crowdCategoricals {
			if v := field(row, idx[c]); v != "" {
				seen[c][v] = struct{}{}
			}
		}
	}

	out := make([]string, 0, len(passthrough))
	for _, c := range passthrough {
		out = append(out, c.name)
	}
	for _, c := range crowdCategoricals {
		values := make([]string, 0, len(seen[c]))
		for v := range seen[c] {
			values = append(values, v)
		}
		slices.Sort(values)
		for _, v := range values {
			out = append(out, c+"_"+v)
		}
	}
	return out, nil
}

// LoadCarparkCatalog reads the carpark information CSV (car_park_no,
// address, x_coord, y_coord).
func LoadCarparkCatalog(r io.Reader) (*CarparkCatalog, error) {
	cr := newReader(r)
	idx, err := readHeader(cr, []string{"car_park_no", "address", "x_coord", "y_coord"}, "carpark information")
	if err != nil {
		return nil, err
	}

	cat := &CarparkCatalog{Addresses: make(map[string]string)}
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading carpark information row: %w", err)
		}

		no := field(row, idx["car_park_no"])
		address := field(row, idx["address"])
		if no == "" {
			continue
		}
		if _, dup := cat.Addresses[no]; !dup {
			cat.Addresses[no] = address
		}

		x, errX := strconv.ParseFloat(field(row, idx["x_coord"]), 64)
		y, errY := strconv.ParseFloat(field(row, idx["y_coord"]), 64)
		if address == "" || errX != nil || errY != nil || math.IsNaN(x) || math.IsNaN(y) {
			continue
		}
		cat.Locations = append(cat.Locations, types.CarparkLocation{CarparkNo: no, Address: address, X: x, Y: y})
	}
	return cat, nil
}

// LoadHistory reads the availability CSV (carpark_number, available_lots)
// and resolves each row's address through addresses. Rows for unknown
// carparks or with a blank lot count are dropped; order is preserved.
func LoadHistory(r io.Reader, addresses map[string]string) ([]types.CarparkReading, error) {
	cr := newReader(r)
	idx, err := readHeader(cr, []string{"carpark_number", "available_lots"}, "carpark availability")
	if err != nil {
		return nil, err
	}

	var out []types.CarparkReading
	line := 1
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("reading carpark availability row %d: %w", line, err)
		}

		address, ok := addresses[field(row, idx["carpark_number"])]
		if !ok || address == "" {
			continue
		}
		raw := field(row, idx["available_lots"])
		if raw == "" {
			continue
		}
		lots, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(lots) || math.IsInf(lots, 0) {
			return nil, fmt.Errorf("carpark availability row %d: invalid available_lots %q", line, raw)
		}
		if lots != math.Trunc(lots) {
			return nil, fmt.Errorf("carpark availability row %d: available_lots %q is not a whole number", line, raw)
		}
		out = append(out, types.CarparkReading{Address: address, AvailableLots: int(lots)})
	}
	return out, nil
}
