package carpark

import (
	"cmp"
	"math"
	"slices"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/spatial/kdtree"

	"crowdpark/internal/types"
)

// Neighbor is one result of a nearest-neighbour query.
type Neighbor struct {
	Index    int
	Location types.CarparkLocation
	Distance float64
}

// SpatialIndex is a static 2-d tree over carpark coordinates. Coordinates
// are planar (SVY21 metres), so distance is Euclidean.
type SpatialIndex struct {
	tree      *kdtree.Tree
	locations []types.CarparkLocation
	byAddress map[string]int
}

// NewSpatialIndex builds the tree. Locations with non-finite coordinates
// are skipped. When two locations share an address the first one is used
// for address lookups.
func NewSpatialIndex(locations []types.CarparkLocation) *SpatialIndex {
	idx := &SpatialIndex{byAddress: make(map[string]int, len(locations))}

	var pts sitePoints
	for _, loc := range locations {
		if !finite(loc.X) || !finite(loc.Y) {
			continue
		}
		if _, dup := idx.byAddress[loc.Address]; !dup {
			idx.byAddress[loc.Address] = len(idx.locations)
		}
		pts = append(pts, sitePoint{Point: r2.Point{X: loc.X, Y: loc.Y}, index: len(idx.locations)})
		idx.locations = append(idx.locations, loc)
	}

	// kdtree.New reorders pts; each point keeps its location index.
	idx.tree = kdtree.New(pts, false)
	return idx
}

// Len is the number of indexed locations.
func (s *SpatialIndex) Len() int {
	return len(s.locations)
}

// Locate returns the location registered for address.
func (s *SpatialIndex) Locate(address string) (types.CarparkLocation, bool) {
	i, ok := s.byAddress[address]
	if !ok {
		return types.CarparkLocation{}, false
	}
	return s.locations[i], true
}

// Nearest returns up to k locations closest to p in ascending distance.
// Equal distances are ordered by input position.
func (s *SpatialIndex) Nearest(p r2.Point, k int) []Neighbor {
	if k <= 0 || len(s.locations) == 0 {
		return nil
	}
	q := sitePoint{Point: p, index: -1}

	nk := kdtree.NewNKeeper(k)
	s.tree.NearestSet(nk, q)
	if len(nk.Heap) == 0 {
		return nil
	}

	// The k-th radius may be shared by points the keeper dropped; collect
	// every point within it so ties resolve by input position.
	radius := nk.Heap[len(nk.Heap)-1].Dist
	dk := kdtree.NewDistKeeper(radius)
	s.tree.NearestSet(dk, q)

	found := make([]sitePoint, 0, len(dk.Heap))
	dist2 := make(map[int]float64, len(dk.Heap))
	for _, c := range dk.Heap {
		sp := c.Comparable.(sitePoint)
		found = append(found, sp)
		dist2[sp.index] = c.Dist
	}
	slices.SortFunc(found, func(a, b sitePoint) int {
		if c := cmp.Compare(dist2[a.index], dist2[b.index]); c != 0 {
			return c
		}
		return a.index - b.index
	})
	if len(found) > k {
		found = found[:k]
	}

	out := make([]Neighbor, len(found))
	for i, sp := range found {
		out[i] = Neighbor{
			Index:    sp.index,
			Location: s.locations[sp.index],
			Distance: math.Sqrt(dist2[sp.index]),
		}
	}
	return out
}

// sitePoint is a kdtree.Comparable carrying its position in the location
// slice.
type sitePoint struct {
	r2.Point
	index int
}

func (p sitePoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(sitePoint)
	return coord(p.Point, d) - coord(q.Point, d)
}

func (p sitePoint) Dims() int { return 2 }

// Distance is squared Euclidean, as kdtree keepers expect.
func (p sitePoint) Distance(c kdtree.Comparable) float64 {
	d := p.Sub(c.(sitePoint).Point)
	return d.Dot(d)
}

// sitePoints satisfies kdtree.Interface.
type sitePoints []sitePoint

func (p sitePoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p sitePoints) Len() int                              { return len(p) }
func (p sitePoints) Pivot(d kdtree.Dim) int                { return sitePlane{Dim: d, sitePoints: p}.Pivot() }
func (p sitePoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

type sitePlane struct {
	kdtree.Dim
	sitePoints
}

func (p sitePlane) Less(i, j int) bool {
	return coord(p.sitePoints[i].Point, p.Dim) < coord(p.sitePoints[j].Point, p.Dim)
}
func (p sitePlane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p sitePlane) Slice(start, end int) kdtree.SortSlicer {
	p.sitePoints = p.sitePoints[start:end]
	return p
}
func (p sitePlane) Swap(i, j int) {
	p.sitePoints[i], p.sitePoints[j] = p.sitePoints[j], p.sitePoints[i]
}

func coord(p r2.Point, d kdtree.Dim) float64 {
	if d == 0 {
		return p.X
	}
	return p.Y
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
