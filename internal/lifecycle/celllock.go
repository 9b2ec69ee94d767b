package lifecycle

import (
	"sort"
	"sync"

	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"

	"github.com/couchcryptid/road-hazard-service/internal/domain"
)

const lockStripes = 256

// cellLocks serializes work on nearby coordinates. Each call locks the
// stripes of every fixed-level s2 cell covering a cap of the confirmation
// radius around the point. Two points within the radius of each other always
// share at least one cell: each point's own cell lies inside the other's cap.
type cellLocks struct {
	level   int
	radius  s1.Angle
	stripes [lockStripes]sync.Mutex
}

func newCellLocks(radiusMeters float64) *cellLocks {
	radius := s1.Angle(radiusMeters / domain.EarthRadiusMeters)
	// Largest level whose cells are still at least as wide as the radius
	// keeps the covering to a handful of cells.
	level := s2.MinWidthMetric.MaxLevel(float64(radius))
	if level > s2.MaxLevel {
		level = s2.MaxLevel
	}
	return &cellLocks{level: level, radius: radius}
}

// lockArea locks every stripe for the cap around loc and returns the unlock func.
func (l *cellLocks) lockArea(loc domain.Coordinates) func() {
	center := s2.PointFromLatLng(s2.LatLngFromDegrees(loc.Lat, loc.Lon))
	coverer := &s2.RegionCoverer{MinLevel: l.level, MaxLevel: l.level, MaxCells: 16}
	covering := coverer.Covering(s2.CapFromCenterAngle(center, l.radius))
	return l.lockStripes(covering)
}

// lockPoint locks the stripe of the single cell containing loc. Any lockArea
// call for a point within the radius includes this cell.
func (l *cellLocks) lockPoint(loc domain.Coordinates) func() {
	cell := s2.CellIDFromLatLng(s2.LatLngFromDegrees(loc.Lat, loc.Lon)).Parent(l.level)
	return l.lockStripes(s2.CellUnion{cell})
}

func (l *cellLocks) lockStripes(cells s2.CellUnion) func() {
	seen := make(map[int]struct{}, len(cells))
	idx := make([]int, 0, len(cells))
	for _, c := range cells {
		i := stripeFor(c)
		if _, ok := seen[i]; ok {
			continue
		}
		seen[i] = struct{}{}
		idx = append(idx, i)
	}
	// Fixed acquisition order avoids lock-order deadlocks.
	sort.Ints(idx)
	for _, i := range idx {
		l.stripes[i].Lock()
	}
	return func() {
		for j := len(idx) - 1; j >= 0; j-- {
			l.stripes[idx[j]].Unlock()
		}
	}
}

// stripeFor spreads cell ids over the stripes. Cells of one level share their
// low bits, so the id is mixed before taking the top byte.
func stripeFor(c s2.CellID) int {
	return int((uint64(c) * 0x9E3779B97F4A7C15) >> 56)
}
