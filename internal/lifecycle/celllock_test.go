package lifecycle

import (
	"math"
	"testing"

	"github.com/golang/geo/s2"
	"github.com/stretchr/testify/assert"

	"github.com/couchcryptid/road-hazard-service/internal/domain"
)

func coveringCells(l *cellLocks, loc domain.Coordinates) map[s2.CellID]bool {
	center := s2.PointFromLatLng(s2.LatLngFromDegrees(loc.Lat, loc.Lon))
	coverer := &s2.RegionCoverer{MinLevel: l.level, MaxLevel: l.level, MaxCells: 16}
	out := make(map[s2.CellID]bool)
	for _, c := range coverer.Covering(s2.CapFromCenterAngle(center, l.radius)) {
		out[c] = true
	}
	return out
}

func TestCellLocks_NearbyPointsShareACell(t *testing.T) {
	l := newCellLocks(50)
	base := domain.Coordinates{Lat: 32.5149, Lon: -117.0382}

	for _, bearing := range []float64{0, 45, 90, 135, 180, 225, 270, 315} {
		rad := bearing * math.Pi / 180
		d := 49.0 / domain.EarthRadiusMeters * 180 / math.Pi
		other := domain.Coordinates{
			Lat: base.Lat + d*math.Cos(rad),
			Lon: base.Lon + d*math.Sin(rad)/math.Cos(base.Lat*math.Pi/180),
		}
		a := coveringCells(l, base)
		b := coveringCells(l, other)
		shared := false
		for c := range a {
			if b[c] {
				shared = true
				break
			}
		}
		assert.True(t, shared, "bearing %v", bearing)
	}
}

func TestCellLocks_LevelScalesWithRadius(t *testing.T) {
	assert.Greater(t, newCellLocks(50).level, newCellLocks(5000).level)
}

func TestCellLocks_UnlockReleases(t *testing.T) {
	l := newCellLocks(50)
	loc := domain.Coordinates{Lat: 1, Lon: 1}
	unlock := l.lockArea(loc)
	unlock()
	// Would deadlock if the stripes were still held.
	l.lockPoint(loc)()
	l.lockArea(loc)()
}
