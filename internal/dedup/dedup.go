// Package dedup finds existing reports within a confirmation radius of a point.
package dedup

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/couchcryptid/road-hazard-service/internal/domain"
	"github.com/couchcryptid/road-hazard-service/internal/observability"
)

// Scanner returns every stored report in insertion order.
type Scanner interface {
	Scan(ctx context.Context) ([]domain.Report, error)
}

// Engine runs nearby searches over a full store scan. A spatial index can
// replace the scan as long as radius membership and nearest-first ordering
// are preserved.
type Engine struct {
	store   Scanner
	radius  float64
	metrics *observability.Metrics
}

// New creates an Engine with the default confirmation radius in meters.
func New(store Scanner, radius float64, metrics *observability.Metrics) *Engine {
	if radius <= 0 {
		radius = domain.DefaultConfirmationRadiusMeters
	}
	return &Engine{store: store, radius: radius, metrics: metrics}
}

// Radius returns the default confirmation radius in meters.
func (e *Engine) Radius() float64 {
	return e.radius
}

// Nearby returns reports within radius meters of origin, nearest first.
// A non-positive radius uses the engine default.
func (e *Engine) Nearby(ctx context.Context, origin domain.Coordinates, radius float64) ([]domain.NearbyReport, error) {
	if err := origin.Validate(); err != nil {
		return nil, err
	}
	if radius <= 0 {
		radius = e.radius
	}

	start := time.Now()
	reports, err := e.store.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan reports: %w", err)
	}
	out := Within(reports, origin, radius)
	e.metrics.DedupScanDuration.Observe(time.Since(start).Seconds())
	return out, nil
}

// Nearest returns the dedup target for origin, if any.
func (e *Engine) Nearest(ctx context.Context, origin domain.Coordinates) (domain.NearbyReport, bool, error) {
	matches, err := e.Nearby(ctx, origin, e.radius)
	if err != nil || len(matches) == 0 {
		return domain.NearbyReport{}, false, err
	}
	return matches[0], true, nil
}

// Within filters reports to those no farther than radius from origin and
// sorts them by ascending distance. Equal distances keep input order.
func Within(reports []domain.Report, origin domain.Coordinates, radius float64) []domain.NearbyReport {
	var out []domain.NearbyReport
	for _, r := range reports {
		d := origin.Distance(r.Location)
		if d <= radius {
			out = append(out, domain.NearbyReport{Report: r, DistanceMeters: d})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DistanceMeters < out[j].DistanceMeters
	})
	return out
}
