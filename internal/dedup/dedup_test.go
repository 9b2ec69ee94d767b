package dedup

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/road-hazard-service/internal/domain"
	"github.com/couchcryptid/road-hazard-service/internal/observability"
)

type fakeScanner struct {
	reports []domain.Report
	err     error
}

func (f *fakeScanner) Scan(_ context.Context) ([]domain.Report, error) {
	return f.reports, f.err
}

var origin = domain.Coordinates{Lat: 32.5149, Lon: -117.0382}

// northOf returns a point meters due north of origin.
func northOf(meters float64) domain.Coordinates {
	dLat := meters / domain.EarthRadiusMeters * 180 / math.Pi
	return domain.Coordinates{Lat: origin.Lat + dLat, Lon: origin.Lon}
}

func TestWithin_SortsAscending(t *testing.T) {
	reports := []domain.Report{
		{ID: "far", Location: northOf(45)},
		{ID: "outside", Location: northOf(1000)},
		{ID: "near", Location: northOf(10)},
		{ID: "mid", Location: northOf(30)},
	}

	got := Within(reports, origin, 50)
	require.Len(t, got, 3)
	assert.Equal(t, "near", got[0].Report.ID)
	assert.Equal(t, "mid", got[1].Report.ID)
	assert.Equal(t, "far", got[2].Report.ID)
	assert.InDelta(t, 10, got[0].DistanceMeters, 0.01)
	assert.InDelta(t, 30, got[1].DistanceMeters, 0.01)
	assert.InDelta(t, 45, got[2].DistanceMeters, 0.01)
}

func TestWithin_TiesKeepInsertionOrder(t *testing.T) {
	p := northOf(20)
	reports := []domain.Report{
		{ID: "first", Location: p},
		{ID: "second", Location: p},
		{ID: "third", Location: p},
	}
	got := Within(reports, origin, 50)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"first", "second", "third"},
		[]string{got[0].Report.ID, got[1].Report.ID, got[2].Report.ID})
}

func TestWithin_BoundaryIsInclusive(t *testing.T) {
	r := domain.Report{ID: "edge", Location: northOf(20)}
	d := origin.Distance(r.Location)
	assert.Len(t, Within([]domain.Report{r}, origin, d), 1)
}

func TestWithin_Empty(t *testing.T) {
	assert.Empty(t, Within(nil, origin, 50))
}

func TestEngine_Nearby(t *testing.T) {
	store := &fakeScanner{reports: []domain.Report{
		{ID: "a", Location: domain.Coordinates{Lat: 32.51495, Lon: -117.03825}},
		{ID: "b", Location: northOf(1000)},
	}}
	e := New(store, 50, observability.NewMetricsForTesting())

	got, err := e.Nearby(context.Background(), origin, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Report.ID)
	assert.Less(t, got[0].DistanceMeters, 10.0)

	got, err = e.Nearby(context.Background(), origin, 2000)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestEngine_Nearest(t *testing.T) {
	e := New(&fakeScanner{reports: []domain.Report{{ID: "b", Location: northOf(1000)}}}, 50, observability.NewMetricsForTesting())

	_, ok, err := e.Nearest(context.Background(), origin)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEngine_DefaultRadius(t *testing.T) {
	e := New(&fakeScanner{}, 0, observability.NewMetricsForTesting())
	assert.Equal(t, domain.DefaultConfirmationRadiusMeters, e.Radius())
}

func TestEngine_ScanError(t *testing.T) {
	e := New(&fakeScanner{err: domain.StorageError("scan", errors.New("db down"))}, 50, observability.NewMetricsForTesting())

	_, err := e.Nearby(context.Background(), origin, 50)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStorage)
}

func TestEngine_InvalidOrigin(t *testing.T) {
	e := New(&fakeScanner{}, 50, observability.NewMetricsForTesting())
	_, err := e.Nearby(context.Background(), domain.Coordinates{Lat: 91, Lon: 0}, 50)
	assert.True(t, domain.IsValidation(err))
}
