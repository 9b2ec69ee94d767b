package domain

import (
	"context"
	"fmt"
	"log/slog"
)

// ResolveAddress fills in a missing address by reverse geocoding the report
// location. A nil geocoder, a lookup error, or an empty result leaves the
// address unchanged.
func ResolveAddress(ctx context.Context, report Report, geocoder Geocoder, logger *slog.Logger) Report {
	if geocoder == nil || report.Address != "" {
		return report
	}

	result, err := geocoder.ReverseGeocode(ctx, report.Location.Lat, report.Location.Lon)
	if err != nil {
		logger.Warn("reverse geocoding failed",
			"report_id", report.ID,
			"lat", report.Location.Lat,
			"lon", report.Location.Lon,
			"error", err,
		)
		return report
	}
	if result.FormattedAddress != "" {
		report.Address = result.FormattedAddress
	}
	return report
}

// FallbackAddress is the coordinate label used when no geocoded address exists.
func FallbackAddress(loc Coordinates) string {
	return fmt.Sprintf("Lat: %.4f, Lng: %.4f", loc.Lat, loc.Lon)
}
