package domain

import "math"

// EarthRadiusMeters is the mean Earth radius used for all distance calculations.
const EarthRadiusMeters = 6_371_000.0

// DefaultConfirmationRadiusMeters is the distance within which two submissions
// describe the same physical hazard.
const DefaultConfirmationRadiusMeters = 50.0

// Coordinates is a WGS-84 latitude/longitude pair in degrees.
type Coordinates struct {
	Lat float64 `json:"latitude"`
	Lon float64 `json:"longitude"`
}

// Validate reports whether the coordinates are inside the WGS-84 range.
func (c Coordinates) Validate() error {
	if math.IsNaN(c.Lat) || c.Lat < -90 || c.Lat > 90 {
		return &ValidationError{Field: FieldLocation, Message: "latitude must be between -90 and 90"}
	}
	if math.IsNaN(c.Lon) || c.Lon < -180 || c.Lon > 180 {
		return &ValidationError{Field: FieldLocation, Message: "longitude must be between -180 and 180"}
	}
	return nil
}

// DistanceMeters returns the haversine great-circle distance between two points.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	φ1 := degToRad(lat1)
	φ2 := degToRad(lat2)
	dφ := degToRad(lat2 - lat1)
	dλ := degToRad(lon2 - lon1)

	sinDφ := math.Sin(dφ / 2)
	sinDλ := math.Sin(dλ / 2)
	a := sinDφ*sinDφ + math.Cos(φ1)*math.Cos(φ2)*sinDλ*sinDλ
	// Rounding can push a slightly past 1 for near-antipodal points.
	a = math.Min(1, math.Max(0, a))

	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(a))
}

// Distance returns the distance in metres between c and other.
func (c Coordinates) Distance(other Coordinates) float64 {
	return DistanceMeters(c.Lat, c.Lon, other.Lat, other.Lon)
}

func degToRad(d float64) float64 {
	return d * math.Pi / 180
}
