package types

import "fmt"

// GeoPoint carries delivery coordinates on checkout payloads.
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Validate bounds-checks the coordinates.
func (g GeoPoint) Validate() error {
	if g.Latitude < -90 || g.Latitude > 90 {
		return fmt.Errorf("geo point: latitude %f out of range", g.Latitude)
	}
	if g.Longitude < -180 || g.Longitude > 180 {
		return fmt.Errorf("geo point: longitude %f out of range", g.Longitude)
	}
	return nil
}
