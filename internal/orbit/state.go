package orbit

import (
	"time"

	"github.com/star/orbitrack/internal/propagation"
	"github.com/star/orbitrack/internal/transform"
)

// State is a body's live position at one instant.
type State struct {
	CatalogID   int       `json:"norad_id"`
	VelocityKms float64   `json:"velocity_kms"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	ElevationKm float64   `json:"elevation_km"`
	Timestamp   time.Time `json:"timestamp"`
	MercatorX   float64   `json:"mercator_x"`
	MercatorY   float64   `json:"mercator_y"`
}

// StateFromSample converts a propagated sample into a State.
func StateFromSample(catalogID int, s propagation.Sample) State {
	mx, my := transform.Mercator(s.Geodetic.LatDeg, s.Geodetic.LonDeg)
	return State{
		CatalogID:   catalogID,
		VelocityKms: s.InertialSpeedKms(),
		Latitude:    s.Geodetic.LatDeg,
		Longitude:   s.Geodetic.LonDeg,
		ElevationKm: s.Geodetic.AltKm,
		Timestamp:   s.Time,
		MercatorX:   mx,
		MercatorY:   my,
	}
}
