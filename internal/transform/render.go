package transform

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// MeanEarthRadiusKm is the spherical radius the render scale is built on.
const MeanEarthRadiusKm = 6371.0

// RenderScale maps geodetic positions into EarthFixed render units, where
// the central body is a sphere of EarthRadius units and Z is the pole.
type RenderScale struct {
	EarthRadius    float64
	AltitudeOffset float64
}

// UnitsPerKm is the render length of one kilometre of altitude.
func (s RenderScale) UnitsPerKm() float64 {
	return s.EarthRadius / MeanEarthRadiusKm
}

// Point places g on a sphere of radius EarthRadius + AltitudeOffset + scaled altitude.
func (s RenderScale) Point(g Geodetic) r3.Vec {
	r := s.EarthRadius + s.AltitudeOffset + g.AltKm*s.UnitsPerKm()
	lat := g.LatDeg * math.Pi / 180
	lon := g.LonDeg * math.Pi / 180
	cosLat := math.Cos(lat)
	return r3.Vec{
		X: r * cosLat * math.Cos(lon),
		Y: r * cosLat * math.Sin(lon),
		Z: r * math.Sin(lat),
	}
}
