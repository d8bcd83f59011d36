package transform

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Observer is a ground site with its ECEF position precomputed, so one
// value can be reused across many look-angle evaluations.
type Observer struct {
	Geodetic
	ECEF r3.Vec // km
}

// LookAngles are the topocentric coordinates of a target seen from an Observer.
type LookAngles struct {
	AzimuthDeg   float64 // 0 = North, clockwise
	ElevationDeg float64 // 0 = horizon, 90 = zenith
	RangeKm      float64
}

// NewObserver builds an Observer at latDeg, lonDeg and altKm above the
// WGS-84 ellipsoid.
func NewObserver(latDeg, lonDeg, altKm float64) Observer {
	g := Geodetic{LatDeg: latDeg, LonDeg: lonDeg, AltKm: altKm}
	x, y, z := GeodeticToECEF(g)
	return Observer{Geodetic: g, ECEF: r3.Vec{X: x, Y: y, Z: z}}
}

// Look returns the look angles from o to an ECEF position in km, using the
// South-East-Zenith rotation.
func (o Observer) Look(target r3.Vec) LookAngles {
	r := r3.Sub(target, o.ECEF)

	lat := o.LatDeg * math.Pi / 180
	lon := o.LonDeg * math.Pi / 180
	sinLat, cosLat := math.Sin(lat), math.Cos(lat)
	sinLon, cosLon := math.Sin(lon), math.Cos(lon)

	south := sinLat*cosLon*r.X + sinLat*sinLon*r.Y - cosLat*r.Z
	east := -sinLon*r.X + cosLon*r.Y
	zenith := cosLat*cosLon*r.X + cosLat*sinLon*r.Y + sinLat*r.Z

	rng := r3.Norm(r)
	if rng == 0 {
		return LookAngles{ElevationDeg: 90}
	}

	az := math.Atan2(east, -south)
	if az < 0 {
		az += 2 * math.Pi
	}

	return LookAngles{
		AzimuthDeg:   az * 180 / math.Pi,
		ElevationDeg: math.Asin(zenith/rng) * 180 / math.Pi,
		RangeKm:      rng,
	}
}
