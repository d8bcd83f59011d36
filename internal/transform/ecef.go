// Package transform converts SGP4 output into the frames the tracker needs.
//
// SGP4 emits TEME (True Equator Mean Equinox) coordinates. The GMST-only
// rotation used here treats the pseudo Earth-fixed frame as ECEF, ignoring
// polar motion and the equation of the equinoxes; the resulting error of a
// few tens of metres is invisible at render scale.
//
// All distances in this package are kilometres.
package transform

import (
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

// Plausible geocentric radii for an Earth-orbiting body, km.
const (
	MinOrbitRadiusKm = 6200.0
	MaxOrbitRadiusKm = 50000.0
)

// TEMEToECEF rotates a TEME position and velocity into ECEF at time t.
func TEMEToECEF(pos, vel r3.Vec, t time.Time) (r3.Vec, r3.Vec) {
	return TEMEToECEFWithGMST(pos, vel, GMST(t))
}

// TEMEToECEFWithGMST is TEMEToECEF with a precomputed GMST angle, for
// batches propagated to a common instant.
//
//	r_ecef = R3(θ)·r_teme
//	v_ecef = R3(θ)·v_teme - ω × r_ecef
func TEMEToECEFWithGMST(pos, vel r3.Vec, gmst float64) (r3.Vec, r3.Vec) {
	cosG, sinG := math.Cos(gmst), math.Sin(gmst)

	rot := func(v r3.Vec) r3.Vec {
		return r3.Vec{
			X: v.X*cosG + v.Y*sinG,
			Y: -v.X*sinG + v.Y*cosG,
			Z: v.Z,
		}
	}

	p := rot(pos)
	omega := r3.Vec{Z: OmegaEarth}
	v := r3.Sub(rot(vel), r3.Cross(omega, p))
	return p, v
}

// ValidOrbitPosition reports whether p is finite and at a plausible orbital radius.
func ValidOrbitPosition(p r3.Vec) bool {
	for _, c := range [...]float64{p.X, p.Y, p.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	mag := r3.Norm(p)
	return mag >= MinOrbitRadiusKm && mag <= MaxOrbitRadiusKm
}
