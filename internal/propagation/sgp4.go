package propagation

import (
	"errors"
	"fmt"
	"math"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/star/orbitrack/internal/tle"
	"github.com/star/orbitrack/internal/transform"
)

// SGP4 library choice: github.com/joshuaferrara/go-satellite
//
// Pure Go, explicit TEME output, and ECIToECEF/GSTimeFromDate for
// cross-validation. Propagate() takes the Satellite by value, so SGP4 error
// codes are not visible to the caller; failures are detected from the output
// (NaN/Inf or an implausible radius).

// ErrPropagation is wrapped by every propagation failure.
var ErrPropagation = errors.New("sgp4 propagation failed")

// SGP4Propagator wraps go-satellite for a single body. It is immutable after
// construction and safe for concurrent use.
type SGP4Propagator struct {
	sat       satellite.Satellite
	catalogID int
	epoch     time.Time
}

// NewSGP4Propagator initialises SGP4 from a line pair.
//
// The lines are fully validated first: go-satellite calls log.Fatal on
// malformed numeric fields, which would take the process down.
func NewSGP4Propagator(l tle.Lines) (*SGP4Propagator, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	epoch, err := l.Epoch()
	if err != nil {
		return nil, err
	}

	id := l.CatalogID()
	sat := satellite.TLEToSat(l.Line1, l.Line2, satellite.GravityWGS84)
	if sat.Error != 0 {
		return nil, fmt.Errorf("sgp4 init failed for NORAD %d: code=%d %s", id, sat.Error, sat.ErrorStr)
	}
	return &SGP4Propagator{sat: sat, catalogID: id, epoch: epoch}, nil
}

// CatalogID returns the catalog number the propagator was built for.
func (p *SGP4Propagator) CatalogID() int { return p.catalogID }

// Epoch returns the element set's reference epoch.
func (p *SGP4Propagator) Epoch() time.Time { return p.epoch }

// Propagate returns the TEME position (km) and velocity (km/s) at t,
// truncated to whole seconds.
func (p *SGP4Propagator) Propagate(t time.Time) (pos, vel r3.Vec, err error) {
	t = t.UTC()
	year, month, day := t.Date()
	hour, minute, sec := t.Clock()

	sp, sv := satellite.Propagate(p.sat, year, int(month), day, hour, minute, sec)
	pos = r3.Vec{X: sp.X, Y: sp.Y, Z: sp.Z}
	vel = r3.Vec{X: sv.X, Y: sv.Y, Z: sv.Z}

	for _, c := range [...]float64{pos.X, pos.Y, pos.Z, vel.X, vel.Y, vel.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return r3.Vec{}, r3.Vec{}, fmt.Errorf("%w for NORAD %d: output is NaN/Inf", ErrPropagation, p.catalogID)
		}
	}
	if !transform.ValidOrbitPosition(pos) {
		return r3.Vec{}, r3.Vec{}, fmt.Errorf("%w for NORAD %d: unreasonable position magnitude %.1f km",
			ErrPropagation, p.catalogID, r3.Norm(pos))
	}

	return pos, vel, nil
}

// Sample propagates to t and expresses the result in ECEF and geodetic terms.
// t is truncated to whole seconds so the Earth rotation matches the
// propagated instant.
func (p *SGP4Propagator) Sample(t time.Time) (Sample, error) {
	t = t.Truncate(time.Second)
	return p.sampleWithGMST(t, transform.GMST(t))
}

func (p *SGP4Propagator) sampleWithGMST(t time.Time, gmst float64) (Sample, error) {
	pos, vel, err := p.Propagate(t)
	if err != nil {
		return Sample{}, err
	}
	ep, ev := transform.TEMEToECEFWithGMST(pos, vel, gmst)
	return Sample{
		Time:         t,
		PositionECEF: ep,
		VelocityECEF: ev,
		VelocityTEME: vel,
		Geodetic:     transform.ECEFToGeodetic(ep.X, ep.Y, ep.Z),
	}, nil
}
