package propagation

import (
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/star/orbitrack/internal/transform"
)

// Sample is one propagated instant of a body's orbit.
type Sample struct {
	Time         time.Time
	PositionECEF r3.Vec // km
	VelocityECEF r3.Vec // km/s, Earth-relative
	VelocityTEME r3.Vec // km/s, inertial
	Geodetic     transform.Geodetic
}

// SpeedKms returns the Earth-relative speed.
func (s Sample) SpeedKms() float64 {
	return r3.Norm(s.VelocityECEF)
}

// InertialSpeedKms returns the orbital speed.
func (s Sample) InertialSpeedKms() float64 {
	return r3.Norm(s.VelocityTEME)
}

// TrackConfig controls orbit sampling.
type TrackConfig struct {
	Samples int           // points per track (default: 100)
	Step    time.Duration // spacing between points (default: 60s)
}

// Defaults for TrackConfig.
const (
	DefaultSamples = 100
	DefaultStep    = 60 * time.Second
)

// WithDefaults fills zero fields.
func (c TrackConfig) WithDefaults() TrackConfig {
	if c.Samples <= 0 {
		c.Samples = DefaultSamples
	}
	if c.Step <= 0 {
		c.Step = DefaultStep
	}
	return c
}
