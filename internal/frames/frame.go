// Package frames maintains the three reference frames the scene is built
// from and the rotation math used to turn objects about a frame's axes.
//
//	Render     identity orientation, the renderer's world space
//	EarthFixed rotated -(90+23.45) deg about world X: Z up, axial tilt applied
//	Inertial   rotated -90 deg about world X
//
// Rotations are quaternions (gonum r3.Rotation). Applying a rotation about a
// frame's axis pre-multiplies the target's orientation, so the turn happens
// about the axis as the frame is currently oriented in world space.
package frames

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
)

// ErrFrameNotFound is returned for a frame value or name outside the closed set.
var ErrFrameNotFound = errors.New("frame not found")

// Frame identifies one of the three reference frames.
type Frame uint8

const (
	Render Frame = iota
	EarthFixed
	Inertial

	frameCount = 3
)

// All lists every frame in construction order.
var All = [frameCount]Frame{Render, EarthFixed, Inertial}

var frameNames = [frameCount]string{"Renderer", "ECEF", "ECI"}

// String returns the external name of the frame.
func (f Frame) String() string {
	if !f.Valid() {
		return fmt.Sprintf("Frame(%d)", uint8(f))
	}
	return frameNames[f]
}

// Valid reports whether f is one of the three known frames.
func (f Frame) Valid() bool {
	return f < frameCount
}

// ParseFrame maps an external frame name to a Frame.
func ParseFrame(s string) (Frame, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "renderer", "render":
		return Render, nil
	case "ecef", "earthfixed", "earth_fixed":
		return EarthFixed, nil
	case "eci", "inertial":
		return Inertial, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrFrameNotFound, s)
}

// Axis names one of a frame's local axes.
type Axis uint8

const (
	AxisX Axis = iota
	AxisY
	AxisZ
)

// Basis returns the canonical unit vector for the axis.
func (a Axis) Basis() r3.Vec {
	switch a {
	case AxisX:
		return r3.Vec{X: 1}
	case AxisY:
		return r3.Vec{Y: 1}
	default:
		return r3.Vec{Z: 1}
	}
}

func (a Axis) String() string {
	switch a {
	case AxisX:
		return "x"
	case AxisY:
		return "y"
	case AxisZ:
		return "z"
	default:
		return fmt.Sprintf("Axis(%d)", uint8(a))
	}
}

// ParseAxis maps "x", "y" or "z" to an Axis.
func ParseAxis(s string) (Axis, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "x":
		return AxisX, nil
	case "y":
		return AxisY, nil
	case "z":
		return AxisZ, nil
	}
	return 0, fmt.Errorf("unknown axis %q", s)
}

// Radians converts degrees to radians.
func Radians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// Degrees converts radians to degrees.
func Degrees(rad float64) float64 {
	return rad * 180.0 / math.Pi
}
