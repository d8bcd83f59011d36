package frames

import (
	"fmt"
	"log/slog"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/star/orbitrack/internal/scene"
)

// ObliquityDeg is the axial tilt baked into the EarthFixed baseline.
const ObliquityDeg = 23.45

// Hierarchy owns the three frame nodes. Frames are created once and never
// destroyed.
type Hierarchy struct {
	frames [frameCount]*scene.Node
	logger *slog.Logger
}

// NewHierarchy builds the three frames with their baseline rotations and
// axis helpers of the given length.
func NewHierarchy(axisLength float64, logger *slog.Logger) *Hierarchy {
	h := &Hierarchy{logger: logger}

	baseline := [frameCount]r3.Rotation{
		Render:     scene.Identity,
		EarthFixed: r3.NewRotation(Radians(-(90 + ObliquityDeg)), r3.Vec{X: 1}),
		Inertial:   r3.NewRotation(Radians(-90), r3.Vec{X: 1}),
	}

	for _, f := range All {
		node := scene.NewGroup(f.String())
		node.SetOrientation(baseline[f])
		buildAxes(node, axisLength)
		h.frames[f] = node
	}

	return h
}

// buildAxes attaches a marker and a line along each local axis.
func buildAxes(node *scene.Node, length float64) {
	for _, a := range [...]Axis{AxisX, AxisY, AxisZ} {
		tip := r3.Scale(length, a.Basis())
		node.Attach(scene.NewAxisLine(node.Name()+"/"+a.String()+"-line", tip))
		node.Attach(scene.NewAxisMarker(node.Name()+"/"+a.String()+"-marker", tip))
	}
}

// Frame returns the node for f.
func (h *Hierarchy) Frame(f Frame) (*scene.Node, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrFrameNotFound, f)
	}
	return h.frames[f], nil
}

// AxisDirection returns the world-space unit vector of the frame's local axis.
func (h *Hierarchy) AxisDirection(f Frame, axis Axis) (r3.Vec, error) {
	node, err := h.Frame(f)
	if err != nil {
		return r3.Vec{}, err
	}
	return r3.Unit(node.Orientation().Rotate(axis.Basis())), nil
}

// ApplyRotation turns target by angle radians about the frame's axis as the
// frame is currently oriented. An unknown frame is logged and ignored; the
// error is returned for callers that care.
func (h *Hierarchy) ApplyRotation(target *scene.Node, angle float64, axis Axis, f Frame) error {
	dir, err := h.AxisDirection(f, axis)
	if err != nil {
		h.logger.Warn("rotation skipped", "frame", f.String(), "axis", axis.String(), "error", err)
		return err
	}
	if target == nil {
		return nil
	}
	target.RotateBy(dir, angle)
	return nil
}
