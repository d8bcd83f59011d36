package frames

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/star/orbitrack/internal/scene"
)

const tol = 1e-9

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func assertVec(t *testing.T, want, got r3.Vec) {
	t.Helper()
	assert.InDelta(t, want.X, got.X, tol, "x")
	assert.InDelta(t, want.Y, got.Y, tol, "y")
	assert.InDelta(t, want.Z, got.Z, tol, "z")
}

func TestBaselineOrientations(t *testing.T) {
	h := NewHierarchy(1, testLogger())

	x, err := h.AxisDirection(Render, AxisX)
	require.NoError(t, err)
	assertVec(t, r3.Vec{X: 1}, x)

	// Inertial Z points straight up the renderer's Y axis.
	z, err := h.AxisDirection(Inertial, AxisZ)
	require.NoError(t, err)
	assertVec(t, r3.Vec{Y: 1}, z)

	// EarthFixed Z is tilted from world up by the obliquity.
	z, err = h.AxisDirection(EarthFixed, AxisZ)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, r3.Norm(z), tol)
	assert.InDelta(t, math.Cos(Radians(ObliquityDeg)), r3.Dot(z, r3.Vec{Y: 1}), tol)
	assert.InDelta(t, 0.0, z.X, tol)
}

func TestFrameNotFound(t *testing.T) {
	h := NewHierarchy(1, testLogger())

	_, err := h.Frame(Frame(7))
	assert.ErrorIs(t, err, ErrFrameNotFound)

	_, err = h.AxisDirection(Frame(3), AxisY)
	assert.ErrorIs(t, err, ErrFrameNotFound)

	// Unknown frame is a no-op on the target.
	obj := scene.NewGroup("obj")
	err = h.ApplyRotation(obj, 1, AxisZ, Frame(42))
	assert.ErrorIs(t, err, ErrFrameNotFound)
	assert.Equal(t, scene.Identity, obj.Orientation())
}

func TestApplyRotationRoundTrip(t *testing.T) {
	h := NewHierarchy(1, testLogger())
	obj := scene.NewMarker("obj", r3.Vec{X: 3, Y: -1, Z: 2})
	obj.RotateBy(r3.Vec{X: 1, Y: 1}, 0.7)
	before := obj.Orientation()

	theta := 0.83
	require.NoError(t, h.ApplyRotation(obj, theta, AxisZ, EarthFixed))
	require.NoError(t, h.ApplyRotation(obj, -theta, AxisZ, EarthFixed))

	after := obj.Orientation()
	assert.InDelta(t, before.Real, after.Real, tol)
	assert.InDelta(t, before.Imag, after.Imag, tol)
	assert.InDelta(t, before.Jmag, after.Jmag, tol)
	assert.InDelta(t, before.Kmag, after.Kmag, tol)
	assert.Equal(t, r3.Vec{X: 3, Y: -1, Z: 2}, obj.Position())
}

// A rotation about a frame axis must use the frame's world-space axis, not
// the object's own local axis.
func TestApplyRotationUsesFrameAxis(t *testing.T) {
	h := NewHierarchy(1, testLogger())
	obj := scene.NewGroup("obj")

	axis, err := h.AxisDirection(EarthFixed, AxisZ)
	require.NoError(t, err)

	require.NoError(t, h.ApplyRotation(obj, 1.1, AxisZ, EarthFixed))

	// Vectors along the rotation axis are fixed points.
	assertVec(t, axis, obj.Orientation().Rotate(axis))
	// The object's local Z is not the axis, so it moves.
	localZ := obj.Orientation().Rotate(r3.Vec{Z: 1})
	assert.Greater(t, r3.Norm(r3.Sub(localZ, r3.Vec{Z: 1})), 0.1)
}

func TestAxisHelpers(t *testing.T) {
	h := NewHierarchy(2.5, testLogger())
	node, err := h.Frame(Inertial)
	require.NoError(t, err)

	var lines, markers int
	for _, c := range node.Children() {
		switch c.Kind() {
		case scene.KindAxisLine:
			lines++
			pts := c.Points()
			require.Len(t, pts, 2)
			assert.InDelta(t, 2.5, r3.Norm(pts[1]), tol)
		case scene.KindAxisMarker:
			markers++
		}
	}
	assert.Equal(t, 3, lines)
	assert.Equal(t, 3, markers)
}

func TestOrchestratorWiring(t *testing.T) {
	earth := scene.NewGroup("earth")
	sun := scene.NewGroup("sun")
	o := NewOrchestrator(1, earth, sun, testLogger())

	ef, err := o.Hierarchy().Frame(EarthFixed)
	require.NoError(t, err)
	eci, err := o.Hierarchy().Frame(Inertial)
	require.NoError(t, err)

	assert.Same(t, ef, earth.Parent())
	assert.Same(t, eci, sun.Parent())

	// The body was stood up: its local Y now points along world Z.
	assertVec(t, r3.Vec{Z: 1}, earth.Orientation().Rotate(r3.Vec{Y: 1}))
	assert.Equal(t, scene.Identity, sun.Orientation())
}

func TestRegisterAllFramesIdempotent(t *testing.T) {
	o := NewOrchestrator(1, nil, nil, testLogger())
	root := scene.NewGroup("root")

	assert.True(t, o.RegisterAllFrames(root))
	assert.False(t, o.RegisterAllFrames(root))
	assert.False(t, o.RegisterAllFrames(scene.NewGroup("other")))

	kids := root.Children()
	require.Len(t, kids, 3)
	assert.Equal(t, "Renderer", kids[0].Name())
	assert.Equal(t, "ECEF", kids[1].Name())
	assert.Equal(t, "ECI", kids[2].Name())
}

func TestRotateNamedFrame(t *testing.T) {
	o := NewOrchestrator(1, nil, nil, testLogger())
	h := o.Hierarchy()

	zBefore, _ := h.AxisDirection(EarthFixed, AxisZ)
	xBefore, _ := h.AxisDirection(EarthFixed, AxisX)

	o.RotateNamedFrame(EarthFixed, math.Pi/2, AxisZ)

	zAfter, _ := h.AxisDirection(EarthFixed, AxisZ)
	yAfter, _ := h.AxisDirection(EarthFixed, AxisY)

	// Spinning about its own Z keeps the pole and carries X onto Y.
	assertVec(t, zBefore, zAfter)
	assertVec(t, xBefore, yAfter)

	// Unknown frames are ignored.
	o.RotateNamedFrame(Frame(9), 1, AxisZ)
}

func TestSpinStopsOnCancel(t *testing.T) {
	o := NewOrchestrator(1, nil, nil, testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		o.Spin(ctx, time.Second, 5*time.Millisecond)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Spin did not return after cancellation")
	}

	ef, _ := o.Hierarchy().Frame(EarthFixed)
	base := NewHierarchy(1, testLogger())
	efBase, _ := base.Frame(EarthFixed)
	assert.NotEqual(t, efBase.Orientation(), ef.Orientation(), "frame should have spun")
}

func TestParseFrame(t *testing.T) {
	tests := []struct {
		in      string
		want    Frame
		wantErr bool
	}{
		{"Renderer", Render, false},
		{"ecef", EarthFixed, false},
		{"ECI", Inertial, false},
		{"inertial", Inertial, false},
		{"ECFE", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFrame(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrFrameNotFound)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
