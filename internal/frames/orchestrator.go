package frames

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/star/orbitrack/internal/metrics"
	"github.com/star/orbitrack/internal/scene"
)

// Orchestrator wires the fixed bodies into the hierarchy and exposes the
// per-tick frame rotation used by the render loop.
type Orchestrator struct {
	hierarchy *Hierarchy
	body      *scene.Node
	light     *scene.Node
	logger    *slog.Logger

	mu    sync.Mutex
	added bool
}

// NewOrchestrator builds the hierarchy, stands the central body up (90 deg
// about X in the Render frame), attaches it to EarthFixed and attaches the
// light source to Inertial. Either handle may be nil.
func NewOrchestrator(axisLength float64, body, light *scene.Node, logger *slog.Logger) *Orchestrator {
	h := NewHierarchy(axisLength, logger)

	if body != nil {
		h.ApplyRotation(body, math.Pi/2, AxisX, Render)
		h.frames[EarthFixed].Attach(body)
	}
	if light != nil {
		h.frames[Inertial].Attach(light)
	}

	return &Orchestrator{
		hierarchy: h,
		body:      body,
		light:     light,
		logger:    logger,
	}
}

// Hierarchy returns the frame hierarchy.
func (o *Orchestrator) Hierarchy() *Hierarchy {
	return o.hierarchy
}

// RegisterAllFrames attaches the three frames to root. Only the first call
// has any effect; it reports whether this call attached them.
func (o *Orchestrator) RegisterAllFrames(root *scene.Node) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.added || root == nil {
		return false
	}
	for _, f := range All {
		root.Attach(o.hierarchy.frames[f])
	}
	o.added = true
	o.logger.Debug("frames registered", "root", root.Name())
	return true
}

// RotateNamedFrame turns the named frame about one of its own axes. Called
// once per tick by the render loop.
func (o *Orchestrator) RotateNamedFrame(f Frame, angle float64, axis Axis) {
	node, err := o.hierarchy.Frame(f)
	if err != nil {
		o.logger.Warn("rotate frame skipped", "frame", f.String(), "error", err)
		return
	}
	if o.hierarchy.ApplyRotation(node, angle, axis, f) == nil {
		metrics.IncFrameRotation(f.String())
	}
}

// Spin rotates the EarthFixed frame about its Z axis at one revolution per
// period, advancing once per tick, until ctx is done. It stands in for the
// external render loop when no renderer drives the frames.
func (o *Orchestrator) Spin(ctx context.Context, period, tick time.Duration) {
	if period <= 0 || tick <= 0 {
		return
	}
	step := 2 * math.Pi * tick.Seconds() / period.Seconds()

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	o.logger.Info("frame spin started",
		"period_seconds", period.Seconds(),
		"tick_ms", tick.Milliseconds(),
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.RotateNamedFrame(EarthFixed, step, AxisZ)
		}
	}
}
