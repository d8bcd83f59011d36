// Package orbit holds the per-body model: cached elements, SGP4 state, and
// the render artifacts derived from them.
package orbit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/star/orbitrack/internal/metrics"
	"github.com/star/orbitrack/internal/propagation"
	"github.com/star/orbitrack/internal/scene"
	"github.com/star/orbitrack/internal/tle"
	"github.com/star/orbitrack/internal/transform"
)

// DefaultFetchTimeout bounds one FetchElements call when Geometry leaves it zero.
const DefaultFetchTimeout = 10 * time.Second

// Geometry holds the constants fixed at startup that shape every model.
type Geometry struct {
	EarthRadius    float64       // render units
	AltitudeOffset float64       // render units added to every radius
	Samples        int           // default artifact sample count
	Step           time.Duration // spacing between samples
	FetchTimeout   time.Duration
}

// WithDefaults fills zero fields.
func (g Geometry) WithDefaults() Geometry {
	if g.EarthRadius <= 0 {
		g.EarthRadius = 1
	}
	tc := propagation.TrackConfig{Samples: g.Samples, Step: g.Step}.WithDefaults()
	g.Samples, g.Step = tc.Samples, tc.Step
	if g.FetchTimeout <= 0 {
		g.FetchTimeout = DefaultFetchTimeout
	}
	return g
}

// Scale returns the render scale implied by g.
func (g Geometry) Scale() transform.RenderScale {
	return transform.RenderScale{EarthRadius: g.EarthRadius, AltitudeOffset: g.AltitudeOffset}
}

// Artifacts is one generation of render output. A value is never modified
// after it is published, so readers always see a consistent set.
type Artifacts struct {
	Points      []r3.Vec
	Track       *scene.Node // polyline through Points; nil when empty
	Marker      *scene.Node // current position; nil when unknown
	GeneratedAt time.Time
	Dropped     int // samples that failed to propagate
}

// Empty reports whether the generation produced no geometry.
func (a *Artifacts) Empty() bool {
	return a == nil || len(a.Points) == 0
}

// Nodes returns the non-nil scene nodes.
func (a *Artifacts) Nodes() []*scene.Node {
	if a == nil {
		return nil
	}
	var nodes []*scene.Node
	if a.Track != nil {
		nodes = append(nodes, a.Track)
	}
	if a.Marker != nil {
		nodes = append(nodes, a.Marker)
	}
	return nodes
}

type elements struct {
	payload   tle.Payload
	lines     tle.Lines
	prop      *propagation.SGP4Propagator
	fetchedAt time.Time
}

// Option configures a Model.
type Option func(*Model)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Model) { m.now = now }
}

// Model tracks one body. FetchElements and GenerateArtifacts are meant to be
// driven by a single owner; state and artifact reads are safe from any goroutine.
type Model struct {
	catalogID int
	source    tle.Source
	geometry  Geometry
	scale     transform.RenderScale
	logger    *slog.Logger
	now       func() time.Time

	fetchMu   sync.Mutex
	elements  atomic.Pointer[elements]
	artifacts atomic.Pointer[Artifacts]
}

// New creates a model for catalogID with no elements loaded.
func New(catalogID int, source tle.Source, geometry Geometry, logger *slog.Logger, opts ...Option) *Model {
	g := geometry.WithDefaults()
	m := &Model{
		catalogID: catalogID,
		source:    source,
		geometry:  g,
		scale:     g.Scale(),
		logger:    logger.With("norad_id", catalogID),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.artifacts.Store(&Artifacts{})
	return m
}

// CatalogID returns the body's catalog number.
func (m *Model) CatalogID() int { return m.catalogID }

// FetchElements pulls the current element payload and reports whether it
// differs from the cached one. An unchanged payload is not reparsed. On any
// error the cached elements are left exactly as they were.
func (m *Model) FetchElements(ctx context.Context) (bool, error) {
	m.fetchMu.Lock()
	defer m.fetchMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, m.geometry.FetchTimeout)
	defer cancel()

	payload, err := m.source.Elements(ctx, m.catalogID)
	if err != nil {
		return false, &FetchError{CatalogID: m.catalogID, Err: err}
	}

	cur := m.elements.Load()
	if cur != nil && cur.payload.Equal(payload) {
		return false, nil
	}

	lines, err := tle.Normalize(payload)
	if err != nil {
		return false, &ParseError{CatalogID: m.catalogID, Err: err}
	}
	if id := lines.CatalogID(); id != m.catalogID {
		return false, &ParseError{CatalogID: m.catalogID, Err: fmt.Errorf("%w: source returned elements for %d", tle.ErrMalformed, id)}
	}

	prop, err := propagation.NewSGP4Propagator(lines)
	if err != nil {
		return false, &PropagationError{CatalogID: m.catalogID, Err: err}
	}
	// Elements SGP4 cannot even evaluate at their own epoch are rejected up front.
	if _, err := prop.Sample(prop.Epoch()); err != nil {
		return false, &PropagationError{CatalogID: m.catalogID, Err: err}
	}

	m.elements.Store(&elements{
		payload:   tle.Payload{Kind: payload.Kind, Body: append([]byte(nil), payload.Body...)},
		lines:     lines,
		prop:      prop,
		fetchedAt: m.now(),
	})
	m.logger.Debug("elements updated", "kind", payload.Kind.String(), "epoch", prop.Epoch().Format(time.RFC3339))
	return true, nil
}

// GenerateArtifacts samples n instants from now at the configured step and
// publishes a fresh set of artifacts. A non-positive n uses the configured
// sample count. Failed samples are dropped; with no successful sample the
// published artifacts are empty.
func (m *Model) GenerateArtifacts(n int) *Artifacts {
	if n <= 0 {
		n = m.geometry.Samples
	}
	start := time.Now()
	t0 := m.now()

	cur := m.elements.Load()
	if cur == nil {
		a := &Artifacts{GeneratedAt: t0}
		m.artifacts.Store(a)
		return a
	}

	samples, dropped, _ := propagation.SampleTrack(context.Background(), cur.prop, t0, n, m.geometry.Step)

	a := &Artifacts{GeneratedAt: t0, Dropped: dropped}
	if len(samples) > 0 {
		a.Points = make([]r3.Vec, len(samples))
		for i, s := range samples {
			a.Points[i] = m.scale.Point(s.Geodetic)
		}
		a.Track = scene.NewPolyline(fmt.Sprintf("orbit-%d", m.catalogID), a.Points)

		// The first sample is "now" when it succeeded; otherwise there is no
		// current position to mark.
		if samples[0].Time.Equal(t0) {
			a.Marker = scene.NewMarker(fmt.Sprintf("body-%d", m.catalogID), a.Points[0])
		}
	}

	if dropped > 0 {
		m.logger.Warn("samples dropped", "dropped", dropped, "requested", n)
	}
	m.artifacts.Store(a)
	metrics.ObserveArtifactGeneration(time.Since(start))
	return a
}

// Artifacts returns the most recently published artifacts. Never nil.
func (m *Model) Artifacts() *Artifacts {
	return m.artifacts.Load()
}

// CurrentState computes the live state at the model's clock.
func (m *Model) CurrentState() (State, error) {
	return m.StateAt(m.now())
}

// StateAt computes the state at t. It is a pure function of the cached
// elements and t.
func (m *Model) StateAt(t time.Time) (State, error) {
	cur := m.elements.Load()
	if cur == nil {
		return State{}, ErrUnavailable
	}
	s, err := cur.prop.Sample(t)
	if err != nil {
		return State{}, &PropagationError{CatalogID: m.catalogID, Err: err}
	}
	return StateFromSample(m.catalogID, s), nil
}

// Propagator returns the loaded SGP4 state, if any.
func (m *Model) Propagator() (*propagation.SGP4Propagator, bool) {
	cur := m.elements.Load()
	if cur == nil {
		return nil, false
	}
	return cur.prop, true
}

// Elements returns the cached raw payload and its normalised lines.
func (m *Model) Elements() (tle.Payload, tle.Lines, bool) {
	cur := m.elements.Load()
	if cur == nil {
		return tle.Payload{}, tle.Lines{}, false
	}
	return cur.payload, cur.lines, true
}

// Now returns the model's clock reading.
func (m *Model) Now() time.Time { return m.now() }
