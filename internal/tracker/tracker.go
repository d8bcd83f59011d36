// Package tracker reconciles a caller-supplied desired set of bodies against
// the set currently tracked, driving each body's orbit model and scene
// visibility.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kamstrup/intmap"
	"golang.org/x/sync/errgroup"

	"github.com/star/orbitrack/internal/metrics"
	"github.com/star/orbitrack/internal/orbit"
	"github.com/star/orbitrack/internal/propagation"
	"github.com/star/orbitrack/internal/scene"
	"github.com/star/orbitrack/internal/tle"
)

// ErrNotTracked is returned for operations on an id that is not tracked.
var ErrNotTracked = errors.New("body not tracked")

// ErrInvalidID is reported for non-positive catalog ids.
var ErrInvalidID = errors.New("invalid catalog id")

const defaultFetchConcurrency = 8

// Desired is one entry of the caller's desired list.
type Desired struct {
	CatalogID   int    `json:"catalog_id"`
	DisplayName string `json:"display_name"`
	Status      string `json:"status"`
}

// Config holds tracker tunables.
type Config struct {
	Geometry orbit.Geometry

	// SweepDelay debounces the sweep at the end of a reconcile. The delay
	// is waited out while the pass still holds the tracker, so overlapping
	// reconciles queue behind it instead of racing its marks.
	SweepDelay time.Duration

	FetchConcurrency int
	StateWorkers     int

	// RetainOnFailure keeps a tracked body whose update failed, in its last
	// good configuration, instead of letting the sweep remove it.
	RetainOnFailure bool

	// KeepHiddenOnUpdate leaves a hidden body hidden when an update
	// regenerates its artifacts. By default changed bodies are re-shown.
	KeepHiddenOnUpdate bool
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock replaces time.Now for the tracker and every model it creates.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

type trackedBody struct {
	desired Desired
	model   *orbit.Model
	checked bool
	hidden  bool
	nodes   []*scene.Node
}

// Tracker owns the tracked-body arena. Reconcile, Add, Update, ResetMarks
// and Sweep are serialised by a pass lock; queries and Show/Hide only take
// the arena lock.
type Tracker struct {
	source tle.Source
	parent *scene.Node
	cfg    Config
	logger *slog.Logger
	pool   *propagation.WorkerPool
	now    func() time.Time

	passMu sync.Mutex

	mu     sync.RWMutex
	bodies *intmap.Map[int, *trackedBody]

	observers observers
}

// New creates a Tracker that fetches from source and attaches artifacts
// under parent. parent may be nil when no scene is attached.
func New(source tle.Source, parent *scene.Node, cfg Config, logger *slog.Logger, opts ...Option) *Tracker {
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = defaultFetchConcurrency
	}
	cfg.Geometry = cfg.Geometry.WithDefaults()

	t := &Tracker{
		source: source,
		parent: parent,
		cfg:    cfg,
		logger: logger.With("component", "tracker"),
		pool:   propagation.NewWorkerPool(cfg.StateWorkers, logger),
		now:    time.Now,
		bodies: intmap.New[int, *trackedBody](64),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Subscribe registers o for change events and returns a function that
// unregisters it.
func (t *Tracker) Subscribe(o Observer) func() {
	return t.observers.add(o)
}

func (t *Tracker) newEvent(kind EventKind) ChangeEvent {
	return ChangeEvent{
		PassID: uuid.NewString(),
		Kind:   kind,
		At:     t.now(),
		Failed: map[int]string{},
	}
}

func (t *Tracker) newModel(id int) *orbit.Model {
	return orbit.New(id, t.source, t.cfg.Geometry, t.logger, orbit.WithClock(t.now))
}

// fetchResult is the outcome of the fetch phase for one desired entry.
type fetchResult struct {
	desired Desired
	model   *orbit.Model // new model for an add; nil for an update
	changed bool
	err     error
}

// fetch runs the suspending part of add/update without touching the arena.
func (t *Tracker) fetch(ctx context.Context, d Desired) fetchResult {
	r := fetchResult{desired: d}
	if d.CatalogID <= 0 {
		r.err = fmt.Errorf("%w: %d", ErrInvalidID, d.CatalogID)
		return r
	}

	t.mu.RLock()
	body, tracked := t.bodies.Get(d.CatalogID)
	t.mu.RUnlock()

	if tracked {
		r.changed, r.err = body.model.FetchElements(ctx)
		if r.err == nil && r.changed {
			body.model.GenerateArtifacts(0)
		}
		return r
	}

	m := t.newModel(d.CatalogID)
	if _, err := m.FetchElements(ctx); err != nil {
		r.err = err
		return r
	}
	m.GenerateArtifacts(0)
	r.model = m
	r.changed = true
	return r
}

// apply commits one fetch result to the arena. Callers hold passMu.
func (t *Tracker) apply(r fetchResult, ev *ChangeEvent) {
	id := r.desired.CatalogID

	if r.err != nil {
		outcome := orbit.Outcome(r.err)
		metrics.IncElementFetch(outcome)
		ev.Failed[id] = r.err.Error()
		t.logger.Warn("body step failed", "norad_id", id, "outcome", outcome, "error", r.err)

		if t.cfg.RetainOnFailure && r.model == nil {
			t.mu.Lock()
			if body, ok := t.bodies.Get(id); ok {
				body.checked = true
			}
			t.mu.Unlock()
		}
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if r.model != nil {
		body := &trackedBody{desired: r.desired, model: r.model, checked: true}
		t.bodies.Put(id, body)
		t.showLocked(body)
		metrics.IncElementFetch("changed")
		ev.Added = append(ev.Added, id)
		t.logger.Info("body added", "norad_id", id, "name", r.desired.DisplayName)
		return
	}

	body, ok := t.bodies.Get(id)
	if !ok {
		return
	}
	body.checked = true
	body.desired = r.desired
	if !r.changed {
		metrics.IncElementFetch("unchanged")
		ev.Unchanged = append(ev.Unchanged, id)
		return
	}
	if t.cfg.KeepHiddenOnUpdate {
		t.attachLocked(body)
	} else {
		t.showLocked(body)
	}
	metrics.IncElementFetch("changed")
	ev.Updated = append(ev.Updated, id)
	t.logger.Info("body updated", "norad_id", id)
}

// Reconcile makes the tracked set converge on desired: marks are reset,
// every entry is added or updated, and entries left unmarked are swept.
// Per-body failures are reported in the event and never abort the pass.
// If ctx ends before the sweep, the sweep is skipped and ctx's error is
// returned along with the partial event.
func (t *Tracker) Reconcile(ctx context.Context, desired []Desired) (ChangeEvent, error) {
	t.passMu.Lock()
	ev, err := t.reconcile(ctx, EventReconcile, desired)
	t.passMu.Unlock()

	t.observers.notify(ev)
	return ev, err
}

// Refresh reconciles the tracked set against itself. Every body is
// refetched; only bodies whose update fails can be swept, unless
// RetainOnFailure is set. The desired list is taken under the pass lock so
// a concurrent Reconcile cannot be undone by a stale snapshot.
func (t *Tracker) Refresh(ctx context.Context) (ChangeEvent, error) {
	t.passMu.Lock()
	t.mu.RLock()
	desired := make([]Desired, 0, t.bodies.Len())
	t.bodies.ForEach(func(_ int, b *trackedBody) bool {
		desired = append(desired, b.desired)
		return true
	})
	t.mu.RUnlock()
	slices.SortFunc(desired, func(a, b Desired) int { return a.CatalogID - b.CatalogID })

	ev, err := t.reconcile(ctx, EventRefresh, desired)
	t.passMu.Unlock()

	t.observers.notify(ev)
	return ev, err
}

// reconcile runs one pass. The caller holds passMu.
func (t *Tracker) reconcile(ctx context.Context, kind EventKind, desired []Desired) (ChangeEvent, error) {
	start := time.Now()
	ev := t.newEvent(kind)
	desired = dedupe(desired)

	t.resetMarks()

	results := make([]fetchResult, len(desired))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.cfg.FetchConcurrency)
	for i, d := range desired {
		g.Go(func() error {
			results[i] = t.fetch(gctx, d)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		t.apply(r, &ev)
	}

	if err := t.waitSweep(ctx); err != nil {
		t.logger.Warn("reconcile interrupted, sweep skipped", "pass_id", ev.PassID, "error", err)
		t.finish(&ev, start)
		return ev, err
	}

	ev.Removed = t.sweep()
	t.finish(&ev, start)
	metrics.RecordReconcile(ev.Duration)

	t.logger.Info("reconcile complete",
		"pass_id", ev.PassID,
		"kind", string(kind),
		"desired", len(desired),
		"added", len(ev.Added),
		"updated", len(ev.Updated),
		"unchanged", len(ev.Unchanged),
		"removed", len(ev.Removed),
		"failed", len(ev.Failed),
		"tracked", ev.Tracked,
		"duration_ms", ev.Duration.Milliseconds(),
	)
	return ev, nil
}

func (t *Tracker) waitSweep(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.cfg.SweepDelay <= 0 {
		return nil
	}
	timer := time.NewTimer(t.cfg.SweepDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Tracker) finish(ev *ChangeEvent, start time.Time) {
	ev.Duration = time.Since(start)
	t.mu.RLock()
	ev.Tracked = t.bodies.Len()
	hidden := t.hiddenCountLocked()
	t.mu.RUnlock()
	metrics.SetTracked(ev.Tracked, hidden)
}

// Add tracks d. If d is already tracked it is updated instead.
func (t *Tracker) Add(ctx context.Context, d Desired) error {
	ev, err := t.single(ctx, EventAdd, func() (Desired, error) { return d, nil })
	t.observers.notify(ev)
	return err
}

// Update refetches a tracked body and regenerates its artifacts only when
// its elements changed. It reports whether they did.
func (t *Tracker) Update(ctx context.Context, id int) (bool, error) {
	ev, err := t.single(ctx, EventUpdate, func() (Desired, error) {
		t.mu.RLock()
		defer t.mu.RUnlock()
		body, ok := t.bodies.Get(id)
		if !ok {
			return Desired{}, ErrNotTracked
		}
		return body.desired, nil
	})
	if errors.Is(err, ErrNotTracked) {
		return false, err
	}
	t.observers.notify(ev)
	return len(ev.Updated) > 0, err
}

// single runs one add or update under the pass lock. resolve picks the
// entry once the lock is held.
func (t *Tracker) single(ctx context.Context, kind EventKind, resolve func() (Desired, error)) (ChangeEvent, error) {
	t.passMu.Lock()
	defer t.passMu.Unlock()

	start := time.Now()
	ev := t.newEvent(kind)
	d, err := resolve()
	if err != nil {
		return ev, err
	}
	r := t.fetch(ctx, d)
	t.apply(r, &ev)
	t.finish(&ev, start)
	return ev, r.err
}

// ResetMarks clears every body's reconciliation mark.
func (t *Tracker) ResetMarks() {
	t.passMu.Lock()
	defer t.passMu.Unlock()
	t.resetMarks()
}

func (t *Tracker) resetMarks() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bodies.ForEach(func(_ int, b *trackedBody) bool {
		b.checked = false
		return true
	})
}

// Sweep hides and removes every body whose mark is clear, returning the
// removed ids in ascending order.
func (t *Tracker) Sweep() []int {
	t.passMu.Lock()
	start := time.Now()
	ev := t.newEvent(EventSweep)
	ev.Removed = t.sweep()
	t.finish(&ev, start)
	t.passMu.Unlock()

	t.observers.notify(ev)
	return ev.Removed
}

func (t *Tracker) sweep() []int {
	t.mu.Lock()
	defer t.mu.Unlock()

	var removed []int
	t.bodies.ForEach(func(id int, b *trackedBody) bool {
		if !b.checked {
			removed = append(removed, id)
		}
		return true
	})
	sortInts(removed)

	for _, id := range removed {
		b, _ := t.bodies.Get(id)
		t.hideLocked(b)
		t.detachLocked(b)
		t.bodies.Del(id)
		t.logger.Info("body removed", "norad_id", id)
	}
	metrics.AddSwept(len(removed))
	return removed
}

// Show makes a tracked body's artifacts visible. It is idempotent and
// reports whether id is tracked.
func (t *Tracker) Show(id int) bool {
	return t.setHidden(id, false)
}

// Hide makes a tracked body's artifacts invisible without untracking it.
func (t *Tracker) Hide(id int) bool {
	return t.setHidden(id, true)
}

func (t *Tracker) setHidden(id int, hidden bool) bool {
	t.mu.Lock()
	body, ok := t.bodies.Get(id)
	if !ok {
		t.mu.Unlock()
		return false
	}
	was := body.hidden
	if hidden {
		t.hideLocked(body)
	} else {
		t.showLocked(body)
	}
	n := t.bodies.Len()
	h := t.hiddenCountLocked()
	t.mu.Unlock()

	if was == hidden {
		return true
	}
	metrics.SetTracked(n, h)

	ev := t.newEvent(EventVisibility)
	ev.Tracked = n
	if hidden {
		ev.Hidden = []int{id}
	} else {
		ev.Shown = []int{id}
	}
	t.observers.notify(ev)
	return true
}

func (t *Tracker) showLocked(b *trackedBody) {
	b.hidden = false
	t.attachLocked(b)
	for _, n := range b.nodes {
		n.SetVisible(true)
	}
}

func (t *Tracker) hideLocked(b *trackedBody) {
	b.hidden = true
	for _, n := range b.nodes {
		n.SetVisible(false)
	}
}

// attachLocked puts the model's current artifacts under the scene parent.
func (t *Tracker) attachLocked(b *trackedBody) {
	current := b.model.Artifacts().Nodes()
	if slices.Equal(current, b.nodes) {
		return
	}
	t.detachLocked(b)
	b.nodes = current
	for _, n := range b.nodes {
		n.SetVisible(!b.hidden)
		if t.parent != nil {
			t.parent.Attach(n)
		}
	}
}

func (t *Tracker) detachLocked(b *trackedBody) {
	if t.parent != nil {
		for _, n := range b.nodes {
			t.parent.Detach(n)
		}
	}
	b.nodes = nil
}

func (t *Tracker) hiddenCountLocked() int {
	n := 0
	t.bodies.ForEach(func(_ int, b *trackedBody) bool {
		if b.hidden {
			n++
		}
		return true
	})
	return n
}

// HasTracked reports whether id is in the tracked set.
func (t *Tracker) HasTracked(id int) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.bodies.Get(id)
	return ok
}

// IsHidden reports whether id is tracked and hidden.
func (t *Tracker) IsHidden(id int) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b, ok := t.bodies.Get(id)
	return ok && b.hidden
}

// Len returns the number of tracked bodies.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.bodies.Len()
}

func dedupe(desired []Desired) []Desired {
	seen := make(map[int]bool, len(desired))
	out := make([]Desired, 0, len(desired))
	for _, d := range desired {
		if seen[d.CatalogID] {
			continue
		}
		seen[d.CatalogID] = true
		out = append(out, d)
	}
	return out
}

func sortInts(s []int) { slices.Sort(s) }
