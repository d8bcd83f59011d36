package tracker

import (
	"context"
	"slices"
	"time"

	"github.com/star/orbitrack/internal/orbit"
	"github.com/star/orbitrack/internal/passes"
	"github.com/star/orbitrack/internal/propagation"
)

// Entry is a read-only view of one tracked body.
type Entry struct {
	CatalogID   int       `json:"catalog_id"`
	DisplayName string    `json:"display_name"`
	Status      string    `json:"status"`
	Hidden      bool      `json:"hidden"`
	Epoch       time.Time `json:"epoch"`
	Points      int       `json:"points"`
}

// Entries returns every tracked body ordered by catalog id.
func (t *Tracker) Entries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entries := make([]Entry, 0, t.bodies.Len())
	t.bodies.ForEach(func(id int, b *trackedBody) bool {
		e := Entry{
			CatalogID:   id,
			DisplayName: b.desired.DisplayName,
			Status:      b.desired.Status,
			Hidden:      b.hidden,
			Points:      len(b.model.Artifacts().Points),
		}
		if p, ok := b.model.Propagator(); ok {
			e.Epoch = p.Epoch()
		}
		entries = append(entries, e)
		return true
	})
	slices.SortFunc(entries, func(a, b Entry) int { return a.CatalogID - b.CatalogID })
	return entries
}

// CurrentState returns the live state of one tracked body.
func (t *Tracker) CurrentState(id int) (orbit.State, error) {
	t.mu.RLock()
	b, ok := t.bodies.Get(id)
	t.mu.RUnlock()
	if !ok {
		return orbit.State{}, ErrNotTracked
	}
	return b.model.CurrentState()
}

// States samples every tracked body at the tracker's clock on the worker
// pool. Bodies that fail to propagate are left out. The result is ordered
// by catalog id.
func (t *Tracker) States(ctx context.Context) ([]orbit.State, error) {
	t.mu.RLock()
	jobs := make([]propagation.Job, 0, t.bodies.Len())
	t.bodies.ForEach(func(id int, b *trackedBody) bool {
		if p, ok := b.model.Propagator(); ok {
			jobs = append(jobs, propagation.Job{ID: id, Prop: p})
		}
		return true
	})
	t.mu.RUnlock()

	results := t.pool.SampleBatch(ctx, jobs, t.now())
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	states := make([]orbit.State, 0, len(results))
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		states = append(states, orbit.StateFromSample(r.ID, r.Sample))
	}
	slices.SortFunc(states, func(a, b orbit.State) int { return a.CatalogID - b.CatalogID })
	return states, nil
}

// Passes predicts the passes of one tracked body over req.Observer. A zero
// req.Start means the tracker's clock.
func (t *Tracker) Passes(ctx context.Context, id int, req passes.Request) ([]passes.Pass, error) {
	t.mu.RLock()
	b, ok := t.bodies.Get(id)
	t.mu.RUnlock()
	if !ok {
		return nil, ErrNotTracked
	}
	p, ok := b.model.Propagator()
	if !ok {
		return nil, orbit.ErrUnavailable
	}
	if req.Start.IsZero() {
		req.Start = t.now()
	}
	return passes.Predict(ctx, p, req)
}

// AllPasses predicts passes for every visible tracked body, ordered by
// catalog id, on StateWorkers goroutines.
func (t *Tracker) AllPasses(ctx context.Context, req passes.Request) ([]passes.SatellitePasses, error) {
	t.mu.RLock()
	props := make([]*propagation.SGP4Propagator, 0, t.bodies.Len())
	t.bodies.ForEach(func(id int, b *trackedBody) bool {
		if b.hidden {
			return true
		}
		if p, ok := b.model.Propagator(); ok {
			props = append(props, p)
		}
		return true
	})
	t.mu.RUnlock()

	slices.SortFunc(props, func(a, b *propagation.SGP4Propagator) int { return a.CatalogID() - b.CatalogID() })
	if req.Start.IsZero() {
		req.Start = t.now()
	}
	return passes.PredictAll(ctx, props, req, t.cfg.StateWorkers)
}
