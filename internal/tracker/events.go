package tracker

import (
	"sync"
	"time"
)

// EventKind names the operation that produced a ChangeEvent.
type EventKind string

const (
	EventReconcile  EventKind = "reconcile"
	EventRefresh    EventKind = "refresh"
	EventAdd        EventKind = "add"
	EventUpdate     EventKind = "update"
	EventSweep      EventKind = "sweep"
	EventVisibility EventKind = "visibility"
)

// ChangeEvent describes what one tracker operation did to the tracked set.
type ChangeEvent struct {
	PassID    string         `json:"pass_id"`
	Kind      EventKind      `json:"kind"`
	At        time.Time      `json:"at"`
	Added     []int          `json:"added,omitempty"`
	Updated   []int          `json:"updated,omitempty"`
	Unchanged []int          `json:"unchanged,omitempty"`
	Removed   []int          `json:"removed,omitempty"`
	Shown     []int          `json:"shown,omitempty"`
	Hidden    []int          `json:"hidden,omitempty"`
	Failed    map[int]string `json:"failed,omitempty"`
	Tracked   int            `json:"tracked"`
	Duration  time.Duration  `json:"duration_ns"`
}

// Changed reports whether membership, artifacts or visibility changed.
func (e ChangeEvent) Changed() bool {
	return len(e.Added)+len(e.Updated)+len(e.Removed)+len(e.Shown)+len(e.Hidden) > 0
}

// Observer receives a ChangeEvent after every tracker operation. Calls are
// synchronous and happen after the tracker has released its locks.
type Observer interface {
	TrackedSetChanged(ChangeEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ChangeEvent)

// TrackedSetChanged calls f.
func (f ObserverFunc) TrackedSetChanged(e ChangeEvent) { f(e) }

type observers struct {
	mu   sync.Mutex
	next int
	subs map[int]Observer
}

func (o *observers) add(obs Observer) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.subs == nil {
		o.subs = make(map[int]Observer)
	}
	id := o.next
	o.next++
	o.subs[id] = obs

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.subs, id)
			o.mu.Unlock()
		})
	}
}

func (o *observers) notify(e ChangeEvent) {
	o.mu.Lock()
	ids := make([]int, 0, len(o.subs))
	for id := range o.subs {
		ids = append(ids, id)
	}
	subs := make([]Observer, 0, len(ids))
	sortInts(ids)
	for _, id := range ids {
		subs = append(subs, o.subs[id])
	}
	o.mu.Unlock()

	for _, s := range subs {
		s.TrackedSetChanged(e)
	}
}
