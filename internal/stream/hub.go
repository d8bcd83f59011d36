package stream

import (
	"log/slog"
	"sync"

	"github.com/star/orbitrack/internal/metrics"
	"github.com/star/orbitrack/internal/tracker"
)

const defaultBuffer = 16

// Hub fans tracker change events out to connected stream clients. Register
// it with Tracker.Subscribe. Delivery never blocks the tracker: a client
// whose buffer is full loses the event and the drop is counted.
type Hub struct {
	mu     sync.Mutex
	subs   map[chan tracker.ChangeEvent]struct{}
	buffer int
	logger *slog.Logger
}

// NewHub creates a Hub giving each subscriber a buffer of the given size.
func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{
		subs:   make(map[chan tracker.ChangeEvent]struct{}),
		buffer: buffer,
		logger: logger,
	}
}

// TrackedSetChanged implements tracker.Observer.
func (h *Hub) TrackedSetChanged(e tracker.ChangeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs {
		select {
		case ch <- e:
		default:
			metrics.IncStreamErrors("slow_client")
			h.logger.Debug("stream client lagging, change event dropped",
				"pass_id", e.PassID,
				"kind", string(e.Kind),
			)
		}
	}
}

// subscribe registers a new client channel. The returned func unregisters it
// and closes the channel.
func (h *Hub) subscribe() (<-chan tracker.ChangeEvent, func()) {
	ch := make(chan tracker.ChangeEvent, h.buffer)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			close(ch)
			h.mu.Unlock()
		})
	}
}

// Len returns the number of connected subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
