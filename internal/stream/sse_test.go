package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/star/orbitrack/internal/tracker"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
}

type fixedSnapshot []tracker.Entry

func (s fixedSnapshot) Entries() []tracker.Entry { return s }

func testSnapshot() fixedSnapshot {
	return fixedSnapshot{
		{CatalogID: 25544, DisplayName: "ISS", Status: "active", Points: 100},
	}
}

func testConfig() Config {
	return Config{
		MaxConcurrentPerIP: 10,
		KeepaliveInterval:  30 * time.Second,
	}
}

// waitSubscribers polls until the hub has n subscribers.
func waitSubscribers(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Len() != n {
		if time.Now().After(deadline) {
			t.Fatalf("hub subscribers = %d, want %d", hub.Len(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type sseEvent struct {
	name string
	id   string
	data map[string]any
}

// parseEvents splits an SSE body into named events.
func parseEvents(t *testing.T, body string) []sseEvent {
	t.Helper()
	var (
		events []sseEvent
		cur    sseEvent
	)
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if cur.name != "" {
				events = append(events, cur)
			}
			cur = sseEvent{}
		case strings.HasPrefix(line, "event: "):
			cur.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "id: "):
			cur.id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "data: "):
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &cur.data); err != nil {
				t.Errorf("invalid JSON in SSE data line: %v", err)
			}
		case line == ":", strings.HasPrefix(line, "retry: "):
		default:
			t.Errorf("unexpected SSE line: %q", line)
		}
	}
	return events
}

// runStream serves one connection, calls during while it is subscribed, then
// disconnects the client and returns the recorded response.
func runStream(t *testing.T, h *Handler, hub *Hub, query string, during func()) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", "/api/v1/stream/changes"+query, nil)
	req.RemoteAddr = "127.0.0.1:12345"
	ctx, cancel := context.WithTimeout(req.Context(), 5*time.Second)
	defer cancel()
	req = req.WithContext(ctx)

	w := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.HandleChanges(w, req)
	}()

	waitSubscribers(t, hub, 1)
	during()
	// Give the handler time to drain its buffer before disconnecting.
	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done
	return w
}

// TestSSEMessageFormat verifies headers, the snapshot message and change events.
func TestSSEMessageFormat(t *testing.T) {
	hub := NewHub(8, testLogger())
	h := NewHandler(hub, testSnapshot(), testConfig(), testLogger())

	w := runStream(t, h, hub, "", func() {
		hub.TrackedSetChanged(tracker.ChangeEvent{
			PassID:  "pass-1",
			Kind:    tracker.EventReconcile,
			Added:   []int{25544},
			Tracked: 1,
		})
	})

	resp := w.Result()
	if resp.Header.Get("Content-Type") != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", resp.Header.Get("Content-Type"))
	}
	if resp.Header.Get("Cache-Control") != "no-cache" {
		t.Errorf("Cache-Control = %q, want no-cache", resp.Header.Get("Cache-Control"))
	}

	events := parseEvents(t, w.Body.String())
	if len(events) != 2 {
		t.Fatalf("got %d events, want snapshot + change: %+v", len(events), events)
	}

	snap := events[0]
	if snap.name != "snapshot" || snap.data["type"] != "snapshot" {
		t.Errorf("first event = %+v, want snapshot", snap)
	}
	tracked, ok := snap.data["tracked"].([]any)
	if !ok || len(tracked) != 1 {
		t.Fatalf("snapshot tracked = %v", snap.data["tracked"])
	}
	if id := tracked[0].(map[string]any)["catalog_id"].(float64); id != 25544 {
		t.Errorf("snapshot catalog_id = %v", id)
	}

	change := events[1]
	if change.name != "change" || change.id != "pass-1" {
		t.Errorf("change event = %+v", change)
	}
	if change.data["type"] != "change" || change.data["kind"] != "reconcile" {
		t.Errorf("change payload = %v", change.data)
	}
	if added := change.data["added"].([]any); len(added) != 1 || added[0].(float64) != 25544 {
		t.Errorf("added = %v", change.data["added"])
	}

	// The subscription is released on disconnect.
	if hub.Len() != 0 {
		t.Errorf("subscribers after disconnect = %d", hub.Len())
	}
}

// TestChangedOnlyFilter verifies no-op passes are skipped when requested.
func TestChangedOnlyFilter(t *testing.T) {
	hub := NewHub(8, testLogger())
	h := NewHandler(hub, nil, testConfig(), testLogger())

	w := runStream(t, h, hub, "?changed_only=true", func() {
		hub.TrackedSetChanged(tracker.ChangeEvent{PassID: "quiet", Kind: tracker.EventReconcile, Unchanged: []int{25544}})
		hub.TrackedSetChanged(tracker.ChangeEvent{PassID: "loud", Kind: tracker.EventSweep, Removed: []int{44713}})
	})

	events := parseEvents(t, w.Body.String())
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1: %+v", len(events), events)
	}
	if events[0].id != "loud" {
		t.Errorf("delivered %q, want loud", events[0].id)
	}
}

// TestHubDropsForSlowClient verifies a full buffer never blocks the publisher.
func TestHubDropsForSlowClient(t *testing.T) {
	hub := NewHub(2, testLogger())
	ch, unsubscribe := hub.subscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			hub.TrackedSetChanged(tracker.ChangeEvent{Kind: tracker.EventUpdate})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}
	if len(ch) != 2 {
		t.Errorf("buffered = %d, want 2", len(ch))
	}

	unsubscribe()
	unsubscribe()
	if hub.Len() != 0 {
		t.Errorf("subscribers = %d after unsubscribe", hub.Len())
	}
	// Publishing after unsubscribe must not panic on the closed channel.
	hub.TrackedSetChanged(tracker.ChangeEvent{})
}

// TestHubAsObserver verifies the hub receives events from a real tracker.
func TestHubAsObserver(t *testing.T) {
	hub := NewHub(4, testLogger())
	ch, unsubscribe := hub.subscribe()
	defer unsubscribe()

	var o tracker.Observer = hub
	o.TrackedSetChanged(tracker.ChangeEvent{PassID: "x", Kind: tracker.EventVisibility, Hidden: []int{1}})

	select {
	case ev := <-ch:
		if ev.PassID != "x" || !ev.Changed() {
			t.Errorf("event = %+v", ev)
		}
	default:
		t.Fatal("event not delivered")
	}
}

// TestRateLimiting verifies per-IP concurrent stream limits.
func TestRateLimiting(t *testing.T) {
	limiter := newStreamLimiter(3, 0)

	for i := 0; i < 3; i++ {
		if !limiter.acquire("10.0.0.1") {
			t.Fatalf("acquire %d should succeed", i+1)
		}
	}

	if limiter.acquire("10.0.0.1") {
		t.Error("acquire beyond limit should fail")
	}

	if !limiter.acquire("10.0.0.2") {
		t.Error("different IP should not be rate limited")
	}

	limiter.release("10.0.0.1")
	if !limiter.acquire("10.0.0.1") {
		t.Error("acquire after release should succeed")
	}

	if c := limiter.count("10.0.0.1"); c != 3 {
		t.Errorf("count = %d, want 3", c)
	}
	if c := limiter.count("10.0.0.2"); c != 1 {
		t.Errorf("count = %d, want 1", c)
	}

	// Releasing an unknown IP must not drive the totals negative.
	limiter.release("10.9.9.9")
	if c := limiter.totalCount(); c != 4 {
		t.Errorf("total = %d, want 4", c)
	}
}

// TestRateLimitingGlobalCap verifies the cap across all IPs.
func TestRateLimitingGlobalCap(t *testing.T) {
	limiter := newStreamLimiter(5, 2)
	if !limiter.acquire("a") || !limiter.acquire("b") {
		t.Fatal("first two acquires should succeed")
	}
	if limiter.acquire("c") {
		t.Error("acquire beyond global cap should fail")
	}
}

// TestRateLimitingConcurrent verifies rate limiter thread safety.
func TestRateLimitingConcurrent(t *testing.T) {
	limiter := newStreamLimiter(100, 0)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.acquire("10.0.0.1") {
				defer limiter.release("10.0.0.1")
				time.Sleep(10 * time.Millisecond)
			}
		}()
	}
	wg.Wait()

	if c := limiter.count("10.0.0.1"); c != 0 {
		t.Errorf("count after all released = %d, want 0", c)
	}
}

// TestRateLimitHTTPResponse verifies 429 response when limit exceeded.
func TestRateLimitHTTPResponse(t *testing.T) {
	hub := NewHub(0, testLogger())
	h := NewHandler(hub, nil, Config{
		MaxConcurrentPerIP: 1,
		KeepaliveInterval:  30 * time.Second,
	}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		req := httptest.NewRequest("GET", "/api/v1/stream/changes", nil).WithContext(ctx)
		req.RemoteAddr = "10.0.0.1:12345"
		h.HandleChanges(httptest.NewRecorder(), req)
	}()
	waitSubscribers(t, hub, 1)

	req := httptest.NewRequest("GET", "/api/v1/stream/changes", nil)
	req.RemoteAddr = "10.0.0.1:54321"
	w := httptest.NewRecorder()
	h.HandleChanges(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}

	cancel()
	<-done
}

// TestInvalidQueryParams verifies error responses for a bad changed_only value.
func TestInvalidQueryParams(t *testing.T) {
	h := NewHandler(NewHub(0, testLogger()), nil, testConfig(), testLogger())

	for _, q := range []string{"?changed_only=maybe", "?changed_only=2"} {
		t.Run(q, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/stream/changes"+q, nil)
			req.RemoteAddr = "127.0.0.1:12345"
			w := httptest.NewRecorder()
			h.HandleChanges(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	c := Config{}.WithDefaults()
	if c.MaxConcurrentPerIP != 10 || c.MaxTotal != 1000 || c.KeepaliveInterval != 30*time.Second {
		t.Errorf("defaults = %+v", c)
	}
}
