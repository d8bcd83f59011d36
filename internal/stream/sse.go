// Package stream implements Server-Sent Events (SSE) streaming of tracked-set
// changes. Clients connect via GET /api/v1/stream/changes and receive one
// event per tracker operation (reconcile, add, update, sweep, visibility).
//
// SSE message format:
//
//	event: change
//	id: 6f1c...
//	data: {"type":"change","pass_id":"6f1c...","kind":"reconcile","added":[25544],...}
//
// The first message on every connection is a snapshot of the tracked set:
//
//	event: snapshot
//	data: {"type":"snapshot","at":"...","tracked":[{"catalog_id":25544,...}]}
//
// Keep-alive comments (:\n\n) are sent every KeepaliveInterval of silence.
package stream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/star/orbitrack/internal/httputil"
	"github.com/star/orbitrack/internal/metrics"
	"github.com/star/orbitrack/internal/tracker"
)

// Config holds streaming configuration.
type Config struct {
	MaxConcurrentPerIP int           // Max concurrent streams per IP (default: 10).
	MaxTotal           int           // Global cap on concurrent streams (default: 1000).
	KeepaliveInterval  time.Duration // Keep-alive ping interval (default: 30s).
	TrustProxy         bool          // Take the client IP from proxy headers.
}

// WithDefaults fills zero fields.
func (c Config) WithDefaults() Config {
	if c.MaxConcurrentPerIP <= 0 {
		c.MaxConcurrentPerIP = 10
	}
	if c.MaxTotal <= 0 {
		c.MaxTotal = defaultMaxTotal
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = 30 * time.Second
	}
	return c
}

// Snapshotter provides the tracked set sent to a client when it connects.
type Snapshotter interface {
	Entries() []tracker.Entry
}

// Handler manages SSE streaming connections.
type Handler struct {
	hub      *Hub
	snapshot Snapshotter
	config   Config
	limiter  *streamLimiter
	logger   *slog.Logger
}

// NewHandler creates a streaming handler reading events from hub. snapshot
// may be nil, in which case no snapshot message is sent.
func NewHandler(hub *Hub, snapshot Snapshotter, config Config, logger *slog.Logger) *Handler {
	config = config.WithDefaults()
	return &Handler{
		hub:      hub,
		snapshot: snapshot,
		config:   config,
		limiter:  newStreamLimiter(config.MaxConcurrentPerIP, config.MaxTotal),
		logger:   logger,
	}
}

// HandleChanges serves the SSE change stream.
// GET /api/v1/stream/changes?changed_only=true
func (h *Handler) HandleChanges(w http.ResponseWriter, r *http.Request) {
	changedOnly := false
	if v := r.URL.Query().Get("changed_only"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid changed_only parameter, must be a boolean")
			return
		}
		changedOnly = b
	}

	// Rate limiting: enforce concurrent stream limit per IP.
	ip := httputil.ClientIP(r, h.config.TrustProxy)
	if !h.limiter.acquire(ip) {
		metrics.IncStreamErrors("rate_limit")
		h.logger.Warn("stream rate limit exceeded",
			"remote_ip", ip,
			"current_count", h.limiter.count(ip),
		)
		w.Header().Set("Retry-After", "30")
		writeError(w, http.StatusTooManyRequests, "too many concurrent streams")
		return
	}

	metrics.IncStreamConnections("connect")
	metrics.IncStreamsActive()

	startTime := time.Now()
	h.logger.Info("stream connected",
		"remote_ip", ip,
		"user_agent", r.Header.Get("User-Agent"),
		"changed_only", changedOnly,
	)

	defer func() {
		h.limiter.release(ip)
		metrics.IncStreamConnections("disconnect")
		metrics.DecStreamsActive()
		h.logger.Info("stream disconnected",
			"remote_ip", ip,
			"duration_seconds", int(time.Since(startTime).Seconds()),
		)
	}()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Subscribe before the snapshot so no event between the two is lost.
	events, unsubscribe := h.hub.subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering.
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Clear the server's default WriteTimeout for this connection.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("could not clear write deadline", "error", err)
	}

	c := &client{
		w:       w,
		flusher: flusher,
		rc:      rc,
		ip:      ip,
		logger:  h.logger,
	}

	// Jittered retry interval (3-7s) spreads reconnects after a restart.
	fmt.Fprintf(w, "retry: %d\n\n", 3000+rand.Intn(4000))
	flusher.Flush()

	if h.snapshot != nil {
		snap := snapshotMessage{
			Type:    "snapshot",
			At:      time.Now().UTC(),
			Tracked: h.snapshot.Entries(),
		}
		if err := c.sendEvent("snapshot", "", snap); err != nil {
			metrics.IncStreamErrors("send_error")
			h.logger.Warn("stream send error (snapshot)", "remote_ip", ip, "error", err)
			return
		}
	}

	keepalive := time.NewTicker(h.config.KeepaliveInterval)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				return
			}
			if changedOnly && !ev.Changed() {
				continue
			}
			if err := c.sendEvent("change", ev.PassID, changeMessage{Type: "change", ChangeEvent: ev}); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream send error", "remote_ip", ip, "error", err)
				return
			}
			keepalive.Reset(h.config.KeepaliveInterval)

		case <-keepalive.C:
			if err := c.sendKeepalive(); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream keepalive error", "remote_ip", ip, "error", err)
				return
			}
		}
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

type snapshotMessage struct {
	Type    string          `json:"type"`
	At      time.Time       `json:"at"`
	Tracked []tracker.Entry `json:"tracked"`
}

type changeMessage struct {
	Type string `json:"type"`
	tracker.ChangeEvent
}
