package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"gonum.org/v1/gonum/num/quat"

	"github.com/star/orbitrack/internal/frames"
	"github.com/star/orbitrack/internal/orbit"
	"github.com/star/orbitrack/internal/passes"
	"github.com/star/orbitrack/internal/tracker"
	"github.com/star/orbitrack/internal/transform"
)

const (
	// maxRequestBytes caps JSON request bodies.
	maxRequestBytes = 1 << 20

	// maxDesired caps the length of one desired list.
	maxDesired = 10000
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// pathID parses the {norad_id} wildcard.
func pathID(r *http.Request) (int, error) {
	raw := r.PathValue("norad_id")
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid norad_id %q", raw)
	}
	return id, nil
}

// statusFor maps orbit and tracker errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, tracker.ErrNotTracked):
		return http.StatusNotFound
	case errors.Is(err, passes.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, orbit.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, orbit.ErrFetch), errors.Is(err, orbit.ErrParse):
		return http.StatusBadGateway
	case errors.Is(err, orbit.ErrPropagation):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// GET /api/v1/tracked
func trackedListHandler(trk *tracker.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"count":      trk.Len(),
			"satellites": trk.Entries(),
		})
	}
}

// PUT /api/v1/tracked
// Body: [{"catalog_id":25544,"display_name":"ISS","status":"active"}, ...]
// Runs one reconciliation pass and returns its change event.
func reconcileHandler(logger *slog.Logger, trk *tracker.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)

		var desired []tracker.Desired
		if err := json.NewDecoder(r.Body).Decode(&desired); err != nil {
			writeError(w, http.StatusBadRequest, "invalid desired list: "+err.Error())
			return
		}
		if len(desired) > maxDesired {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":       "desired list too long",
				"max_desired": maxDesired,
			})
			return
		}

		ev, err := trk.Reconcile(r.Context(), desired)
		if err != nil {
			logger.Warn("reconcile request interrupted", "pass_id", ev.PassID, "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"error": "reconcile interrupted before sweep",
				"event": ev,
			})
			return
		}
		writeJSON(w, http.StatusOK, ev)
	}
}

// GET /api/v1/states
func statesHandler(logger *slog.Logger, trk *tracker.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		states, err := trk.States(r.Context())
		if err != nil {
			logger.Debug("states request cancelled", "error", err)
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"count":  len(states),
			"states": states,
		})
	}
}

// GET /api/v1/satellites/{norad_id}/state
func stateHandler(logger *slog.Logger, trk *tracker.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		st, err := trk.CurrentState(id)
		if err != nil {
			status := statusFor(err)
			if status >= http.StatusInternalServerError {
				logger.Warn("state query failed", "norad_id", id, "error", err)
			}
			writeError(w, status, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

type visibilityResponse struct {
	CatalogID int  `json:"norad_id"`
	Hidden    bool `json:"hidden"`
}

// GET /api/v1/satellites/{norad_id}/hidden
func hiddenHandler(trk *tracker.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if !trk.HasTracked(id) {
			writeError(w, http.StatusNotFound, tracker.ErrNotTracked.Error())
			return
		}
		writeJSON(w, http.StatusOK, visibilityResponse{CatalogID: id, Hidden: trk.IsHidden(id)})
	}
}

// POST /api/v1/satellites/{norad_id}/hide and .../show
func visibilityHandler(trk *tracker.Tracker, hide bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		var ok bool
		if hide {
			ok = trk.Hide(id)
		} else {
			ok = trk.Show(id)
		}
		if !ok {
			writeError(w, http.StatusNotFound, tracker.ErrNotTracked.Error())
			return
		}
		writeJSON(w, http.StatusOK, visibilityResponse{CatalogID: id, Hidden: hide})
	}
}

// POST /api/v1/satellites/{norad_id}/refresh
// Refetches one tracked body; artifacts are rebuilt only if its elements changed.
func refreshHandler(logger *slog.Logger, trk *tracker.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		changed, err := trk.Update(r.Context(), id)
		if err != nil {
			status := statusFor(err)
			if status != http.StatusNotFound {
				logger.Warn("refresh failed", "norad_id", id, "outcome", orbit.Outcome(err), "error", err)
			}
			writeJSON(w, status, map[string]any{
				"error":   err.Error(),
				"outcome": orbit.Outcome(err),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"norad_id": id,
			"changed":  changed,
		})
	}
}

// passRequest reads the observer and window from the query string:
// lat and lon (required, degrees), alt_km, hours, min_elevation and max.
func passRequest(r *http.Request) (passes.Request, error) {
	q := r.URL.Query()
	num := func(name string, required bool) (float64, error) {
		raw := q.Get(name)
		if raw == "" {
			if required {
				return 0, fmt.Errorf("missing %s", name)
			}
			return 0, nil
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid %s %q", name, raw)
		}
		return v, nil
	}

	var vals [6]float64
	for i, f := range []struct {
		name     string
		required bool
	}{{"lat", true}, {"lon", true}, {"alt_km", false}, {"hours", false}, {"min_elevation", false}, {"max", false}} {
		v, err := num(f.name, f.required)
		if err != nil {
			return passes.Request{}, err
		}
		vals[i] = v
	}

	return passes.Request{
		Observer:     transform.NewObserver(vals[0], vals[1], vals[2]),
		Horizon:      time.Duration(vals[3] * float64(time.Hour)),
		MinElevation: vals[4],
		MaxPasses:    int(vals[5]),
	}, nil
}

// GET /api/v1/satellites/{norad_id}/passes
func passesHandler(logger *slog.Logger, trk *tracker.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		req, err := passRequest(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		got, err := trk.Passes(r.Context(), id, req)
		if err != nil {
			status := statusFor(err)
			if status >= http.StatusInternalServerError {
				logger.Warn("pass prediction failed", "norad_id", id, "error", err)
			}
			writeError(w, status, err.Error())
			return
		}
		if got == nil {
			got = []passes.Pass{}
		}
		writeJSON(w, http.StatusOK, passes.SatellitePasses{CatalogID: id, Passes: got})
	}
}

// GET /api/v1/passes
func allPassesHandler(logger *slog.Logger, trk *tracker.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := passRequest(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		results, err := trk.AllPasses(r.Context(), req)
		if err != nil {
			status := statusFor(err)
			if r.Context().Err() != nil {
				status = http.StatusServiceUnavailable
			}
			if status >= http.StatusInternalServerError {
				logger.Warn("pass prediction failed", "error", err)
			}
			writeError(w, status, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"count":      len(results),
			"satellites": results,
		})
	}
}

type quaternion struct {
	W float64 `json:"w"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type frameView struct {
	Name        string                `json:"name"`
	Orientation quaternion            `json:"orientation"`
	Axes        map[string][3]float64 `json:"axes"`
}

func viewFrame(h *frames.Hierarchy, f frames.Frame) (frameView, error) {
	node, err := h.Frame(f)
	if err != nil {
		return frameView{}, err
	}
	q := quat.Number(node.Orientation())
	v := frameView{
		Name:        f.String(),
		Orientation: quaternion{W: q.Real, X: q.Imag, Y: q.Jmag, Z: q.Kmag},
		Axes:        make(map[string][3]float64, 3),
	}
	for _, a := range []frames.Axis{frames.AxisX, frames.AxisY, frames.AxisZ} {
		d, err := h.AxisDirection(f, a)
		if err != nil {
			return frameView{}, err
		}
		v.Axes[a.String()] = [3]float64{d.X, d.Y, d.Z}
	}
	return v, nil
}

// GET /api/v1/frames
func framesHandler(orch *frames.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := orch.Hierarchy()
		views := make([]frameView, 0, len(frames.All))
		for _, f := range frames.All {
			v, err := viewFrame(h, f)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			views = append(views, v)
		}
		writeJSON(w, http.StatusOK, map[string]any{"frames": views})
	}
}

type rotateRequest struct {
	Frame string  `json:"frame"`
	Axis  string  `json:"axis"`
	Angle float64 `json:"angle"` // radians
}

// POST /api/v1/frames/rotate
// Body: {"frame":"ECEF","axis":"z","angle":0.01}
func rotateHandler(logger *slog.Logger, orch *frames.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)

		var req rotateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid rotate request: "+err.Error())
			return
		}
		f, err := frames.ParseFrame(req.Frame)
		if err != nil {
			logger.Warn("rotate request for unknown frame", "frame", req.Frame)
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		axis, err := frames.ParseAxis(req.Axis)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		orch.RotateNamedFrame(f, req.Angle, axis)

		v, err := viewFrame(orch.Hierarchy(), f)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}
