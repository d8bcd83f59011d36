// Package passes predicts when tracked bodies rise above an observer's
// horizon, scanning SGP4 output coarsely and refining each window at one
// second resolution.
package passes

import (
	"context"
	"errors"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/star/orbitrack/internal/propagation"
	"github.com/star/orbitrack/internal/transform"
)

// GroundTrackPoint is a sub-satellite position sampled during a pass.
type GroundTrackPoint struct {
	Time       time.Time `json:"time"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	AltitudeKm float64   `json:"altitude_km"`
	Elevation  float64   `json:"elevation"` // degrees above the observer's horizon
}

// Pass is one interval during which a body stays above the minimum elevation.
type Pass struct {
	StartTime        time.Time          `json:"start_time"`
	MaxElevationTime time.Time          `json:"max_elevation_time"`
	EndTime          time.Time          `json:"end_time"`
	DurationSeconds  float64            `json:"duration_seconds"`
	MaxElevation     float64            `json:"max_elevation"`
	AzimuthAtMax     float64            `json:"azimuth_at_max"`
	StartAzimuth     float64            `json:"start_azimuth"`
	EndAzimuth       float64            `json:"end_azimuth"`
	GroundTrack      []GroundTrackPoint `json:"ground_track"`
}

// SatellitePasses holds the predicted passes of one body.
type SatellitePasses struct {
	CatalogID int    `json:"norad_id"`
	Passes    []Pass `json:"passes"`
	Error     string `json:"error,omitempty"`
}

// Request describes a prediction window.
type Request struct {
	Observer     transform.Observer
	Start        time.Time
	Horizon      time.Duration // default: 24h
	MinElevation float64       // degrees
	MaxPasses    int           // per body, default: 10
}

// Defaults and limits for Request.
const (
	DefaultHorizon   = 24 * time.Hour
	MaxHorizon       = 7 * 24 * time.Hour
	DefaultMaxPasses = 10
)

const (
	coarseStep      = 30 * time.Second
	fineStep        = time.Second
	groundTrackStep = 10 * time.Second
	minPassDuration = 10 * time.Second
)

// ErrInvalidRequest reports an unusable prediction window.
var ErrInvalidRequest = errors.New("invalid pass request")

// WithDefaults fills zero fields.
func (r Request) WithDefaults() Request {
	if r.Horizon <= 0 {
		r.Horizon = DefaultHorizon
	}
	if r.MaxPasses <= 0 {
		r.MaxPasses = DefaultMaxPasses
	}
	return r
}

// Validate checks the bounds of a defaulted request.
func (r Request) Validate() error {
	switch {
	case r.Observer.LatDeg < -90 || r.Observer.LatDeg > 90:
		return errors.Join(ErrInvalidRequest, errors.New("latitude must be within [-90, 90]"))
	case r.Observer.LonDeg < -180 || r.Observer.LonDeg > 180:
		return errors.Join(ErrInvalidRequest, errors.New("longitude must be within [-180, 180]"))
	case r.MinElevation < 0 || r.MinElevation >= 90:
		return errors.Join(ErrInvalidRequest, errors.New("min elevation must be within [0, 90)"))
	case r.Horizon > MaxHorizon:
		return errors.Join(ErrInvalidRequest, errors.New("horizon exceeds 7 days"))
	case r.Start.IsZero():
		return errors.Join(ErrInvalidRequest, errors.New("start time is required"))
	}
	return nil
}

// Predict finds up to req.MaxPasses passes of p over the observer within
// [req.Start, req.Start+req.Horizon). It returns the passes found so far
// together with ctx's error when cancelled.
func Predict(ctx context.Context, p *propagation.SGP4Propagator, req Request) ([]Pass, error) {
	req = req.WithDefaults()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	end := req.Start.Add(req.Horizon)
	var passes []Pass

	for t := req.Start; t.Before(end) && len(passes) < req.MaxPasses; {
		if err := ctx.Err(); err != nil {
			return passes, err
		}

		la, _, err := look(p, req.Observer, t)
		if err != nil || la.ElevationDeg < req.MinElevation {
			t = t.Add(coarseStep)
			continue
		}

		// The rise lies after the previous coarse sample, unless the window
		// opens with the body already up.
		from := t
		if t.After(req.Start) {
			from = t.Add(-coarseStep)
		}
		pass, setAt, ok := refine(ctx, p, req.Observer, from, end, req.MinElevation)
		if ok && pass.EndTime.Sub(pass.StartTime) >= minPassDuration {
			passes = append(passes, pass)
		}
		t = setAt.Add(coarseStep)
	}

	return passes, nil
}

// refine scans at fineStep from from until the body sets or end is reached.
func refine(ctx context.Context, p *propagation.SGP4Propagator, obs transform.Observer, from, end time.Time, minElev float64) (Pass, time.Time, bool) {
	var (
		pass      Pass
		rose      bool
		lastTrack time.Time
	)

	t := from
	for ; t.Before(end); t = t.Add(fineStep) {
		if ctx.Err() != nil {
			break
		}
		la, s, err := look(p, obs, t)
		if err != nil {
			continue
		}
		above := la.ElevationDeg >= minElev

		if !rose {
			if !above {
				continue
			}
			rose = true
			pass.StartTime = t
			pass.StartAzimuth = la.AzimuthDeg
			pass.MaxElevation = la.ElevationDeg
			pass.MaxElevationTime = t
			pass.AzimuthAtMax = la.AzimuthDeg
		}

		if !above {
			pass.EndTime = t
			pass.EndAzimuth = la.AzimuthDeg
			break
		}

		if la.ElevationDeg > pass.MaxElevation {
			pass.MaxElevation = la.ElevationDeg
			pass.MaxElevationTime = t
			pass.AzimuthAtMax = la.AzimuthDeg
		}
		if lastTrack.IsZero() || t.Sub(lastTrack) >= groundTrackStep {
			lastTrack = t
			pass.GroundTrack = append(pass.GroundTrack, GroundTrackPoint{
				Time:       t,
				Latitude:   s.Geodetic.LatDeg,
				Longitude:  s.Geodetic.LonDeg,
				AltitudeKm: s.Geodetic.AltKm,
				Elevation:  la.ElevationDeg,
			})
		}
		pass.EndAzimuth = la.AzimuthDeg
	}

	if !rose {
		return Pass{}, t, false
	}
	// Still up at the end of the window: close the pass there.
	if pass.EndTime.IsZero() {
		pass.EndTime = t
	}
	pass.DurationSeconds = pass.EndTime.Sub(pass.StartTime).Seconds()
	return pass, pass.EndTime, true
}

func look(p *propagation.SGP4Propagator, obs transform.Observer, t time.Time) (transform.LookAngles, propagation.Sample, error) {
	s, err := p.Sample(t)
	if err != nil {
		return transform.LookAngles{}, propagation.Sample{}, err
	}
	return obs.Look(s.PositionECEF), s, nil
}

// PredictAll runs Predict for every propagator with at most workers in
// flight (default: NumCPU). Results keep the input order; a body that
// fails reports its error in place.
func PredictAll(ctx context.Context, props []*propagation.SGP4Propagator, req Request, workers int) ([]SatellitePasses, error) {
	req = req.WithDefaults()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	results := make([]SatellitePasses, len(props))
	var g errgroup.Group
	g.SetLimit(workers)

	for i, p := range props {
		g.Go(func() error {
			res := SatellitePasses{CatalogID: p.CatalogID()}
			passes, err := Predict(ctx, p, req)
			res.Passes = passes
			if err != nil {
				res.Error = err.Error()
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	return results, ctx.Err()
}
