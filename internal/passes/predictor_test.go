package passes

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/star/orbitrack/internal/propagation"
	"github.com/star/orbitrack/internal/tle"
	"github.com/star/orbitrack/internal/transform"
)

var issLines = tle.Lines{
	Line1: "1 25544U 98067A   24100.50000000  .00016717  00000-0  10270-3 0  9005",
	Line2: "2 25544  51.6400 100.0000 0001000   0.0000   0.0000 15.50000000    09",
}

var (
	epoch       = time.Date(2024, 4, 10, 12, 0, 0, 0, time.UTC)
	nycObserver = transform.NewObserver(40.7128, -74.006, 0.01)
)

func issPropagator(t testing.TB) *propagation.SGP4Propagator {
	t.Helper()
	p, err := propagation.NewSGP4Propagator(issLines)
	if err != nil {
		t.Fatalf("NewSGP4Propagator: %v", err)
	}
	return p
}

func TestPredictISS(t *testing.T) {
	p := issPropagator(t)

	passes, err := Predict(context.Background(), p, Request{
		Observer:  nycObserver,
		Start:     epoch,
		Horizon:   24 * time.Hour,
		MaxPasses: 10,
	})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if len(passes) == 0 {
		t.Fatal("expected at least one ISS pass over NYC in 24h")
	}

	var prevEnd time.Time
	for i, ps := range passes {
		if ps.DurationSeconds < minPassDuration.Seconds() {
			t.Errorf("pass %d: duration %.0fs too short", i, ps.DurationSeconds)
		}
		if ps.MaxElevation <= 0 || ps.MaxElevation > 90 {
			t.Errorf("pass %d: max elevation %.2f out of range", i, ps.MaxElevation)
		}
		for _, az := range []float64{ps.StartAzimuth, ps.AzimuthAtMax, ps.EndAzimuth} {
			if az < 0 || az >= 360 {
				t.Errorf("pass %d: azimuth %.2f out of range", i, az)
			}
		}
		if ps.MaxElevationTime.Before(ps.StartTime) || ps.EndTime.Before(ps.MaxElevationTime) {
			t.Errorf("pass %d: time ordering violated: start=%v max=%v end=%v", i, ps.StartTime, ps.MaxElevationTime, ps.EndTime)
		}
		if !ps.StartTime.After(prevEnd) {
			t.Errorf("pass %d starts at %v, before the previous pass ended at %v", i, ps.StartTime, prevEnd)
		}
		prevEnd = ps.EndTime

		if len(ps.GroundTrack) == 0 {
			t.Errorf("pass %d: expected ground track points", i)
		}
		for j, gt := range ps.GroundTrack {
			if gt.AltitudeKm < 200 || gt.AltitudeKm > 600 {
				t.Errorf("pass %d gt %d: altitude %.0f km out of LEO range", i, j, gt.AltitudeKm)
			}
			if gt.Elevation < 0 || gt.Elevation > 90 {
				t.Errorf("pass %d gt %d: elevation %.2f out of range", i, j, gt.Elevation)
			}
			// Horizon distance for a ~420 km orbit is about 2300 km.
			if d := haversineKm(nycObserver.LatDeg, nycObserver.LonDeg, gt.Latitude, gt.Longitude); d > 2600 {
				t.Errorf("pass %d gt %d: sub-satellite point %.0f km from observer", i, j, d)
			}
		}
	}
}

func TestPredictMinElevationFilter(t *testing.T) {
	p := issPropagator(t)
	req := Request{Observer: nycObserver, Start: epoch, Horizon: 48 * time.Hour, MaxPasses: 20}

	low, err := Predict(context.Background(), p, req)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	req.MinElevation = 45
	high, err := Predict(context.Background(), p, req)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}

	if len(low) == 0 {
		t.Fatal("expected passes with min elevation 0")
	}
	if len(high) >= len(low) {
		t.Errorf("min elevation 45 gave %d passes, want fewer than %d", len(high), len(low))
	}
	for i, ps := range high {
		if ps.MaxElevation < 45 {
			t.Errorf("pass %d: max elevation %.2f below the 45 degree floor", i, ps.MaxElevation)
		}
	}
}

func TestPredictMaxPasses(t *testing.T) {
	passes, err := Predict(context.Background(), issPropagator(t), Request{
		Observer:  nycObserver,
		Start:     epoch,
		Horizon:   72 * time.Hour,
		MaxPasses: 1,
	})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if len(passes) != 1 {
		t.Errorf("got %d passes, want 1", len(passes))
	}
}

func TestPredictCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	passes, err := Predict(ctx, issPropagator(t), Request{Observer: nycObserver, Start: epoch})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if len(passes) != 0 {
		t.Errorf("got %d passes after cancellation", len(passes))
	}
}

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{"latitude", Request{Observer: transform.NewObserver(91, 0, 0), Start: epoch}},
		{"longitude", Request{Observer: transform.NewObserver(0, 181, 0), Start: epoch}},
		{"min elevation", Request{Observer: nycObserver, Start: epoch, MinElevation: 90}},
		{"horizon", Request{Observer: nycObserver, Start: epoch, Horizon: 8 * 24 * time.Hour}},
		{"start", Request{Observer: nycObserver}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.WithDefaults().Validate()
			if !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("Validate() = %v, want ErrInvalidRequest", err)
			}
		})
	}

	if err := (Request{Observer: nycObserver, Start: epoch}).WithDefaults().Validate(); err != nil {
		t.Errorf("default request rejected: %v", err)
	}
}

func TestPredictAllKeepsOrder(t *testing.T) {
	iss := issPropagator(t)
	other, err := propagation.NewSGP4Propagator(tle.Lines{
		Line1: "1 44713U 19074A   24100.50000000  .00001000  00000-0  10000-4 0  9995",
		Line2: "2 44713  53.0000 200.0000 0001500  90.0000 270.0000 15.06000000    05",
	})
	if err != nil {
		t.Fatalf("NewSGP4Propagator: %v", err)
	}

	results, err := PredictAll(context.Background(), []*propagation.SGP4Propagator{other, iss}, Request{
		Observer: nycObserver,
		Start:    epoch,
		Horizon:  12 * time.Hour,
	}, 2)
	if err != nil {
		t.Fatalf("PredictAll: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].CatalogID != 44713 || results[1].CatalogID != 25544 {
		t.Errorf("order = [%d %d], want [44713 25544]", results[0].CatalogID, results[1].CatalogID)
	}
	for _, r := range results {
		if r.Error != "" {
			t.Errorf("%d: unexpected error %s", r.CatalogID, r.Error)
		}
	}

	if _, err := PredictAll(context.Background(), nil, Request{Observer: nycObserver}, 0); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("PredictAll without start = %v, want ErrInvalidRequest", err)
	}
}

// haversineKm is the great-circle distance between two points on a sphere
// of mean Earth radius.
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const r = 6371.0
	p1 := lat1 * math.Pi / 180
	p2 := lat2 * math.Pi / 180
	dp := (lat2 - lat1) * math.Pi / 180
	dl := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dp/2)*math.Sin(dp/2) + math.Cos(p1)*math.Cos(p2)*math.Sin(dl/2)*math.Sin(dl/2)
	return r * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func BenchmarkPredict24h(b *testing.B) {
	p := issPropagator(b)
	req := Request{Observer: nycObserver, Start: epoch, Horizon: 24 * time.Hour, MinElevation: 10}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Predict(context.Background(), p, req); err != nil {
			b.Fatal(err)
		}
	}
}
