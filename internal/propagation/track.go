package propagation

import (
	"context"
	"time"
)

// SampleTrack propagates n instants starting at start, step apart. Instants
// that fail to propagate are dropped, so the result may be shorter than n;
// the returned count says how many were dropped.
func SampleTrack(ctx context.Context, p *SGP4Propagator, start time.Time, n int, step time.Duration) ([]Sample, int, error) {
	if n <= 0 {
		return nil, 0, nil
	}

	samples := make([]Sample, 0, n)
	var failed int
	for i := 0; i < n; i++ {
		if i%16 == 0 {
			if err := ctx.Err(); err != nil {
				return samples, failed, err
			}
		}

		s, err := p.Sample(start.Add(time.Duration(i) * step))
		if err != nil {
			failed++
			continue
		}
		samples = append(samples, s)
	}
	return samples, failed, nil
}
