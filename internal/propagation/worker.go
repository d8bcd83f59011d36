package propagation

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/star/orbitrack/internal/transform"
)

// Job asks the pool to sample one body.
type Job struct {
	ID   int
	Prop *SGP4Propagator
}

// Result is the outcome of one Job.
type Result struct {
	ID     int
	Sample Sample
	Err    error
}

type sampleJob struct {
	Job
	target time.Time
	gmst   float64
}

// WorkerPool runs SGP4 sampling for many bodies on a fixed number of goroutines.
type WorkerPool struct {
	workers int
	logger  *slog.Logger
}

// NewWorkerPool creates a worker pool. A non-positive count uses runtime.NumCPU().
func NewWorkerPool(workers int, logger *slog.Logger) *WorkerPool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &WorkerPool{
		workers: workers,
		logger:  logger,
	}
}

// SampleBatch samples every job at the target time. Results come back in
// completion order; failures are included with Err set. Jobs not started
// before ctx is cancelled are absent from the result.
func (wp *WorkerPool) SampleBatch(ctx context.Context, jobs []Job, target time.Time) []Result {
	if len(jobs) == 0 {
		return nil
	}

	// GMST is shared by every body at the same instant.
	target = target.Truncate(time.Second)
	gmst := transform.GMST(target)

	in := make(chan sampleJob, wp.workers*2)
	out := make(chan Result, wp.workers*2)

	var wg sync.WaitGroup
	for i := 0; i < wp.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range in {
				s, err := job.Prop.sampleWithGMST(job.target, job.gmst)
				select {
				case out <- Result{ID: job.ID, Sample: s, Err: err}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		defer close(in)
		for _, j := range jobs {
			select {
			case in <- sampleJob{Job: j, target: target, gmst: gmst}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(out)
	}()

	results := make([]Result, 0, len(jobs))
	var failed int
	for r := range out {
		if r.Err != nil {
			failed++
			wp.logger.Warn("propagation failed", "norad_id", r.ID, "error", r.Err)
		}
		results = append(results, r)
	}

	wp.logger.Debug("batch sampled",
		"jobs", len(jobs),
		"results", len(results),
		"failed", failed,
	)
	return results
}
