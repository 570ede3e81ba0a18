package service

import (
	"context"
	"runtime"
	"sync"
)

// WorkerPool executes independent jobs with bounded parallelism. Backfill
// uses it to fan out per-day scheduler calls: results come back ordered by
// job index regardless of completion order.
type WorkerPool struct {
	workers int
	logger  Logger
}

func NewWorkerPool(workers int, logger Logger) *WorkerPool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &WorkerPool{workers: workers, logger: logger}
}

// Dispatch runs fn for every index in [0, n) on at most p.workers goroutines
// and returns one error slot per index. With failFast set, the first error
// cancels the job context: jobs already in flight finish, jobs not yet
// started are skipped and report the cancellation error.
func (p *WorkerPool) Dispatch(ctx context.Context, n int, failFast bool, fn func(ctx context.Context, i int) error) []error {
	if n == 0 {
		return nil
	}
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan int, n)
	for i := 0; i < n; i++ {
		jobs <- i
	}
	close(jobs)

	// Each slot is written by exactly one worker, so the slice needs no lock.
	errs := make([]error, n)

	workers := p.workers
	if workers > n {
		workers = n
	}
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if err := jobCtx.Err(); err != nil {
					errs[i] = err
					continue
				}
				if err := fn(jobCtx, i); err != nil {
					errs[i] = err
					if failFast {
						p.logger.Errorf("Job %d failed, cancelling remaining jobs: %v", i, err)
						cancel()
					}
				}
			}
		}()
	}
	wg.Wait()
	return errs
}
