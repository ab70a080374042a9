package taskbucket

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Run drives the adaptive batch-claim loop: while slots are free, it fires
// concurrent GetOne claims in batches that double on an all-hit round and
// reset to 1 on any miss, handing each claimed task to a free slot's
// DoTask. Between claiming rounds it waits for a slot to finish or a
// jittered (±10%) poll delay to elapse, whichever comes first, so the
// driver periodically retries claiming even when nothing is running. Run
// blocks until ctx is done or a GetOne claim returns an error.
func (b *Bucket) Run(ctx context.Context, futures interface{}, pollDelay time.Duration, maxConcurrent int) error {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	available := make([]int, maxConcurrent)
	for i := range available {
		available[i] = i
	}
	done := make(chan int, maxConcurrent)
	batch := 1

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		for len(available) > 0 {
			n := batch
			if n > len(available) {
				n = len(available)
			}

			tasks := make([]*Task, n)
			errs := make([]error, n)
			var wg sync.WaitGroup
			wg.Add(n)
			for i := 0; i < n; i++ {
				i := i
				go func() {
					defer wg.Done()
					t, err := b.GetOne(ctx)
					tasks[i] = t
					errs[i] = err
				}()
			}
			wg.Wait()

			for _, err := range errs {
				if err != nil {
					return err
				}
			}

			allHit := true
			for _, task := range tasks {
				if task == nil {
					allHit = false
					continue
				}
				slot := available[0]
				available = available[1:]
				if b.metrics != nil {
					b.metrics.WorkerSlotsBusy.Inc()
				}
				go func(slot int, task *Task) {
					_, _ = b.DoTask(ctx, futures, task)
					if b.metrics != nil {
						b.metrics.WorkerSlotsBusy.Dec()
					}
					done <- slot
				}(slot, task)
			}

			if !allHit {
				batch = 1
				break
			}
			if batch < maxConcurrent {
				batch *= 2
				if batch > maxConcurrent {
					batch = maxConcurrent
				}
			}
		}

		timer := time.NewTimer(jitter(pollDelay))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case slot := <-done:
			timer.Stop()
			available = append(available, slot)
		case <-timer.C:
		}

	drain:
		for {
			select {
			case slot := <-done:
				available = append(available, slot)
			default:
				break drain
			}
		}
	}
}

// jitter perturbs d by up to ±10%, so a fleet of idle workers polling the
// same bucket doesn't lock-step.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	factor := 0.9 + 0.2*rand.Float64()
	return time.Duration(float64(d) * factor)
}
