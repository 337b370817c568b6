package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rendis/flowop/pkg/schema"
)

// StepPoolMetrics counts step outcomes across every batch the pool ran.
// Buckets follow step terminal statuses; Panics additionally counts step
// functions that panicked (those also land in Failed).
type StepPoolMetrics struct {
	Active    int64 `json:"active"`
	Succeeded int64 `json:"succeeded"`
	Skipped   int64 `json:"skipped"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
}

// StepPool fans one ready-frontier batch out to goroutines, bounding how
// many steps run concurrently. The orchestrator awaits the whole batch
// before recomputing the frontier, so the join point lives here: RunBatch
// returns only when every launched step has reached a terminal status.
type StepPool struct {
	slots chan struct{}

	mu     sync.Mutex
	closed bool

	active    atomic.Int64
	succeeded atomic.Int64
	skipped   atomic.Int64
	failed    atomic.Int64
	panics    atomic.Int64
}

// NewStepPool creates a pool running at most size steps concurrently.
func NewStepPool(size int) *StepPool {
	if size <= 0 {
		size = 1
	}
	return &StepPool{slots: make(chan struct{}, size)}
}

// RunBatch executes fn for every step of one ready batch and blocks until
// the launched steps drain. Steps beyond the concurrency bound wait for a
// slot. A cancelled context stops launching further steps of the batch;
// steps already in flight run to completion. The returned status feeds the
// outcome counters, with panicking steps counted as failed.
func (p *StepPool) RunBatch(ctx context.Context, stepIDs []string, fn func(ctx context.Context, stepID string) schema.StepStatus) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, stepID := range stepIDs {
		select {
		case p.slots <- struct{}{}:
			// Slot acquired.
		case <-ctx.Done():
			wg.Wait()
			return
		}

		wg.Add(1)
		p.active.Add(1)
		go func(stepID string) {
			defer func() {
				if r := recover(); r != nil {
					p.panics.Add(1)
					p.failed.Add(1)
				}
				p.active.Add(-1)
				<-p.slots
				wg.Done()
			}()

			switch fn(ctx, stepID) {
			case schema.StepStatusSuccess:
				p.succeeded.Add(1)
			case schema.StepStatusSkipped:
				p.skipped.Add(1)
			default:
				p.failed.Add(1)
			}
		}(stepID)
	}
	wg.Wait()
}

// Shutdown prevents further batches. A RunBatch already in flight drains
// normally.
func (p *StepPool) Shutdown() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

// Metrics returns a snapshot of the outcome counters.
func (p *StepPool) Metrics() StepPoolMetrics {
	return StepPoolMetrics{
		Active:    p.active.Load(),
		Succeeded: p.succeeded.Load(),
		Skipped:   p.skipped.Load(),
		Failed:    p.failed.Load(),
		Panics:    p.panics.Load(),
	}
}
