// Package runner distributes pending records over a fixed pool of executors
// and aggregates their outcomes through a single consumer, so no counter or
// output buffer is ever touched by more than one goroutine.
package runner

import (
	"context"
	"sync"

	"github.com/openmark/migrate-core/internal/manifest"
)

// Process runs one record's full pipeline to completion and returns its
// terminal outcome. Implementations must be safe for concurrent use.
type Process func(ctx context.Context, rec manifest.InputRecord) Outcome

// Sink consumes outcomes. Called from a single goroutine only.
type Sink func(Outcome)

// Pool is a fixed-size executor pool.
type Pool struct {
	Workers int
	Process Process
}

// Run feeds every record through the pool and drains all outcomes through
// sink. Cancelling ctx stops the distribution of new records; executors
// finish their in-flight record rather than aborting mid-transaction. Run
// returns once every started record has reported.
func (p *Pool) Run(ctx context.Context, records []manifest.InputRecord, sink Sink) Totals {
	workers := p.Workers
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan manifest.InputRecord)
	results := make(chan Outcome)

	// The run context governs distribution only. Executors get a detached
	// context so an in-flight record and its compensating deletes complete
	// even after the run is cancelled.
	recCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for rec := range jobs {
				results <- p.Process(recCtx, rec)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, rec := range records {
			select {
			case jobs <- rec:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	totals := Totals{Total: len(records)}
	for out := range results {
		switch out.Status {
		case StatusMigrated:
			totals.Migrated++
			totals.Bytes += out.Bytes
		case StatusSkipped:
			totals.Skipped++
		case StatusFailed:
			totals.Failed++
		}
		if sink != nil {
			sink(out)
		}
	}
	return totals
}
