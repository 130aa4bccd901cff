package runner

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/openmark/migrate-core/internal/manifest"
)

func makeRecords(n int) []manifest.InputRecord {
	recs := make([]manifest.InputRecord, n)
	for i := range recs {
		recs[i] = manifest.InputRecord{AttemptID: fmt.Sprintf("A-%03d", i)}
	}
	return recs
}

// classify deterministically assigns a status per attempt id so pool-size
// comparisons have mixed outcomes to compare.
func classify(rec manifest.InputRecord) Outcome {
	switch {
	case strings.HasSuffix(rec.AttemptID, "3"):
		return Outcome{Status: StatusFailed, Record: rec, Reason: "synthetic failure"}
	case strings.HasSuffix(rec.AttemptID, "7"):
		return Outcome{Status: StatusSkipped, Record: rec, Reason: "synthetic skip"}
	default:
		return Outcome{Status: StatusMigrated, Record: rec, CorrelationID: "LEG-" + rec.AttemptID + "-x", Bytes: 10}
	}
}

func runPool(t *testing.T, workers int, records []manifest.InputRecord) (Totals, []string) {
	t.Helper()
	var seen []string
	pool := &Pool{
		Workers: workers,
		Process: func(ctx context.Context, rec manifest.InputRecord) Outcome {
			return classify(rec)
		},
	}
	totals := pool.Run(context.Background(), records, func(out Outcome) {
		seen = append(seen, fmt.Sprintf("%s:%s", out.Record.AttemptID, out.Status))
	})
	sort.Strings(seen)
	return totals, seen
}

func TestRunOutcomeConservation(t *testing.T) {
	records := makeRecords(50)
	totals, seen := runPool(t, 5, records)

	if totals.Processed() != totals.Total {
		t.Errorf("processed %d of %d", totals.Processed(), totals.Total)
	}
	if got := totals.Migrated + totals.Skipped + totals.Failed; got != len(records) {
		t.Errorf("outcome sum %d, want %d", got, len(records))
	}
	if len(seen) != len(records) {
		t.Errorf("sink saw %d outcomes, want %d", len(seen), len(records))
	}
}

func TestRunPoolSizeInvariance(t *testing.T) {
	records := makeRecords(40)

	totalsOne, seenOne := runPool(t, 1, records)
	totalsFive, seenFive := runPool(t, 5, records)

	if totalsOne != totalsFive {
		t.Errorf("totals differ: pool1=%+v pool5=%+v", totalsOne, totalsFive)
	}
	if len(seenOne) != len(seenFive) {
		t.Fatalf("outcome counts differ: %d vs %d", len(seenOne), len(seenFive))
	}
	for i := range seenOne {
		if seenOne[i] != seenFive[i] {
			t.Fatalf("outcome multisets differ at %d: %q vs %q", i, seenOne[i], seenFive[i])
		}
	}
}

func TestRunCancellationStopsDistribution(t *testing.T) {
	records := makeRecords(100)
	ctx, cancel := context.WithCancel(context.Background())

	processed := 0
	pool := &Pool{
		Workers: 2,
		Process: func(ctx context.Context, rec manifest.InputRecord) Outcome {
			return classify(rec)
		},
	}
	totals := pool.Run(ctx, records, func(out Outcome) {
		processed++
		if processed == 10 {
			cancel()
		}
	})

	if totals.Processed() >= len(records) {
		t.Errorf("cancellation did not stop distribution: processed %d", totals.Processed())
	}
	// Every started record still reported a terminal outcome.
	if totals.Processed() != processed {
		t.Errorf("totals %d disagree with sink %d", totals.Processed(), processed)
	}
}

func TestRunCancelledContextNotSeenByRecords(t *testing.T) {
	// Cancelling the run must never surface in an executing record's context:
	// warehouse queries, the destination transaction and compensating deletes
	// all run on it and must finish on their own terms.
	ctx, cancel := context.WithCancel(context.Background())
	records := makeRecords(3)

	var inFlightErr error
	pool := &Pool{
		Workers: 1,
		Process: func(pctx context.Context, rec manifest.InputRecord) Outcome {
			cancel()
			<-ctx.Done()
			if err := pctx.Err(); err != nil && inFlightErr == nil {
				inFlightErr = err
			}
			return classify(rec)
		},
	}
	pool.Run(ctx, records, nil)

	if inFlightErr != nil {
		t.Errorf("in-flight record saw run cancellation: %v", inFlightErr)
	}
}

func TestRunSingleConsumerSink(t *testing.T) {
	// The sink mutates unguarded state; the race detector verifies the
	// single-consumer guarantee.
	records := makeRecords(30)
	counts := map[Status]int{}
	pool := &Pool{
		Workers: 8,
		Process: func(ctx context.Context, rec manifest.InputRecord) Outcome {
			return classify(rec)
		},
	}
	pool.Run(context.Background(), records, func(out Outcome) {
		counts[out.Status]++
	})
	if counts[StatusMigrated]+counts[StatusSkipped]+counts[StatusFailed] != len(records) {
		t.Errorf("counts %+v do not sum to %d", counts, len(records))
	}
}
