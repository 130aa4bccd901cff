package output

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/openmark/migrate-core/internal/runner"
)

var migratedHeader = []string{
	"AttemptId", "CorrelationId", "SessionId", "SubmissionId", "GradeId", "ContextId",
}

// Writer routes outcomes into the two durable logs and tracks progress.
// Consume is called from the runner's single aggregator goroutine; the
// flush/progress ticker runs on its own goroutine, hence the lock on counts.
type Writer struct {
	migrated *CSVLog
	failed   *CSVLog

	mu       sync.Mutex
	total    int
	migCount int
	skpCount int
	errCount int
	start    time.Time
}

// New creates a Writer. failedHeader is the manifest's original header; the
// failed log appends an Error column to it.
func New(migratedPath, failedPath string, failedHeader []string) *Writer {
	return &Writer{
		migrated: NewCSVLog(migratedPath, migratedHeader),
		failed:   NewCSVLog(failedPath, append(append([]string{}, failedHeader...), "Error")),
		start:    time.Now(),
	}
}

// SetTotal records the run size for progress reporting.
func (w *Writer) SetTotal(n int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.total = n
}

// Consume records one outcome. Skipped records are counted, never logged.
func (w *Writer) Consume(out runner.Outcome) {
	switch out.Status {
	case runner.StatusMigrated:
		w.migrated.Append([]string{
			out.Record.AttemptID,
			out.CorrelationID,
			strconv.FormatInt(out.Written.SessionID, 10),
			strconv.FormatInt(out.Written.SubmissionID, 10),
			strconv.FormatInt(out.Written.GradeID, 10),
			out.ContextID,
		})
	case runner.StatusFailed:
		w.failed.Append(append(append([]string{}, out.Record.Row()...), out.Reason))
	}

	w.mu.Lock()
	switch out.Status {
	case runner.StatusMigrated:
		w.migCount++
	case runner.StatusSkipped:
		w.skpCount++
	case runner.StatusFailed:
		w.errCount++
	}
	w.mu.Unlock()
}

// Start launches the flush and progress tickers until ctx is cancelled.
func (w *Writer) Start(ctx context.Context, flushEvery, progressEvery time.Duration) {
	go func() {
		flush := time.NewTicker(flushEvery)
		progress := time.NewTicker(progressEvery)
		defer flush.Stop()
		defer progress.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-flush.C:
				w.flush()
			case <-progress.C:
				w.printProgress()
			}
		}
	}()
}

// Close flushes both logs unconditionally. Called once at run end.
func (w *Writer) Close() {
	w.flush()
}

func (w *Writer) flush() {
	if err := w.migrated.Flush(); err != nil {
		log.Printf("flush migrated log: %v", err)
	}
	if err := w.failed.Flush(); err != nil {
		log.Printf("flush failed log: %v", err)
	}
}

func (w *Writer) printProgress() {
	w.mu.Lock()
	done := w.migCount + w.skpCount + w.errCount
	total := w.total
	mig, skp, fail := w.migCount, w.skpCount, w.errCount
	w.mu.Unlock()

	elapsed := time.Since(w.start)
	rate := float64(done) / elapsed.Seconds()
	log.Printf("progress: %d/%d (migrated %d, skipped %d, failed %d) %.1f rec/s",
		done, total, mig, skp, fail, rate)
}

// Summary prints the final run report.
func (w *Writer) Summary(totals runner.Totals) {
	elapsed := time.Since(w.start)
	rate := float64(totals.Processed()) / elapsed.Seconds()
	log.Printf("done: %d records in %s (migrated %d, skipped %d, failed %d, %.1f rec/s, %d bytes relocated)",
		totals.Processed(), elapsed.Round(time.Second), totals.Migrated, totals.Skipped,
		totals.Failed, rate, totals.Bytes)
}
