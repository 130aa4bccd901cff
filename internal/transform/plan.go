package transform

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/openmark/migrate-core/internal/manifest"
	"github.com/openmark/migrate-core/internal/refdata"
	"github.com/openmark/migrate-core/internal/warehouse"
)

// tenantGUID namespaces destination context ids so they remain traceable to
// this migration source.
const tenantGUID = "b7f3a2c4-5d1e-4e8a-9c0b-2f6d8a1e4c73"

// CorrelationSuffixLen is the fixed length of the random tail of a
// correlation id. Re-run detection matches the tail at exactly this length.
const CorrelationSuffixLen = 8

// CorrelationPrefix keys re-run detection: a destination row whose external
// reference is this prefix plus a CorrelationSuffixLen tail means the attempt
// was already migrated.
func CorrelationPrefix(attemptID string) string {
	return "LEG-" + attemptID + "-"
}

// NewCorrelationID generates a fresh correlation id for an attempt. Re-runs
// produce different ids but stay greppable by attempt id.
func NewCorrelationID(attemptID string) string {
	return CorrelationPrefix(attemptID) + uuid.NewString()[:CorrelationSuffixLen]
}

// ContextID builds the destination context id from a warehouse section id.
func ContextID(sectionID string) string {
	return fmt.Sprintf("%s_%s", tenantGUID, sectionID)
}

// Plan carries every derived field the writer needs for one accepted record.
type Plan struct {
	Record  manifest.InputRecord
	Mapping manifest.AttemptMapping

	Assessment    refdata.Assessment
	AttemptNumber int
	CorrelationID string
	ContextID     string

	// Destination grade label after mapping.
	Grade string
	// Non-nil when the warehouse grade text recorded malpractice.
	Malpractice *refdata.MalpracticeLevel

	Report *warehouse.Report
	Scores []warehouse.Score
}

// Result is the terminal verdict of the transformer for one record: a Plan,
// a Skip, or a Fail. Exactly one of the three holds.
type Result struct {
	Plan       *Plan
	SkipReason string
	FailReason string
}

// Skipped reports whether the record was filtered out rather than failed.
func (r Result) Skipped() bool { return r.SkipReason != "" }

// Failed reports whether the record terminally failed.
func (r Result) Failed() bool { return r.FailReason != "" }

func skip(format string, args ...any) Result {
	return Result{SkipReason: fmt.Sprintf(format, args...)}
}

func fail(format string, args ...any) Result {
	return Result{FailReason: fmt.Sprintf(format, args...)}
}
