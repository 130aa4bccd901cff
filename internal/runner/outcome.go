package runner

import (
	"github.com/openmark/migrate-core/internal/manifest"
	"github.com/openmark/migrate-core/internal/writer"
)

// Status is the terminal state of one processed record.
type Status int

const (
	StatusMigrated Status = iota
	StatusSkipped
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusMigrated:
		return "migrated"
	case StatusSkipped:
		return "skipped"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the terminal result of processing one input record. Every record
// yields exactly one.
type Outcome struct {
	Status Status
	Record manifest.InputRecord

	// Migrated only.
	CorrelationID string
	ContextID     string
	Written       *writer.Written
	Bytes         int64

	// Skip or failure reason.
	Reason string
}

// Totals aggregates a run. Maintained by the single outcome consumer.
type Totals struct {
	Total    int
	Migrated int
	Skipped  int
	Failed   int
	Bytes    int64
}

// Processed returns how many records reached a terminal state.
func (t Totals) Processed() int { return t.Migrated + t.Skipped + t.Failed }
