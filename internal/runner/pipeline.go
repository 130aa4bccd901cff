package runner

import (
	"context"

	"github.com/openmark/migrate-core/internal/blob"
	"github.com/openmark/migrate-core/internal/manifest"
	"github.com/openmark/migrate-core/internal/transform"
	"github.com/openmark/migrate-core/internal/writer"
)

// Transformer is the validation phase of the pipeline.
type Transformer interface {
	Transform(ctx context.Context, rec manifest.InputRecord) transform.Result
}

// Relocator is the file-movement phase.
type Relocator interface {
	Relocate(ctx context.Context, req blob.Request) ([]blob.FileRef, int64, error)
	Cleanup(ctx context.Context, refs []blob.FileRef)
}

// Writer is the transactional insert phase.
type Writer interface {
	WriteAttempt(ctx context.Context, plan *transform.Plan, files []blob.FileRef) (*writer.Written, error)
}

// Pipeline chains validate -> relocate -> write for one record. The phases
// are strictly sequential; each depends on the previous one's output.
type Pipeline struct {
	Transformer Transformer
	Relocator   Relocator
	Writer      Writer
}

// ProcessRecord runs the pipeline for one record and classifies the result.
// Record-local errors become Failed outcomes; nothing here aborts the run.
func (p *Pipeline) ProcessRecord(ctx context.Context, rec manifest.InputRecord) Outcome {
	res := p.Transformer.Transform(ctx, rec)
	if res.Skipped() {
		return Outcome{Status: StatusSkipped, Record: rec, Reason: res.SkipReason}
	}
	if res.Failed() {
		return Outcome{Status: StatusFailed, Record: rec, Reason: res.FailReason}
	}
	plan := res.Plan

	files, bytes, err := p.Relocator.Relocate(ctx, blob.Request{
		AttemptID:    rec.AttemptID,
		AssessmentID: plan.Assessment.ID,
		LearnerName:  rec.LearnerName,
		LearnerURLs:  rec.LearnerFileURLs,
		MarkerURLs:   rec.MarkerFileURLs,
	})
	if err != nil {
		return Outcome{Status: StatusFailed, Record: rec, Reason: err.Error()}
	}

	written, err := p.Writer.WriteAttempt(ctx, plan, files)
	if err != nil {
		// The transaction rolled back; remove the blobs it would have
		// referenced so no orphaned file set remains.
		p.Relocator.Cleanup(ctx, files)
		return Outcome{Status: StatusFailed, Record: rec, Reason: err.Error()}
	}

	return Outcome{
		Status:        StatusMigrated,
		Record:        rec,
		CorrelationID: plan.CorrelationID,
		ContextID:     plan.ContextID,
		Written:       written,
		Bytes:         bytes,
	}
}
