// Package writer performs the multi-table insert sequence for one migrated
// attempt as a single transaction against the destination database.
package writer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openmark/migrate-core/internal/blob"
	"github.com/openmark/migrate-core/internal/transform"
)

// Store writes migrated attempts into the destination schema.
type Store struct {
	pool *pgxpool.Pool
	// Automated actions (marking assignment, enforcement) are attributed to
	// the system actor.
	systemActorID int64
}

// New creates a Store.
func New(pool *pgxpool.Pool, systemActorID int64) *Store {
	return &Store{pool: pool, systemActorID: systemActorID}
}

// Written carries the generated root ids of one migrated attempt.
type Written struct {
	SessionID    int64
	SubmissionID int64
	GradeID      int64
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// correlationPattern builds the idempotency probe pattern for an attempt.
// LIKE wildcards in the attempt id are escaped and the random tail is matched
// at its exact length, so attempt ids that prefix each other ("A-1", "A-1-2")
// cannot shadow one another.
func correlationPattern(attemptID string) string {
	return likeEscaper.Replace(transform.CorrelationPrefix(attemptID)) +
		strings.Repeat("_", transform.CorrelationSuffixLen)
}

// AlreadyMigrated checks the destination for a submission keyed by the
// deterministic correlation-id prefix of the attempt.
func (s *Store) AlreadyMigrated(ctx context.Context, attemptID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM submissions WHERE external_ref LIKE $1 ESCAPE '\')`,
		correlationPattern(attemptID)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("probe destination for attempt %s: %w", attemptID, err)
	}
	return exists, nil
}

// Section is one configured section of an assessment.
type Section struct {
	ID    int64
	Label string
}

// WriteAttempt executes the insert sequence atomically. Any failure rolls the
// whole transaction back; nothing partially committed becomes visible.
func (s *Store) WriteAttempt(ctx context.Context, plan *transform.Plan, files []blob.FileRef) (*Written, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	w := &Written{}
	now := time.Now().UTC()
	submittedAt := plan.Report.InsertedAt.Time

	var launchSessionID int64
	err = tx.QueryRow(ctx,
		`INSERT INTO launch_sessions (context_id, learner_email, created_at)
		 VALUES ($1, $2, $3) RETURNING id`,
		plan.ContextID, plan.Record.LearnerEmail, now).Scan(&launchSessionID)
	if err != nil {
		return nil, fmt.Errorf("insert launch session: %w", err)
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO sessions (launch_session_id, assessment_id, attempt_number, started_at)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		launchSessionID, plan.Assessment.ID, plan.AttemptNumber, submittedAt).Scan(&w.SessionID)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO submissions (session_id, external_ref, learner_name, learner_email, submitted_at)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		w.SessionID, plan.CorrelationID, plan.Record.LearnerName,
		plan.Record.LearnerEmail, submittedAt).Scan(&w.SubmissionID)
	if err != nil {
		return nil, fmt.Errorf("insert submission: %w", err)
	}

	for _, f := range files {
		_, err = tx.Exec(ctx,
			`INSERT INTO submission_files (submission_id, role, name, object_key, size_bytes)
			 VALUES ($1, $2, $3, $4, $5)`,
			w.SubmissionID, string(f.Kind), f.Name, f.Key, f.Size)
		if err != nil {
			return nil, fmt.Errorf("insert file %s: %w", f.Name, err)
		}
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO marking_assignments (submission_id, marker_id, assigned_at, completed_at)
		 VALUES ($1, $2, $3, $3)`,
		w.SubmissionID, s.systemActorID, now)
	if err != nil {
		return nil, fmt.Errorf("insert marking assignment: %w", err)
	}

	if err := s.writeSectionMarks(ctx, tx, plan, w.SubmissionID); err != nil {
		return nil, err
	}

	var levelID *int64
	if plan.Malpractice != nil {
		levelID = &plan.Malpractice.ID
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO grades (submission_id, grade_label, marks, marks_available, grade_percent,
		                     malpractice_level_id, graded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		w.SubmissionID, plan.Grade, plan.Report.Marks.Float64,
		plan.Report.MarksAvailable.Float64, plan.Report.GradePercent.Float64,
		levelID, submittedAt).Scan(&w.GradeID)
	if err != nil {
		return nil, fmt.Errorf("insert grade: %w", err)
	}

	if plan.Malpractice != nil {
		if err := s.upsertEnforcement(ctx, tx, plan); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit attempt %s: %w", plan.Record.AttemptID, err)
	}
	return w, nil
}

// writeSectionMarks verifies every warehouse score label against the target
// assessment's configured sections and inserts one mark per score. Any
// unmatched label aborts the whole transaction.
func (s *Store) writeSectionMarks(ctx context.Context, tx pgx.Tx, plan *transform.Plan, submissionID int64) error {
	rows, err := tx.Query(ctx,
		`SELECT id, label FROM assessment_sections WHERE assessment_id = $1 ORDER BY position`,
		plan.Assessment.ID)
	if err != nil {
		return fmt.Errorf("load sections for assessment %d: %w", plan.Assessment.ID, err)
	}
	sections, err := pgx.CollectRows(rows, pgx.RowToStructByPos[Section])
	if err != nil {
		return fmt.Errorf("scan sections for assessment %d: %w", plan.Assessment.ID, err)
	}

	for _, score := range plan.Scores {
		sectionID, ok := MatchSection(sections, score.Label)
		if !ok {
			return fmt.Errorf("score label %q matches no section of assessment %d",
				score.Label, plan.Assessment.ID)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO section_marks (submission_id, section_id, mark, max_mark, feedback)
			 VALUES ($1, $2, $3, $4, $5)`,
			submissionID, sectionID, score.Mark, score.MaxMark, score.Feedback)
		if err != nil {
			return fmt.Errorf("insert section mark %q: %w", score.Label, err)
		}
	}
	return nil
}

// MatchSection resolves a warehouse score label to a configured section by
// prefix match, first match in section order.
func MatchSection(sections []Section, label string) (int64, bool) {
	label = strings.TrimSpace(label)
	for _, sec := range sections {
		if strings.HasPrefix(label, strings.TrimSpace(sec.Label)) {
			return sec.ID, true
		}
	}
	return 0, false
}

// upsertEnforcement records the attempt restriction implied by a malpractice
// finding, idempotently per student+assessment+context.
func (s *Store) upsertEnforcement(ctx context.Context, tx pgx.Tx, plan *transform.Plan) error {
	maxFurther := plan.Malpractice.MaxFurtherAttempts()
	_, err := tx.Exec(ctx,
		`INSERT INTO enforcements (learner_email, assessment_id, context_id,
		                           malpractice_level_id, max_further_attempts, created_by)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (learner_email, assessment_id, context_id)
		 DO UPDATE SET malpractice_level_id = EXCLUDED.malpractice_level_id,
		               max_further_attempts = EXCLUDED.max_further_attempts,
		               updated_by = EXCLUDED.created_by`,
		plan.Record.LearnerEmail, plan.Assessment.ID, plan.ContextID,
		plan.Malpractice.ID, maxFurther, s.systemActorID)
	if err != nil {
		return fmt.Errorf("upsert enforcement: %w", err)
	}
	return nil
}
