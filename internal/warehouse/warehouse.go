// Package warehouse reads historical attempt results from the legacy SQL
// warehouse. Reports and scores are fetched fresh per attempt inside each
// executor; nothing here is cached.
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/microsoft/go-mssqldb" // sqlserver driver
	"golang.org/x/time/rate"
)

const (
	// Connection establishment retries before the run aborts.
	connectRetries = 5
	connectBackoff = 5 * time.Second

	queryTimeout = 30 * time.Second
)

// Report is the single result row the warehouse holds for one attempt.
// Nullable columns stay nullable here; the transformer decides which of them
// are required.
type Report struct {
	AttemptID       string
	ExerciseName    sql.NullString
	SectionID       sql.NullString
	ModuleSectionID sql.NullString
	// COALESCE(marks_achieved, marks_awarded); the warehouse filled one or
	// the other depending on the marking route.
	Marks          sql.NullFloat64
	MarksAvailable sql.NullFloat64
	GradePercent   sql.NullFloat64
	Grade          sql.NullString
	MarkerNotes    sql.NullString
	InsertedAt     sql.NullTime
}

// Score is one per-section score row for an attempt.
type Score struct {
	Label    string
	Mark     float64
	MaxMark  float64
	Feedback sql.NullString
}

// Options bound the client's connection and query behaviour.
type Options struct {
	// MaxConns should be sized executors x per-executor limit so the pool
	// never exceeds the remote warehouse's connection budget.
	MaxConns int
	// QueriesPerSecond caps the aggregate query rate across executors.
	QueriesPerSecond float64
}

// Client is a shared, pool-backed warehouse handle. Safe for concurrent use.
type Client struct {
	db      *sql.DB
	limiter *rate.Limiter
}

// Open connects to the warehouse, retrying a bounded number of times with a
// fixed backoff. Exhausting the retries is a startup failure, not a
// per-record one.
func Open(ctx context.Context, dsn string, opts Options) (*Client, error) {
	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("open warehouse: %w", err)
	}
	if opts.MaxConns > 0 {
		db.SetMaxOpenConns(opts.MaxConns)
		db.SetMaxIdleConns(opts.MaxConns)
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	var pingErr error
	for attempt := 1; attempt <= connectRetries; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, queryTimeout)
		pingErr = db.PingContext(pingCtx)
		cancel()
		if pingErr == nil {
			break
		}
		log.Printf("warehouse connect attempt %d/%d failed: %v", attempt, connectRetries, pingErr)
		if attempt < connectRetries {
			select {
			case <-time.After(connectBackoff):
			case <-ctx.Done():
				db.Close()
				return nil, ctx.Err()
			}
		}
	}
	if pingErr != nil {
		db.Close()
		return nil, fmt.Errorf("warehouse unreachable after %d attempts: %w", connectRetries, pingErr)
	}

	qps := opts.QueriesPerSecond
	if qps <= 0 {
		qps = 20
	}
	return &Client{
		db:      db,
		limiter: rate.NewLimiter(rate.Limit(qps), 1),
	}, nil
}

// Close releases the underlying pool.
func (c *Client) Close() error { return c.db.Close() }

// FetchAttempt returns the report row and score rows for one attempt. A nil
// report means the warehouse has no record of the attempt. When the
// warehouse unexpectedly holds several report rows only the first is used.
func (c *Client) FetchAttempt(ctx context.Context, attemptID string) (*Report, []Score, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := c.db.QueryContext(ctx, `
		SELECT attempt_id, exercise_name, section_id, module_section_id,
		       COALESCE(marks_achieved, marks_awarded), marks_available,
		       grade_percent, grade, marker_notes, inserted_at
		  FROM attempt_reports
		 WHERE attempt_id = @p1
		 ORDER BY inserted_at`, attemptID)
	if err != nil {
		return nil, nil, fmt.Errorf("query report for attempt %s: %w", attemptID, err)
	}
	defer rows.Close()

	var report *Report
	count := 0
	for rows.Next() {
		count++
		if report != nil {
			continue
		}
		r := &Report{}
		if err := rows.Scan(&r.AttemptID, &r.ExerciseName, &r.SectionID, &r.ModuleSectionID,
			&r.Marks, &r.MarksAvailable, &r.GradePercent, &r.Grade, &r.MarkerNotes, &r.InsertedAt); err != nil {
			return nil, nil, fmt.Errorf("scan report for attempt %s: %w", attemptID, err)
		}
		report = r
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("read report rows for attempt %s: %w", attemptID, err)
	}
	if report == nil {
		return nil, nil, nil
	}
	if count > 1 {
		log.Printf("attempt %s: %d report rows in warehouse, using the first", attemptID, count)
	}

	scores, err := c.fetchScores(ctx, attemptID)
	if err != nil {
		return nil, nil, err
	}
	return report, scores, nil
}

func (c *Client) fetchScores(ctx context.Context, attemptID string) ([]Score, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT section_label, mark, max_mark, feedback
		  FROM attempt_scores
		 WHERE attempt_id = @p1
		 ORDER BY section_label`, attemptID)
	if err != nil {
		return nil, fmt.Errorf("query scores for attempt %s: %w", attemptID, err)
	}
	defer rows.Close()

	var scores []Score
	for rows.Next() {
		var s Score
		if err := rows.Scan(&s.Label, &s.Mark, &s.MaxMark, &s.Feedback); err != nil {
			return nil, fmt.Errorf("scan score for attempt %s: %w", attemptID, err)
		}
		scores = append(scores, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read score rows for attempt %s: %w", attemptID, err)
	}
	return scores, nil
}
