// Package refdata loads the slowly-changing lookup sets the pipeline needs:
// the assessment catalogue, the active malpractice levels and the system
// actor used to attribute automated enforcement actions. Loaded once at
// startup and shared read-only by every executor.
package refdata

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Assessment is one catalogue entry of the destination platform.
type Assessment struct {
	ID   int64
	Name string
	Code string
}

// MalpracticeLevel is one active malpractice-level definition.
type MalpracticeLevel struct {
	ID        int64
	Label     string
	SortOrder int
}

// FullAttemptQuota is the standard number of submission attempts a learner is
// entitled to when no enforcement restricts them.
const FullAttemptQuota = 3

// MaxFurtherAttempts returns the attempt allowance implied by this level's
// severity tier.
func (l MalpracticeLevel) MaxFurtherAttempts() int {
	switch {
	case strings.EqualFold(l.Label, "Severe"):
		return 0
	case strings.EqualFold(l.Label, "Serious"):
		return 1
	default:
		return FullAttemptQuota
	}
}

// Catalog is the immutable reference snapshot for one run.
type Catalog struct {
	Assessments       []Assessment
	MalpracticeLevels []MalpracticeLevel
	SystemActorID     int64
}

// Load fetches the reference snapshot. Zero system-actor candidates is a
// deployment precondition failure and aborts the run.
func Load(ctx context.Context, pool *pgxpool.Pool) (*Catalog, error) {
	cat := &Catalog{}

	rows, err := pool.Query(ctx,
		`SELECT id, name, code FROM assessments ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("load assessments: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var a Assessment
		if err := rows.Scan(&a.ID, &a.Name, &a.Code); err != nil {
			return nil, fmt.Errorf("scan assessment: %w", err)
		}
		cat.Assessments = append(cat.Assessments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load assessments: %w", err)
	}

	lvls, err := pool.Query(ctx,
		`SELECT id, label, sort_order FROM malpractice_levels WHERE active ORDER BY sort_order, id`)
	if err != nil {
		return nil, fmt.Errorf("load malpractice levels: %w", err)
	}
	defer lvls.Close()
	for lvls.Next() {
		var l MalpracticeLevel
		if err := lvls.Scan(&l.ID, &l.Label, &l.SortOrder); err != nil {
			return nil, fmt.Errorf("scan malpractice level: %w", err)
		}
		cat.MalpracticeLevels = append(cat.MalpracticeLevels, l)
	}
	if err := lvls.Err(); err != nil {
		return nil, fmt.Errorf("load malpractice levels: %w", err)
	}

	err = pool.QueryRow(ctx,
		`SELECT u.id
		   FROM users u
		   JOIN user_roles r ON r.user_id = u.id
		  WHERE r.role_name = 'system'
		  ORDER BY u.id
		  LIMIT 1`).Scan(&cat.SystemActorID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("no system actor found: the destination must have at least one user with the system role")
	}
	if err != nil {
		return nil, fmt.Errorf("resolve system actor: %w", err)
	}

	return cat, nil
}

// MatchAssessments returns every assessment whose name starts with prefix and
// ends with the cohort-version suffix, in catalogue order.
func (c *Catalog) MatchAssessments(prefix, versionSuffix string) []Assessment {
	var out []Assessment
	for _, a := range c.Assessments {
		if strings.HasPrefix(a.Name, prefix) && strings.HasSuffix(a.Name, versionSuffix) {
			out = append(out, a)
		}
	}
	return out
}

// MatchMalpracticeLevels returns every level whose label equals word after
// trimming, in sort order.
func (c *Catalog) MatchMalpracticeLevels(word string) []MalpracticeLevel {
	word = strings.TrimSpace(word)
	var out []MalpracticeLevel
	for _, l := range c.MalpracticeLevels {
		if strings.TrimSpace(l.Label) == word {
			out = append(out, l)
		}
	}
	return out
}
