// Package transform validates one input record against the reference data and
// the warehouse, and derives everything the writer needs. Every rule
// short-circuits in a fixed order, and every failure names the offending
// field so the failure log is actionable on its own.
package transform

import (
	"context"
	"log"
	"regexp"
	"strconv"
	"strings"

	"github.com/openmark/migrate-core/internal/manifest"
	"github.com/openmark/migrate-core/internal/refdata"
	"github.com/openmark/migrate-core/internal/warehouse"
)

// Warehouse is the slice of the warehouse client the transformer needs.
type Warehouse interface {
	FetchAttempt(ctx context.Context, attemptID string) (*warehouse.Report, []warehouse.Score, error)
}

// DestinationProbe checks whether an attempt already exists in the
// destination, keyed by the deterministic correlation-id prefix.
type DestinationProbe interface {
	AlreadyMigrated(ctx context.Context, attemptID string) (bool, error)
}

// Transformer holds the immutable per-run inputs shared by all executors.
type Transformer struct {
	Mappings       map[string]manifest.AttemptMapping
	Catalog        *refdata.Catalog
	Warehouse      Warehouse
	Probe          DestinationProbe
	CohortPrefixes []string
}

var attemptOrdinalRe = regexp.MustCompile(`(?i)attempt\s*(\d+)`)

// Transform runs the rule chain for one record. Cohort filtering happens
// before any network call; the destination probe happens before the
// warehouse fetch so a re-run skips cheaply.
func (t *Transformer) Transform(ctx context.Context, rec manifest.InputRecord) Result {
	mapping, ok := t.Mappings[rec.AttemptID]
	if !ok {
		return fail("no attempt mapping for attempt %s", rec.AttemptID)
	}
	if mapping.UnitCodeVersion == "" {
		return fail("attempt %s: unit code version is missing", rec.AttemptID)
	}
	if !t.cohortEligible(mapping.UnitCodeVersion) {
		return skip("attempt %s: unit code version %s is outside this migration pass",
			rec.AttemptID, mapping.UnitCodeVersion)
	}
	if mapping.SubmissionLabel == "" {
		return fail("attempt %s: submission label is missing", rec.AttemptID)
	}

	done, err := t.Probe.AlreadyMigrated(ctx, rec.AttemptID)
	if err != nil {
		return fail("attempt %s: destination check failed: %v", rec.AttemptID, err)
	}
	if done {
		return skip("attempt %s: already migrated", rec.AttemptID)
	}

	report, scores, err := t.Warehouse.FetchAttempt(ctx, rec.AttemptID)
	if err != nil {
		return fail("attempt %s: warehouse fetch failed: %v", rec.AttemptID, err)
	}
	if report == nil {
		return fail("attempt %s: no warehouse record", rec.AttemptID)
	}
	if field := missingReportField(report); field != "" {
		return fail("attempt %s: warehouse field %s is missing", rec.AttemptID, field)
	}

	assessment, res := t.resolveAssessment(rec.AttemptID, report.ExerciseName.String, mapping.UnitCodeVersion)
	if res != nil {
		return *res
	}

	m := attemptOrdinalRe.FindStringSubmatch(mapping.SubmissionLabel)
	if m == nil {
		return fail("attempt %s: submission label %q has no attempt number",
			rec.AttemptID, mapping.SubmissionLabel)
	}
	attemptNumber, _ := strconv.Atoi(m[1])

	gradeText := strings.TrimSpace(report.Grade.String)
	if strings.EqualFold(gradeText, GradeMissed) {
		return fail("attempt %s: grade is %q, the attempt was never graded", rec.AttemptID, GradeMissed)
	}

	var destGrade string
	var level *refdata.MalpracticeLevel
	if word, isMal := IsMalpractice(gradeText); isMal {
		if word == "" {
			return fail("attempt %s: malpractice grade %q has no level word", rec.AttemptID, gradeText)
		}
		matches := t.Catalog.MatchMalpracticeLevels(word)
		if len(matches) == 0 {
			return fail("attempt %s: malpractice level %q not in catalogue", rec.AttemptID, word)
		}
		if len(matches) > 1 {
			// First-match behaviour kept for parity with the legacy job; the
			// catalogue should not contain duplicate labels.
			log.Printf("attempt %s: %d malpractice levels match %q, using %d",
				rec.AttemptID, len(matches), word, matches[0].ID)
		}
		level = &matches[0]
		destGrade = ReferLabel(assessment.Code)
	} else {
		destGrade, err = MapGrade(gradeText, assessment.Code)
		if err != nil {
			return fail("attempt %s: %v", rec.AttemptID, err)
		}
	}

	return Result{Plan: &Plan{
		Record:        rec,
		Mapping:       mapping,
		Assessment:    assessment,
		AttemptNumber: attemptNumber,
		CorrelationID: NewCorrelationID(rec.AttemptID),
		ContextID:     ContextID(report.SectionID.String),
		Grade:         destGrade,
		Malpractice:   level,
		Report:        report,
		Scores:        scores,
	}}
}

func (t *Transformer) cohortEligible(version string) bool {
	for _, prefix := range t.CohortPrefixes {
		if strings.HasPrefix(version, prefix) {
			return true
		}
	}
	return false
}

// resolveAssessment derives the name prefix from the first two tokens of the
// exercise name and matches it against the catalogue.
func (t *Transformer) resolveAssessment(attemptID, exerciseName, version string) (refdata.Assessment, *Result) {
	tokens := strings.Fields(exerciseName)
	if len(tokens) < 2 {
		r := fail("attempt %s: exercise name %q is too short to derive an assessment prefix",
			attemptID, exerciseName)
		return refdata.Assessment{}, &r
	}
	prefix := tokens[0] + " " + tokens[1]

	matches := t.Catalog.MatchAssessments(prefix, version)
	if len(matches) == 0 {
		r := fail("attempt %s: no assessment matches prefix %q with version %s",
			attemptID, prefix, version)
		return refdata.Assessment{}, &r
	}
	if len(matches) > 1 {
		// First-match behaviour kept for parity with the legacy job.
		log.Printf("attempt %s: %d assessments match prefix %q version %s, using %d",
			attemptID, len(matches), prefix, version, matches[0].ID)
	}
	return matches[0], nil
}

// missingReportField returns the name of the first required warehouse field
// that is null or blank, or "" when all are present.
func missingReportField(r *warehouse.Report) string {
	switch {
	case !r.ExerciseName.Valid || strings.TrimSpace(r.ExerciseName.String) == "":
		return "exercise_name"
	case !r.SectionID.Valid || strings.TrimSpace(r.SectionID.String) == "":
		return "section_id"
	case !r.ModuleSectionID.Valid || strings.TrimSpace(r.ModuleSectionID.String) == "":
		return "module_section_id"
	case !r.Marks.Valid:
		return "marks"
	case !r.MarksAvailable.Valid:
		return "marks_available"
	case !r.GradePercent.Valid:
		return "grade_percent"
	case !r.InsertedAt.Valid:
		return "inserted_at"
	case !r.Grade.Valid || strings.TrimSpace(r.Grade.String) == "":
		return "grade"
	}
	return ""
}
