package transform

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/openmark/migrate-core/internal/manifest"
	"github.com/openmark/migrate-core/internal/refdata"
	"github.com/openmark/migrate-core/internal/warehouse"
)

type stubWarehouse struct {
	report *warehouse.Report
	scores []warehouse.Score
	err    error
	calls  int
}

func (s *stubWarehouse) FetchAttempt(ctx context.Context, attemptID string) (*warehouse.Report, []warehouse.Score, error) {
	s.calls++
	return s.report, s.scores, s.err
}

type stubProbe struct {
	migrated bool
	err      error
	calls    int
}

func (s *stubProbe) AlreadyMigrated(ctx context.Context, attemptID string) (bool, error) {
	s.calls++
	return s.migrated, s.err
}

func ns(v string) sql.NullString { return sql.NullString{String: v, Valid: true} }

func nf(v float64) sql.NullFloat64 { return sql.NullFloat64{Float64: v, Valid: true} }

func validReport(grade string) *warehouse.Report {
	return &warehouse.Report{
		AttemptID:       "A-100",
		ExerciseName:    ns("3CO02 Principles of analytics"),
		SectionID:       ns("SEC-55"),
		ModuleSectionID: ns("MOD-9"),
		Marks:           nf(34),
		MarksAvailable:  nf(40),
		GradePercent:    nf(85),
		Grade:           ns(grade),
		InsertedAt:      sql.NullTime{Time: time.Date(2024, 11, 2, 9, 0, 0, 0, time.UTC), Valid: true},
	}
}

func testCatalog() *refdata.Catalog {
	return &refdata.Catalog{
		Assessments: []refdata.Assessment{
			{ID: 1, Name: "3CO02 Principles of analytics 24SEP", Code: "3CO02"},
			{ID: 2, Name: "7CO02 People management 24SEP", Code: "7CO02"},
		},
		MalpracticeLevels: []refdata.MalpracticeLevel{
			{ID: 10, Label: "Moderate", SortOrder: 1},
			{ID: 11, Label: "Serious", SortOrder: 2},
			{ID: 12, Label: "Severe", SortOrder: 3},
		},
		SystemActorID: 99,
	}
}

func testMapping() manifest.AttemptMapping {
	return manifest.AttemptMapping{
		AttemptID:       "A-100",
		UnitCode:        "3CO02",
		UnitCodeVersion: "24SEP",
		AssessmentID:    "LEGACY-7",
		SubmissionLabel: "Attempt 2",
	}
}

func newTransformer(wh *stubWarehouse, probe *stubProbe, mapping manifest.AttemptMapping) *Transformer {
	return &Transformer{
		Mappings:       map[string]manifest.AttemptMapping{mapping.AttemptID: mapping},
		Catalog:        testCatalog(),
		Warehouse:      wh,
		Probe:          probe,
		CohortPrefixes: []string{"24"},
	}
}

func record() manifest.InputRecord {
	return manifest.InputRecord{AttemptID: "A-100", LearnerName: "Jane Doe"}
}

func TestTransformAccepted(t *testing.T) {
	wh := &stubWarehouse{report: validReport("Pass")}
	tr := newTransformer(wh, &stubProbe{}, testMapping())

	res := tr.Transform(context.Background(), record())
	if res.Plan == nil {
		t.Fatalf("expected plan, got skip=%q fail=%q", res.SkipReason, res.FailReason)
	}
	p := res.Plan
	if p.Assessment.ID != 1 {
		t.Errorf("resolved assessment %d, want 1", p.Assessment.ID)
	}
	if p.AttemptNumber != 2 {
		t.Errorf("attempt number %d, want 2", p.AttemptNumber)
	}
	if p.Grade != "Pass" {
		t.Errorf("grade %q, want Pass", p.Grade)
	}
	if !strings.HasPrefix(p.CorrelationID, CorrelationPrefix("A-100")) {
		t.Errorf("correlation id %q lacks prefix", p.CorrelationID)
	}
	if !strings.HasSuffix(p.ContextID, "_SEC-55") {
		t.Errorf("context id %q lacks section id", p.ContextID)
	}
	if p.Malpractice != nil {
		t.Errorf("unexpected malpractice level %+v", p.Malpractice)
	}
}

func TestTransformMissingMapping(t *testing.T) {
	tr := newTransformer(&stubWarehouse{}, &stubProbe{}, testMapping())
	res := tr.Transform(context.Background(), manifest.InputRecord{AttemptID: "A-999"})
	if !res.Failed() || !strings.Contains(res.FailReason, "mapping") {
		t.Errorf("expected mapping failure, got %+v", res)
	}
}

func TestTransformMissingVersion(t *testing.T) {
	mp := testMapping()
	mp.UnitCodeVersion = ""
	tr := newTransformer(&stubWarehouse{}, &stubProbe{}, mp)
	res := tr.Transform(context.Background(), record())
	if !res.Failed() || !strings.Contains(res.FailReason, "version") {
		t.Errorf("expected version failure, got %+v", res)
	}
}

func TestTransformCohortSkipShortCircuits(t *testing.T) {
	mp := testMapping()
	mp.UnitCodeVersion = "23SEP"
	wh := &stubWarehouse{}
	probe := &stubProbe{}
	tr := newTransformer(wh, probe, mp)

	res := tr.Transform(context.Background(), record())
	if !res.Skipped() {
		t.Fatalf("expected skip, got %+v", res)
	}
	if wh.calls != 0 {
		t.Errorf("warehouse queried %d times for a filtered record", wh.calls)
	}
	if probe.calls != 0 {
		t.Errorf("destination probed %d times for a filtered record", probe.calls)
	}
}

func TestTransformMissingLabel(t *testing.T) {
	mp := testMapping()
	mp.SubmissionLabel = ""
	tr := newTransformer(&stubWarehouse{}, &stubProbe{}, mp)
	res := tr.Transform(context.Background(), record())
	if !res.Failed() || !strings.Contains(res.FailReason, "submission label") {
		t.Errorf("expected label failure, got %+v", res)
	}
}

func TestTransformAlreadyMigratedSkips(t *testing.T) {
	wh := &stubWarehouse{report: validReport("Pass")}
	tr := newTransformer(wh, &stubProbe{migrated: true}, testMapping())
	res := tr.Transform(context.Background(), record())
	if !res.Skipped() || !strings.Contains(res.SkipReason, "already migrated") {
		t.Fatalf("expected already-migrated skip, got %+v", res)
	}
	if wh.calls != 0 {
		t.Errorf("warehouse queried %d times for an already-migrated record", wh.calls)
	}
}

func TestTransformNoWarehouseRecord(t *testing.T) {
	tr := newTransformer(&stubWarehouse{}, &stubProbe{}, testMapping())
	res := tr.Transform(context.Background(), record())
	if !res.Failed() || !strings.Contains(res.FailReason, "no warehouse record") {
		t.Errorf("expected warehouse failure, got %+v", res)
	}
}

func TestTransformMissingWarehouseFieldIsNamed(t *testing.T) {
	rep := validReport("Pass")
	rep.GradePercent = sql.NullFloat64{}
	tr := newTransformer(&stubWarehouse{report: rep}, &stubProbe{}, testMapping())
	res := tr.Transform(context.Background(), record())
	if !res.Failed() || !strings.Contains(res.FailReason, "grade_percent") {
		t.Errorf("expected grade_percent failure, got %+v", res)
	}
}

func TestTransformNoAssessmentMatch(t *testing.T) {
	rep := validReport("Pass")
	rep.ExerciseName = ns("9ZZ99 Unknown exercise")
	tr := newTransformer(&stubWarehouse{report: rep}, &stubProbe{}, testMapping())
	res := tr.Transform(context.Background(), record())
	if !res.Failed() || !strings.Contains(res.FailReason, "no assessment matches") {
		t.Errorf("expected assessment failure, got %+v", res)
	}
}

func TestTransformAmbiguousAssessmentTakesFirst(t *testing.T) {
	wh := &stubWarehouse{report: validReport("Pass")}
	tr := newTransformer(wh, &stubProbe{}, testMapping())
	tr.Catalog.Assessments = append(tr.Catalog.Assessments,
		refdata.Assessment{ID: 5, Name: "3CO02 Principles of analytics retake 24SEP", Code: "3CO02"})

	res := tr.Transform(context.Background(), record())
	if res.Plan == nil {
		t.Fatalf("expected plan, got %+v", res)
	}
	if res.Plan.Assessment.ID != 1 {
		t.Errorf("ambiguous match resolved to %d, want first (1)", res.Plan.Assessment.ID)
	}
}

func TestTransformBadOrdinal(t *testing.T) {
	mp := testMapping()
	mp.SubmissionLabel = "Resubmission"
	tr := newTransformer(&stubWarehouse{report: validReport("Pass")}, &stubProbe{}, mp)
	res := tr.Transform(context.Background(), record())
	if !res.Failed() || !strings.Contains(res.FailReason, "attempt number") {
		t.Errorf("expected ordinal failure, got %+v", res)
	}
}

func TestTransformGradeMissed(t *testing.T) {
	tr := newTransformer(&stubWarehouse{report: validReport("Grade Missed")}, &stubProbe{}, testMapping())
	res := tr.Transform(context.Background(), record())
	if !res.Failed() || !strings.Contains(res.FailReason, "never graded") {
		t.Errorf("expected grade-missed failure, got %+v", res)
	}
}

func TestTransformMalpractice(t *testing.T) {
	tr := newTransformer(&stubWarehouse{report: validReport("Malpractice Severe")}, &stubProbe{}, testMapping())
	res := tr.Transform(context.Background(), record())
	if res.Plan == nil {
		t.Fatalf("expected plan, got %+v", res)
	}
	if res.Plan.Malpractice == nil || res.Plan.Malpractice.Label != "Severe" {
		t.Fatalf("expected Severe level, got %+v", res.Plan.Malpractice)
	}
	if res.Plan.Grade != "Refer" {
		t.Errorf("malpractice grade %q, want Refer", res.Plan.Grade)
	}
	if res.Plan.Malpractice.MaxFurtherAttempts() != 0 {
		t.Errorf("Severe allows %d further attempts, want 0", res.Plan.Malpractice.MaxFurtherAttempts())
	}
}

func TestTransformMalpracticeUnknownLevel(t *testing.T) {
	tr := newTransformer(&stubWarehouse{report: validReport("Malpractice Mild")}, &stubProbe{}, testMapping())
	res := tr.Transform(context.Background(), record())
	if !res.Failed() || !strings.Contains(res.FailReason, "not in catalogue") {
		t.Errorf("expected malpractice level failure, got %+v", res)
	}
}

func TestMapGrade(t *testing.T) {
	cases := []struct {
		raw, code, want string
		wantErr         bool
	}{
		{"Pass", "3CO02", "Pass", false},
		{"Fail", "5CO01", "Refer", false},
		{"Pass", "7CO02", "Low Pass", false},
		{"Merit", "7CO02", "Pass", false},
		{"Distinction", "7CO02", "High Pass", false},
		{"Pass", "XX999", "Pass", false},
		{"Grade Missed", "3CO02", "", true},
		{"Grade Missed", "7CO02", "", true},
	}
	for _, tc := range cases {
		got, err := MapGrade(tc.raw, tc.code)
		if tc.wantErr {
			if err == nil {
				t.Errorf("MapGrade(%q, %q) expected error", tc.raw, tc.code)
			}
			continue
		}
		if err != nil {
			t.Errorf("MapGrade(%q, %q): %v", tc.raw, tc.code, err)
			continue
		}
		if got != tc.want {
			t.Errorf("MapGrade(%q, %q) = %q, want %q", tc.raw, tc.code, got, tc.want)
		}
	}
}

func TestIsMalpractice(t *testing.T) {
	if word, ok := IsMalpractice("Malpractice Severe"); !ok || word != "Severe" {
		t.Errorf("got (%q, %v)", word, ok)
	}
	if word, ok := IsMalpractice("malpractice moderate"); !ok || word != "moderate" {
		t.Errorf("case-insensitive detection failed: (%q, %v)", word, ok)
	}
	if _, ok := IsMalpractice("Pass"); ok {
		t.Error("Pass detected as malpractice")
	}
	if word, ok := IsMalpractice("Malpractice"); !ok || word != "" {
		t.Errorf("keyword-only text: (%q, %v)", word, ok)
	}
}
