package refdata

import "testing"

func testCatalog() *Catalog {
	return &Catalog{
		Assessments: []Assessment{
			{ID: 1, Name: "3CO02 Principles of analytics (3CO02-24)", Code: "3CO02"},
			{ID: 2, Name: "3CO02 Principles of analytics (3CO02-25)", Code: "3CO02"},
			{ID: 3, Name: "7CO02 People management (7CO02-24)", Code: "7CO02"},
		},
		MalpracticeLevels: []MalpracticeLevel{
			{ID: 10, Label: "Moderate", SortOrder: 1},
			{ID: 11, Label: "Serious", SortOrder: 2},
			{ID: 12, Label: "Severe", SortOrder: 3},
		},
		SystemActorID: 99,
	}
}

func TestMatchAssessments(t *testing.T) {
	cat := testCatalog()

	got := cat.MatchAssessments("3CO02 Principles", "(3CO02-24)")
	if len(got) != 1 || got[0].ID != 1 {
		t.Errorf("expected assessment 1, got %+v", got)
	}
	if got := cat.MatchAssessments("9ZZ99 Nope", "(3CO02-24)"); len(got) != 0 {
		t.Errorf("expected no match, got %+v", got)
	}
}

func TestMatchMalpracticeLevels(t *testing.T) {
	cat := testCatalog()
	got := cat.MatchMalpracticeLevels("  Severe ")
	if len(got) != 1 || got[0].ID != 12 {
		t.Errorf("expected level 12, got %+v", got)
	}
	if got := cat.MatchMalpracticeLevels("Mild"); len(got) != 0 {
		t.Errorf("expected no match, got %+v", got)
	}
}

func TestMaxFurtherAttempts(t *testing.T) {
	cases := []struct {
		label string
		want  int
	}{
		{"Severe", 0},
		{"Serious", 1},
		{"Moderate", FullAttemptQuota},
		{"Minor", FullAttemptQuota},
	}
	for _, tc := range cases {
		l := MalpracticeLevel{Label: tc.label}
		if got := l.MaxFurtherAttempts(); got != tc.want {
			t.Errorf("MaxFurtherAttempts(%s) = %d, want %d", tc.label, got, tc.want)
		}
	}
}
