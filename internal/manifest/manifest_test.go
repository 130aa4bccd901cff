package manifest

import (
	"strings"
	"testing"
)

const manifestHeader = "AttemptId,LearnerName,LearnerEmail,CourseTitle,LearnerFileUrls,MarkerFileUrls\n"

func TestParseManifest(t *testing.T) {
	input := manifestHeader +
		`A-100,Jane Doe,jane@example.org,People Practice,https://legacy-files.openmark.io/a.docx;https://legacy-files.openmark.io/b.docx,https://legacy-files.openmark.io/fb.pdf` + "\n" +
		`A-101,John Roe,john@example.org,People Practice,,` + "\n"

	m, err := ParseManifest(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if len(m.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(m.Records))
	}
	rec := m.Records[0]
	if rec.AttemptID != "A-100" {
		t.Fatalf("first record is %q", rec.AttemptID)
	}
	if len(rec.LearnerFileURLs) != 2 {
		t.Errorf("expected 2 learner URLs, got %d", len(rec.LearnerFileURLs))
	}
	if len(rec.MarkerFileURLs) != 1 {
		t.Errorf("expected 1 marker URL, got %d", len(rec.MarkerFileURLs))
	}
	if rec.LearnerName != "Jane Doe" {
		t.Errorf("unexpected learner name %q", rec.LearnerName)
	}
	if got := m.Records[1]; got.AttemptID != "A-101" || got.LearnerFileURLs != nil {
		t.Errorf("A-101 should parse with no URLs, got %v", got.LearnerFileURLs)
	}
}

func TestParseManifestQuotedFields(t *testing.T) {
	// Field containing a comma and an embedded escaped quote.
	input := manifestHeader +
		`A-1,"He said, ""hi""",x@example.org,Course,,` + "\n"

	m, err := ParseManifest(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	rec := m.Records[0]
	if rec.LearnerName != `He said, "hi"` {
		t.Errorf("quoted field parsed as %q", rec.LearnerName)
	}
	// The raw row must round-trip losslessly into the failure log.
	if rec.Row()[1] != `He said, "hi"` {
		t.Errorf("raw row holds %q", rec.Row()[1])
	}
}

func TestParseManifestEmpty(t *testing.T) {
	if _, err := ParseManifest(strings.NewReader("")); err == nil {
		t.Error("expected error for empty manifest")
	}
	if _, err := ParseManifest(strings.NewReader(manifestHeader)); err == nil {
		t.Error("expected error for header-only manifest")
	}
}

func TestParseManifestMissingColumn(t *testing.T) {
	input := "AttemptId,LearnerName\nA-1,Jane\n"
	if _, err := ParseManifest(strings.NewReader(input)); err == nil {
		t.Error("expected error for missing columns")
	}
}

func TestParseAttemptMappings(t *testing.T) {
	input := "AttemptId,UnitCode,UnitCodeVersion,AssessmentId,SubmissionLabel\n" +
		"A-100,3CO02,3CO02-24,ASSESS-7,Attempt 2\n" +
		"A-101,7CO02,7CO02-23,ASSESS-9,Attempt 1\n"

	mappings, err := ParseAttemptMappings(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseAttemptMappings: %v", err)
	}
	mp, ok := mappings["A-100"]
	if !ok {
		t.Fatal("A-100 missing")
	}
	if mp.UnitCodeVersion != "3CO02-24" || mp.SubmissionLabel != "Attempt 2" {
		t.Errorf("unexpected mapping %+v", mp)
	}
}

func TestParseAttemptMappingsEmpty(t *testing.T) {
	if _, err := ParseAttemptMappings(strings.NewReader("")); err == nil {
		t.Error("expected error for empty mapping file")
	}
}
