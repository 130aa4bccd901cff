package transform

import (
	"fmt"
	"strings"
)

// GradeMissed is the warehouse sentinel for an attempt whose grade was never
// recorded. It always fails mapping rather than silently passing through.
const GradeMissed = "Grade Missed"

// malpracticeKeyword opens every malpractice grade text; the second token is
// the level word ("Malpractice Severe").
const malpracticeKeyword = "malpractice"

// Foundation and associate level qualifications (codes 3/4/5) keep the
// warehouse grade scale apart from the failing grade.
var gradeMap345 = map[string]string{
	"Fail":        "Refer",
	"Pass":        "Pass",
	"Merit":       "Merit",
	"Distinction": "Distinction",
}

// Advanced level qualifications (codes 7) were regraded onto the destination
// scale during the platform change.
var gradeMap7 = map[string]string{
	"Fail":        "Refer",
	"Pass":        "Low Pass",
	"Merit":       "Pass",
	"Distinction": "High Pass",
}

// MapGrade maps a raw warehouse grade token onto the destination label for
// the given assessment code. Pure: the result depends only on the token and
// the code's first character.
func MapGrade(raw, assessmentCode string) (string, error) {
	raw = strings.TrimSpace(raw)
	if strings.EqualFold(raw, GradeMissed) {
		return "", fmt.Errorf("grade is %q: the attempt was never graded", GradeMissed)
	}
	table := gradeTable(assessmentCode)
	if table == nil {
		return raw, nil
	}
	if mapped, ok := table[raw]; ok {
		return mapped, nil
	}
	return raw, nil
}

// ReferLabel returns the failing destination label for an assessment code.
// A malpractice finding forces this label regardless of marks.
func ReferLabel(assessmentCode string) string {
	if table := gradeTable(assessmentCode); table != nil {
		if label, ok := table["Fail"]; ok {
			return label
		}
	}
	return "Refer"
}

// IsMalpractice reports whether a grade text records a malpractice finding,
// and if so returns the level word (second whitespace token).
func IsMalpractice(gradeText string) (string, bool) {
	fields := strings.Fields(gradeText)
	if len(fields) == 0 || !strings.EqualFold(fields[0], malpracticeKeyword) {
		return "", false
	}
	if len(fields) < 2 {
		return "", true
	}
	return fields[1], true
}

func gradeTable(assessmentCode string) map[string]string {
	if assessmentCode == "" {
		return nil
	}
	switch assessmentCode[0] {
	case '3', '4', '5':
		return gradeMap345
	case '7':
		return gradeMap7
	default:
		return nil
	}
}
