// Package manifest parses the two flat inputs of a migration run: the
// submission-file manifest exported from the legacy system and the
// attempt-to-course mapping table.
package manifest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// InputRecord is one manifest row. Immutable once parsed; the raw row is
// retained verbatim for the failure log.
type InputRecord struct {
	AttemptID    string
	LearnerName  string
	LearnerEmail string
	CourseTitle  string
	// Blob URLs, in manifest order.
	LearnerFileURLs []string
	MarkerFileURLs  []string

	raw []string
}

// Row returns the original manifest row for this record.
func (r InputRecord) Row() []string { return r.raw }

// AttemptMapping is one row of the attempt-to-course table.
type AttemptMapping struct {
	AttemptID       string
	UnitCode        string
	UnitCodeVersion string
	AssessmentID    string
	// Free text, encodes the attempt ordinal ("Attempt 2").
	SubmissionLabel string
}

// Manifest holds the parsed manifest rows in file order.
type Manifest struct {
	Header  []string
	Records []InputRecord
}

const urlListSep = ";"

// ParseManifest reads the submission-file manifest. The whole run fails on an
// empty source or an unusable header; malformed quoting inside a row is a
// parse error too since the exporter emits strict RFC-4180 output.
func ParseManifest(r io.Reader) (*Manifest, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("manifest is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest header: %w", err)
	}
	if len(header) == 0 {
		return nil, fmt.Errorf("manifest header has zero columns")
	}

	idx, err := headerIndex(header,
		"AttemptId", "LearnerName", "LearnerEmail", "CourseTitle",
		"LearnerFileUrls", "MarkerFileUrls")
	if err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}

	m := &Manifest{Header: header}
	line := 1
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read manifest row %d: %w", line, err)
		}
		rec := InputRecord{
			AttemptID:       field(row, idx["AttemptId"]),
			LearnerName:     field(row, idx["LearnerName"]),
			LearnerEmail:    field(row, idx["LearnerEmail"]),
			CourseTitle:     field(row, idx["CourseTitle"]),
			LearnerFileURLs: splitURLs(field(row, idx["LearnerFileUrls"])),
			MarkerFileURLs:  splitURLs(field(row, idx["MarkerFileUrls"])),
			raw:             row,
		}
		m.Records = append(m.Records, rec)
	}
	if len(m.Records) == 0 {
		return nil, fmt.Errorf("manifest contains no rows")
	}
	return m, nil
}

// ParseAttemptMappings reads the attempt-to-course table into a map keyed by
// attempt id.
func ParseAttemptMappings(r io.Reader) (map[string]AttemptMapping, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("attempt mapping file is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("read mapping header: %w", err)
	}
	idx, err := headerIndex(header,
		"AttemptId", "UnitCode", "UnitCodeVersion", "AssessmentId", "SubmissionLabel")
	if err != nil {
		return nil, fmt.Errorf("attempt mapping: %w", err)
	}

	mappings := make(map[string]AttemptMapping)
	line := 1
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read mapping row %d: %w", line, err)
		}
		mp := AttemptMapping{
			AttemptID:       field(row, idx["AttemptId"]),
			UnitCode:        field(row, idx["UnitCode"]),
			UnitCodeVersion: field(row, idx["UnitCodeVersion"]),
			AssessmentID:    field(row, idx["AssessmentId"]),
			SubmissionLabel: field(row, idx["SubmissionLabel"]),
		}
		mappings[mp.AttemptID] = mp
	}
	if len(mappings) == 0 {
		return nil, fmt.Errorf("attempt mapping file contains no rows")
	}
	return mappings, nil
}

func headerIndex(header []string, required ...string) (map[string]int, error) {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.TrimSpace(name)] = i
	}
	for _, name := range required {
		if _, ok := idx[name]; !ok {
			return nil, fmt.Errorf("missing required column %q", name)
		}
	}
	return idx, nil
}

func field(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func splitURLs(cell string) []string {
	if cell == "" {
		return nil
	}
	var urls []string
	for _, u := range strings.Split(cell, urlListSep) {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}
