// Package output owns the durable run artifacts: the migrated and failed
// CSV logs, periodic flushing, and console progress.
package output

import (
	"encoding/csv"
	"fmt"
	"os"
	"sync"
)

// CSVLog is an append-only CSV file whose header is written only when the
// file is first created. Rows buffer in memory between flushes, so a crash
// loses at most one flush interval's worth of already-decided outcomes.
type CSVLog struct {
	mu     sync.Mutex
	path   string
	header []string
	buf    [][]string
}

// NewCSVLog creates a log writing to path.
func NewCSVLog(path string, header []string) *CSVLog {
	return &CSVLog{path: path, header: header}
}

// Append buffers one row. Safe for concurrent use.
func (l *CSVLog) Append(row []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf = append(l.buf, row)
}

// Flush appends all buffered rows to the file, writing the header first if
// the file is new or empty. A failed flush keeps the rows buffered.
func (l *CSVLog) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.buf) == 0 {
		return nil
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", l.path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", l.path, err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(l.header); err != nil {
			return fmt.Errorf("write header to %s: %w", l.path, err)
		}
	}
	for _, row := range l.buf {
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write row to %s: %w", l.path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush %s: %w", l.path, err)
	}
	l.buf = l.buf[:0]
	return nil
}
