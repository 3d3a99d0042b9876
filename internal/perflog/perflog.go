// Package perflog persists portfolio performance history as an append-only
// JSON-lines file, one record per trading cycle.
package perflog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/openmarkets/simtrader/internal/models"
)

// Logger defines the contract for performance history persistence.
// Records are append-only and ordered by timestamp; History never returns
// them out of order.
type Logger interface {
	Append(rec models.PerformanceRecord) error
	History(from, to time.Time) ([]models.PerformanceRecord, error)
}

// FileLogger appends records to a local JSONL file. A missing file is created
// on first append; History on a missing file returns an empty slice.
type FileLogger struct {
	mu   sync.Mutex
	path string
	log  *logrus.Logger
}

var _ Logger = (*FileLogger)(nil)

// NewFileLogger creates a performance logger writing to path.
func NewFileLogger(path string, log *logrus.Logger) *FileLogger {
	return &FileLogger{path: path, log: log}
}

// Append writes one record as a single JSON line.
func (l *FileLogger) Append(rec models.PerformanceRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding performance record: %w", err)
	}

	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating performance log dir: %w", err)
		}
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening performance log: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("appending performance record: %w", err)
	}
	return nil
}

// History returns records with from <= timestamp <= to, ascending by
// timestamp. Zero from/to bounds are open-ended. Malformed lines are skipped
// with a warning; corruption of one row must not hide the rest of the log.
func (l *FileLogger) History(from, to time.Time) ([]models.PerformanceRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []models.PerformanceRecord{}, nil
		}
		return nil, fmt.Errorf("opening performance log: %w", err)
	}
	defer func() { _ = f.Close() }()

	records := make([]models.PerformanceRecord, 0, 64)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec models.PerformanceRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			if l.log != nil {
				l.log.WithError(err).Warnf("Skipping malformed performance record at line %d", line)
			}
			continue
		}
		if !from.IsZero() && rec.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && rec.Timestamp.After(to) {
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading performance log: %w", err)
	}

	// File order is chronological unless the file was merged or hand-edited.
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
	return records, nil
}
