// Package backup archives raw API responses to disk, one file per
// call, so ingest bugs can be replayed against real payloads.
package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type Writer struct {
	Dir string

	// Now is overridable for tests.
	Now func() time.Time
}

func NewWriter(dir string) *Writer {
	return &Writer{Dir: dir}
}

// Store writes a raw response body under Dir/YYYY-MM-DD/, named by
// time of day and the endpoint that produced it. Returns the path
// written.
func (w *Writer) Store(endpoint string, body []byte) (string, error) {
	now := w.now()

	dir := filepath.Join(w.Dir, now.Format("2006-01-02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating backup dir: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s_%s.json", now.Format("15-04-05"), endpoint))
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("writing backup: %w", err)
	}
	return path, nil
}

func (w *Writer) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}
