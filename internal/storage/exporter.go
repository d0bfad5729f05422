package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Exporter mirrors archived reports as standalone JSON files, grouped by
// day, so they can be inspected or shipped without the database.
type Exporter struct {
	dir string
	mu  sync.Mutex
}

func NewExporter(dir string) *Exporter {
	return &Exporter{dir: dir}
}

func (e *Exporter) SaveReport(sessionID string, payload []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	date := time.Now().UTC().Format("2006-01-02")
	dir := filepath.Join(e.dir, date)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	path := filepath.Join(dir, sessionID+".json")
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	return nil
}
