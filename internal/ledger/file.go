package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileLedger persists records as a single JSON array on disk. Every write
// rewrites the whole file through a temporary file and rename, so a crash
// never leaves a half-written document behind.
// Thread-safe for concurrent use within one process.
type FileLedger struct {
	mu   sync.Mutex
	path string
}

var _ Ledger = (*FileLedger)(nil)

// NewFileLedger returns a ledger stored at path. The file and its parent
// directory are created on the first write.
func NewFileLedger(path string) *FileLedger {
	return &FileLedger{path: path}
}

// Path returns the backing file path.
func (f *FileLedger) Path() string { return f.path }

// Upsert implements [Ledger].
func (f *FileLedger) Upsert(_ context.Context, rec MasteryRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	recs, err := f.load()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	if err := f.store(upsertOrdered(recs, rec)); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	return nil
}

// ReadAll implements [Ledger]. A missing file reads as an empty ledger.
func (f *FileLedger) ReadAll(_ context.Context) ([]MasteryRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.load()
}

// Clear implements [Ledger].
func (f *FileLedger) Clear(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: ledger: remove %q: %w", ErrWrite, f.path, err)
	}
	return nil
}

func (f *FileLedger) load() ([]MasteryRecord, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []MasteryRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: read %q: %w", f.path, err)
	}
	if len(data) == 0 {
		return []MasteryRecord{}, nil
	}
	var recs []MasteryRecord
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("ledger: decode %q: %w", f.path, err)
	}
	return recs, nil
}

func (f *FileLedger) store(recs []MasteryRecord) error {
	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return fmt.Errorf("ledger: marshal: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ledger: create dir %q: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".ledger-*.json")
	if err != nil {
		return fmt.Errorf("ledger: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("ledger: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("ledger: close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("ledger: replace %q: %w", f.path, err)
	}
	return nil
}
