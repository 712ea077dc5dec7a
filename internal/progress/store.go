// Package progress persists which workloads of a batch have already been
// checkpointed, so an interrupted batch can resume without repeating
// finished work. A crash loses at most the in-flight job.
package progress

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
)

// ErrStoreCorrupted indicates the progress file exists but cannot be parsed.
var ErrStoreCorrupted = errors.New("progress file corrupted")

// Record tracks terminal job results across batch restarts. A workload
// name appears in at most one of the two sets: marking enforces the
// invariant by removing the name from the other set first.
type Record struct {
	Completed []string `json:"completed"`
	Failed    []string `json:"failed"`
}

// NewRecord returns an empty record.
func NewRecord() *Record {
	return &Record{Completed: []string{}, Failed: []string{}}
}

// IsCompleted reports whether name has a successful checkpoint.
func (r *Record) IsCompleted(name string) bool {
	return slices.Contains(r.Completed, name)
}

// IsFailed reports whether name's last attempt failed.
func (r *Record) IsFailed(name string) bool {
	return slices.Contains(r.Failed, name)
}

// MarkCompleted records a success for name. A previous failure is erased:
// a later success supersedes it.
func (r *Record) MarkCompleted(name string) {
	r.Failed = remove(r.Failed, name)
	if !slices.Contains(r.Completed, name) {
		r.Completed = append(r.Completed, name)
	}
}

// MarkFailed records a failure for name.
func (r *Record) MarkFailed(name string) {
	r.Completed = remove(r.Completed, name)
	if !slices.Contains(r.Failed, name) {
		r.Failed = append(r.Failed, name)
	}
}

func remove(names []string, name string) []string {
	return slices.DeleteFunc(names, func(n string) bool { return n == name })
}

// Store is the durable source of truth for already-completed filtering.
type Store interface {
	Load() (*Record, error)
	Save(*Record) error
	Reset() error
}

// JSONStore persists the record as a JSON file, overwritten atomically on
// every save.
type JSONStore struct {
	path string
	mu   sync.Mutex
}

// NewJSONStore creates a store backed by the file at path. The file is
// created on first save.
func NewJSONStore(path string) *JSONStore {
	return &JSONStore{path: path}
}

// Load reads the persisted record, or returns an empty record if no state
// has been persisted yet.
func (s *JSONStore) Load() (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return NewRecord(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read progress file: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errors.Join(err, ErrStoreCorrupted)
	}
	if rec.Completed == nil {
		rec.Completed = []string{}
	}
	if rec.Failed == nil {
		rec.Failed = []string{}
	}

	return &rec, nil
}

// Save overwrites durable state atomically: the record is written to a
// temporary file in the same directory, then renamed over the target, so a
// crash mid-write leaves either the old or the new content.
func (s *JSONStore) Save(rec *Record) error {
	if rec == nil {
		return errors.New("progress record is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal progress record: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create progress directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write progress file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace progress file: %w", err)
	}

	return nil
}

// Reset clears both sets.
func (s *JSONStore) Reset() error {
	return s.Save(NewRecord())
}
