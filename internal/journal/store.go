package journal

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// InMemoryStore keeps journal entries in process memory.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]Entry
}

// NewInMemoryStore creates a memory-backed journal store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{entries: make(map[string][]Entry)}
}

// Append persists one entry.
func (s *InMemoryStore) Append(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.RunID] = append(s.entries[entry.RunID], entry)
	return nil
}

// ListByRun returns the entries for one run in append order.
func (s *InMemoryStore) ListByRun(_ context.Context, runID string) ([]Entry, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, errors.New("run id must not be empty")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	items := s.entries[runID]
	out := make([]Entry, len(items))
	copy(out, items)
	return out, nil
}

// Runs returns the known run IDs, sorted.
func (s *InMemoryStore) Runs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]string, 0, len(s.entries))
	for runID := range s.entries {
		runs = append(runs, runID)
	}
	sort.Strings(runs)
	return runs, nil
}

const journalFileExt = ".jsonl"

// FileStore persists entries as JSON Lines, one file per run.
type FileStore struct {
	dir string
}

// DefaultDir returns the journal directory under the user's home.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".bridge", "journal"), nil
}

// NewFileStore creates the journal directory if needed and returns a store
// writing into it.
func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("journal directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) runPath(runID string) (string, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return "", errors.New("run id must not be empty")
	}
	if strings.ContainsAny(runID, `/\`) || runID == "." || runID == ".." {
		return "", fmt.Errorf("invalid run id %q", runID)
	}
	return filepath.Join(s.dir, runID+journalFileExt), nil
}

// Append writes one entry as a JSON line to the run's file.
func (s *FileStore) Append(_ context.Context, entry Entry) error {
	path, err := s.runPath(entry.RunID)
	if err != nil {
		return err
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open journal file: %w", err)
	}
	if _, err := file.Write(append(line, '\n')); err != nil {
		file.Close()
		return fmt.Errorf("write journal entry: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close journal file: %w", err)
	}
	return nil
}

// ListByRun replays the run's file. A run that never journaled anything
// returns an empty list, not an error.
func (s *FileStore) ListByRun(_ context.Context, runID string) ([]Entry, error) {
	path, err := s.runPath(runID)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("open journal file: %w", err)
	}
	defer file.Close()

	entries := make([]Entry, 0)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, fmt.Errorf("decode journal line %d: %w", lineNo, err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read journal file: %w", err)
	}
	return entries, nil
}

// Runs returns the run IDs with a journal file, sorted.
func (s *FileStore) Runs(_ context.Context) ([]string, error) {
	items, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read journal directory: %w", err)
	}

	runs := make([]string, 0, len(items))
	for _, item := range items {
		name := item.Name()
		if item.IsDir() || !strings.HasSuffix(name, journalFileExt) {
			continue
		}
		runs = append(runs, strings.TrimSuffix(name, journalFileExt))
	}
	sort.Strings(runs)
	return runs, nil
}
