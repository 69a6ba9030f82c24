package runlock

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// InMemoryStore keeps leases in process memory.
type InMemoryStore struct {
	mu     sync.Mutex
	leases []Lease
}

// NewInMemoryStore creates a memory-backed lease store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

// Update applies fn to the lease set under the store mutex.
func (s *InMemoryStore) Update(_ context.Context, fn func(leases []Lease) ([]Lease, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := make([]Lease, len(s.leases))
	copy(snapshot, s.leases)
	updated, err := fn(snapshot)
	if err != nil {
		return err
	}
	s.leases = updated
	return nil
}

// Load returns a copy of the lease set.
func (s *InMemoryStore) Load(_ context.Context) ([]Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Lease, len(s.leases))
	copy(out, s.leases)
	return out, nil
}

const lockRetryDelay = 50 * time.Millisecond

// FileStore persists leases as a JSON file. A flock-guarded sidecar lock
// file serializes load-modify-save across bridge processes.
type FileStore struct {
	path     string
	lockPath string
}

// DefaultPath returns the lease file location under the user's home.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".bridge", "locks.json"), nil
}

// NewFileStore creates the parent directory if needed and returns a store
// writing the given lease file.
func NewFileStore(path string) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("lease file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	return &FileStore{
		path:     path,
		lockPath: path + ".lock",
	}, nil
}

// Update applies fn to the persisted lease set while holding the file lock.
func (s *FileStore) Update(ctx context.Context, fn func(leases []Lease) ([]Lease, error)) error {
	fileLock := flock.New(s.lockPath)
	locked, err := fileLock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("acquire lease file lock: %w", err)
	}
	if !locked {
		return errors.New("lease file lock not acquired")
	}
	defer fileLock.Unlock()

	leases, err := s.read()
	if err != nil {
		return err
	}
	updated, err := fn(leases)
	if err != nil {
		return err
	}
	return s.write(updated)
}

// Load returns the persisted lease set under a shared lock.
func (s *FileStore) Load(ctx context.Context) ([]Lease, error) {
	fileLock := flock.New(s.lockPath)
	locked, err := fileLock.TryRLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("acquire lease file lock: %w", err)
	}
	if !locked {
		return nil, errors.New("lease file lock not acquired")
	}
	defer fileLock.Unlock()

	return s.read()
}

func (s *FileStore) read() ([]Lease, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Lease{}, nil
		}
		return nil, fmt.Errorf("read lease file: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return []Lease{}, nil
	}

	var leases []Lease
	if err := json.Unmarshal(raw, &leases); err != nil {
		return nil, fmt.Errorf("decode lease file: %w", err)
	}
	return leases, nil
}

func (s *FileStore) write(leases []Lease) error {
	data, err := json.MarshalIndent(leases, "", "  ")
	if err != nil {
		return fmt.Errorf("encode leases: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write lease file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace lease file: %w", err)
	}
	return nil
}
