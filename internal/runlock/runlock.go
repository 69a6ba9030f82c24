// Package runlock serializes pipeline runs per issue. A run takes a lease
// on its issue before doing any remote work, so two bridge invocations
// cannot both open sessions and pull requests for the same ticket.
package runlock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultExpiry is the lease duration when no override is configured.
// Generous relative to a normal run, which finishes in minutes.
const DefaultExpiry = 2 * time.Hour

// ErrConflict indicates the issue is already leased by another run.
var ErrConflict = errors.New("issue is locked by another run")

// Lease records one run's hold on an issue.
type Lease struct {
	IssueID    string    `json:"issue_id"`
	RunID      string    `json:"run_id"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Store persists leases. Update runs fn over the current lease set under
// the store's exclusion guarantees and persists what fn returns; when fn
// errors nothing is written.
type Store interface {
	Update(ctx context.Context, fn func(leases []Lease) ([]Lease, error)) error
	Load(ctx context.Context) ([]Lease, error)
}

// ManagerConfig controls lease behavior.
type ManagerConfig struct {
	Expiry time.Duration
}

// Manager acquires, refreshes, and releases issue leases.
type Manager struct {
	store  Store
	now    func() time.Time
	expiry time.Duration
}

// NewManager constructs a lease manager.
func NewManager(store Store, cfg ManagerConfig) (*Manager, error) {
	if store == nil {
		return nil, errors.New("lease store is required")
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = DefaultExpiry
	}
	return &Manager{
		store:  store,
		now:    time.Now,
		expiry: cfg.Expiry,
	}, nil
}

// Acquire leases the issue for the run and returns a release closure.
// Re-acquiring with the same run refreshes the lease. A live lease held by
// a different run fails with ErrConflict naming the holder.
func (m *Manager) Acquire(ctx context.Context, issueID, runID string) (func() error, error) {
	issueID = strings.TrimSpace(issueID)
	runID = strings.TrimSpace(runID)
	if issueID == "" {
		return nil, errors.New("issue id must not be empty")
	}
	if runID == "" {
		return nil, errors.New("run id must not be empty")
	}

	err := m.store.Update(ctx, func(leases []Lease) ([]Lease, error) {
		now := m.now().UTC()
		active := onlyActive(leases, now)
		active = withoutLease(active, issueID, runID)
		for _, lease := range active {
			if lease.IssueID == issueID {
				return nil, fmt.Errorf("%w: issue=%s held by run=%s until %s",
					ErrConflict, issueID, lease.RunID, lease.ExpiresAt.Format(time.RFC3339))
			}
		}
		return append(active, Lease{
			IssueID:    issueID,
			RunID:      runID,
			AcquiredAt: now,
			ExpiresAt:  now.Add(m.expiry),
		}), nil
	})
	if err != nil {
		return nil, err
	}

	release := func() error {
		return m.Release(context.Background(), issueID, runID)
	}
	return release, nil
}

// Release drops the run's lease on the issue. Releasing a lease held by a
// different run, or one that no longer exists, is a no-op.
func (m *Manager) Release(ctx context.Context, issueID, runID string) error {
	issueID = strings.TrimSpace(issueID)
	runID = strings.TrimSpace(runID)
	if issueID == "" {
		return errors.New("issue id must not be empty")
	}
	if runID == "" {
		return errors.New("run id must not be empty")
	}

	return m.store.Update(ctx, func(leases []Lease) ([]Lease, error) {
		return withoutLease(onlyActive(leases, m.now().UTC()), issueID, runID), nil
	})
}

// Active returns the unexpired leases.
func (m *Manager) Active(ctx context.Context) ([]Lease, error) {
	leases, err := m.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load leases: %w", err)
	}
	return onlyActive(leases, m.now().UTC()), nil
}

func onlyActive(leases []Lease, now time.Time) []Lease {
	active := make([]Lease, 0, len(leases))
	for _, lease := range leases {
		if lease.ExpiresAt.IsZero() || lease.ExpiresAt.After(now) {
			active = append(active, lease)
		}
	}
	return active
}

func withoutLease(leases []Lease, issueID, runID string) []Lease {
	filtered := make([]Lease, 0, len(leases))
	for _, lease := range leases {
		if lease.IssueID == issueID && lease.RunID == runID {
			continue
		}
		filtered = append(filtered, lease)
	}
	return filtered
}
