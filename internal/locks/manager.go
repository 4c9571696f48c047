// Package locks provides key-scoped distributed mutual exclusion backed by
// the scheduling_locks table.
package locks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/amaeclinic/televisit/internal/log"
	"github.com/amaeclinic/televisit/internal/metrics"
	"github.com/amaeclinic/televisit/internal/model"
	"github.com/amaeclinic/televisit/internal/rowstore"
)

// DefaultTTL bounds how long a booking attempt may hold a slot lock.
const DefaultTTL = 30 * time.Second

// Store is the subset of the row-store gateway the manager needs.
type Store interface {
	Select(ctx context.Context, q rowstore.Query, dest any) error
	Insert(ctx context.Context, table string, record any, dest any) error
	Delete(ctx context.Context, table string, filters []rowstore.Filter) error
}

// Lock is one acquired slot lock.
type Lock struct {
	Key       string    `json:"lock_key"`
	Owner     string    `json:"locked_by"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Manager acquires and releases slot locks for one worker identity.
type Manager struct {
	store  Store
	owner  string
	ttl    time.Duration
	logger zerolog.Logger
}

// New creates a lock manager. Owner must be stable for the lifetime of the
// worker instance; when empty a random identity is generated.
func New(store Store, owner string, ttl time.Duration) *Manager {
	if owner == "" {
		owner = uuid.New().String()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		store:  store,
		owner:  owner,
		ttl:    ttl,
		logger: log.WithComponent("locks"),
	}
}

// SlotKey renders the canonical lock key for a (doctor, window) pair.
func SlotKey(doctorID uuid.UUID, start, end time.Time) string {
	return fmt.Sprintf("slot_%s_%d_%d", doctorID, start.Unix(), end.Unix())
}

// Acquire takes the slot lock for the given window. A lock row held past its
// expiry is reclaimed (deleted and re-inserted) exactly once; a live holder
// yields ErrLockContended.
func (m *Manager) Acquire(ctx context.Context, doctorID uuid.UUID, start, end time.Time) (*Lock, error) {
	key := SlotKey(doctorID, start, end)

	lock, err := m.tryInsert(ctx, key)
	if err == nil {
		metrics.IncLockAcquisition("acquired")
		return lock, nil
	}
	if !errors.Is(err, rowstore.ErrConflict) {
		metrics.IncLockAcquisition("error")
		return nil, model.E(model.ErrDatabase, "lock insert failed: %v", err)
	}

	// Key taken: reclaim if the holder's TTL has lapsed.
	var rows []Lock
	q := rowstore.Query{
		Table:   rowstore.TableLocks,
		Filters: []rowstore.Filter{rowstore.Eq("lock_key", key)},
		Limit:   1,
	}
	if err := m.store.Select(ctx, q, &rows); err != nil {
		metrics.IncLockAcquisition("error")
		return nil, model.E(model.ErrDatabase, "lock lookup failed: %v", err)
	}
	if len(rows) > 0 && rows[0].ExpiresAt.After(time.Now()) {
		metrics.IncLockAcquisition("contended")
		return nil, model.E(model.ErrLockContended, "slot lock held by %s until %s", rows[0].Owner, rows[0].ExpiresAt.Format(time.RFC3339))
	}

	if err := m.Release(ctx, key); err != nil {
		metrics.IncLockAcquisition("error")
		return nil, err
	}
	lock, err = m.tryInsert(ctx, key)
	if err != nil {
		if errors.Is(err, rowstore.ErrConflict) {
			// Someone else won the reclaim race.
			metrics.IncLockAcquisition("contended")
			return nil, model.E(model.ErrLockContended, "slot lock reclaim lost for %s", key)
		}
		metrics.IncLockAcquisition("error")
		return nil, model.E(model.ErrDatabase, "lock reinsert failed: %v", err)
	}
	m.logger.Debug().Str(log.FieldLockKey, key).Msg("reclaimed expired slot lock")
	metrics.IncLockAcquisition("reclaimed")
	return lock, nil
}

func (m *Manager) tryInsert(ctx context.Context, key string) (*Lock, error) {
	now := time.Now().UTC()
	lock := Lock{
		Key:       key,
		Owner:     m.owner,
		ExpiresAt: now.Add(m.ttl),
		CreatedAt: now,
	}
	if err := m.store.Insert(ctx, rowstore.TableLocks, lock, nil); err != nil {
		return nil, err
	}
	return &lock, nil
}

// Release drops the lock row. Releasing an already-released lock is a no-op.
func (m *Manager) Release(ctx context.Context, key string) error {
	err := m.store.Delete(ctx, rowstore.TableLocks, []rowstore.Filter{
		rowstore.Eq("lock_key", key),
	})
	if err != nil && !errors.Is(err, rowstore.ErrNotFound) {
		return model.E(model.ErrDatabase, "lock release failed: %v", err)
	}
	return nil
}

// Sweep removes all expired lock rows. Safe to run from any instance.
func (m *Manager) Sweep(ctx context.Context) error {
	err := m.store.Delete(ctx, rowstore.TableLocks, []rowstore.Filter{
		rowstore.Lt("expires_at", time.Now().UTC()),
	})
	if err != nil && !errors.Is(err, rowstore.ErrNotFound) {
		return model.E(model.ErrDatabase, "lock sweep failed: %v", err)
	}
	return nil
}

// Owner returns the manager's stable identity.
func (m *Manager) Owner() string { return m.owner }
