package distlock

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DistLock is the interface for distributed locking.
// A lock instance guards one key and is used by one goroutine at a time.
type DistLock interface {
	// Acquire tries to acquire the lock without blocking. Returns true if successful.
	Acquire(ctx context.Context) (bool, error)
	// Release releases the lock if we still own it.
	Release(ctx context.Context) error
}

// Factory builds a lock for a key. Callers create a fresh lock per
// critical section.
type Factory func(key string) DistLock

// NewFactory picks the best available backend: Redis when a client is
// given (cross-host), PostgreSQL advisory locks when only a database is
// available, and an in-process lock otherwise.
func NewFactory(redisClient *redis.Client, db *sql.DB, ttl time.Duration) Factory {
	switch {
	case redisClient != nil:
		return func(key string) DistLock { return NewRedisLock(redisClient, key, ttl) }
	case db != nil:
		return func(key string) DistLock { return NewPGAdvisoryLock(db, key) }
	default:
		local := NewLocalLocks()
		return local.Lock
	}
}

// =============================================================================
// PostgreSQL Advisory Lock
// =============================================================================
// pg_try_advisory_lock is session scoped, so the lock pins one pooled
// connection between Acquire and Release. Dropping the connection releases
// the lock, which gives crash safety similar to a Redis TTL.

// PGAdvisoryLock implements DistLock using PostgreSQL advisory locks.
type PGAdvisoryLock struct {
	db     *sql.DB
	lockID int64
	conn   *sql.Conn
}

// NewPGAdvisoryLock creates a PG advisory lock with a deterministic lock ID
// derived from the given key string.
func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{
		db:     db,
		lockID: int64(h.Sum64()),
	}
}

// Acquire tries to acquire the advisory lock. Returns true if successful.
func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("advisory lock conn: %w", err)
	}
	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired); err != nil {
		conn.Close()
		return false, fmt.Errorf("advisory lock: %w", err)
	}
	if !acquired {
		conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

// Release releases the advisory lock and returns the pinned connection.
func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	defer func() {
		l.conn.Close()
		l.conn = nil
	}()
	_, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	return err
}

// =============================================================================
// In-process lock
// =============================================================================

// LocalLocks hands out per-key locks that only exclude callers within the
// same process. Used when neither Redis nor Postgres is configured.
type LocalLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewLocalLocks creates an empty in-process lock table.
func NewLocalLocks() *LocalLocks {
	return &LocalLocks{held: make(map[string]bool)}
}

// Lock returns a DistLock for key backed by this table.
func (t *LocalLocks) Lock(key string) DistLock {
	return &localLock{table: t, key: key}
}

type localLock struct {
	table *LocalLocks
	key   string
	owned bool
}

func (l *localLock) Acquire(_ context.Context) (bool, error) {
	l.table.mu.Lock()
	defer l.table.mu.Unlock()
	if l.table.held[l.key] {
		return false, nil
	}
	l.table.held[l.key] = true
	l.owned = true
	return true, nil
}

func (l *localLock) Release(_ context.Context) error {
	l.table.mu.Lock()
	defer l.table.mu.Unlock()
	if l.owned {
		delete(l.table.held, l.key)
		l.owned = false
	}
	return nil
}
