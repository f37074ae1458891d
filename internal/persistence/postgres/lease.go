package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LeaseStore implements leased per-key mutual exclusion on a Postgres row.
// The single INSERT .. ON CONFLICT statement gives test-and-set semantics:
// of two racing callers exactly one affects a row. Expired leases are free
// to take, which bounds how long a crashed sync can hold a key.
type LeaseStore struct {
	pool  *pgxpool.Pool
	owner string
}

// NewLeaseStore constructs a LeaseStore. Each store instance holds a process
// owner ID recorded on acquired leases for operator inspection.
func NewLeaseStore(pool *pgxpool.Pool) *LeaseStore {
	return &LeaseStore{pool: pool, owner: uuid.NewString()}
}

// TryAcquire attempts to take the lease. It returns false when a live lease
// for the key is held elsewhere.
func (s *LeaseStore) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	const stmt = `INSERT INTO sync_leases (lease_key, owner, acquired_at, expires_at)
        VALUES ($1, $2, NOW(), NOW() + make_interval(secs => $3))
        ON CONFLICT (lease_key) DO UPDATE SET
            owner=EXCLUDED.owner, acquired_at=EXCLUDED.acquired_at, expires_at=EXCLUDED.expires_at
        WHERE sync_leases.expires_at <= NOW()`

	tag, err := s.pool.Exec(ctx, stmt, key, s.owner, ttl.Seconds())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Release drops the lease. It is idempotent and safe to call after expiry;
// a lease re-acquired by another owner in the meantime is left alone.
func (s *LeaseStore) Release(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM sync_leases WHERE lease_key=$1 AND owner=$2`, key, s.owner)
	return err
}
