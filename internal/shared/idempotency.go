package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cleaver-pos/cleaver/internal/platform/db"
)

// ErrIdempotencyConflict indicates a duplicate key.
var ErrIdempotencyConflict = errors.New("idempotent request already processed")

const cleanupBatch = 5000

// IdempotencyStore records client request keys so retried submissions are
// rejected instead of applied twice.
type IdempotencyStore struct {
	db    db.Execer
	batch int
	now   func() time.Time
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(conn db.Execer) *IdempotencyStore {
	return &IdempotencyStore{db: conn, batch: cleanupBatch, now: time.Now}
}

// CheckAndInsert claims key for module. A second claim of the same key fails
// with ErrIdempotencyConflict.
func (s *IdempotencyStore) CheckAndInsert(ctx context.Context, key, module string) error {
	if s == nil || s.db == nil {
		return errors.New("idempotency store not initialised")
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	if module == "" {
		return errors.New("idempotency module required")
	}
	_, err := s.db.Exec(ctx, `INSERT INTO idempotency_keys (key, module, created_at) VALUES ($1, $2, $3)`, key, module, s.now().UTC())
	if db.IsUniqueViolation(err) {
		return ErrIdempotencyConflict
	}
	if err != nil {
		return fmt.Errorf("idempotency: claim %s: %w", module, err)
	}
	return nil
}

// Cleanup purges keys older than the retention window in bounded batches so
// the delete never holds a long lock on the table. It reports the number of
// keys removed.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	if olderThan <= 0 {
		return 0, errors.New("idempotency: retention must be positive")
	}
	cutoff := s.now().UTC().Add(-olderThan)
	var total int64
	for {
		tag, err := s.db.Exec(ctx, `DELETE FROM idempotency_keys WHERE key IN (
			SELECT key FROM idempotency_keys WHERE created_at < $1 LIMIT $2)`, cutoff, s.batch)
		if err != nil {
			return total, fmt.Errorf("idempotency: purge: %w", err)
		}
		total += tag.RowsAffected()
		if tag.RowsAffected() < int64(s.batch) {
			return total, nil
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
}

// Delete releases a key after the guarded operation failed, so the client
// may retry.
func (s *IdempotencyStore) Delete(ctx context.Context, key string) error {
	if s == nil || s.db == nil {
		return nil
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	_, err := s.db.Exec(ctx, `DELETE FROM idempotency_keys WHERE key = $1`, key)
	return err
}
