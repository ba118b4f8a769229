// Package ratelimit implements the per-caller admission gate: a keyed
// last-seen store with a single operation, TryAcquire. It is deliberately
// separate from the audit log so throttling and audit do not share a table.
package ratelimit

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct{ DB *pgxpool.Pool }

// TryAcquire records key as seen now and reports whether the caller may
// proceed. It returns false while less than window has elapsed since the
// previous grant for key. The check and the update are one statement, so
// concurrent callers cannot both pass inside a window.
func (s *Store) TryAcquire(ctx context.Context, key string, window time.Duration) (bool, error) {
	var got string
	err := s.DB.QueryRow(ctx, `
		INSERT INTO admission_marks(key, last_seen) VALUES($1, now())
		ON CONFLICT (key) DO UPDATE SET last_seen = now()
		WHERE admission_marks.last_seen <= now() - $2::interval
		RETURNING key
	`, key, window.String()).Scan(&got)
	if err == pgx.ErrNoRows {
		// conflict row too fresh; DO UPDATE predicate rejected it
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
