package notifier

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"donatrack/pkg/db"
)

// PGStatusStore writes receipt bookkeeping straight to the donations table.
type PGStatusStore struct {
	pool *pgxpool.Pool
}

// NewPGStatusStore constructs a PGStatusStore.
func NewPGStatusStore(pool *pgxpool.Pool) (*PGStatusStore, error) {
	if pool == nil {
		return nil, errors.New("database pool is required")
	}
	return &PGStatusStore{pool: pool}, nil
}

func (s *PGStatusStore) Sent(ctx context.Context, id uuid.UUID) (bool, error) {
	var sent bool
	err := db.Get(ctx, s.pool, &sent, `SELECT email_sent FROM donations WHERE id = $1`, id)
	return sent, err
}

func (s *PGStatusStore) MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := db.Exec(ctx, s.pool, `
UPDATE donations
SET email_sent = true, email_sent_at = $2, email_error = NULL
WHERE id = $1
`, id, at)
	return err
}

func (s *PGStatusStore) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := db.Exec(ctx, s.pool, `
UPDATE donations
SET email_sent = false, email_error = $2
WHERE id = $1
`, id, reason)
	return err
}
