package dispatch

import (
	"context"
	"time"

	"companion/internal/db"
	"companion/internal/types"
)

// PgxReminderStore adapts a pgx transaction starter (typically the
// *pgxpool.Pool) to the ReminderTxStore interface used by the chunk worker.
type PgxReminderStore struct {
	DB db.TxStarter
}

var _ ReminderTxStore = (*PgxReminderStore)(nil)

// Begin opens a transaction and wraps it with a reminder repository.
func (s *PgxReminderStore) Begin(ctx context.Context) (ReminderTx, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to begin transaction", err)
	}
	return &pgxReminderTx{
		repo:     db.NewReminderRepository(tx),
		commit:   tx.Commit,
		rollback: tx.Rollback,
	}, nil
}

type pgxReminderTx struct {
	repo     *db.ReminderRepository
	commit   func(ctx context.Context) error
	rollback func(ctx context.Context) error
}

func (t *pgxReminderTx) GetForUpdate(ctx context.Context, id int64) (*types.Reminder, error) {
	return t.repo.GetForUpdate(ctx, id)
}

func (t *pgxReminderTx) MarkSent(ctx context.Context, id int64, at time.Time) error {
	return t.repo.MarkSent(ctx, id, at)
}

func (t *pgxReminderTx) Commit(ctx context.Context) error {
	return t.commit(ctx)
}

func (t *pgxReminderTx) Rollback(ctx context.Context) error {
	return t.rollback(ctx)
}
