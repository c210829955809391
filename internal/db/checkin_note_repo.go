package db

import (
	"context"

	"companion/internal/types"
)

// PlaintextNote is a daily check-in row whose free-text note has not yet
// been moved to the encrypted column.
type PlaintextNote struct {
	ID    int64
	Notes string
}

// CheckinNoteRepository supports the one-time encryption migration of
// check-in notes. Rows are read in plaintext form and written back sealed,
// in batches, so the operator command can resume after interruption.
type CheckinNoteRepository struct {
	db DBTX
}

// NewCheckinNoteRepository creates a CheckinNoteRepository backed by the
// given database connection (pool or transaction).
func NewCheckinNoteRepository(db DBTX) *CheckinNoteRepository {
	return &CheckinNoteRepository{db: db}
}

// ListPlaintext returns up to limit check-ins that still carry a plaintext
// note and no encrypted one, oldest first.
func (r *CheckinNoteRepository) ListPlaintext(ctx context.Context, limit int) ([]PlaintextNote, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, notes FROM daily_checkins
		 WHERE notes IS NOT NULL AND notes <> '' AND notes_encrypted IS NULL
		 ORDER BY id
		 LIMIT $1`, limit)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list plaintext notes", err)
	}
	defer rows.Close()

	var notes []PlaintextNote
	for rows.Next() {
		var n PlaintextNote
		if err := rows.Scan(&n.ID, &n.Notes); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan plaintext note", err)
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating plaintext notes", err)
	}
	return notes, nil
}

// StoreEncrypted writes the sealed ciphertext and clears the plaintext
// column in the same statement, so a row is never left in both forms.
func (r *CheckinNoteRepository) StoreEncrypted(ctx context.Context, id int64, ciphertext []byte) error {
	_, err := r.db.Exec(ctx,
		`UPDATE daily_checkins SET notes_encrypted = $2, notes = NULL WHERE id = $1`,
		id, ciphertext)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to store encrypted note", err)
	}
	return nil
}
