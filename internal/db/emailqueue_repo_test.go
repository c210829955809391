package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"companion/internal/types"
)

// Note: mockDBTX, mockRow and mockRows are defined in reminder_repo_test.go.

// emailRow builds a mockRows row in emailColumns order.
func emailRow(id string, attempts int, now time.Time) []any {
	return []any{
		id, "client@example.com", "subject", "text body", "<p>html</p>",
		string(types.EmailStatusSending), attempts, now, nil, nil, "",
	}
}

// --- Enqueue Tests ---

func TestEmailQueueRepository_Enqueue_AssignsID(t *testing.T) {
	db := new(mockDBTX)
	repo := NewEmailQueueRepository(db)

	now := time.Now().UTC()
	row := &mockRow{
		scanFn: func(dest ...any) error {
			*dest[0].(*time.Time) = now
			return nil
		},
	}
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(row)

	entry := &types.EmailQueueEntry{
		To:       "client@example.com",
		Subject:  "Daily check-in reminder",
		BodyText: "body",
	}
	err := repo.Enqueue(context.Background(), entry)
	require.NoError(t, err)
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, types.EmailStatusPending, entry.Status)
	assert.Equal(t, now, entry.CreatedAt)
}

func TestEmailQueueRepository_Enqueue_DuplicateID(t *testing.T) {
	db := new(mockDBTX)
	repo := NewEmailQueueRepository(db)

	// ON CONFLICT DO NOTHING returns no row for duplicates.
	row := &mockRow{scanErr: pgx.ErrNoRows}
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(row)

	entry := &types.EmailQueueEntry{ID: "existing-id", To: "client@example.com"}
	err := repo.Enqueue(context.Background(), entry)
	require.NoError(t, err)
	assert.Equal(t, "existing-id", entry.ID)
}

func TestEmailQueueRepository_Enqueue_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewEmailQueueRepository(db)

	row := &mockRow{scanErr: errors.New("connection refused")}
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(row)

	err := repo.Enqueue(context.Background(), &types.EmailQueueEntry{To: "x@example.com"})
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

// --- Claim Tests ---

func TestEmailQueueRepository_Claim_ReturnsEntries(t *testing.T) {
	db := new(mockDBTX)
	repo := NewEmailQueueRepository(db)

	now := time.Now().UTC()
	rows := newMockRows([][]any{
		emailRow("id-1", 1, now),
		emailRow("id-2", 3, now),
	})
	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(rows, nil)

	entries, err := repo.Claim(context.Background(), 10, now)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "id-1", entries[0].ID)
	assert.Equal(t, types.EmailStatusSending, entries[0].Status)
	assert.Equal(t, 3, entries[1].Attempts)
	db.AssertExpectations(t)
}

func TestEmailQueueRepository_Claim_Empty(t *testing.T) {
	db := new(mockDBTX)
	repo := NewEmailQueueRepository(db)

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(newMockRows(nil), nil)

	entries, err := repo.Claim(context.Background(), 10, time.Now())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// --- Status Transition Tests ---

func TestEmailQueueRepository_MarkSent(t *testing.T) {
	db := new(mockDBTX)
	repo := NewEmailQueueRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := repo.MarkSent(context.Background(), "id-1", time.Now())
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestEmailQueueRepository_MarkRetry(t *testing.T) {
	db := new(mockDBTX)
	repo := NewEmailQueueRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := repo.MarkRetry(context.Background(), "id-1", "451 try again later")
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestEmailQueueRepository_MarkFailed_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewEmailQueueRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection refused"))

	err := repo.MarkFailed(context.Background(), "id-1", "550 no such user")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestEmailQueueRepository_ReleaseClaim_RefundsAttempt(t *testing.T) {
	db := new(mockDBTX)
	repo := NewEmailQueueRepository(db)

	var sql string
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) { sql = args.Get(1).(string) }).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := repo.ReleaseClaim(context.Background(), "id-1", "circuit breaker open")
	require.NoError(t, err)
	// The attempt consumed at claim time is handed back along with the
	// return to pending.
	assert.Contains(t, sql, "GREATEST(attempts - 1, 0)")
	db.AssertExpectations(t)
}

// --- ReleaseStale Tests ---

func TestEmailQueueRepository_ReleaseStale(t *testing.T) {
	db := new(mockDBTX)
	repo := NewEmailQueueRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 2"), nil)

	n, err := repo.ReleaseStale(context.Background(), time.Hour, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

// --- CountByStatus Tests ---

func TestEmailQueueRepository_CountByStatus(t *testing.T) {
	db := new(mockDBTX)
	repo := NewEmailQueueRepository(db)

	rows := newMockRows([][]any{
		{string(types.EmailStatusPending), int64(4)},
		{string(types.EmailStatusFailed), int64(1)},
	})
	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(rows, nil)

	counts, err := repo.CountByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), counts[types.EmailStatusPending])
	assert.Equal(t, int64(1), counts[types.EmailStatusFailed])
}
