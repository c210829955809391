package dispatch

import (
	"context"
	"fmt"
	"testing"
	"time"

	"companion/internal/clock"
	"companion/internal/types"
)

// --- Test Doubles ---

// mockReminderStore serves transactions over an in-memory reminder map.
type mockReminderStore struct {
	reminders map[int64]*types.Reminder
	beginErr  error
	markErr   error
	commits   int
	rollbacks int
	marked    []int64
}

func (m *mockReminderStore) Begin(_ context.Context) (ReminderTx, error) {
	if m.beginErr != nil {
		return nil, m.beginErr
	}
	return &mockReminderTx{store: m}, nil
}

type mockReminderTx struct {
	store *mockReminderStore
	done  bool
}

func (t *mockReminderTx) GetForUpdate(_ context.Context, id int64) (*types.Reminder, error) {
	return t.store.reminders[id], nil
}

func (t *mockReminderTx) MarkSent(_ context.Context, id int64, at time.Time) error {
	if t.store.markErr != nil {
		return t.store.markErr
	}
	t.store.marked = append(t.store.marked, id)
	if rem := t.store.reminders[id]; rem != nil {
		sent := at
		rem.LastSent = &sent
	}
	return nil
}

func (t *mockReminderTx) Commit(_ context.Context) error {
	t.done = true
	t.store.commits++
	return nil
}

func (t *mockReminderTx) Rollback(_ context.Context) error {
	if !t.done {
		t.store.rollbacks++
	}
	return nil
}

// mockClientSource serves client projections and check-in lookups.
type mockClientSource struct {
	clients  map[int64]*types.Client
	checkins map[int64]bool
	getErr   error
}

func (m *mockClientSource) Get(_ context.Context, clientID int64) (*types.Client, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.clients[clientID], nil
}

func (m *mockClientSource) HasCheckinOn(_ context.Context, clientID int64, _ time.Time) (bool, error) {
	return m.checkins[clientID], nil
}

// mockSendPublisher records published send messages.
type mockSendPublisher struct {
	sends    []types.SendMessage
	failNext bool
}

func (m *mockSendPublisher) PublishSend(_ context.Context, msg types.SendMessage) error {
	if m.failNext {
		m.failNext = false
		return fmt.Errorf("simulated publish failure")
	}
	m.sends = append(m.sends, msg)
	return nil
}

// --- Fixtures ---

var testNow = time.Date(2026, 8, 28, 7, 45, 0, 0, time.UTC)

func activeReminder(id, clientID int64) *types.Reminder {
	return &types.Reminder{
		ID:       id,
		ClientID: clientID,
		Type:     types.ReminderDailyCheckin,
		IsActive: true,
	}
}

func eligibleClient(id int64) *types.Client {
	return &types.Client{
		ID:         id,
		IsActive:   true,
		Email:      fmt.Sprintf("client%d@example.com", id),
		EmailValid: true,
		Language:   types.LangEnglish,
	}
}

func newWorker(store *mockReminderStore, clients *mockClientSource, pub *mockSendPublisher) *ChunkWorker {
	return &ChunkWorker{
		Log:       testLogger(),
		Store:     store,
		Clients:   clients,
		Publisher: pub,
		Clock:     clock.FixedClock{Instant: testNow},
	}
}

func chunkMsg(ids ...int64) types.ChunkMessage {
	return types.ChunkMessage{
		TickID:      "tick-1",
		TraceID:     "trace-1",
		ReminderIDs: ids,
		Chunk:       1,
		TotalChunks: 1,
	}
}

// --- Tests ---

func TestChunkWorker_SendsEligibleReminder(t *testing.T) {
	store := &mockReminderStore{reminders: map[int64]*types.Reminder{
		1: activeReminder(1, 100),
	}}
	clients := &mockClientSource{clients: map[int64]*types.Client{
		100: eligibleClient(100),
	}}
	pub := &mockSendPublisher{}

	result := newWorker(store, clients, pub).Process(context.Background(), chunkMsg(1))

	if result.Sent != 1 || result.Skipped != 0 || result.Errors != 0 {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(pub.sends) != 1 {
		t.Fatalf("expected 1 send message, got %d", len(pub.sends))
	}
	msg := pub.sends[0]
	if msg.ReminderID != 1 || msg.ClientID != 100 || msg.TraceID != "trace-1" {
		t.Errorf("unexpected send message %+v", msg)
	}
	if store.commits != 1 {
		t.Errorf("expected 1 commit, got %d", store.commits)
	}
	if len(store.marked) != 1 || store.marked[0] != 1 {
		t.Errorf("expected reminder 1 marked sent, got %v", store.marked)
	}
}

func TestChunkWorker_SkipVocabulary(t *testing.T) {
	sentToday := testNow.Add(-2 * time.Hour)

	tests := []struct {
		name     string
		reminder *types.Reminder
		client   *types.Client
	}{
		{
			name:   "missing reminder",
			client: eligibleClient(100),
		},
		{
			name: "inactive reminder",
			reminder: &types.Reminder{
				ID: 1, ClientID: 100, Type: types.ReminderDailyCheckin, IsActive: false,
			},
			client: eligibleClient(100),
		},
		{
			name: "already sent today",
			reminder: &types.Reminder{
				ID: 1, ClientID: 100, Type: types.ReminderDailyCheckin,
				IsActive: true, LastSent: &sentToday,
			},
			client: eligibleClient(100),
		},
		{
			name:     "missing client",
			reminder: activeReminder(1, 100),
		},
		{
			name:     "ineligible client",
			reminder: activeReminder(1, 100),
			client: &types.Client{
				ID: 100, IsActive: true, Email: "x@example.com", EmailValid: false,
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := &mockReminderStore{reminders: map[int64]*types.Reminder{}}
			if tc.reminder != nil {
				store.reminders[tc.reminder.ID] = tc.reminder
			}
			clients := &mockClientSource{
				clients:  map[int64]*types.Client{},
				checkins: map[int64]bool{},
			}
			if tc.client != nil {
				clients.clients[tc.client.ID] = tc.client
			}
			pub := &mockSendPublisher{}

			result := newWorker(store, clients, pub).Process(context.Background(), chunkMsg(1))

			if result.Skipped != 1 || result.Sent != 0 || result.Errors != 0 {
				t.Fatalf("expected 1 skip, got %+v", result)
			}
			if len(pub.sends) != 0 {
				t.Errorf("expected no send messages, got %d", len(pub.sends))
			}
			if len(store.marked) != 0 {
				t.Errorf("skip must not mark last_sent, got %v", store.marked)
			}
		})
	}
}

func TestChunkWorker_FulfilledCheckinMarksSentWithoutEmail(t *testing.T) {
	store := &mockReminderStore{reminders: map[int64]*types.Reminder{
		1: activeReminder(1, 100),
	}}
	clients := &mockClientSource{
		clients:  map[int64]*types.Client{100: eligibleClient(100)},
		checkins: map[int64]bool{100: true},
	}
	pub := &mockSendPublisher{}

	result := newWorker(store, clients, pub).Process(context.Background(), chunkMsg(1))

	if result.Skipped != 1 || result.Sent != 0 || result.Errors != 0 {
		t.Fatalf("expected 1 skip, got %+v", result)
	}
	if len(pub.sends) != 0 {
		t.Errorf("expected no send messages, got %d", len(pub.sends))
	}
	// last_sent is still recorded so the reminder is not re-processed on a
	// later tick or a redelivered chunk.
	if store.commits != 1 || len(store.marked) != 1 || store.marked[0] != 1 {
		t.Errorf("expected committed mark, commits=%d marked=%v", store.commits, store.marked)
	}

	// A second pass now skips on last_sent without touching check-ins.
	result = newWorker(store, clients, pub).Process(context.Background(), chunkMsg(1))
	if result.Skipped != 1 || len(store.marked) != 1 {
		t.Errorf("redelivery should skip on last_sent, result=%+v marked=%v", result, store.marked)
	}
}

func TestChunkWorker_ErrorIsolatedPerReminder(t *testing.T) {
	store := &mockReminderStore{reminders: map[int64]*types.Reminder{
		1: activeReminder(1, 100),
		2: activeReminder(2, 200),
	}}
	clients := &mockClientSource{
		clients: map[int64]*types.Client{
			200: eligibleClient(200),
		},
	}
	pub := &mockSendPublisher{}

	result := newWorker(store, clients, pub).Process(context.Background(), chunkMsg(1, 2))

	// Reminder 1 skips on missing client; reminder 2 sends.
	if result.Sent != 1 || result.Skipped != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestChunkWorker_PublishFailureCountsAsError(t *testing.T) {
	store := &mockReminderStore{reminders: map[int64]*types.Reminder{
		1: activeReminder(1, 100),
	}}
	clients := &mockClientSource{clients: map[int64]*types.Client{
		100: eligibleClient(100),
	}}
	pub := &mockSendPublisher{failNext: true}

	result := newWorker(store, clients, pub).Process(context.Background(), chunkMsg(1))

	if result.Errors != 1 || result.Sent != 0 {
		t.Fatalf("unexpected result %+v", result)
	}
	// last_sent was committed before the publish attempt.
	if store.commits != 1 || len(store.marked) != 1 {
		t.Errorf("expected committed mark before publish, commits=%d marked=%v", store.commits, store.marked)
	}
}

func TestChunkWorker_BeginFailure(t *testing.T) {
	store := &mockReminderStore{beginErr: fmt.Errorf("pool exhausted")}
	clients := &mockClientSource{}
	pub := &mockSendPublisher{}

	result := newWorker(store, clients, pub).Process(context.Background(), chunkMsg(1, 2))

	if result.Errors != 2 {
		t.Fatalf("expected 2 errors, got %+v", result)
	}
}

func TestChunkWorker_RollbackOnSkip(t *testing.T) {
	store := &mockReminderStore{reminders: map[int64]*types.Reminder{}}
	clients := &mockClientSource{}
	pub := &mockSendPublisher{}

	newWorker(store, clients, pub).Process(context.Background(), chunkMsg(1))

	if store.rollbacks != 1 || store.commits != 0 {
		t.Errorf("expected rollback without commit, rollbacks=%d commits=%d", store.rollbacks, store.commits)
	}
}
