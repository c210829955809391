package types

import "time"

// ChunkMessage is the queue payload sent from the dispatcher to the chunk
// workers. It carries only reminder ids, never reminder bodies: workers
// re-read each row under lock so stale payloads cannot resurrect a reminder
// that was deactivated between tick and consumption.
type ChunkMessage struct {
	TickID      string    `json:"tick_id"`
	TraceID     string    `json:"trace_id"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	ReminderIDs []int64   `json:"reminder_ids"`
	Chunk       int       `json:"chunk"`
	TotalChunks int       `json:"total_chunks"`
}

// SendMessage is the queue payload for a single reminder email. The send
// worker resolves the client row itself; the message only identifies it.
type SendMessage struct {
	TraceID    string `json:"trace_id"`
	ClientID   int64  `json:"client_id"`
	ReminderID int64  `json:"reminder_id"`
}
