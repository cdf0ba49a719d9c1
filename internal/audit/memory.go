package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRecorder keeps events in memory. Used in tests and for running the
// service without a database.
type MemoryRecorder struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

func (m *MemoryRecorder) Record(_ context.Context, input RecordInput) {
	e := Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		SubjectID: input.SubjectID,
		Action:    input.Action,
		Outcome:   input.Outcome,
	}
	if input.ResourceType != "" {
		e.ResourceType = &input.ResourceType
	}
	if input.ResourceID != "" {
		e.ResourceID = &input.ResourceID
	}
	if input.Details != nil {
		if b, err := json.Marshal(input.Details); err == nil {
			e.Details = b
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

// Events returns a copy of the recorded events.
func (m *MemoryRecorder) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// NopRecorder discards events.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, RecordInput) {}
