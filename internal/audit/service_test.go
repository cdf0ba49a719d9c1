package audit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"
)

var ctx = context.Background()

type fakeStore struct {
	mu        sync.Mutex
	events    []Event
	appendErr error
	gotParams QueryParams
}

func (f *fakeStore) Append(_ context.Context, e Event) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}

func (f *fakeStore) Query(_ context.Context, params QueryParams) ([]Event, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotParams = params
	return f.events, len(f.events), nil
}

func TestRecordPopulatesEvent(t *testing.T) {
	store := &fakeStore{}
	svc := NewService(store, zap.NewNop())

	svc.Record(ctx, RecordInput{
		SubjectID:    "user:1",
		Action:       "authz.check",
		ResourceType: "parcel",
		ResourceID:   "42",
		Outcome:      "allow",
		Details:      map[string]any{"requested_action": "view"},
	})

	if len(store.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(store.events))
	}
	e := store.events[0]
	if e.ID == "" || e.Timestamp.IsZero() {
		t.Fatalf("event missing id or timestamp: %+v", e)
	}
	if e.ResourceType == nil || *e.ResourceType != "parcel" {
		t.Fatalf("unexpected resource type: %v", e.ResourceType)
	}
	var details map[string]any
	if err := json.Unmarshal(e.Details, &details); err != nil {
		t.Fatal(err)
	}
	if details["requested_action"] != "view" {
		t.Fatalf("unexpected details: %v", details)
	}
}

func TestRecordOmitsEmptyResource(t *testing.T) {
	store := &fakeStore{}
	svc := NewService(store, zap.NewNop())

	svc.Record(ctx, RecordInput{SubjectID: "user:1", Action: "capability.revoke", Outcome: "success"})

	e := store.events[0]
	if e.ResourceType != nil || e.ResourceID != nil {
		t.Fatalf("empty resource fields should stay null, got %+v", e)
	}
}

func TestRecordSwallowsStoreFailure(t *testing.T) {
	store := &fakeStore{appendErr: errors.New("db down")}
	svc := NewService(store, zap.NewNop())

	// Must not panic and must not surface the error to the caller.
	svc.Record(ctx, RecordInput{SubjectID: "user:1", Action: "authz.check", Outcome: "deny"})
}

func TestRecordDropsUnserializableDetails(t *testing.T) {
	store := &fakeStore{}
	svc := NewService(store, zap.NewNop())

	svc.Record(ctx, RecordInput{
		SubjectID: "user:1",
		Action:    "authz.check",
		Outcome:   "allow",
		Details:   map[string]any{"bad": func() {}},
	})

	if len(store.events) != 1 {
		t.Fatal("the event itself must still be written")
	}
	if store.events[0].Details != nil {
		t.Fatal("unserializable details should be dropped")
	}
}

func TestQueryClampsLimit(t *testing.T) {
	store := &fakeStore{}
	svc := NewService(store, zap.NewNop())

	if _, _, err := svc.Query(ctx, QueryParams{}); err != nil {
		t.Fatal(err)
	}
	if store.gotParams.Limit != 100 {
		t.Fatalf("zero limit should default to 100, got %d", store.gotParams.Limit)
	}

	if _, _, err := svc.Query(ctx, QueryParams{Limit: 5000}); err != nil {
		t.Fatal(err)
	}
	if store.gotParams.Limit != 1000 {
		t.Fatalf("limit should clamp to 1000, got %d", store.gotParams.Limit)
	}

	if _, _, err := svc.Query(ctx, QueryParams{Limit: 25}); err != nil {
		t.Fatal(err)
	}
	if store.gotParams.Limit != 25 {
		t.Fatalf("in-range limit should pass through, got %d", store.gotParams.Limit)
	}
}
