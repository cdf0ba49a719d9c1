package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Recorder appends audit events. Writes are fire-and-forget from the caller's
// point of view: a failed write must never fail or block the operation that
// produced the event.
type Recorder interface {
	Record(ctx context.Context, input RecordInput)
}

// RecordInput holds the caller-supplied fields of an audit event. Details is
// serialized to JSON; a serialization failure drops the details, not the event.
type RecordInput struct {
	SubjectID    string
	Action       string
	ResourceType string
	ResourceID   string
	Outcome      string
	Details      any
}

type service struct {
	store  Store
	logger *zap.Logger
}

// NewService creates a Recorder backed by the given store.
func NewService(store Store, logger *zap.Logger) Service {
	return &service{store: store, logger: logger}
}

// Service is a Recorder that can also be queried.
type Service interface {
	Recorder
	Query(ctx context.Context, params QueryParams) ([]Event, int, error)
}

func (s *service) Record(ctx context.Context, input RecordInput) {
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
		b, err := json.Marshal(input.Details)
		if err != nil {
			s.logger.Warn("audit details not serializable, dropping details",
				zap.String("action", input.Action), zap.Error(err))
		} else {
			e.Details = b
		}
	}

	if err := s.store.Append(ctx, e); err != nil {
		s.logger.Error("audit write failed",
			zap.String("action", input.Action),
			zap.String("subject_id", input.SubjectID),
			zap.Error(err))
	}
}

func (s *service) Query(ctx context.Context, params QueryParams) ([]Event, int, error) {
	if params.Limit == 0 {
		params.Limit = 100
	}
	if params.Limit > 1000 {
		params.Limit = 1000
	}
	return s.store.Query(ctx, params)
}
