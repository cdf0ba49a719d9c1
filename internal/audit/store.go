package audit

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
)

// Event is one append-only audit record: an authorization decision or an
// administrative action (grant, revoke, token issue, verify failure).
type Event struct {
	ID           string          `json:"id" db:"id"`
	Timestamp    time.Time       `json:"timestamp" db:"timestamp"`
	SubjectID    string          `json:"subject_id" db:"subject_id"`
	Action       string          `json:"action" db:"action"`
	ResourceType *string         `json:"resource_type,omitempty" db:"resource_type"`
	ResourceID   *string         `json:"resource_id,omitempty" db:"resource_id"`
	Outcome      string          `json:"outcome" db:"outcome"`
	Details      json.RawMessage `json:"details,omitempty" db:"details"`
}

// QueryParams filters an audit query.
type QueryParams struct {
	SubjectID    *string
	Action       *string
	ResourceType *string
	ResourceID   *string
	Outcome      *string
	StartTime    *time.Time
	EndTime      *time.Time
	Limit        int
	Offset       int
}

// Store defines audit event storage.
type Store interface {
	Append(ctx context.Context, e Event) error
	Query(ctx context.Context, params QueryParams) ([]Event, int, error)
}

type store struct {
	db *sqlx.DB
}

// NewStore creates a Postgres-backed audit store.
func NewStore(db *sqlx.DB) Store {
	return &store{db: db}
}

func (s *store) Append(ctx context.Context, e Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_events (id, timestamp, subject_id, action, resource_type, resource_id, outcome, details)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.Timestamp, e.SubjectID, e.Action, e.ResourceType, e.ResourceID, e.Outcome, e.Details,
	)
	return err
}

func (s *store) Query(ctx context.Context, params QueryParams) ([]Event, int, error) {
	query := `SELECT * FROM audit_events WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM audit_events WHERE 1=1`
	args := []any{}
	argIdx := 1

	addFilter := func(clause string, value any) {
		frag := ` AND ` + clause + ` $` + strconv.Itoa(argIdx)
		query += frag
		countQuery += frag
		args = append(args, value)
		argIdx++
	}

	if params.SubjectID != nil {
		addFilter(`subject_id =`, *params.SubjectID)
	}
	if params.Action != nil {
		addFilter(`action =`, *params.Action)
	}
	if params.ResourceType != nil {
		addFilter(`resource_type =`, *params.ResourceType)
	}
	if params.ResourceID != nil {
		addFilter(`resource_id =`, *params.ResourceID)
	}
	if params.Outcome != nil {
		addFilter(`outcome =`, *params.Outcome)
	}
	if params.StartTime != nil {
		addFilter(`timestamp >=`, *params.StartTime)
	}
	if params.EndTime != nil {
		addFilter(`timestamp <=`, *params.EndTime)
	}

	var total int
	if err := s.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, err
	}

	query += ` ORDER BY timestamp DESC`
	if params.Limit > 0 {
		query += ` LIMIT $` + strconv.Itoa(argIdx)
		args = append(args, params.Limit)
		argIdx++
	}
	if params.Offset > 0 {
		query += ` OFFSET $` + strconv.Itoa(argIdx)
		args = append(args, params.Offset)
	}

	var events []Event
	if err := s.db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, 0, err
	}
	return events, total, nil
}
