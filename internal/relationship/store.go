package relationship

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
)

// Edge records that a subject holds a relation on a resource. At most one
// edge exists per (subject, resource type, resource id, relation kind) tuple;
// re-granting updates the edge in place.
type Edge struct {
	ID           string          `json:"id" db:"id"`
	SubjectID    string          `json:"subject_id" db:"subject_id"`
	ResourceType string          `json:"resource_type" db:"resource_type"`
	ResourceID   string          `json:"resource_id" db:"resource_id"`
	RelationKind string          `json:"relation_kind" db:"relation_kind"`
	GrantedBy    *string         `json:"granted_by,omitempty" db:"granted_by"`
	GrantedAt    time.Time       `json:"granted_at" db:"granted_at"`
	ExpiresAt    *time.Time      `json:"expires_at,omitempty" db:"expires_at"`
	Metadata     json.RawMessage `json:"metadata,omitempty" db:"metadata"`
}

// Active reports whether the edge has not expired at the given instant.
// Expired edges are retained for audit; they just stop granting access.
func (e Edge) Active(now time.Time) bool {
	return e.ExpiresAt == nil || e.ExpiresAt.After(now)
}

// Store defines relationship edge storage.
type Store interface {
	// Upsert inserts the edge or, when the tuple already exists, updates the
	// existing edge. Returns the id of the stored edge. The operation is
	// atomic; concurrent grants of the same tuple never create duplicates.
	Upsert(ctx context.Context, e Edge) (string, error)

	// Delete removes edges for the subject/resource pair. An empty
	// relationKind removes all kinds. Returns the number of edges removed.
	Delete(ctx context.Context, subjectID, resourceType, resourceID, relationKind string) (int64, error)

	ByResource(ctx context.Context, resourceType, resourceID string) ([]Edge, error)
	BySubject(ctx context.Context, subjectID, resourceType string) ([]Edge, error)
}

type store struct {
	db *sqlx.DB
}

// NewStore creates a Postgres-backed edge store.
func NewStore(db *sqlx.DB) Store {
	return &store{db: db}
}

func (s *store) Upsert(ctx context.Context, e Edge) (string, error) {
	var id string
	err := s.db.QueryRowxContext(ctx,
		`INSERT INTO relationship_edges
		   (id, subject_id, resource_type, resource_id, relation_kind, granted_by, granted_at, expires_at, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (subject_id, resource_type, resource_id, relation_kind) DO UPDATE SET
		   granted_by = EXCLUDED.granted_by,
		   granted_at = EXCLUDED.granted_at,
		   expires_at = EXCLUDED.expires_at,
		   metadata   = EXCLUDED.metadata
		 RETURNING id`,
		e.ID, e.SubjectID, e.ResourceType, e.ResourceID, e.RelationKind,
		e.GrantedBy, e.GrantedAt, e.ExpiresAt, e.Metadata,
	).Scan(&id)
	return id, err
}

func (s *store) Delete(ctx context.Context, subjectID, resourceType, resourceID, relationKind string) (int64, error) {
	query := `DELETE FROM relationship_edges
	          WHERE subject_id = $1 AND resource_type = $2 AND resource_id = $3`
	args := []any{subjectID, resourceType, resourceID}
	if relationKind != "" {
		query += ` AND relation_kind = $4`
		args = append(args, relationKind)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *store) ByResource(ctx context.Context, resourceType, resourceID string) ([]Edge, error) {
	var edges []Edge
	err := s.db.SelectContext(ctx, &edges,
		`SELECT * FROM relationship_edges
		 WHERE resource_type = $1 AND resource_id = $2
		 ORDER BY granted_at`,
		resourceType, resourceID)
	return edges, err
}

func (s *store) BySubject(ctx context.Context, subjectID, resourceType string) ([]Edge, error) {
	query := `SELECT * FROM relationship_edges WHERE subject_id = $1`
	args := []any{subjectID}
	if resourceType != "" {
		query += ` AND resource_type = $2`
		args = append(args, resourceType)
	}
	query += ` ORDER BY granted_at`

	var edges []Edge
	err := s.db.SelectContext(ctx, &edges, query, args...)
	return edges, err
}
