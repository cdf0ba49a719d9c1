package relationship

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/dhawalhost/vineseal/internal/audit"
)

// GrantInput describes a relationship grant.
type GrantInput struct {
	SubjectID    string
	ResourceType string
	ResourceID   string
	RelationKind string
	GrantedBy    string
	ExpiresAt    *time.Time
	Metadata     map[string]any
}

// QueryOptions controls edge queries. Expired edges are excluded unless
// IncludeExpired is set (for audit and history views).
type QueryOptions struct {
	IncludeExpired bool
}

// Service is the relationship graph: grant, revoke and query of subject to
// resource relation edges.
type Service interface {
	AddRelationship(ctx context.Context, input GrantInput) (string, error)
	RemoveRelationship(ctx context.Context, subjectID, resourceType, resourceID, relationKind, removedBy string) error
	RelationshipsForResource(ctx context.Context, resourceType, resourceID string, opts QueryOptions) (map[string][]string, error)
	RelationshipsForSubject(ctx context.Context, subjectID, resourceType string, opts QueryOptions) ([]Edge, error)
	HasRelationship(ctx context.Context, subjectID, resourceType, resourceID, relationKind string) (bool, error)
}

type service struct {
	store    Store
	recorder audit.Recorder
}

// NewService creates the relationship graph service.
func NewService(store Store, recorder audit.Recorder) Service {
	return &service{store: store, recorder: recorder}
}

func (s *service) AddRelationship(ctx context.Context, input GrantInput) (string, error) {
	if input.SubjectID == "" || input.ResourceType == "" || input.ResourceID == "" || input.RelationKind == "" {
		return "", fmt.Errorf("subject, resource type, resource id and relation kind are required")
	}

	e := Edge{
		ID:           ulid.Make().String(),
		SubjectID:    input.SubjectID,
		ResourceType: input.ResourceType,
		ResourceID:   input.ResourceID,
		RelationKind: input.RelationKind,
		GrantedAt:    time.Now().UTC(),
		ExpiresAt:    input.ExpiresAt,
	}
	if input.GrantedBy != "" {
		e.GrantedBy = &input.GrantedBy
	}
	if input.Metadata != nil {
		b, err := json.Marshal(input.Metadata)
		if err != nil {
			return "", fmt.Errorf("serializing edge metadata: %w", err)
		}
		e.Metadata = b
	}

	id, err := s.store.Upsert(ctx, e)
	if err != nil {
		return "", fmt.Errorf("storing relationship: %w", err)
	}

	s.recorder.Record(ctx, audit.RecordInput{
		SubjectID:    input.GrantedBy,
		Action:       "relationship.grant",
		ResourceType: input.ResourceType,
		ResourceID:   input.ResourceID,
		Outcome:      "success",
		Details: map[string]any{
			"target_subject": input.SubjectID,
			"relation_kind":  input.RelationKind,
			"edge_id":        id,
		},
	})
	return id, nil
}

func (s *service) RemoveRelationship(ctx context.Context, subjectID, resourceType, resourceID, relationKind, removedBy string) error {
	removed, err := s.store.Delete(ctx, subjectID, resourceType, resourceID, relationKind)
	if err != nil {
		return fmt.Errorf("removing relationship: %w", err)
	}

	s.recorder.Record(ctx, audit.RecordInput{
		SubjectID:    removedBy,
		Action:       "relationship.revoke",
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Outcome:      "success",
		Details: map[string]any{
			"target_subject": subjectID,
			"relation_kind":  relationKind,
			"removed_edges":  removed,
		},
	})
	return nil
}

// RelationshipsForResource returns a materialized relations view for one
// resource, in the shape the decision engine consumes.
func (s *service) RelationshipsForResource(ctx context.Context, resourceType, resourceID string, opts QueryOptions) (map[string][]string, error) {
	edges, err := s.store.ByResource(ctx, resourceType, resourceID)
	if err != nil {
		return nil, fmt.Errorf("querying resource relationships: %w", err)
	}

	now := time.Now().UTC()
	out := make(map[string][]string)
	for _, e := range edges {
		if !opts.IncludeExpired && !e.Active(now) {
			continue
		}
		out[e.RelationKind] = append(out[e.RelationKind], e.SubjectID)
	}
	return out, nil
}

func (s *service) RelationshipsForSubject(ctx context.Context, subjectID, resourceType string, opts QueryOptions) ([]Edge, error) {
	edges, err := s.store.BySubject(ctx, subjectID, resourceType)
	if err != nil {
		return nil, fmt.Errorf("querying subject relationships: %w", err)
	}
	if opts.IncludeExpired {
		return edges, nil
	}

	now := time.Now().UTC()
	active := edges[:0]
	for _, e := range edges {
		if e.Active(now) {
			active = append(active, e)
		}
	}
	return active, nil
}

func (s *service) HasRelationship(ctx context.Context, subjectID, resourceType, resourceID, relationKind string) (bool, error) {
	edges, err := s.store.BySubject(ctx, subjectID, resourceType)
	if err != nil {
		return false, fmt.Errorf("querying subject relationships: %w", err)
	}

	now := time.Now().UTC()
	for _, e := range edges {
		if e.ResourceID != resourceID || !e.Active(now) {
			continue
		}
		if relationKind == "" || e.RelationKind == relationKind {
			return true, nil
		}
	}
	return false, nil
}
