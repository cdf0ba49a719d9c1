package authz

import "time"

// CheckRequest asks for an authorization decision. Relations may be omitted;
// the handler then materializes them from the relationship graph.
type CheckRequest struct {
	Subject  SubjectInput  `json:"subject" binding:"required"`
	Action   string        `json:"action" binding:"required"`
	Resource ResourceInput `json:"resource" binding:"required"`
}

// ExplainRequest is a CheckRequest returning per-mechanism sub-results.
// DryRun suppresses the audit record.
type ExplainRequest struct {
	CheckRequest
	DryRun bool `json:"dry_run"`
}

type SubjectInput struct {
	ID    string         `json:"id" validate:"required"`
	Role  string         `json:"role" validate:"required"`
	Attrs map[string]any `json:"attrs"`
}

type ResourceInput struct {
	ID        string              `json:"id" validate:"required"`
	Type      string              `json:"type" validate:"required"`
	Attrs     map[string]any      `json:"attrs"`
	Relations map[string][]string `json:"relations"`
}

// GrantRequest creates or refreshes a relationship edge.
type GrantRequest struct {
	SubjectID    string         `json:"subject_id" validate:"required"`
	ResourceType string         `json:"resource_type" validate:"required"`
	ResourceID   string         `json:"resource_id" validate:"required"`
	RelationKind string         `json:"relation_kind" validate:"required"`
	ExpiresAt    *time.Time     `json:"expires_at"`
	Metadata     map[string]any `json:"metadata"`
}

// RevokeRequest removes relationship edges. RelationKind empty removes all
// kinds for the subject/resource pair.
type RevokeRequest struct {
	SubjectID    string `json:"subject_id" validate:"required"`
	ResourceType string `json:"resource_type" validate:"required"`
	ResourceID   string `json:"resource_id" validate:"required"`
	RelationKind string `json:"relation_kind"`
}

// IssueTokenRequest creates a capability token.
type IssueTokenRequest struct {
	ResourceType string         `json:"resource_type" validate:"required"`
	ResourceID   string         `json:"resource_id" validate:"required"`
	Action       string         `json:"action" validate:"required"`
	TTLSeconds   int            `json:"ttl_seconds" validate:"required,gt=0"`
	SubjectID    string         `json:"subject_id"`
	MaxUses      *int           `json:"max_uses"`
	Metadata     map[string]any `json:"metadata"`
}

// VerifyTokenRequest checks whether a capability token grants the action.
type VerifyTokenRequest struct {
	Token        string `json:"token" validate:"required"`
	ResourceType string `json:"resource_type" validate:"required"`
	ResourceID   string `json:"resource_id" validate:"required"`
	Action       string `json:"action" validate:"required"`
	SubjectID    string `json:"subject_id"`
}

// IssueInvitationRequest creates a single-use invitation token.
type IssueInvitationRequest struct {
	RecipientID  string `json:"recipient_id" validate:"required"`
	InvitationID string `json:"invitation_id" validate:"required"`
	TTLSeconds   int    `json:"ttl_seconds" validate:"required,gt=0"`
}

// RedeemInvitationRequest consumes an invitation token.
type RedeemInvitationRequest struct {
	Token string `json:"token" validate:"required"`
}

// TokenRequest carries a raw capability token secret.
type TokenRequest struct {
	Token string `json:"token" validate:"required"`
}
