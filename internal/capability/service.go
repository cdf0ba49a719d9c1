package capability

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/dhawalhost/vineseal/internal/audit"
)

// secretBytes gives 256 bits of randomness per bearer secret.
const secretBytes = 32

// IssueOptions carries the optional fields of an issue request.
type IssueOptions struct {
	// SubjectID restricts the token to one subject. Empty means any bearer.
	SubjectID string
	// MaxUses caps how often the token verifies. Nil means unlimited.
	MaxUses  *int
	Metadata map[string]any
}

// Service issues and verifies scoped bearer tokens: one action on one
// resource, with expiry and an optional use ceiling.
type Service struct {
	store    Store
	recorder audit.Recorder
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates the capability token service.
func NewService(store Store, recorder audit.Recorder, logger *zap.Logger) *Service {
	return &Service{store: store, recorder: recorder, logger: logger, now: time.Now}
}

// Issue creates a token granting action on (resourceType, resourceID) until
// now+ttl. The returned raw secret is shown exactly once; only its hash is
// persisted and the secret is unrecoverable afterwards.
func (s *Service) Issue(ctx context.Context, issuerID, resourceType, resourceID, action string, ttl time.Duration, opts IssueOptions) (string, error) {
	if issuerID == "" || resourceType == "" || resourceID == "" || action == "" {
		return "", fmt.Errorf("issuer, resource type, resource id and action are required")
	}

	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating token secret: %w", err)
	}
	rawSecret := base64.RawURLEncoding.EncodeToString(buf)

	now := s.now().UTC()
	t := Token{
		ID:           ulid.Make().String(),
		TokenHash:    hashSecret(rawSecret),
		IssuerID:     issuerID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Action:       action,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
		MaxUses:      opts.MaxUses,
	}
	if opts.SubjectID != "" {
		t.SubjectID = &opts.SubjectID
	}
	if opts.Metadata != nil {
		b, err := json.Marshal(opts.Metadata)
		if err != nil {
			return "", fmt.Errorf("serializing token metadata: %w", err)
		}
		t.Metadata = b
	}

	if err := s.store.Insert(ctx, t); err != nil {
		return "", fmt.Errorf("storing token: %w", err)
	}

	s.recorder.Record(ctx, audit.RecordInput{
		SubjectID:    issuerID,
		Action:       "capability.issue",
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Outcome:      "success",
		Details: map[string]any{
			"token_id":       t.ID,
			"granted_action": action,
			"bound_subject":  opts.SubjectID,
			"expires_at":     t.ExpiresAt,
		},
	})
	return rawSecret, nil
}

// Verify reports whether the offered secret currently grants action on the
// resource, optionally as the given subject. Every invalid state collapses to
// false with no distinguishing signal, so a caller cannot probe why a token
// failed. A successful verification consumes one use atomically.
func (s *Service) Verify(ctx context.Context, rawSecret, resourceType, resourceID, action, subjectID string) bool {
	hash := hashSecret(rawSecret)

	t, err := s.store.GetByHash(ctx, hash)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Error("capability token lookup failed", zap.Error(err))
		}
		s.auditVerifyFailure(ctx, subjectID, resourceType, resourceID, "unknown token")
		return false
	}

	now := s.now().UTC()
	switch {
	case now.After(t.ExpiresAt):
		s.auditVerifyFailure(ctx, subjectID, resourceType, resourceID, "expired")
		return false
	case t.ResourceType != resourceType || t.ResourceID != resourceID:
		s.auditVerifyFailure(ctx, subjectID, resourceType, resourceID, "resource mismatch")
		return false
	case t.Action != action:
		s.auditVerifyFailure(ctx, subjectID, resourceType, resourceID, "action mismatch")
		return false
	case t.SubjectID != nil && *t.SubjectID != subjectID:
		s.auditVerifyFailure(ctx, subjectID, resourceType, resourceID, "subject mismatch")
		return false
	}

	// The ceiling check rides inside the conditional increment; the checks
	// above are only advisory against a stale row.
	ok, err := s.store.ConsumeUse(ctx, hash, now)
	if err != nil {
		s.logger.Error("capability token use consumption failed", zap.Error(err))
		return false
	}
	if !ok {
		s.auditVerifyFailure(ctx, subjectID, resourceType, resourceID, "use ceiling reached")
		return false
	}
	return true
}

// Inspect returns the token record for the offered secret without the hash,
// or false when no record matches. It does not consume a use.
func (s *Service) Inspect(ctx context.Context, rawSecret string) (Token, bool) {
	t, err := s.store.GetByHash(ctx, hashSecret(rawSecret))
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Error("capability token lookup failed", zap.Error(err))
		}
		return Token{}, false
	}
	t.TokenHash = ""
	return t, true
}

// Revoke deletes the token for the offered secret.
func (s *Service) Revoke(ctx context.Context, rawSecret, revokedBy string) bool {
	ok, err := s.store.DeleteByHash(ctx, hashSecret(rawSecret))
	if err != nil {
		s.logger.Error("capability token revocation failed", zap.Error(err))
		return false
	}
	if ok {
		s.recorder.Record(ctx, audit.RecordInput{
			SubjectID: revokedBy,
			Action:    "capability.revoke",
			Outcome:   "success",
		})
	}
	return ok
}

// RevokeByID deletes the token by record id; only the issuer may do so.
func (s *Service) RevokeByID(ctx context.Context, id, issuerID string) bool {
	ok, err := s.store.DeleteByID(ctx, id, issuerID)
	if err != nil {
		s.logger.Error("capability token revocation failed", zap.Error(err))
		return false
	}
	if ok {
		s.recorder.Record(ctx, audit.RecordInput{
			SubjectID: issuerID,
			Action:    "capability.revoke",
			Outcome:   "success",
			Details:   map[string]any{"token_id": id},
		})
	}
	return ok
}

// ListByIssuer returns all tokens the issuer created, hashes elided.
func (s *Service) ListByIssuer(ctx context.Context, issuerID string) ([]Token, error) {
	tokens, err := s.store.ListByIssuer(ctx, issuerID)
	if err != nil {
		return nil, fmt.Errorf("listing tokens: %w", err)
	}
	for i := range tokens {
		tokens[i].TokenHash = ""
	}
	return tokens, nil
}

// CleanupExpired removes expired token records and returns how many.
func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteExpired(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("cleaning up expired tokens: %w", err)
	}
	return n, nil
}

func (s *Service) auditVerifyFailure(ctx context.Context, subjectID, resourceType, resourceID, cause string) {
	s.recorder.Record(ctx, audit.RecordInput{
		SubjectID:    subjectID,
		Action:       "capability.verify",
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Outcome:      "failure",
		Details:      map[string]any{"cause": cause},
	})
}

func hashSecret(rawSecret string) string {
	sum := sha256.Sum256([]byte(rawSecret))
	return hex.EncodeToString(sum[:])
}
