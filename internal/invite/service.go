package invite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dhawalhost/vineseal/internal/audit"
	"github.com/dhawalhost/vineseal/internal/envelope"
)

// Redemption failure modes surfaced to callers.
var (
	ErrInvalidToken   = errors.New("invitation token is invalid")
	ErrExpiredToken   = errors.New("invitation token has expired")
	ErrAlreadyUsed    = errors.New("invitation token was already used")
	ErrWrongRecipient = errors.New("invitation token was issued for a different recipient")
)

// Service issues and redeems single-use invitation tokens. Tokens are
// envelope tokens; single use is enforced through the nonce store, not the
// token itself.
type Service struct {
	codec    *envelope.Codec
	nonces   envelope.NonceStore
	recorder audit.Recorder
	logger   *zap.Logger
}

// NewService creates the invitation service.
func NewService(codec *envelope.Codec, nonces envelope.NonceStore, recorder audit.Recorder, logger *zap.Logger) *Service {
	return &Service{codec: codec, nonces: nonces, recorder: recorder, logger: logger}
}

// Issue creates an invitation token for the given invitation record, bound
// to the recipient identity, valid for ttl. The nonce is registered pending
// so the token can be consumed exactly once.
func (s *Service) Issue(ctx context.Context, inviterID, recipientID, invitationID string, ttl time.Duration) (string, error) {
	token, err := s.codec.Encode(recipientID, invitationID, ttl)
	if err != nil {
		return "", fmt.Errorf("encoding invitation token: %w", err)
	}

	// The nonce is recoverable from our own freshly minted token.
	env, err := s.codec.Decode(token)
	if err != nil {
		return "", fmt.Errorf("reopening invitation token: %w", err)
	}
	if err := s.nonces.Create(ctx, env.Payload.Nonce, invitationID, time.Unix(env.Header.ExpiresAt, 0)); err != nil {
		return "", fmt.Errorf("registering invitation nonce: %w", err)
	}

	s.recorder.Record(ctx, audit.RecordInput{
		SubjectID:    inviterID,
		Action:       "invitation.issue",
		ResourceType: "invitation",
		ResourceID:   invitationID,
		Outcome:      "success",
		Details:      map[string]any{"recipient": recipientID},
	})
	return token, nil
}

// Redeem validates the token, checks it was issued for the redeeming subject
// and consumes its nonce. A token redeems at most once; concurrent attempts
// race on the atomic nonce transition.
func (s *Service) Redeem(ctx context.Context, token, subjectID string) (string, error) {
	env, err := s.codec.Decode(token)
	if err != nil {
		s.auditRedeemFailure(ctx, subjectID, "", err.Error())
		if errors.Is(err, envelope.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		// Signature and decryption failures present identically.
		return "", ErrInvalidToken
	}

	invitationID := env.Payload.ObjectID

	if !env.VerifyIdentity(subjectID) {
		s.auditRedeemFailure(ctx, subjectID, invitationID, "identity mismatch")
		return "", ErrWrongRecipient
	}

	ok, err := s.nonces.Consume(ctx, env.Payload.Nonce)
	if err != nil {
		return "", fmt.Errorf("consuming invitation nonce: %w", err)
	}
	if !ok {
		s.auditRedeemFailure(ctx, subjectID, invitationID, "nonce not pending")
		return "", ErrAlreadyUsed
	}

	s.recorder.Record(ctx, audit.RecordInput{
		SubjectID:    subjectID,
		Action:       "invitation.redeem",
		ResourceType: "invitation",
		ResourceID:   invitationID,
		Outcome:      "success",
	})
	return invitationID, nil
}

// Revoke invalidates an outstanding token's nonce so it can never be
// redeemed, without waiting for its expiry.
func (s *Service) Revoke(ctx context.Context, token, revokedBy string) error {
	env, err := s.codec.Decode(token)
	if err != nil {
		return ErrInvalidToken
	}
	if err := s.nonces.Invalidate(ctx, env.Payload.Nonce); err != nil {
		return fmt.Errorf("invalidating invitation nonce: %w", err)
	}

	s.recorder.Record(ctx, audit.RecordInput{
		SubjectID:    revokedBy,
		Action:       "invitation.revoke",
		ResourceType: "invitation",
		ResourceID:   env.Payload.ObjectID,
		Outcome:      "success",
	})
	return nil
}

func (s *Service) auditRedeemFailure(ctx context.Context, subjectID, invitationID, cause string) {
	s.recorder.Record(ctx, audit.RecordInput{
		SubjectID:    subjectID,
		Action:       "invitation.redeem",
		ResourceType: "invitation",
		ResourceID:   invitationID,
		Outcome:      "failure",
		Details:      map[string]any{"cause": cause},
	})
}
