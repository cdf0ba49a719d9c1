package envelope

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
)

// NonceStatus tracks whether a token's nonce has been consumed. This lives
// outside the codec: the token proves authenticity and freshness, the nonce
// record proves it has not been used before.
type NonceStatus string

const (
	NoncePending NonceStatus = "pending"
	NonceUsed    NonceStatus = "used"
	NonceInvalid NonceStatus = "invalid"
)

// ErrNonceNotFound is returned when no record exists for a nonce.
var ErrNonceNotFound = errors.New("nonce record not found")

// NonceStore persists nonce consumption state for single-use tokens.
type NonceStore interface {
	// Create registers a fresh nonce as pending.
	Create(ctx context.Context, nonce, objectID string, expiresAt time.Time) error

	// Consume flips a pending nonce to used. Returns false when the nonce is
	// absent or already used/invalid; the transition is atomic, so a token
	// can be consumed at most once under concurrent redemption.
	Consume(ctx context.Context, nonce string) (bool, error)

	// Invalidate marks the nonce invalid (e.g. the invitation was revoked).
	Invalidate(ctx context.Context, nonce string) error

	Status(ctx context.Context, nonce string) (NonceStatus, error)
}

type nonceStore struct {
	db *sqlx.DB
}

// NewNonceStore creates a Postgres-backed nonce store.
func NewNonceStore(db *sqlx.DB) NonceStore {
	return &nonceStore{db: db}
}

func (s *nonceStore) Create(ctx context.Context, nonce, objectID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO envelope_nonces (nonce, object_id, status, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		nonce, objectID, NoncePending, time.Now().UTC(), expiresAt)
	return err
}

func (s *nonceStore) Consume(ctx context.Context, nonce string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE envelope_nonces SET status = $1, consumed_at = $2
		 WHERE nonce = $3 AND status = $4`,
		NonceUsed, time.Now().UTC(), nonce, NoncePending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *nonceStore) Invalidate(ctx context.Context, nonce string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE envelope_nonces SET status = $1 WHERE nonce = $2`,
		NonceInvalid, nonce)
	return err
}

func (s *nonceStore) Status(ctx context.Context, nonce string) (NonceStatus, error) {
	var status NonceStatus
	err := s.db.GetContext(ctx, &status,
		`SELECT status FROM envelope_nonces WHERE nonce = $1`, nonce)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNonceNotFound
	}
	return status, err
}

// MemoryNonceStore is an in-memory NonceStore for tests and single-process
// development setups.
type MemoryNonceStore struct {
	mu      sync.Mutex
	entries map[string]NonceStatus
}

func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{entries: make(map[string]NonceStatus)}
}

func (m *MemoryNonceStore) Create(_ context.Context, nonce, _ string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[nonce] = NoncePending
	return nil
}

func (m *MemoryNonceStore) Consume(_ context.Context, nonce string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries[nonce] != NoncePending {
		return false, nil
	}
	m.entries[nonce] = NonceUsed
	return true, nil
}

func (m *MemoryNonceStore) Invalidate(_ context.Context, nonce string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[nonce] = NonceInvalid
	return nil
}

func (m *MemoryNonceStore) Status(_ context.Context, nonce string) (NonceStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status, ok := m.entries[nonce]
	if !ok {
		return "", ErrNonceNotFound
	}
	return status, nil
}
