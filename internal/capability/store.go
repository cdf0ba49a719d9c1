package capability

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned when no token record matches.
var ErrNotFound = errors.New("capability token not found")

// Token is the persisted record of a capability token. Only the SHA-256 hash
// of the bearer secret is stored; the raw secret exists solely in the issue
// response.
type Token struct {
	ID           string          `json:"id" db:"id"`
	TokenHash    string          `json:"-" db:"token_hash"`
	IssuerID     string          `json:"issuer_id" db:"issuer_id"`
	SubjectID    *string         `json:"subject_id,omitempty" db:"subject_id"`
	ResourceType string          `json:"resource_type" db:"resource_type"`
	ResourceID   string          `json:"resource_id" db:"resource_id"`
	Action       string          `json:"action" db:"action"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	ExpiresAt    time.Time       `json:"expires_at" db:"expires_at"`
	UsedCount    int             `json:"used_count" db:"used_count"`
	MaxUses      *int            `json:"max_uses,omitempty" db:"max_uses"`
	Metadata     json.RawMessage `json:"metadata,omitempty" db:"metadata"`
}

// Store defines capability token storage.
type Store interface {
	Insert(ctx context.Context, t Token) error
	GetByHash(ctx context.Context, hash string) (Token, error)

	// ConsumeUse increments the use counter iff the token identified by hash
	// is unexpired and below its use ceiling, as one atomic read-modify-write.
	// Returns false once the ceiling is reached; two concurrent calls against
	// a token with one remaining use never both succeed.
	ConsumeUse(ctx context.Context, hash string, now time.Time) (bool, error)

	DeleteByHash(ctx context.Context, hash string) (bool, error)
	DeleteByID(ctx context.Context, id, issuerID string) (bool, error)
	ListByIssuer(ctx context.Context, issuerID string) ([]Token, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type store struct {
	db *sqlx.DB
}

// NewStore creates a Postgres-backed token store.
func NewStore(db *sqlx.DB) Store {
	return &store{db: db}
}

func (s *store) Insert(ctx context.Context, t Token) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO capability_tokens
		   (id, token_hash, issuer_id, subject_id, resource_type, resource_id, action,
		    created_at, expires_at, used_count, max_uses, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		t.ID, t.TokenHash, t.IssuerID, t.SubjectID, t.ResourceType, t.ResourceID, t.Action,
		t.CreatedAt, t.ExpiresAt, t.UsedCount, t.MaxUses, t.Metadata,
	)
	return err
}

func (s *store) GetByHash(ctx context.Context, hash string) (Token, error) {
	var t Token
	err := s.db.GetContext(ctx, &t,
		`SELECT * FROM capability_tokens WHERE token_hash = $1`, hash)
	if errors.Is(err, sql.ErrNoRows) {
		return Token{}, ErrNotFound
	}
	return t, err
}

func (s *store) ConsumeUse(ctx context.Context, hash string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE capability_tokens
		 SET used_count = used_count + 1
		 WHERE token_hash = $1
		   AND expires_at > $2
		   AND (max_uses IS NULL OR used_count < max_uses)`,
		hash, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *store) DeleteByHash(ctx context.Context, hash string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM capability_tokens WHERE token_hash = $1`, hash)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *store) DeleteByID(ctx context.Context, id, issuerID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM capability_tokens WHERE id = $1 AND issuer_id = $2`, id, issuerID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *store) ListByIssuer(ctx context.Context, issuerID string) ([]Token, error) {
	var tokens []Token
	err := s.db.SelectContext(ctx, &tokens,
		`SELECT * FROM capability_tokens WHERE issuer_id = $1 ORDER BY created_at DESC`,
		issuerID)
	return tokens, err
}

func (s *store) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM capability_tokens WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
