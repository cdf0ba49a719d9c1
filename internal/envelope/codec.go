package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/hkdf"
)

// Decode failure modes. Callers may branch on these internally but should
// present signature and decryption failures identically to end users.
var (
	ErrMalformedToken = errors.New("malformed envelope token")
	ErrBadSignature   = errors.New("envelope token signature invalid")
	ErrDecryptFailed  = errors.New("envelope token decryption failed")
	ErrTokenExpired   = errors.New("envelope token expired")
)

const (
	tokenVersion = 1
	nonceBytes   = 12 // AES-GCM standard nonce size
)

// Header is the public first segment of a token.
type Header struct {
	Type      string `json:"type"`
	IssuedAt  int64  `json:"issued_at"`
	ExpiresAt int64  `json:"expires_at"`
	Version   int    `json:"version"`
}

// Payload is the protected second segment. Nonce doubles as the single-use
// tracking key kept in the external nonce store.
type Payload struct {
	ObjectID     string `json:"object_id"`
	IdentityHash string `json:"identity_hash"`
	Nonce        string `json:"nonce"`
}

// Envelope is the decoded form of a valid token.
type Envelope struct {
	Header  Header
	Payload Payload
}

// Config configures a Codec.
type Config struct {
	// Secret is the server secret the encryption and MAC keys are derived
	// from. Must be non-empty.
	Secret string
	// TokenType tags the header (e.g. "invitation").
	TokenType string
	// InsecureNoEncrypt stores the payload in clear, authenticated but not
	// confidential. Development only; the constructor warns loudly.
	InsecureNoEncrypt bool
}

// Codec encodes and decodes authenticated, encrypted, expiring tokens of the
// form base64url(header).base64url(payload).base64url(signature). It proves
// authenticity and freshness only; single use is enforced by the caller via
// a NonceStore.
type Codec struct {
	encKey    []byte
	macKey    []byte
	tokenType string
	insecure  bool
	now       func() time.Time
}

// NewCodec derives independent AES-256 and HMAC-SHA256 keys from the secret
// via HKDF and returns a ready codec.
func NewCodec(cfg Config, logger *zap.Logger) (*Codec, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("envelope codec requires a secret")
	}
	if cfg.TokenType == "" {
		cfg.TokenType = "envelope"
	}
	if cfg.InsecureNoEncrypt {
		logger.Warn("envelope codec running in insecure mode: payloads are NOT encrypted; never use this in production")
	}

	encKey, err := deriveKey(cfg.Secret, "vineseal/envelope/enc")
	if err != nil {
		return nil, err
	}
	macKey, err := deriveKey(cfg.Secret, "vineseal/envelope/mac")
	if err != nil {
		return nil, err
	}

	return &Codec{
		encKey:    encKey,
		macKey:    macKey,
		tokenType: cfg.TokenType,
		insecure:  cfg.InsecureNoEncrypt,
		now:       time.Now,
	}, nil
}

// Encode builds a token for the domain object, bound to the subject identity
// via a one-way hash, valid for ttl.
func (c *Codec) Encode(subjectID, objectID string, ttl time.Duration) (string, error) {
	now := c.now()
	header := Header{
		Type:      c.tokenType,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
		Version:   tokenVersion,
	}
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", fmt.Errorf("encoding header: %w", err)
	}
	headerSeg := b64u(headerJSON)

	nonce := make([]byte, nonceBytes)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	identity := sha256.Sum256([]byte(subjectID))
	payload := Payload{
		ObjectID:     objectID,
		IdentityHash: hex.EncodeToString(identity[:]),
		Nonce:        b64u(nonce),
	}
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding payload: %w", err)
	}

	var payloadSeg string
	if c.insecure {
		payloadSeg = b64u(plaintext)
	} else {
		aead, err := newAEAD(c.encKey)
		if err != nil {
			return "", err
		}
		ciphertext := aead.Seal(nil, nonce, plaintext, nil)
		payloadSeg = b64u(append(nonce, ciphertext...))
	}

	sig := c.sign(headerSeg, payloadSeg)
	return headerSeg + "." + payloadSeg + "." + b64u(sig), nil
}

// Decode verifies and opens a token. The MAC is checked in constant time
// before any decryption is attempted. Errors are distinct per failure mode:
// ErrMalformedToken, ErrBadSignature, ErrDecryptFailed, ErrTokenExpired.
func (c *Codec) Decode(token string) (*Envelope, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, ErrMalformedToken
	}
	headerSeg, payloadSeg, sigSeg := parts[0], parts[1], parts[2]

	sig, err := b64uDecode(sigSeg)
	if err != nil {
		return nil, ErrMalformedToken
	}
	if !hmac.Equal(sig, c.sign(headerSeg, payloadSeg)) {
		return nil, ErrBadSignature
	}

	headerRaw, err := b64uDecode(headerSeg)
	if err != nil {
		return nil, ErrMalformedToken
	}
	var header Header
	if err := json.Unmarshal(headerRaw, &header); err != nil {
		return nil, ErrMalformedToken
	}

	payloadRaw, err := b64uDecode(payloadSeg)
	if err != nil {
		return nil, ErrMalformedToken
	}

	var plaintext []byte
	if c.insecure {
		plaintext = payloadRaw
	} else {
		if len(payloadRaw) < nonceBytes {
			return nil, ErrDecryptFailed
		}
		aead, err := newAEAD(c.encKey)
		if err != nil {
			return nil, err
		}
		plaintext, err = aead.Open(nil, payloadRaw[:nonceBytes], payloadRaw[nonceBytes:], nil)
		if err != nil {
			return nil, ErrDecryptFailed
		}
	}

	var payload Payload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, ErrMalformedToken
	}

	if header.ExpiresAt != 0 && c.now().Unix() > header.ExpiresAt {
		return nil, ErrTokenExpired
	}

	return &Envelope{Header: header, Payload: payload}, nil
}

// VerifyIdentity reports whether the subject matches the identity the token
// was issued for.
func (e *Envelope) VerifyIdentity(subjectID string) bool {
	sum := sha256.Sum256([]byte(subjectID))
	return hmac.Equal([]byte(hex.EncodeToString(sum[:])), []byte(e.Payload.IdentityHash))
}

func (c *Codec) sign(headerSeg, payloadSeg string) []byte {
	mac := hmac.New(sha256.New, c.macKey)
	mac.Write([]byte(headerSeg))
	mac.Write([]byte("."))
	mac.Write([]byte(payloadSeg))
	return mac.Sum(nil)
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("initializing cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

func deriveKey(secret, info string) ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("deriving %s key: %w", info, err)
	}
	return key, nil
}

func b64u(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

func b64uDecode(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}
