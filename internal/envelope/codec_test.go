package envelope

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestCodec(t *testing.T, cfg Config) *Codec {
	t.Helper()
	if cfg.Secret == "" {
		cfg.Secret = "test-secret"
	}
	c, err := NewCodec(cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestCodecRoundTrip(t *testing.T) {
	c := newTestCodec(t, Config{TokenType: "invitation"})

	token, err := c.Encode("user:alice", "inv:123", time.Hour)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if strings.Count(token, ".") != 2 {
		t.Fatalf("expected three dot-joined segments, got %q", token)
	}

	env, err := c.Decode(token)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if env.Header.Type != "invitation" || env.Header.Version != 1 {
		t.Fatalf("unexpected header: %+v", env.Header)
	}
	if env.Payload.ObjectID != "inv:123" {
		t.Fatalf("unexpected object id: %s", env.Payload.ObjectID)
	}
	if env.Payload.Nonce == "" {
		t.Fatal("payload must carry a nonce")
	}
	if !env.VerifyIdentity("user:alice") {
		t.Fatal("identity must verify for the bound subject")
	}
	if env.VerifyIdentity("user:bob") {
		t.Fatal("identity must not verify for another subject")
	}
}

func TestCodecPayloadIsOpaque(t *testing.T) {
	c := newTestCodec(t, Config{})
	token, err := c.Encode("user:alice", "inv:123", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	payloadSeg := strings.Split(token, ".")[1]
	raw, err := base64.RawURLEncoding.DecodeString(payloadSeg)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "inv:123") {
		t.Fatal("encrypted payload must not leak the object id")
	}
}

func TestCodecTamperedSignature(t *testing.T) {
	c := newTestCodec(t, Config{})
	token, err := c.Encode("user:alice", "inv:123", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	// Flip one bit of the payload; the signature no longer covers it.
	broken := []byte(token)
	i := strings.Index(token, ".") + 1
	if broken[i] == 'A' {
		broken[i] = 'B'
	} else {
		broken[i] = 'A'
	}

	if _, err := c.Decode(string(broken)); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
}

func TestCodecWrongKey(t *testing.T) {
	issuer := newTestCodec(t, Config{Secret: "secret-one"})
	other := newTestCodec(t, Config{Secret: "secret-two"})

	token, err := issuer.Encode("user:alice", "inv:123", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := other.Decode(token); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature across keys, got %v", err)
	}
}

func TestCodecMalformedTokens(t *testing.T) {
	c := newTestCodec(t, Config{})
	for _, token := range []string{
		"",
		"one.two",
		"one.two.three.four",
		"!!!.???.%%%",
	} {
		if _, err := c.Decode(token); !errors.Is(err, ErrMalformedToken) {
			t.Fatalf("token %q: expected ErrMalformedToken, got %v", token, err)
		}
	}
}

func TestCodecExpiry(t *testing.T) {
	c := newTestCodec(t, Config{})
	issued := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return issued }

	token, err := c.Encode("user:alice", "inv:123", time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	c.now = func() time.Time { return issued.Add(30 * time.Second) }
	if _, err := c.Decode(token); err != nil {
		t.Fatalf("token should still be valid: %v", err)
	}

	c.now = func() time.Time { return issued.Add(2 * time.Minute) }
	if _, err := c.Decode(token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestCodecInsecureMode(t *testing.T) {
	c := newTestCodec(t, Config{InsecureNoEncrypt: true})

	token, err := c.Encode("user:alice", "inv:123", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	// The payload is readable in clear...
	payloadSeg := strings.Split(token, ".")[1]
	raw, err := base64.RawURLEncoding.DecodeString(payloadSeg)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), "inv:123") {
		t.Fatal("insecure mode should store the payload in clear")
	}

	// ...but the token stays authenticated.
	env, err := c.Decode(token)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if env.Payload.ObjectID != "inv:123" {
		t.Fatalf("unexpected payload: %+v", env.Payload)
	}

	broken := []byte(token)
	i := strings.Index(token, ".") + 1
	if broken[i] == 'A' {
		broken[i] = 'B'
	} else {
		broken[i] = 'A'
	}
	if _, err := c.Decode(string(broken)); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature in insecure mode, got %v", err)
	}
}

func TestCodecRequiresSecret(t *testing.T) {
	if _, err := NewCodec(Config{}, zap.NewNop()); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestMemoryNonceStoreTransitions(t *testing.T) {
	s := NewMemoryNonceStore()
	ctx := context.Background()

	if _, err := s.Status(ctx, "n1"); !errors.Is(err, ErrNonceNotFound) {
		t.Fatalf("expected ErrNonceNotFound, got %v", err)
	}

	if err := s.Create(ctx, "n1", "inv:1", time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if status, _ := s.Status(ctx, "n1"); status != NoncePending {
		t.Fatalf("expected pending, got %s", status)
	}

	ok, err := s.Consume(ctx, "n1")
	if err != nil || !ok {
		t.Fatalf("first consume: ok=%v err=%v", ok, err)
	}
	ok, err = s.Consume(ctx, "n1")
	if err != nil || ok {
		t.Fatalf("second consume must fail: ok=%v err=%v", ok, err)
	}
	if status, _ := s.Status(ctx, "n1"); status != NonceUsed {
		t.Fatalf("expected used, got %s", status)
	}

	if err := s.Create(ctx, "n2", "inv:2", time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := s.Invalidate(ctx, "n2"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.Consume(ctx, "n2"); ok {
		t.Fatal("an invalidated nonce must not consume")
	}
}
