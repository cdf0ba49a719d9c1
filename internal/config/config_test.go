package config

import "testing"

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"HTTP_ADDR", "ENVIRONMENT", "POLICY_FILE",
		"JWT_SECRET", "ENVELOPE_SECRET", "ENVELOPE_INSECURE",
	} {
		t.Setenv(key, "")
	}
}

func TestFromEnvDevelopmentDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := FromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.Environment != "development" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.JWTSecret == "" || cfg.EnvelopeSecret == "" {
		t.Fatal("development must fall back to dev secrets")
	}
}

func TestFromEnvProductionRequiresSecrets(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENVIRONMENT", "production")

	if _, err := FromEnv(); err == nil {
		t.Fatal("expected error without JWT_SECRET")
	}

	t.Setenv("JWT_SECRET", "s1")
	if _, err := FromEnv(); err == nil {
		t.Fatal("expected error without ENVELOPE_SECRET")
	}

	t.Setenv("ENVELOPE_SECRET", "s2")
	cfg, err := FromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.JWTSecret != "s1" || cfg.EnvelopeSecret != "s2" {
		t.Fatalf("secrets not read: %+v", cfg)
	}
}

func TestFromEnvProductionForbidsInsecureEnvelope(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("JWT_SECRET", "s1")
	t.Setenv("ENVELOPE_SECRET", "s2")
	t.Setenv("ENVELOPE_INSECURE", "true")

	if _, err := FromEnv(); err == nil {
		t.Fatal("insecure envelope mode must be rejected in production")
	}
}
