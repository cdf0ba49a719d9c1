package config

import (
	"fmt"
	"os"

	"github.com/dhawalhost/vineseal/pkg/database"
)

// Config holds the process configuration, read from the environment at
// bootstrap.
type Config struct {
	HTTPAddr    string
	Environment string

	Database   database.Config
	PolicyPath string

	// JWTSecret verifies caller bearer tokens.
	JWTSecret string

	// EnvelopeSecret keys the invitation token codec.
	EnvelopeSecret string
	// EnvelopeInsecure disables payload encryption. Development only; the
	// codec warns at startup when set.
	EnvelopeInsecure bool
}

// FromEnv reads the configuration. Secrets are required outside development.
func FromEnv() (Config, error) {
	cfg := Config{
		HTTPAddr:         envOr("HTTP_ADDR", ":8080"),
		Environment:      envOr("ENVIRONMENT", "development"),
		Database:         database.ConfigFromEnv(),
		PolicyPath:       os.Getenv("POLICY_FILE"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		EnvelopeSecret:   os.Getenv("ENVELOPE_SECRET"),
		EnvelopeInsecure: os.Getenv("ENVELOPE_INSECURE") == "true",
	}

	if cfg.Environment == "production" {
		if cfg.JWTSecret == "" {
			return Config{}, fmt.Errorf("JWT_SECRET is required in production")
		}
		if cfg.EnvelopeSecret == "" {
			return Config{}, fmt.Errorf("ENVELOPE_SECRET is required in production")
		}
		if cfg.EnvelopeInsecure {
			return Config{}, fmt.Errorf("ENVELOPE_INSECURE must not be set in production")
		}
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-jwt-secret"
	}
	if cfg.EnvelopeSecret == "" {
		cfg.EnvelopeSecret = "dev-envelope-secret"
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
