package database

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
)

// Config holds the configuration for the database connection.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// ConfigFromEnv reads the database configuration from DB_* environment
// variables with local-development defaults.
func ConfigFromEnv() Config {
	port := 5432
	if v := os.Getenv("DB_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			port = p
		}
	}
	return Config{
		Host:     envOr("DB_HOST", "localhost"),
		Port:     port,
		User:     envOr("DB_USER", "vineseal"),
		Password: os.Getenv("DB_PASSWORD"),
		DBName:   envOr("DB_NAME", "vineseal"),
		SSLMode:  envOr("DB_SSLMODE", "disable"),
	}
}

// NewConnection creates a new database connection with pool parameters set
// and the connection verified by a ping.
func NewConnection(config Config) (*sqlx.DB, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sqlx.Connect("postgres", connStr)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return db, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
