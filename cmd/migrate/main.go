package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/dhawalhost/vineseal/pkg/database"
)

func main() {
	dir := flag.String("dir", "migrations", "directory containing *.up.sql files")
	flag.Parse()

	cfg := database.ConfigFromEnv()
	db, err := database.NewConnection(cfg)
	if err != nil {
		log.Fatalf("connecting to %s:%d/%s: %v", cfg.Host, cfg.Port, cfg.DBName, err)
	}
	defer db.Close()

	if err := apply(db, *dir); err != nil {
		log.Fatalln(err)
	}
	fmt.Println("All migrations processed")
}

func apply(db *sqlx.DB, dir string) error {
	files, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upMigrations []string
	for _, f := range files {
		if strings.HasSuffix(f.Name(), ".up.sql") {
			upMigrations = append(upMigrations, f.Name())
		}
	}
	sort.Strings(upMigrations)

	for _, filename := range upMigrations {
		content, err := os.ReadFile(filepath.Join(dir, filename))
		if err != nil {
			return fmt.Errorf("reading %s: %w", filename, err)
		}
		// Statements are idempotent (IF NOT EXISTS), so re-running on an
		// existing database is safe.
		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("applying %s: %w", filename, err)
		}
		fmt.Printf("Applied %s\n", filename)
	}
	return nil
}
