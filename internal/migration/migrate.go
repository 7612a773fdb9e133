// Package migration runs the orchestrator's schema migrations with
// goose, adapted from stanstork-stratum-api's
// internal/migration/migrate.go (embedded SQL, dedicated schema,
// goose's own version table namespaced under it).
package migration

import (
	"database/sql"
	"embed"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Run applies all pending migrations against the operations schema.
func Run(databaseURL string) error {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	if _, err := db.Exec("CREATE SCHEMA IF NOT EXISTS migratum"); err != nil {
		return fmt.Errorf("create schema migratum: %w", err)
	}
	if _, err := db.Exec("SET search_path TO migratum"); err != nil {
		return fmt.Errorf("set search path: %w", err)
	}

	goose.SetBaseFS(embeddedMigrations)
	goose.SetTableName("migratum.goose_db_version")

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}
