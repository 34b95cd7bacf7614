package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"strings"

	"github.com/pressly/goose/v3"

	"edu-cti/core/utils"
)

//go:embed pgmigrations/*.sql
var pgMigrationsFS embed.FS

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS incidents (
		incident_id TEXT PRIMARY KEY,
		source TEXT NOT NULL DEFAULT '',
		source_event_id TEXT NOT NULL DEFAULT '',
		university_name TEXT NOT NULL DEFAULT '',
		normalized_name TEXT NOT NULL DEFAULT '',
		institution_type TEXT NOT NULL DEFAULT '',
		country TEXT NOT NULL DEFAULT '',
		region TEXT NOT NULL DEFAULT '',
		city TEXT NOT NULL DEFAULT '',
		incident_date TEXT NOT NULL DEFAULT '',
		date_precision TEXT NOT NULL DEFAULT 'unknown',
		source_published_date TEXT NOT NULL DEFAULT '',
		ingested_at TIMESTAMP NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		subtitle TEXT NOT NULL DEFAULT '',
		primary_url TEXT NOT NULL DEFAULT '',
		all_urls TEXT NOT NULL DEFAULT '[]',
		leak_site_url TEXT NOT NULL DEFAULT '',
		source_detail_url TEXT NOT NULL DEFAULT '',
		screenshot_url TEXT NOT NULL DEFAULT '',
		attack_type_hint TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'suspected',
		source_confidence TEXT NOT NULL DEFAULT 'low',
		notes TEXT NOT NULL DEFAULT '',
		enriched INTEGER NOT NULL DEFAULT 0,
		enriched_at TIMESTAMP,
		enrichment_skipped INTEGER NOT NULL DEFAULT 0,
		llm_summary TEXT NOT NULL DEFAULT '',
		llm_attack_type TEXT NOT NULL DEFAULT '',
		llm_severity TEXT NOT NULL DEFAULT '',
		llm_data_compromised TEXT NOT NULL DEFAULT '',
		llm_students_affected INTEGER,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS incident_urls (
		incident_id TEXT NOT NULL,
		url TEXT NOT NULL,
		PRIMARY KEY (incident_id, url),
		FOREIGN KEY(incident_id) REFERENCES incidents(incident_id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS incident_sources (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		incident_id TEXT NOT NULL,
		source_name TEXT NOT NULL,
		source_event_id TEXT,
		source_confidence TEXT NOT NULL DEFAULT 'low',
		first_seen_at TIMESTAMP NOT NULL,
		UNIQUE(incident_id, source_name, source_event_id),
		FOREIGN KEY(incident_id) REFERENCES incidents(incident_id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS source_events (
		source_name TEXT NOT NULL,
		source_event_id TEXT NOT NULL,
		incident_id TEXT NOT NULL,
		first_seen_at TIMESTAMP NOT NULL,
		PRIMARY KEY (source_name, source_event_id)
	);`,
	`CREATE TABLE IF NOT EXISTS source_state (
		source_name TEXT PRIMARY KEY,
		last_pubdate TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMP NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS incident_enrichments (
		incident_id TEXT PRIMARY KEY,
		payload TEXT NOT NULL,
		model TEXT NOT NULL DEFAULT '',
		enriched_at TIMESTAMP NOT NULL,
		FOREIGN KEY(incident_id) REFERENCES incidents(incident_id) ON DELETE CASCADE
	);`,
	`CREATE INDEX IF NOT EXISTS idx_incidents_enriched ON incidents(enriched, enrichment_skipped, ingested_at);`,
	`CREATE INDEX IF NOT EXISTS idx_incidents_source ON incidents(source);`,
	`CREATE INDEX IF NOT EXISTS idx_incidents_date ON incidents(incident_date);`,
	`CREATE INDEX IF NOT EXISTS idx_incident_urls_url ON incident_urls(url);`,
	`CREATE INDEX IF NOT EXISTS idx_source_events_incident ON source_events(incident_id);`,
	`CREATE INDEX IF NOT EXISTS idx_incident_sources_incident ON incident_sources(incident_id);`,
}

func ApplyMigrations(ctx context.Context, db *sql.DB, logger *utils.Logger) error {
	isPG, err := isPostgresDB(ctx, db)
	if err != nil {
		return err
	}
	if !isPG {
		if !isTestRuntime() {
			return fmt.Errorf("only postgres is supported outside go test runtime")
		}
		return applySQLiteTestMigrations(ctx, db, logger)
	}
	return applyGooseMigrations(ctx, db, logger)
}

func applySQLiteTestMigrations(ctx context.Context, db *sql.DB, logger *utils.Logger) error {
	if logger != nil {
		logger.Printf("applying sqlite test migrations")
	}
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		return err
	}
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite migration #%d failed: %w", i+1, err)
		}
	}
	return nil
}

func applyGooseMigrations(ctx context.Context, db *sql.DB, logger *utils.Logger) error {
	goose.SetBaseFS(pgMigrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if logger != nil {
		logger.Printf("applying postgres migrations")
	}
	return goose.UpContext(ctx, db, "pgmigrations")
}

func isPostgresDB(ctx context.Context, db *sql.DB) (bool, error) {
	var version string
	err := db.QueryRowContext(ctx, `SELECT version()`).Scan(&version)
	if err != nil {
		// sqlite has no version() builtin; any other driver error will
		// resurface on the first migration statement.
		return false, nil
	}
	return strings.Contains(strings.ToLower(version), "postgresql"), nil
}

func isTestRuntime() bool {
	exe := os.Args[0]
	return strings.HasSuffix(exe, ".test") || strings.Contains(exe, "/_test/") || os.Getenv("EDUCTI_ALLOW_SQLITE") == "1"
}
