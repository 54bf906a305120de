package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Meta keys.
const (
	metaSchemaBootstrap = "schema_bootstrap_complete"
	metaSchemaVersion   = "schema_version"
	metaMatrixModel     = "matrix_model"
	metaMatrixRows      = "matrix_rows"
	metaCorpusSavedAt   = "corpus_saved_at"
)

// migrate creates all tables if they don't exist and seeds metadata.
func (s *SQLiteStore) migrate() error {
	bootstrapDone, err := s.isMetaFlagEnabled(metaSchemaBootstrap)
	if err != nil {
		return fmt.Errorf("checking bootstrap state: %w", err)
	}

	if !bootstrapDone {
		if err := s.runBootstrapDDL(); err != nil {
			return err
		}
	}

	if err := s.seedMeta(); err != nil {
		return fmt.Errorf("seeding metadata: %w", err)
	}

	if !bootstrapDone {
		if err := s.setMetaFlag(metaSchemaBootstrap); err != nil {
			return fmt.Errorf("marking bootstrap complete: %w", err)
		}
	}

	return nil
}

func (s *SQLiteStore) runBootstrapDDL() error {
	statements := []string{
		// Corpus items, ordered by ordinal. The ordinal is the row index
		// into the embedding matrix.
		`CREATE TABLE IF NOT EXISTS items (
			ordinal      INTEGER PRIMARY KEY,
			id           TEXT UNIQUE NOT NULL,
			title        TEXT NOT NULL,
			title_key    TEXT NOT NULL,
			description  TEXT NOT NULL DEFAULT '',
			year         INTEGER NOT NULL DEFAULT 0,
			rating       REAL,
			votes        INTEGER NOT NULL DEFAULT 0,
			critic_score INTEGER NOT NULL DEFAULT 0,
			genre        TEXT NOT NULL DEFAULT '',
			language     TEXT NOT NULL DEFAULT '',
			poster       TEXT NOT NULL DEFAULT '',
			kind         TEXT NOT NULL DEFAULT '',
			released     TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE INDEX IF NOT EXISTS idx_items_title_key ON items(title_key)`,

		// Embedding rows aligned with items.ordinal.
		`CREATE TABLE IF NOT EXISTS embeddings (
			ordinal    INTEGER PRIMARY KEY,
			vector     BLOB NOT NULL,
			dimensions INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS builds (
			id          TEXT PRIMARY KEY,
			genre       TEXT NOT NULL DEFAULT '',
			started_at  TEXT NOT NULL,
			finished_at TEXT,
			searched    INTEGER NOT NULL DEFAULT 0,
			fetched     INTEGER NOT NULL DEFAULT 0,
			accepted    INTEGER NOT NULL DEFAULT 0,
			failures    INTEGER NOT NULL DEFAULT 0,
			stop_reason TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE INDEX IF NOT EXISTS idx_builds_started ON builds(started_at)`,

		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT
		)`,
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning migration: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("executing migration: %w\nStatement: %s", err, stmt)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration: %w", err)
	}

	return nil
}

func (s *SQLiteStore) isMetaFlagEnabled(key string) (bool, error) {
	var exists int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='meta'`).Scan(&exists); err != nil {
		return false, err
	}
	if exists == 0 {
		return false, nil
	}

	var value string
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return value == "true", nil
}

func (s *SQLiteStore) setMetaFlag(key string) error {
	_, err := s.db.Exec("INSERT OR REPLACE INTO meta (key, value) VALUES (?, 'true')", key)
	return err
}

// seedMeta initializes the meta table with defaults if not already set.
func (s *SQLiteStore) seedMeta() error {
	defaults := map[string]string{
		metaSchemaVersion: "1",
		"created_at":      time.Now().UTC().Format(time.RFC3339),
	}

	for k, v := range defaults {
		_, err := s.db.Exec(
			"INSERT OR IGNORE INTO meta (key, value) VALUES (?, ?)", k, v,
		)
		if err != nil {
			return fmt.Errorf("seeding meta key %q: %w", k, err)
		}
	}
	return nil
}

func (s *SQLiteStore) getMeta(ctx context.Context, key string) (string, error) {
	var value sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("reading meta %q: %w", key, err)
	}
	return value.String, nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func setMeta(ctx context.Context, db execer, key, value string) error {
	if _, err := db.ExecContext(ctx, "INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)", key, value); err != nil {
		return fmt.Errorf("writing meta %q: %w", key, err)
	}
	return nil
}

func deleteMeta(ctx context.Context, db execer, keys ...string) error {
	for _, key := range keys {
		if _, err := db.ExecContext(ctx, "DELETE FROM meta WHERE key = ?", key); err != nil {
			return fmt.Errorf("clearing meta %q: %w", key, err)
		}
	}
	return nil
}
