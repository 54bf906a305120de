// Package store provides the SQLite persistence layer for terrorreco.
//
// A single SQLite database file holds:
// - The corpus: an ordered list of catalog items, rewritten wholesale on save
// - The embedding matrix: one vector per corpus ordinal, dropped whenever the corpus is saved
// - Build records for every corpus build pass
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultDBPath is the default database location.
const DefaultDBPath = "~/.terrorreco/terrorreco.db"

// ErrNoMatrix is returned by LoadMatrix when no embedding matrix is persisted.
var ErrNoMatrix = errors.New("no persisted embedding matrix")

// Item is one candidate movie. Items are never mutated once in the corpus.
type Item struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Year        int      `json:"year,omitempty"`   // 0 = unknown
	Rating      *float64 `json:"rating,omitempty"` // nil = unknown
	Votes       int64    `json:"votes,omitempty"`
	CriticScore int      `json:"critic_score,omitempty"`
	Genre       string   `json:"genre,omitempty"`
	Language    string   `json:"language,omitempty"`
	Poster      string   `json:"poster,omitempty"`
	Kind        string   `json:"kind,omitempty"`
	Released    string   `json:"released,omitempty"`
}

// RatingOrZero returns the rating, treating unknown as 0.
func (it Item) RatingOrZero() float64 {
	if it.Rating == nil {
		return 0
	}
	return *it.Rating
}

// NormalizeTitle lowercases and collapses whitespace; used as the secondary dedupe key.
func NormalizeTitle(title string) string {
	return strings.Join(strings.Fields(strings.ToLower(title)), " ")
}

// Matrix is a dense embedding matrix; row i belongs to corpus item i.
type Matrix [][]float32

// Rows returns the number of vectors.
func (m Matrix) Rows() int { return len(m) }

// Dims returns the vector width, or 0 for an empty matrix.
func (m Matrix) Dims() int {
	for _, row := range m {
		if len(row) > 0 {
			return len(row)
		}
	}
	return 0
}

// BuildRecord describes one corpus build pass.
type BuildRecord struct {
	ID         string     `json:"id"`
	Genre      string     `json:"genre"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Searched   int        `json:"searched"`
	Fetched    int        `json:"fetched"`
	Accepted   int        `json:"accepted"`
	Failures   int        `json:"failures"`
	StopReason string     `json:"stop_reason,omitempty"`
}

// StoreStats holds observability statistics about the store.
type StoreStats struct {
	ItemCount    int64      `json:"item_count"`
	MatrixRows   int64      `json:"matrix_rows"`
	MatrixDims   int        `json:"matrix_dims"`
	MatrixModel  string     `json:"matrix_model,omitempty"`
	MatrixInSync bool       `json:"matrix_in_sync"`
	BuildCount   int64      `json:"build_count"`
	LastBuildAt  *time.Time `json:"last_build_at,omitempty"`
	DBSizeBytes  int64      `json:"db_size_bytes"`
}

// StoreConfig holds configuration for NewStore.
type StoreConfig struct {
	DBPath string
}

// Store defines the persistence interface for the corpus and its embeddings.
type Store interface {
	// Corpus
	LoadItems(ctx context.Context) ([]Item, error)
	SaveItems(ctx context.Context, items []Item) error
	CountItems(ctx context.Context) (int, error)

	// Embeddings
	LoadMatrix(ctx context.Context) (Matrix, string, error)
	SaveMatrix(ctx context.Context, m Matrix, model string) error

	// Builds
	StartBuild(ctx context.Context, b *BuildRecord) error
	FinishBuild(ctx context.Context, b *BuildRecord) error
	ListBuilds(ctx context.Context, limit int) ([]*BuildRecord, error)

	// Observability
	Stats(ctx context.Context) (*StoreStats, error)

	// Maintenance
	Vacuum(ctx context.Context) error
	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewStore creates a new SQLite-backed Store.
// Pass ":memory:" for in-memory databases (testing).
func NewStore(cfg StoreConfig) (Store, error) {
	if cfg.DBPath == "" {
		cfg.DBPath = ExpandPath(DefaultDBPath)
	}

	if cfg.DBPath != ":memory:" {
		dir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Each :memory: connection is its own database.
	if cfg.DBPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{
		db:     db,
		dbPath: cfg.DBPath,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Vacuum compacts the database file. Only the vacuum command runs it.
func (s *SQLiteStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Stats reports corpus and matrix sizes.
func (s *SQLiteStore) Stats(ctx context.Context) (*StoreStats, error) {
	stats := &StoreStats{}

	n, err := s.CountItems(ctx)
	if err != nil {
		return nil, err
	}
	stats.ItemCount = n
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM embeddings").Scan(&stats.MatrixRows); err != nil {
		return nil, fmt.Errorf("counting embeddings: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM builds").Scan(&stats.BuildCount); err != nil {
		return nil, fmt.Errorf("counting builds: %w", err)
	}

	var dims sql.NullInt64
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(dimensions) FROM embeddings").Scan(&dims); err != nil {
		return nil, fmt.Errorf("reading embedding dimensions: %w", err)
	}
	stats.MatrixDims = int(dims.Int64)

	model, err := s.getMeta(ctx, metaMatrixModel)
	if err != nil {
		return nil, err
	}
	stats.MatrixModel = model
	stats.MatrixInSync = stats.MatrixRows > 0 && stats.MatrixRows == stats.ItemCount

	builds, err := s.ListBuilds(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(builds) == 1 {
		stats.LastBuildAt = &builds[0].StartedAt
	}

	if s.dbPath != ":memory:" {
		if fi, err := os.Stat(s.dbPath); err == nil {
			stats.DBSizeBytes = fi.Size()
		}
	}

	return stats, nil
}

// ExpandPath expands a leading ~ to the home directory.
func ExpandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
