package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// LoadItems returns the persisted corpus in ordinal order.
// An empty (never built) corpus returns an empty slice and no error.
func (s *SQLiteStore) LoadItems(ctx context.Context) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, description, year, rating, votes, critic_score,
		        genre, language, poster, kind, released
		 FROM items ORDER BY ordinal`)
	if err != nil {
		return nil, fmt.Errorf("querying items: %w", err)
	}
	defer rows.Close()

	items := []Item{}
	for rows.Next() {
		var it Item
		var rating sql.NullFloat64
		if err := rows.Scan(&it.ID, &it.Title, &it.Description, &it.Year, &rating,
			&it.Votes, &it.CriticScore, &it.Genre, &it.Language, &it.Poster,
			&it.Kind, &it.Released); err != nil {
			return nil, fmt.Errorf("scanning item row: %w", err)
		}
		if rating.Valid {
			r := rating.Float64
			it.Rating = &r
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// SaveItems rewrites the corpus wholesale and drops the embedding matrix in
// the same transaction: once row alignment may have changed, the old
// matrix must never be served again.
func (s *SQLiteStore) SaveItems(ctx context.Context, items []Item) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning corpus save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM items"); err != nil {
		return fmt.Errorf("clearing items: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM embeddings"); err != nil {
		return fmt.Errorf("invalidating embeddings: %w", err)
	}
	if err := deleteMeta(ctx, tx, metaMatrixModel, metaMatrixRows); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO items (ordinal, id, title, title_key, description, year, rating, votes,
		                    critic_score, genre, language, poster, kind, released)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing item insert: %w", err)
	}
	defer stmt.Close()

	for i, it := range items {
		var rating any
		if it.Rating != nil {
			rating = *it.Rating
		}
		if _, err := stmt.ExecContext(ctx, i, it.ID, it.Title, NormalizeTitle(it.Title),
			it.Description, it.Year, rating, it.Votes, it.CriticScore, it.Genre,
			it.Language, it.Poster, it.Kind, it.Released); err != nil {
			return fmt.Errorf("inserting item %s: %w", it.ID, err)
		}
	}

	if err := setMeta(ctx, tx, metaCorpusSavedAt, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing corpus save: %w", err)
	}
	return nil
}

// CountItems returns the corpus size without loading it.
func (s *SQLiteStore) CountItems(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM items").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting items: %w", err)
	}
	return n, nil
}
