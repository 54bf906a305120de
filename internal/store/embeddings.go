package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
)

// SaveMatrix replaces the persisted embedding matrix. Row i is stored at
// ordinal i; model records which embedding model produced the vectors.
func (s *SQLiteStore) SaveMatrix(ctx context.Context, m Matrix, model string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning matrix save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM embeddings"); err != nil {
		return fmt.Errorf("clearing embeddings: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO embeddings (ordinal, vector, dimensions) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("preparing embedding insert: %w", err)
	}
	defer stmt.Close()

	for i, row := range m {
		if _, err := stmt.ExecContext(ctx, i, float32ToBytes(row), len(row)); err != nil {
			return fmt.Errorf("storing embedding row %d: %w", i, err)
		}
	}

	if err := setMeta(ctx, tx, metaMatrixModel, model); err != nil {
		return err
	}
	if err := setMeta(ctx, tx, metaMatrixRows, strconv.Itoa(len(m))); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing matrix save: %w", err)
	}
	return nil
}

// LoadMatrix returns the persisted matrix and the model that produced it.
// Returns ErrNoMatrix when nothing is persisted or the rows are not a
// complete 0..n-1 sequence.
func (s *SQLiteStore) LoadMatrix(ctx context.Context) (Matrix, string, error) {
	rowsMeta, err := s.getMeta(ctx, metaMatrixRows)
	if err != nil {
		return nil, "", err
	}
	if rowsMeta == "" {
		return nil, "", ErrNoMatrix
	}
	want, err := strconv.Atoi(rowsMeta)
	if err != nil {
		return nil, "", fmt.Errorf("%w: bad row count %q", ErrNoMatrix, rowsMeta)
	}

	model, err := s.getMeta(ctx, metaMatrixModel)
	if err != nil {
		return nil, "", err
	}

	rows, err := s.db.QueryContext(ctx, "SELECT ordinal, vector FROM embeddings ORDER BY ordinal")
	if err != nil {
		return nil, "", fmt.Errorf("querying embeddings: %w", err)
	}
	defer rows.Close()

	m := make(Matrix, 0, want)
	for rows.Next() {
		var ordinal int
		var blob []byte
		if err := rows.Scan(&ordinal, &blob); err != nil {
			return nil, "", fmt.Errorf("scanning embedding row: %w", err)
		}
		if ordinal != len(m) {
			return nil, "", fmt.Errorf("%w: ordinal gap at %d", ErrNoMatrix, len(m))
		}
		m = append(m, bytesToFloat32(blob))
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	if len(m) != want {
		return nil, "", fmt.Errorf("%w: have %d rows, meta says %d", ErrNoMatrix, len(m), want)
	}

	return m, model, nil
}

// float32ToBytes converts a float32 slice to a byte slice (little-endian).
func float32ToBytes(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// bytesToFloat32 converts a byte slice back to float32 slice (little-endian).
func bytesToFloat32(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}
