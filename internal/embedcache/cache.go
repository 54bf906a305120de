// Package embedcache keeps one embedding vector per corpus item.
//
// The matrix is derived data: it is either fully valid for the current corpus
// (same row count, same model) or recomputed from scratch. There is no
// per-item patching.
package embedcache

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hurttlocker/terrorreco/internal/embed"
	"github.com/hurttlocker/terrorreco/internal/logging"
	"github.com/hurttlocker/terrorreco/internal/metrics"
	"github.com/hurttlocker/terrorreco/internal/store"
)

// Cache resolves the embedding matrix for a corpus.
type Cache struct {
	store    store.Store
	embedder embed.Embedder
}

// New creates a cache over the given store and embedder.
func New(s store.Store, e embed.Embedder) *Cache {
	return &Cache{store: s, embedder: e}
}

// NormalizeText is applied to item descriptions and queries alike.
func NormalizeText(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// GetOrCompute returns a matrix with exactly len(items) rows.
//
// A persisted matrix is reused when its row count and model match. Otherwise
// every description is embedded in one batch and the result is persisted.
// If the embedder fails, a zero matrix is returned (and not persisted) so
// ranking degrades to uniform similarity instead of failing. Only store
// errors are returned.
func (c *Cache) GetOrCompute(ctx context.Context, items []store.Item) (store.Matrix, error) {
	m, _, err := c.Resolve(ctx, items)
	return m, err
}

// Resolve is GetOrCompute that also reports whether the zero-matrix fallback was used.
func (c *Cache) Resolve(ctx context.Context, items []store.Item) (m store.Matrix, degraded bool, err error) {
	if len(items) == 0 {
		return store.Matrix{}, false, nil
	}

	model := c.embedder.Model()
	cached, cachedModel, err := c.store.LoadMatrix(ctx)
	switch {
	case err == nil && cached.Rows() == len(items) && cachedModel == model:
		metrics.EmbeddingComputations.WithLabelValues(metrics.EmbeddingCached).Inc()
		return cached, false, nil
	case err == nil:
		logging.Info().
			Int("matrix_rows", cached.Rows()).
			Int("corpus_items", len(items)).
			Str("matrix_model", cachedModel).
			Str("model", model).
			Msg("embedding matrix stale, recomputing")
	case !errors.Is(err, store.ErrNoMatrix):
		return nil, false, fmt.Errorf("loading embedding matrix: %w", err)
	}

	texts := make([]string, len(items))
	for i, it := range items {
		texts[i] = NormalizeText(it.Description)
	}

	vectors, err := c.embedder.EmbedBatch(ctx, texts)
	if err == nil && len(vectors) != len(items) {
		err = fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(items))
	}
	if err != nil {
		metrics.EmbeddingComputations.WithLabelValues(metrics.EmbeddingDegraded).Inc()
		logging.Warn().
			Err(err).
			Str("model", model).
			Int("items", len(items)).
			Msg("embedding provider unavailable, using zero matrix")
		return ZeroMatrix(len(items), c.embedder.Dimensions()), true, nil
	}

	dims := store.Matrix(vectors).Dims()
	if dims == 0 {
		dims = max(c.embedder.Dimensions(), 1)
	}
	m = make(store.Matrix, len(vectors))
	for i, v := range vectors {
		if len(v) != dims {
			// Empty descriptions come back nil.
			v = make([]float32, dims)
		}
		m[i] = v
	}

	if err := c.store.SaveMatrix(ctx, m, model); err != nil {
		return nil, false, fmt.Errorf("saving embedding matrix: %w", err)
	}
	metrics.EmbeddingComputations.WithLabelValues(metrics.EmbeddingComputed).Inc()
	logging.Info().
		Int("rows", m.Rows()).
		Int("dims", dims).
		Str("model", model).
		Msg("embedding matrix computed")
	return m, false, nil
}

// ZeroMatrix returns rows all-zero vectors of width dims (at least 1).
func ZeroMatrix(rows, dims int) store.Matrix {
	if dims < 1 {
		dims = 1
	}
	m := make(store.Matrix, rows)
	for i := range m {
		m[i] = make([]float32, dims)
	}
	return m
}
