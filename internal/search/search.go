// Package search ranks the whole corpus against a free-text query by cosine
// similarity.
//
// Stored vectors are L2-normalized, so cosine similarity is a dot product.
// Results are fully deterministic for a fixed corpus, matrix and query:
// ties keep corpus insertion order.
package search

import (
	"context"
	"sort"

	"github.com/hurttlocker/terrorreco/internal/embed"
	"github.com/hurttlocker/terrorreco/internal/embedcache"
	"github.com/hurttlocker/terrorreco/internal/logging"
	"github.com/hurttlocker/terrorreco/internal/store"
)

// Scored is one retrieved item. Similarity is an internal signal and is
// never returned to callers of the recommendation pipeline.
type Scored struct {
	Index      int // ordinal in the corpus
	Item       store.Item
	Similarity float64
}

// Retriever embeds queries and scores them against a matrix.
type Retriever struct {
	embedder embed.Embedder
}

// NewRetriever creates a retriever using the same embedder the matrix was built with.
func NewRetriever(e embed.Embedder) *Retriever {
	return &Retriever{embedder: e}
}

// Search returns the topK items most similar to query.
// If the query cannot be embedded, every item scores 0 and corpus order is kept.
func (r *Retriever) Search(ctx context.Context, query string, items []store.Item, matrix store.Matrix, topK int) []Scored {
	if len(items) == 0 || topK <= 0 {
		return nil
	}

	q := r.embedQuery(ctx, query)

	results := make([]Scored, len(items))
	for i, it := range items {
		var sim float64
		if i < len(matrix) {
			sim = Dot(q, matrix[i])
		}
		results[i] = Scored{Index: i, Item: it, Similarity: sim}
	}

	sort.SliceStable(results, func(a, b int) bool {
		return results[a].Similarity > results[b].Similarity
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

func (r *Retriever) embedQuery(ctx context.Context, query string) []float32 {
	text := embedcache.NormalizeText(query)
	if text == "" {
		return nil
	}
	vec, err := r.embedder.Embed(ctx, text)
	if err != nil || len(vec) == 0 {
		logging.Warn().Err(err).Str("query", text).Msg("query embedding failed, similarity is uniform")
		return nil
	}
	return vec
}

// Dot returns the dot product of a and b, or 0 when their lengths differ.
func Dot(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
