// Package recommend wires corpus, embeddings, retrieval, blending and
// diversification into one request pipeline.
//
// Engine.Recommend never returns an error: provider outages, an empty corpus
// or filters that reject everything all produce an empty (or shorter) list.
package recommend

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hurttlocker/terrorreco/internal/catalog"
	"github.com/hurttlocker/terrorreco/internal/corpus"
	"github.com/hurttlocker/terrorreco/internal/embed"
	"github.com/hurttlocker/terrorreco/internal/embedcache"
	"github.com/hurttlocker/terrorreco/internal/logging"
	"github.com/hurttlocker/terrorreco/internal/metrics"
	"github.com/hurttlocker/terrorreco/internal/rank"
	"github.com/hurttlocker/terrorreco/internal/search"
	"github.com/hurttlocker/terrorreco/internal/store"
)

const (
	DefaultLimit = 6
	MaxLimit     = 50

	// minRetrieve is the floor on candidates pulled from semantic search.
	minRetrieve = 60

	// degradedRetry is how long a zero-matrix snapshot is served before the
	// embedder is tried again.
	degradedRetry = time.Minute
)

// Query is one recommendation request. Zero values mean "no filter".
type Query struct {
	Text      string
	Limit     int
	MinYear   int
	MaxYear   int
	MinRating *float64
	Language  string

	// Per-call ranking overrides.
	Weights *rank.Weights
	Lambda  *float64
}

// Options configures an Engine.
type Options struct {
	Weights  rank.Weights
	Lambda   float64
	Strategy string // rank.StrategyMMR (default) or rank.StrategySample
	Seed     uint64 // used by the sample strategy

	// AutoBuild builds the corpus on first use when none is persisted.
	AutoBuild bool
	Build     corpus.BuildOptions
}

// DefaultOptions returns MMR with default weights and auto-build enabled.
func DefaultOptions() Options {
	return Options{
		Weights:   rank.DefaultWeights(),
		Lambda:    rank.DefaultLambda,
		Strategy:  rank.StrategyMMR,
		AutoBuild: true,
		Build:     corpus.DefaultBuildOptions(),
	}
}

// Engine serves recommendations from a read-mostly (corpus, matrix) snapshot.
type Engine struct {
	store     store.Store
	builder   *corpus.Builder
	cache     *embedcache.Cache
	retriever *search.Retriever
	opts      Options

	mu         sync.RWMutex
	items      []store.Item
	matrix     store.Matrix
	ready      bool
	degradedAt time.Time // zero unless the snapshot holds a fallback matrix

	// buildMu serializes corpus mutations; group collapses concurrent loads.
	buildMu sync.Mutex
	group   singleflight.Group
}

// New creates an engine. Catalog, store and embedder are injected so tests
// can substitute fakes.
func New(cat catalog.Catalog, s store.Store, emb embed.Embedder, opts Options) *Engine {
	if opts.Strategy == "" {
		opts.Strategy = rank.StrategyMMR
	}
	return &Engine{
		store:     s,
		builder:   corpus.NewBuilder(cat, s),
		cache:     embedcache.New(s, emb),
		retriever: search.NewRetriever(emb),
		opts:      opts,
	}
}

// Recommend returns up to q.Limit items for the query, best first.
func (e *Engine) Recommend(ctx context.Context, q Query) []store.Item {
	start := time.Now()
	out := e.recommend(ctx, q)
	metrics.RecommendDuration.Observe(time.Since(start).Seconds())
	metrics.RecommendResults.Observe(float64(len(out)))
	return out
}

func (e *Engine) recommend(ctx context.Context, q Query) []store.Item {
	limit := ClampLimit(q.Limit)

	items, matrix, err := e.snapshot(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("recommendation pipeline unavailable")
		return []store.Item{}
	}
	if len(items) == 0 {
		logging.Warn().Msg("corpus is empty, nothing to recommend")
		return []store.Item{}
	}

	scored := e.retriever.Search(ctx, q.Text, items, matrix, max(limit*10, minRetrieve))

	cands := make([]rank.Candidate, 0, len(scored))
	for _, s := range scored {
		if q.accepts(s.Item) {
			cands = append(cands, rank.Candidate{Item: s.Item, Similarity: s.Similarity})
		}
	}
	if len(cands) == 0 {
		return []store.Item{}
	}

	weights := e.opts.Weights
	if q.Weights != nil {
		weights = *q.Weights
	}
	cands = rank.Blend(q.Text, cands, weights)

	pool := rank.Pool(cands, limit)
	var picked []rank.Candidate
	switch e.opts.Strategy {
	case rank.StrategySample:
		picked = rank.SeededSample(pool, limit, e.opts.Seed)
	default:
		lambda := e.opts.Lambda
		if q.Lambda != nil {
			lambda = *q.Lambda
		}
		picked = rank.MMR(pool, limit, lambda)
	}
	if len(picked) > limit {
		picked = picked[:limit]
	}

	out := make([]store.Item, len(picked))
	for i, c := range picked {
		out[i] = c.Item
	}
	return out
}

// Warmup loads (or builds) the corpus and its embedding matrix so the first
// request does not pay the cold start. Safe to call concurrently.
func (e *Engine) Warmup(ctx context.Context) error {
	_, _, err := e.load(ctx)
	return err
}

// Rebuild runs a corpus build pass and swaps in the new snapshot. It is
// serialized with other rebuilds and with the initial load.
func (e *Engine) Rebuild(ctx context.Context, opts corpus.BuildOptions) (*corpus.Result, error) {
	e.buildMu.Lock()
	defer e.buildMu.Unlock()

	res, err := e.builder.Build(ctx, opts)
	if err != nil {
		return nil, err
	}
	m, degraded, err := e.cache.Resolve(ctx, res.Items)
	if err != nil {
		return nil, err
	}
	e.swap(res.Items, m, degraded)
	return res, nil
}

// Stats reports the current in-memory snapshot.
func (e *Engine) Stats() (items, rows, dims int, ready bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.items), e.matrix.Rows(), e.matrix.Dims(), e.ready
}

// Status summarizes the served snapshot and what is persisted.
type Status struct {
	Items      int               `json:"items"`
	MatrixRows int               `json:"matrix_rows"`
	MatrixDims int               `json:"matrix_dims"`
	Ready      bool              `json:"ready"`
	Degraded   bool              `json:"degraded"`
	Store      *store.StoreStats `json:"store,omitempty"`
}

// Status reports the in-memory snapshot and store statistics. It does not
// trigger a load.
func (e *Engine) Status(ctx context.Context) (*Status, error) {
	e.mu.RLock()
	st := &Status{
		Items:      len(e.items),
		MatrixRows: e.matrix.Rows(),
		MatrixDims: e.matrix.Dims(),
		Ready:      e.ready,
		Degraded:   !e.degradedAt.IsZero(),
	}
	e.mu.RUnlock()

	stored, err := e.store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading store stats: %w", err)
	}
	st.Store = stored
	return st, nil
}

func (e *Engine) snapshot(ctx context.Context) ([]store.Item, store.Matrix, error) {
	e.mu.RLock()
	items, matrix, ok := e.items, e.matrix, e.fresh()
	e.mu.RUnlock()
	if ok {
		return items, matrix, nil
	}
	return e.load(ctx)
}

// fresh must be called with e.mu held.
func (e *Engine) fresh() bool {
	if !e.ready {
		return false
	}
	return e.degradedAt.IsZero() || time.Since(e.degradedAt) < degradedRetry
}

func (e *Engine) load(ctx context.Context) ([]store.Item, store.Matrix, error) {
	type snap struct {
		items  []store.Item
		matrix store.Matrix
	}
	// The shared load outlives any single caller. A caller that gives up
	// only stops waiting.
	shared := context.WithoutCancel(ctx)
	ch := e.group.DoChan("load", func() (any, error) {
		e.buildMu.Lock()
		defer e.buildMu.Unlock()

		e.mu.RLock()
		if e.fresh() {
			s := snap{e.items, e.matrix}
			e.mu.RUnlock()
			return s, nil
		}
		e.mu.RUnlock()

		items, err := e.builder.Load(shared)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 && e.opts.AutoBuild {
			logging.Info().Msg("no persisted corpus, building")
			res, err := e.builder.Build(shared, e.opts.Build)
			if err != nil {
				return nil, err
			}
			items = res.Items
		}
		if len(items) == 0 {
			return snap{}, nil
		}

		m, degraded, err := e.cache.Resolve(shared, items)
		if err != nil {
			return nil, err
		}
		if m.Rows() != len(items) {
			return nil, fmt.Errorf("embedding matrix has %d rows for %d items", m.Rows(), len(items))
		}
		e.swap(items, m, degraded)
		return snap{items, m}, nil
	})

	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, nil, res.Err
		}
		s := res.Val.(snap)
		return s.items, s.matrix, nil
	}
}

func (e *Engine) swap(items []store.Item, m store.Matrix, degraded bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.items = items
	e.matrix = m
	e.ready = len(items) > 0
	e.degradedAt = time.Time{}
	if degraded {
		e.degradedAt = time.Now()
	}
}

// ClampLimit applies the default (6) and bounds a result count to [1, 50].
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return min(limit, MaxLimit)
}

// accepts applies the hard filters. Unknown year fails any year bound and
// unknown rating fails a rating floor.
func (q Query) accepts(it store.Item) bool {
	if q.MinYear > 0 && (it.Year <= 0 || it.Year < q.MinYear) {
		return false
	}
	if q.MaxYear > 0 && (it.Year <= 0 || it.Year > q.MaxYear) {
		return false
	}
	if q.MinRating != nil && (it.Rating == nil || *it.Rating < *q.MinRating) {
		return false
	}
	if lang := strings.ToLower(strings.TrimSpace(q.Language)); lang != "" &&
		!strings.Contains(strings.ToLower(it.Language), lang) {
		return false
	}
	return true
}
