// Package corpus builds and loads the candidate pool.
//
// A build fans discovery terms out over catalog title search, fetches details
// for ids not yet cached and keeps the ones whose genre label matches. The
// corpus only grows: existing items are kept in order and new ones appended.
// Progress is persisted every SaveEvery accepted items, so an interrupted
// build keeps what it collected.
package corpus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/hurttlocker/terrorreco/internal/catalog"
	"github.com/hurttlocker/terrorreco/internal/logging"
	"github.com/hurttlocker/terrorreco/internal/metrics"
	"github.com/hurttlocker/terrorreco/internal/store"
)

// Stop reasons recorded on a build.
const (
	StopCompleted          = "completed"
	StopMaxNew             = "max_new"
	StopConsecutiveFailure = "consecutive_failures"
	StopCanceled           = "canceled"
)

// Discovery kinds.
const (
	KindMovie  = "movie"
	KindSeries = "series"
	KindBoth   = "both"
)

// BuildOptions controls one build pass.
type BuildOptions struct {
	Terms                  []string
	Pages                  int           // result pages per term (default 2)
	MaxNew                 int           // cap on successful detail fetches (default 800)
	Delay                  time.Duration // minimum spacing between catalog calls (default 120ms)
	SaveEvery              int           // persist after this many accepted items (default 50)
	Genre                  string        // case-insensitive substring of the genre label (default "horror")
	Kind                   string        // movie, series or both (default movie)
	MaxConsecutiveFailures int           // detail failures in a row that end the pass (default 5)
}

// DefaultBuildOptions returns the defaults used by the CLI and server.
func DefaultBuildOptions() BuildOptions {
	return BuildOptions{
		Terms:                  DefaultDiscoveryTerms,
		Pages:                  2,
		MaxNew:                 800,
		Delay:                  120 * time.Millisecond,
		SaveEvery:              50,
		Genre:                  "horror",
		Kind:                   KindMovie,
		MaxConsecutiveFailures: 5,
	}
}

func (o BuildOptions) withDefaults() BuildOptions {
	d := DefaultBuildOptions()
	if len(o.Terms) == 0 {
		o.Terms = d.Terms
	}
	if o.Pages <= 0 {
		o.Pages = d.Pages
	}
	if o.MaxNew <= 0 {
		o.MaxNew = d.MaxNew
	}
	if o.Delay < 0 {
		o.Delay = 0
	}
	if o.SaveEvery <= 0 {
		o.SaveEvery = d.SaveEvery
	}
	if strings.TrimSpace(o.Genre) == "" {
		o.Genre = d.Genre
	}
	if o.Kind == "" {
		o.Kind = d.Kind
	}
	if o.MaxConsecutiveFailures <= 0 {
		o.MaxConsecutiveFailures = d.MaxConsecutiveFailures
	}
	return o
}

func (o BuildOptions) kinds() []string {
	switch strings.ToLower(o.Kind) {
	case KindBoth:
		return []string{KindMovie, KindSeries}
	case KindSeries:
		return []string{KindSeries}
	default:
		return []string{KindMovie}
	}
}

// Result is the outcome of a build pass.
type Result struct {
	Items  []store.Item // the full corpus after the pass
	Record *store.BuildRecord
}

// Builder owns the corpus: it is the only writer of store items.
type Builder struct {
	catalog catalog.Catalog
	store   store.Store
}

// NewBuilder creates a builder over a catalog provider and a store.
func NewBuilder(c catalog.Catalog, s store.Store) *Builder {
	return &Builder{catalog: c, store: s}
}

// Load returns the persisted corpus, or an empty one if nothing was built yet.
func (b *Builder) Load(ctx context.Context) ([]store.Item, error) {
	items, err := b.store.LoadItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading corpus: %w", err)
	}
	metrics.CorpusItems.Set(float64(len(items)))
	return items, nil
}

// Build extends the persisted corpus with new catalog items.
//
// Catalog failures never fail the build: search errors skip that page,
// detail errors skip that id, and MaxConsecutiveFailures detail errors in a
// row end the pass early. Only store errors are returned.
func (b *Builder) Build(ctx context.Context, opts BuildOptions) (*Result, error) {
	opts = opts.withDefaults()
	log := logging.With().Str("component", "corpus").Str("genre", opts.Genre).Logger()

	existing, err := b.Load(ctx)
	if err != nil {
		return nil, err
	}

	rec := &store.BuildRecord{Genre: opts.Genre}
	if err := b.store.StartBuild(ctx, rec); err != nil {
		return nil, err
	}

	limit := rate.Inf
	if opts.Delay > 0 {
		limit = rate.Every(opts.Delay)
	}
	limiter := rate.NewLimiter(limit, 1)

	// 1. Collect candidate ids, first-seen order.
	ids := b.discover(ctx, opts, limiter, rec)
	rec.StopReason = StopCompleted
	if ctx.Err() != nil {
		rec.StopReason = StopCanceled
		ids = nil
	}

	known := make(map[string]struct{}, len(existing))
	titles := make(map[string]struct{}, len(existing))
	for _, it := range existing {
		known[it.ID] = struct{}{}
		titles[store.NormalizeTitle(it.Title)] = struct{}{}
	}
	var fresh []string
	for _, id := range ids {
		if _, ok := known[id]; !ok {
			fresh = append(fresh, id)
		}
	}
	log.Info().
		Int("unique_ids", len(ids)).
		Int("new_ids", len(fresh)).
		Int("cached", len(existing)).
		Msg("fetching details")

	// 2. Fetch details behind a breaker that opens on consecutive failures.
	cb := newDetailBreaker(opts.MaxConsecutiveFailures)
	corpus := existing
	unsaved := 0
	genre := strings.ToLower(opts.Genre)

	for _, id := range fresh {
		if rec.Fetched >= opts.MaxNew {
			log.Info().Int("max_new", opts.MaxNew).Msg("reached detail fetch cap")
			rec.StopReason = StopMaxNew
			break
		}
		if err := limiter.Wait(ctx); err != nil {
			rec.StopReason = StopCanceled
			break
		}

		detail, err := cb.Execute(func() (*catalog.Detail, error) {
			return b.catalog.GetByID(ctx, id, true)
		})
		if err != nil {
			if ctx.Err() != nil {
				rec.StopReason = StopCanceled
				break
			}
			rec.Failures++
			metrics.CatalogRequests.WithLabelValues("detail", "error").Inc()
			if errors.Is(err, gobreaker.ErrOpenState) || cb.State() == gobreaker.StateOpen {
				log.Warn().
					Err(err).
					Int("consecutive_failures", opts.MaxConsecutiveFailures).
					Msg("catalog keeps failing, likely rate-limited; stopping build")
				rec.StopReason = StopConsecutiveFailure
				break
			}
			log.Warn().Err(err).Str("id", id).Msg("detail fetch failed")
			continue
		}

		rec.Fetched++
		if rec.Fetched%50 == 0 {
			log.Info().
				Int("fetched", rec.Fetched).
				Int("new_ids", len(fresh)).
				Int("corpus", len(corpus)).
				Msg("detail progress")
		}

		if detail == nil {
			metrics.CatalogRequests.WithLabelValues("detail", "empty").Inc()
			continue
		}
		metrics.CatalogRequests.WithLabelValues("detail", "ok").Inc()

		item := detail.ToItem(id)
		if !strings.Contains(strings.ToLower(item.Genre), genre) {
			continue
		}
		key := store.NormalizeTitle(item.Title)
		if key == "" {
			continue
		}
		if _, dup := titles[key]; dup {
			continue
		}
		titles[key] = struct{}{}

		corpus = append(corpus, item)
		rec.Accepted++
		unsaved++
		metrics.CorpusBuildAccepted.Inc()

		if unsaved >= opts.SaveEvery {
			if err := b.save(ctx, corpus); err != nil {
				return nil, err
			}
			unsaved = 0
		}
	}

	// Persist with a fresh context so a canceled build still keeps its progress.
	saveCtx := context.WithoutCancel(ctx)
	if unsaved > 0 {
		if err := b.save(saveCtx, corpus); err != nil {
			return nil, err
		}
	}
	if err := b.store.FinishBuild(saveCtx, rec); err != nil {
		return nil, err
	}

	log.Info().
		Str("build_id", rec.ID).
		Int("searched", rec.Searched).
		Int("fetched", rec.Fetched).
		Int("accepted", rec.Accepted).
		Int("failures", rec.Failures).
		Int("corpus", len(corpus)).
		Str("stop_reason", rec.StopReason).
		Msg("corpus build finished")

	return &Result{Items: corpus, Record: rec}, nil
}

func (b *Builder) discover(ctx context.Context, opts BuildOptions, limiter *rate.Limiter, rec *store.BuildRecord) []string {
	kinds := opts.kinds()
	total := len(opts.Terms) * opts.Pages * len(kinds)
	seen := make(map[string]struct{})
	var ids []string

	for _, term := range opts.Terms {
		for _, kind := range kinds {
			for page := 1; page <= opts.Pages; page++ {
				if err := limiter.Wait(ctx); err != nil {
					return ids
				}
				rec.Searched++
				hits, err := b.catalog.SearchTitles(ctx, term, page, kind, 0)
				switch {
				case err != nil:
					metrics.CatalogRequests.WithLabelValues("search", "error").Inc()
					logging.Warn().Err(err).Str("term", term).Int("page", page).Msg("catalog search failed")
				case len(hits) == 0:
					metrics.CatalogRequests.WithLabelValues("search", "empty").Inc()
				default:
					metrics.CatalogRequests.WithLabelValues("search", "ok").Inc()
				}
				for _, h := range hits {
					if _, ok := seen[h.ID]; ok {
						continue
					}
					seen[h.ID] = struct{}{}
					ids = append(ids, h.ID)
				}
				if rec.Searched%20 == 0 {
					logging.Info().
						Int("queries", rec.Searched).
						Int("total", total).
						Int("ids", len(ids)).
						Msg("corpus search progress")
				}
			}
		}
	}
	return ids
}

func (b *Builder) save(ctx context.Context, items []store.Item) error {
	if err := b.store.SaveItems(ctx, items); err != nil {
		return fmt.Errorf("saving corpus: %w", err)
	}
	metrics.CorpusItems.Set(float64(len(items)))
	logging.Debug().Int("items", len(items)).Msg("corpus saved")
	return nil
}

// newDetailBreaker opens after n consecutive failures and stays open for the
// rest of the pass.
func newDetailBreaker(n int) *gobreaker.CircuitBreaker[*catalog.Detail] {
	metrics.CatalogBreakerState.Set(0)
	return gobreaker.NewCircuitBreaker[*catalog.Detail](gobreaker.Settings{
		Name:        "catalog-detail",
		MaxRequests: 1,
		Timeout:     time.Hour,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(n)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state transition")
			metrics.CatalogBreakerState.Set(breakerStateValue(to))
		},
	})
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
