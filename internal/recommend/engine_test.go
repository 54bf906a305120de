package recommend

import (
	"context"
	"errors"
	"reflect"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hurttlocker/terrorreco/internal/catalog"
	"github.com/hurttlocker/terrorreco/internal/corpus"
	"github.com/hurttlocker/terrorreco/internal/embed/embedtest"
	"github.com/hurttlocker/terrorreco/internal/rank"
	"github.com/hurttlocker/terrorreco/internal/store"
)

func floatPtr(v float64) *float64 { return &v }

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewStore(store.StoreConfig{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// staticCatalog serves a fixed set of details for a single search term.
type staticCatalog struct {
	details map[string]*catalog.Detail
	order   []string
}

func (c *staticCatalog) SearchTitles(_ context.Context, _ string, page int, _ string, _ int) ([]catalog.SearchHit, error) {
	if page != 1 {
		return nil, nil
	}
	hits := make([]catalog.SearchHit, len(c.order))
	for i, id := range c.order {
		hits[i] = catalog.SearchHit{ID: id}
	}
	return hits, nil
}

func (c *staticCatalog) GetByID(_ context.Context, id string, _ bool) (*catalog.Detail, error) {
	return c.details[id], nil
}

// slowCatalog delays every detail fetch.
type slowCatalog struct {
	staticCatalog
	delay time.Duration
}

func (c *slowCatalog) GetByID(ctx context.Context, id string, full bool) (*catalog.Detail, error) {
	time.Sleep(c.delay)
	return c.staticCatalog.GetByID(ctx, id, full)
}

func seeded(t *testing.T, items ...store.Item) store.Store {
	t.Helper()
	s := newTestStore(t)
	if err := s.SaveItems(context.Background(), items); err != nil {
		t.Fatal(err)
	}
	return s
}

func noBuild() Options {
	o := DefaultOptions()
	o.AutoBuild = false
	return o
}

func ids(items []store.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestRecommend_MinYearExcludesUnknownYear(t *testing.T) {
	s := seeded(t,
		store.Item{ID: "old", Title: "Old", Description: "ghost", Year: 2010},
		store.Item{ID: "new", Title: "New", Description: "ghost", Year: 2016},
		store.Item{ID: "unknown", Title: "Unknown", Description: "ghost"},
	)
	e := New(&staticCatalog{}, s, embedtest.New(97), noBuild())

	got := e.Recommend(context.Background(), Query{Text: "ghost", MinYear: 2015})
	if len(got) != 1 || got[0].ID != "new" {
		t.Errorf("got %v, want [new]", ids(got))
	}
}

func TestRecommend_GhostStoryEndToEnd(t *testing.T) {
	s := seeded(t,
		store.Item{ID: "1", Title: "House", Description: "haunted house ghost", Year: 1999},
		store.Item{ID: "2", Title: "Mask", Description: "slasher masked killer", Year: 1999},
		store.Item{ID: "3", Title: "Story", Description: "haunted ghost story", Year: 1999},
	)
	e := New(&staticCatalog{}, s, embedtest.New(97), noBuild())

	got := e.Recommend(context.Background(), Query{Text: "ghost story", Limit: 3})
	if len(got) != 3 {
		t.Fatalf("expected 3 items, got %v", ids(got))
	}
	if got[2].ID != "2" {
		t.Errorf("slasher should rank last, got %v", ids(got))
	}
}

func TestRecommend_Filters(t *testing.T) {
	s := seeded(t,
		store.Item{ID: "a", Title: "A", Description: "ghost", Year: 1980, Rating: floatPtr(7.5), Language: "English, Spanish"},
		store.Item{ID: "b", Title: "B", Description: "ghost", Year: 2005, Rating: floatPtr(5.0), Language: "English"},
		store.Item{ID: "c", Title: "C", Description: "ghost", Year: 2020, Language: "Japanese"},
	)
	e := New(&staticCatalog{}, s, embedtest.New(97), noBuild())
	ctx := context.Background()

	tests := []struct {
		name  string
		query Query
		want  map[string]bool
	}{
		{"max year", Query{Text: "ghost", MaxYear: 2000}, map[string]bool{"a": true}},
		{"min rating drops unknown", Query{Text: "ghost", MinRating: floatPtr(5)}, map[string]bool{"a": true, "b": true}},
		{"language substring", Query{Text: "ghost", Language: "spanish"}, map[string]bool{"a": true}},
		{"nothing passes", Query{Text: "ghost", MinYear: 2030}, map[string]bool{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Recommend(ctx, tt.query)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", ids(got), tt.want)
			}
			for _, it := range got {
				if !tt.want[it.ID] {
					t.Errorf("unexpected item %q", it.ID)
				}
			}
		})
	}
}

func TestRecommend_EmptyCorpus(t *testing.T) {
	e := New(&staticCatalog{}, newTestStore(t), embedtest.New(97), noBuild())
	got := e.Recommend(context.Background(), Query{Text: "anything"})
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil list, got %v", got)
	}
}

func TestRecommend_StoreFailureReturnsEmpty(t *testing.T) {
	s := newTestStore(t)
	e := New(&staticCatalog{}, s, embedtest.New(97), noBuild())
	s.Close()

	if got := e.Recommend(context.Background(), Query{Text: "ghost"}); len(got) != 0 {
		t.Errorf("expected empty list on store failure, got %v", ids(got))
	}
}

func TestRecommend_EmbedderDownStillAnswers(t *testing.T) {
	s := seeded(t,
		store.Item{ID: "a", Title: "A", Description: "ghost ship", Year: 2000},
		store.Item{ID: "b", Title: "B", Description: "witch coven", Year: 2010},
	)
	emb := embedtest.New(97)
	emb.Err = errors.New("model not installed")
	e := New(&staticCatalog{}, s, emb, noBuild())

	got := e.Recommend(context.Background(), Query{Text: "ghost"})
	if len(got) != 2 {
		t.Errorf("degraded ranking should still return items, got %v", ids(got))
	}
}

func TestRecommend_LimitAndDiversity(t *testing.T) {
	var items []store.Item
	for i := 0; i < 30; i++ {
		items = append(items, store.Item{
			ID:          string(rune('A' + i)),
			Title:       "Title",
			Description: "ghost ship haunted",
			Year:        1990 + i,
		})
	}
	e := New(&staticCatalog{}, seeded(t, items...), embedtest.New(97), noBuild())

	got := e.Recommend(context.Background(), Query{Text: "ghost", Limit: 4})
	if len(got) != 4 {
		t.Fatalf("expected 4 items, got %d", len(got))
	}
	seen := map[string]bool{}
	for _, it := range got {
		if seen[it.ID] {
			t.Errorf("duplicate item %q", it.ID)
		}
		seen[it.ID] = true
	}
}

func TestRecommend_SampleStrategyIsSeeded(t *testing.T) {
	var items []store.Item
	for i := 0; i < 20; i++ {
		items = append(items, store.Item{ID: string(rune('a' + i)), Title: "t", Description: "ghost"})
	}
	s := seeded(t, items...)
	opts := noBuild()
	opts.Strategy = rank.StrategySample
	opts.Seed = 7

	first := New(&staticCatalog{}, s, embedtest.New(97), opts).Recommend(context.Background(), Query{Text: "ghost", Limit: 3})
	second := New(&staticCatalog{}, s, embedtest.New(97), opts).Recommend(context.Background(), Query{Text: "ghost", Limit: 3})
	if len(first) != 3 || !reflect.DeepEqual(ids(first), ids(second)) {
		t.Errorf("seeded sampling should repeat: %v vs %v", ids(first), ids(second))
	}
}

func TestRecommend_AutoBuildOnEmptyCorpus(t *testing.T) {
	cat := &staticCatalog{
		order: []string{"tt1", "tt2"},
		details: map[string]*catalog.Detail{
			"tt1": {Title: "Ghost Ship", Plot: "a haunted ship", Genre: "Horror", Year: "2002"},
			"tt2": {Title: "Romcom", Plot: "love story", Genre: "Romance", Year: "2002"},
		},
	}
	opts := DefaultOptions()
	opts.Build = corpus.BuildOptions{Terms: []string{"ghost"}, Pages: 1}
	s := newTestStore(t)
	e := New(cat, s, embedtest.New(97), opts)

	got := e.Recommend(context.Background(), Query{Text: "haunted ship"})
	if len(got) != 1 || got[0].ID != "tt1" {
		t.Errorf("got %v, want [tt1]", ids(got))
	}
	if n, _ := s.CountItems(context.Background()); n != 1 {
		t.Errorf("auto-built corpus not persisted, count = %d", n)
	}
}

func TestWarmup_ConcurrentCallsComputeOnce(t *testing.T) {
	s := seeded(t,
		store.Item{ID: "a", Title: "A", Description: "ghost"},
		store.Item{ID: "b", Title: "B", Description: "witch"},
		store.Item{ID: "c", Title: "C", Description: "zombie"},
	)
	emb := embedtest.New(97)
	e := New(&staticCatalog{}, s, emb, noBuild())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := e.Warmup(context.Background()); err != nil {
				t.Errorf("Warmup failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if emb.Calls() != 1 || emb.Texts() != 3 {
		t.Errorf("matrix should be computed once, got %d calls / %d texts", emb.Calls(), emb.Texts())
	}
	items, rows, _, ready := e.Stats()
	if items != 3 || rows != 3 || !ready {
		t.Errorf("Stats() = %d items, %d rows, ready=%v", items, rows, ready)
	}
}

func TestRebuild_SwapsSnapshot(t *testing.T) {
	s := seeded(t, store.Item{ID: "tt0", Title: "Existing", Description: "ghost", Genre: "Horror"})
	cat := &staticCatalog{
		order: []string{"tt1"},
		details: map[string]*catalog.Detail{
			"tt1": {Title: "Witch", Plot: "a coven in the woods", Genre: "Horror"},
		},
	}
	e := New(cat, s, embedtest.New(97), noBuild())
	ctx := context.Background()
	if err := e.Warmup(ctx); err != nil {
		t.Fatal(err)
	}

	res, err := e.Rebuild(ctx, corpus.BuildOptions{Terms: []string{"witch"}, Pages: 1})
	if err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}
	if len(res.Items) != 2 {
		t.Fatalf("expected 2 items after rebuild, got %d", len(res.Items))
	}
	if items, rows, _, _ := e.Stats(); items != 2 || rows != 2 {
		t.Errorf("snapshot not swapped: %d items / %d rows", items, rows)
	}
	got := e.Recommend(ctx, Query{Text: "coven woods", Limit: 1})
	if len(got) != 1 || got[0].ID != "tt1" {
		t.Errorf("got %v, want [tt1]", ids(got))
	}
}

func TestClampLimit(t *testing.T) {
	tests := map[int]int{0: 6, -3: 6, 1: 1, 6: 6, 50: 50, 51: 50, 1000: 50}
	for in, want := range tests {
		if got := ClampLimit(in); got != want {
			t.Errorf("ClampLimit(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestStatus_ReportsSnapshotAndStore(t *testing.T) {
	s := seeded(t,
		store.Item{ID: "1", Title: "House", Description: "haunted house ghost"},
		store.Item{ID: "2", Title: "Mask", Description: "slasher masked killer"},
	)
	e := New(&staticCatalog{}, s, embedtest.New(97), noBuild())
	ctx := context.Background()

	st, err := e.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if st.Ready || st.Items != 0 {
		t.Errorf("Status must not load the corpus: %+v", st)
	}
	if st.Store == nil || st.Store.ItemCount != 2 || st.Store.MatrixRows != 0 {
		t.Errorf("unexpected store stats: %+v", st.Store)
	}

	if err := e.Warmup(ctx); err != nil {
		t.Fatalf("Warmup failed: %v", err)
	}
	st, err = e.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if !st.Ready || st.Items != 2 || st.MatrixRows != 2 || st.MatrixDims != 97 || st.Degraded {
		t.Errorf("unexpected snapshot: %+v", st)
	}
	if !st.Store.MatrixInSync || st.Store.MatrixModel != "test/bow" {
		t.Errorf("matrix should be persisted: %+v", st.Store)
	}
}

func TestRecommend_TimedOutCallerDoesNotTruncateAutoBuild(t *testing.T) {
	cat := &slowCatalog{delay: 10 * time.Millisecond}
	cat.details = map[string]*catalog.Detail{}
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("tt%02d", i)
		cat.order = append(cat.order, id)
		cat.details[id] = &catalog.Detail{
			ID:    catalog.FlexString(id),
			Title: catalog.FlexString("Haunting " + id),
			Plot:  "a ghost haunts the house",
			Genre: "Horror",
			Year:  "2001",
		}
	}
	opts := DefaultOptions()
	opts.Build = corpus.BuildOptions{Terms: []string{"ghost"}, Pages: 1}
	s := newTestStore(t)
	e := New(cat, s, embedtest.New(97), opts)

	impatient, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	var wg sync.WaitGroup
	var short, patient []store.Item
	wg.Add(2)
	go func() {
		defer wg.Done()
		short = e.Recommend(impatient, Query{Text: "ghost"})
	}()
	go func() {
		defer wg.Done()
		time.Sleep(5 * time.Millisecond)
		patient = e.Recommend(context.Background(), Query{Text: "ghost"})
	}()
	wg.Wait()

	if len(short) != 0 {
		t.Errorf("timed-out caller should get nothing, got %v", ids(short))
	}
	if len(patient) != DefaultLimit {
		t.Errorf("patient caller got %d items, want %d", len(patient), DefaultLimit)
	}
	if n, _ := s.CountItems(context.Background()); n != 20 {
		t.Errorf("persisted corpus = %d, want the full 20", n)
	}
	if items, rows, _, ready := e.Stats(); items != 20 || rows != 20 || !ready {
		t.Errorf("Stats() = %d items, %d rows, ready=%v", items, rows, ready)
	}
}

func TestRecommend_QueryOverrides(t *testing.T) {
	s := seeded(t,
		store.Item{ID: "old", Title: "Old", Description: "ghost", Year: 1950},
		store.Item{ID: "new", Title: "New", Description: "ghost", Year: 2020},
	)
	e := New(&staticCatalog{}, s, embedtest.New(97), noBuild())
	ctx := context.Background()

	recency := rank.Weights{Recency: 1}
	if got := e.Recommend(ctx, Query{Text: "ghost", Limit: 1, Weights: &recency}); len(got) != 1 || got[0].ID != "new" {
		t.Errorf("recency-only weights: got %v, want [new]", ids(got))
	}
	antiRecency := rank.Weights{Recency: -1}
	if got := e.Recommend(ctx, Query{Text: "ghost", Limit: 1, Weights: &antiRecency}); len(got) != 1 || got[0].ID != "old" {
		t.Errorf("negative recency weight: got %v, want [old]", ids(got))
	}
}

func TestRecommend_LambdaOverride(t *testing.T) {
	s := seeded(t,
		store.Item{ID: "a", Title: "Ghost House", Description: "ghost house haunted", Votes: 9000, Rating: floatPtr(8)},
		store.Item{ID: "b", Title: "Ghost House Two", Description: "ghost house haunted", Votes: 8000, Rating: floatPtr(7.9)},
		store.Item{ID: "c", Title: "Cabin", Description: "ghost cabin woods", Votes: 10, Rating: floatPtr(5)},
	)
	e := New(&staticCatalog{}, s, embedtest.New(97), noBuild())
	ctx := context.Background()

	pure := 1.0
	relevance := e.Recommend(ctx, Query{Text: "ghost house", Limit: 2, Lambda: &pure})
	if got := ids(relevance); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("lambda=1 should keep blended order, got %v", got)
	}
	diverse := 0.0
	spread := e.Recommend(ctx, Query{Text: "ghost house", Limit: 2, Lambda: &diverse})
	if got := ids(spread); len(got) != 2 || got[1] != "c" {
		t.Errorf("lambda=0 should pick the dissimilar item second, got %v", got)
	}
}
