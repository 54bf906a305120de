package embedcache

import (
	"context"
	"errors"
	"testing"

	"github.com/hurttlocker/terrorreco/internal/embed/embedtest"
	"github.com/hurttlocker/terrorreco/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewStore(store.StoreConfig{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func corpus(descriptions ...string) []store.Item {
	items := make([]store.Item, len(descriptions))
	for i, d := range descriptions {
		items[i] = store.Item{ID: string(rune('a' + i)), Title: d, Description: d}
	}
	return items
}

func TestGetOrCompute_ComputesAndPersists(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	items := corpus("Haunted house ghost", "slasher masked killer", "")
	if err := s.SaveItems(ctx, items); err != nil {
		t.Fatal(err)
	}
	emb := embedtest.New(97)
	c := New(s, emb)

	m, err := c.GetOrCompute(ctx, items)
	if err != nil {
		t.Fatalf("GetOrCompute failed: %v", err)
	}
	if m.Rows() != 3 || m.Dims() != 97 {
		t.Fatalf("matrix shape = %dx%d, want 3x97", m.Rows(), m.Dims())
	}
	if len(m[2]) != 97 {
		t.Errorf("empty description should still get a full-width row, got %d", len(m[2]))
	}
	if emb.Calls() != 1 || emb.Texts() != 3 {
		t.Errorf("expected one batch of 3 texts, got %d calls / %d texts", emb.Calls(), emb.Texts())
	}

	stored, model, err := s.LoadMatrix(ctx)
	if err != nil {
		t.Fatalf("matrix not persisted: %v", err)
	}
	if stored.Rows() != 3 || model != emb.Model() {
		t.Errorf("persisted %d rows for model %q", stored.Rows(), model)
	}
}

func TestGetOrCompute_FastPathSkipsEmbedder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	items := corpus("one", "two")
	s.SaveItems(ctx, items)
	emb := embedtest.New(97)
	c := New(s, emb)

	if _, err := c.GetOrCompute(ctx, items); err != nil {
		t.Fatal(err)
	}
	if _, err := c.GetOrCompute(ctx, items); err != nil {
		t.Fatal(err)
	}
	if emb.Calls() != 1 {
		t.Errorf("second call should reuse the persisted matrix, embedder called %d times", emb.Calls())
	}
}

func TestGetOrCompute_RowMismatchRecomputes(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	emb := embedtest.New(97)
	c := New(s, emb)

	if err := s.SaveMatrix(ctx, store.Matrix{{1, 0}, {0, 1}}, emb.Model()); err != nil {
		t.Fatal(err)
	}

	grown := corpus("one", "two", "three", "four")
	m, err := c.GetOrCompute(ctx, grown)
	if err != nil {
		t.Fatalf("GetOrCompute failed: %v", err)
	}
	if m.Rows() != len(grown) {
		t.Fatalf("rows = %d, want %d", m.Rows(), len(grown))
	}
	if emb.Texts() != len(grown) {
		t.Errorf("expected full recompute of %d texts, got %d", len(grown), emb.Texts())
	}
}

func TestGetOrCompute_ModelChangeRecomputes(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	items := corpus("one", "two")
	s.SaveMatrix(ctx, store.Matrix{{1, 0}, {0, 1}}, "other/model")

	emb := embedtest.New(97)
	m, err := New(s, emb).GetOrCompute(ctx, items)
	if err != nil {
		t.Fatal(err)
	}
	if emb.Calls() != 1 || m.Dims() != 97 {
		t.Errorf("expected recompute with new model, calls=%d dims=%d", emb.Calls(), m.Dims())
	}
}

func TestGetOrCompute_ProviderFailureDegrades(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	items := corpus("one", "two", "three")
	emb := embedtest.New(8)
	emb.Err = errors.New("model load failed")

	m, degraded, err := New(s, emb).Resolve(ctx, items)
	if err != nil {
		t.Fatalf("degraded path must not fail: %v", err)
	}
	if !degraded {
		t.Error("expected degraded = true")
	}
	if m.Rows() != 3 || m.Dims() != 8 {
		t.Fatalf("zero matrix shape = %dx%d, want 3x8", m.Rows(), m.Dims())
	}
	for i, row := range m {
		for _, x := range row {
			if x != 0 {
				t.Fatalf("row %d not zero: %v", i, row)
			}
		}
	}
	if _, _, err := s.LoadMatrix(ctx); !errors.Is(err, store.ErrNoMatrix) {
		t.Errorf("zero matrix must not be persisted, LoadMatrix err = %v", err)
	}
}

func TestGetOrCompute_EmptyCorpus(t *testing.T) {
	emb := embedtest.New(97)
	m, err := New(newTestStore(t), emb).GetOrCompute(context.Background(), nil)
	if err != nil || m.Rows() != 0 {
		t.Fatalf("expected empty matrix, got %d rows / %v", m.Rows(), err)
	}
	if emb.Calls() != 0 {
		t.Errorf("empty corpus should not call the embedder")
	}
}

func TestZeroMatrix_MinimumWidth(t *testing.T) {
	m := ZeroMatrix(2, 0)
	if m.Rows() != 2 || len(m[0]) != 1 {
		t.Errorf("ZeroMatrix(2, 0) shape = %dx%d", m.Rows(), len(m[0]))
	}
}

func TestNormalizeText(t *testing.T) {
	if got := NormalizeText("  Haunted HOUSE \n"); got != "haunted house" {
		t.Errorf("NormalizeText = %q", got)
	}
}
