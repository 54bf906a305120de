package rank

import (
	"reflect"
	"testing"

	"github.com/hurttlocker/terrorreco/internal/store"
)

func cand(id, text string, score float64) Candidate {
	return Candidate{Item: store.Item{ID: id, Title: text}, Score: score}
}

func candIDs(cs []Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Item.ID
	}
	return out
}

func TestMMR_SmallPoolUnchanged(t *testing.T) {
	pool := []Candidate{cand("b", "x", 0.1), cand("a", "x", 0.9), cand("c", "y", 0.5)}
	for _, k := range []int{3, 4, 10} {
		got := MMR(pool, k, DefaultLambda)
		if !reflect.DeepEqual(candIDs(got), []string{"b", "a", "c"}) {
			t.Errorf("k=%d: pool should be returned unchanged, got %v", k, candIDs(got))
		}
	}
}

func TestMMR_PenaltyChangesSecondPick(t *testing.T) {
	pool := []Candidate{
		cand("1", "ghost ship ocean", 1.0),
		cand("2", "ghost ship ocean", 1.0),
		cand("3", "ghost ship ocean", 1.0),
		cand("4", "witch coven forest", 1.0),
		cand("5", "ghost ship ocean", 1.0),
	}
	naive := candIDs(Pool(pool, 2)[:2])
	got := candIDs(MMR(pool, 2, 0.7))

	if got[0] != "1" {
		t.Errorf("seed should be the first top-scored candidate, got %v", got)
	}
	if reflect.DeepEqual(got, naive) {
		t.Errorf("MMR picked the same as naive top-2: %v", got)
	}
	if got[1] != "4" {
		t.Errorf("second pick should be the non-overlapping item, got %v", got)
	}
}

func TestMMR_LambdaOneIsTopK(t *testing.T) {
	pool := []Candidate{
		cand("a", "same words", 0.9),
		cand("b", "same words", 0.8),
		cand("c", "other text", 0.7),
		cand("d", "more text", 0.1),
	}
	got := candIDs(MMR(pool, 3, 1))
	if !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("lambda=1 should be plain top-k, got %v", got)
	}
	clamped := candIDs(MMR(pool, 3, 7))
	if !reflect.DeepEqual(clamped, got) {
		t.Errorf("lambda above 1 should clamp to 1, got %v", clamped)
	}
}

func TestMMR_Deterministic(t *testing.T) {
	pool := []Candidate{
		cand("a", "ghost", 0.5), cand("b", "ghost", 0.5), cand("c", "witch", 0.5),
		cand("d", "witch", 0.5), cand("e", "zombie", 0.5), cand("f", "zombie", 0.5),
	}
	first := candIDs(MMR(pool, 3, DefaultLambda))
	for i := 0; i < 5; i++ {
		if got := candIDs(MMR(pool, 3, DefaultLambda)); !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d differs: %v vs %v", i, got, first)
		}
	}
	if !reflect.DeepEqual(first, []string{"a", "c", "e"}) {
		t.Errorf("expected one item per theme, got %v", first)
	}
}

func TestPool(t *testing.T) {
	var cands []Candidate
	for i := 0; i < 40; i++ {
		cands = append(cands, cand(string(rune('A'+i)), "t", float64(i%4)))
	}
	pool := Pool(cands, 2)
	if len(pool) != 10 {
		t.Fatalf("pool size = %d, want 10", len(pool))
	}
	if pool[0].Item.ID != "D" || pool[1].Item.ID != "H" {
		t.Errorf("pool should be score-descending and stable, got %v", candIDs(pool[:2]))
	}
	if got := PoolSize(6); got != 30 {
		t.Errorf("PoolSize(6) = %d", got)
	}
}

func TestJaccard(t *testing.T) {
	a := Tokens("haunted house, ghost")
	b := Tokens("Ghost story")
	if got := Jaccard(a, b); got != 0.25 {
		t.Errorf("Jaccard = %v, want 0.25", got)
	}
	if got := Jaccard(a, Tokens("")); got != 0 {
		t.Errorf("Jaccard with empty set = %v", got)
	}
}
