package rank

import (
	"reflect"
	"testing"
)

func TestSeededSample(t *testing.T) {
	var pool []Candidate
	for i := 0; i < 20; i++ {
		pool = append(pool, cand(string(rune('a'+i)), "t", 1))
	}

	first := candIDs(SeededSample(pool, 5, 42))
	again := candIDs(SeededSample(pool, 5, 42))
	if !reflect.DeepEqual(first, again) {
		t.Errorf("same seed should give same picks: %v vs %v", first, again)
	}
	if len(first) != 5 {
		t.Fatalf("expected 5 picks, got %d", len(first))
	}
	seen := map[string]bool{}
	for _, id := range first {
		if seen[id] {
			t.Errorf("duplicate pick %q in %v", id, first)
		}
		seen[id] = true
	}

	small := pool[:3]
	if got := SeededSample(small, 5, 1); len(got) != 3 {
		t.Errorf("small pool should be returned unchanged, got %d", len(got))
	}
}
