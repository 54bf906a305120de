package rank

import (
	"math"
	"sort"
)

// DefaultLambda weighs relevance against redundancy in MMR.
const DefaultLambda = 0.7

// PoolSize is the number of top-blended candidates handed to MMR for a
// result of size k: max(10, 5k).
func PoolSize(k int) int {
	return max(10, k*5)
}

// Pool returns the PoolSize(k) best candidates by Score. Equal scores keep
// their input order.
func Pool(cands []Candidate, k int) []Candidate {
	sorted := make([]Candidate, len(cands))
	copy(sorted, cands)
	sort.SliceStable(sorted, func(a, b int) bool {
		return sorted[a].Score > sorted[b].Score
	})
	if n := PoolSize(k); len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// MMR greedily selects k candidates maximizing
// lambda*Score - (1-lambda)*max Jaccard similarity to those already chosen.
// A pool of k or fewer is returned unchanged. Ties go to the earliest
// candidate in pool order.
func MMR(pool []Candidate, k int, lambda float64) []Candidate {
	if len(pool) <= k {
		return pool
	}
	if k <= 0 {
		return []Candidate{}
	}
	lambda = min(max(lambda, 0), 1)

	tokens := make([]map[string]struct{}, len(pool))
	for i, c := range pool {
		tokens[i] = Tokens(itemText(c.Item.Title, c.Item.Description))
	}

	first := 0
	for i := 1; i < len(pool); i++ {
		if pool[i].Score > pool[first].Score {
			first = i
		}
	}

	selected := []int{first}
	used := make([]bool, len(pool))
	used[first] = true
	// maxSim[i] tracks candidate i's highest similarity to the selection so far.
	maxSim := make([]float64, len(pool))
	for i := range pool {
		if !used[i] {
			maxSim[i] = Jaccard(tokens[i], tokens[first])
		}
	}

	for len(selected) < k {
		best := -1
		bestScore := math.Inf(-1)
		for i := range pool {
			if used[i] {
				continue
			}
			score := lambda*pool[i].Score - (1-lambda)*maxSim[i]
			if score > bestScore {
				best, bestScore = i, score
			}
		}
		if best < 0 {
			break
		}
		selected = append(selected, best)
		used[best] = true
		for i := range pool {
			if !used[i] {
				maxSim[i] = max(maxSim[i], Jaccard(tokens[i], tokens[best]))
			}
		}
	}

	out := make([]Candidate, len(selected))
	for i, idx := range selected {
		out[i] = pool[idx]
	}
	return out
}
