package rank

import "math/rand/v2"

// Strategy names accepted by the orchestrator.
const (
	StrategyMMR    = "mmr"
	StrategySample = "sample"
)

// SeededSample picks k candidates uniformly at random from pool using a
// fixed seed, so the same pool and seed always give the same picks.
// A pool of k or fewer is returned unchanged.
func SeededSample(pool []Candidate, k int, seed uint64) []Candidate {
	if len(pool) <= k {
		return pool
	}
	if k <= 0 {
		return []Candidate{}
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	perm := rng.Perm(len(pool))
	out := make([]Candidate, k)
	for i := 0; i < k; i++ {
		out[i] = pool[perm[i]]
	}
	return out
}
