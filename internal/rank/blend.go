// Package rank blends relevance signals and diversifies the final selection.
package rank

import (
	"math"

	"github.com/hurttlocker/terrorreco/internal/store"
)

const minMaxEpsilon = 1e-12

// Weights scales each normalized signal in the blended score.
// They need not sum to 1.
type Weights struct {
	Semantic   float64 `json:"semantic" yaml:"semantic"`
	Keyword    float64 `json:"keyword" yaml:"keyword"`
	Popularity float64 `json:"popularity" yaml:"popularity"`
	Recency    float64 `json:"recency" yaml:"recency"`
}

// DefaultWeights returns semantic 0.45, keyword 0.20, popularity 0.20, recency 0.05.
func DefaultWeights() Weights {
	return Weights{Semantic: 0.45, Keyword: 0.20, Popularity: 0.20, Recency: 0.05}
}

// Signals holds one value per relevance signal.
type Signals struct {
	Semantic   float64
	Keyword    float64
	Popularity float64
	Recency    float64
}

// Candidate is a per-request score record. It is never persisted.
type Candidate struct {
	Item       store.Item
	Similarity float64 // raw cosine similarity from retrieval
	Raw        Signals
	Norm       Signals // each in [0,1] over the current candidate set
	Score      float64
}

// Blend computes all four signals over cands, normalizes each within the set
// and sets Score. cands is modified in place and returned.
func Blend(query string, cands []Candidate, w Weights) []Candidate {
	n := len(cands)
	if n == 0 {
		return cands
	}

	queryTokens := Tokens(query)
	sem := make([]float64, n)
	kw := make([]float64, n)
	pop := make([]float64, n)
	for i := range cands {
		c := &cands[i]
		c.Raw.Semantic = c.Similarity
		c.Raw.Keyword = Lexical(queryTokens, c.Item)
		c.Raw.Popularity = Popularity(c.Item)
		sem[i] = c.Raw.Semantic
		kw[i] = c.Raw.Keyword
		pop[i] = c.Raw.Popularity
	}
	rec := Recency(cands)

	sem = MinMax(sem)
	kw = MinMax(kw)
	pop = MinMax(pop)
	for i := range cands {
		c := &cands[i]
		c.Norm = Signals{Semantic: sem[i], Keyword: kw[i], Popularity: pop[i], Recency: rec[i]}
		c.Score = w.Semantic*sem[i] + w.Keyword*kw[i] + w.Popularity*pop[i] + w.Recency*rec[i]
	}
	return cands
}

// MinMax rescales xs into [0,1]. Non-finite entries are ignored when finding
// the range and map to 0. A range narrower than 1e-12, or no finite values
// at all, yields all zeros.
func MinMax(xs []float64) []float64 {
	out := make([]float64, len(xs))
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			continue
		}
		lo = math.Min(lo, x)
		hi = math.Max(hi, x)
	}
	if math.IsInf(lo, 0) || math.IsInf(hi, 0) || hi-lo < minMaxEpsilon {
		return out
	}
	for i, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			continue
		}
		out[i] = (x - lo) / (hi - lo)
	}
	return out
}

// Lexical is the fraction of distinct query tokens found literally in the
// item's title and description.
func Lexical(queryTokens map[string]struct{}, it store.Item) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	itemTokens := Tokens(itemText(it.Title, it.Description))
	if len(itemTokens) == 0 {
		return 0
	}
	hits := 0
	for t := range queryTokens {
		if _, ok := itemTokens[t]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(queryTokens))
}

// Popularity is rating*(1+ln(1+votes)) + 0.02*critic. Unknown rating and
// missing counts contribute 0, so an item with no data scores 0.
func Popularity(it store.Item) float64 {
	votes := max(it.Votes, 0)
	return it.RatingOrZero()*(1+math.Log1p(float64(votes))) + 0.02*float64(it.CriticScore)
}

// Recency min-max normalizes release years across cands. Unknown years take
// the minimum observed year; with no known years every value is 0.
func Recency(cands []Candidate) []float64 {
	minYear := 0
	for _, c := range cands {
		if y := c.Item.Year; y > 0 && (minYear == 0 || y < minYear) {
			minYear = y
		}
	}
	if minYear == 0 {
		return make([]float64, len(cands))
	}
	years := make([]float64, len(cands))
	for i, c := range cands {
		y := c.Item.Year
		if y <= 0 {
			y = minYear
		}
		years[i] = float64(y)
	}
	return MinMax(years)
}
