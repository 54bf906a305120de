// Package embedtest provides a deterministic in-process Embedder for tests.
package embedtest

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"

	"github.com/hurttlocker/terrorreco/internal/embed"
)

// Embedder hashes word tokens into a fixed-width bag-of-words vector, so texts
// sharing words have positive cosine similarity.
type Embedder struct {
	Dims int
	Name string
	Err  error // returned by every call when set

	mu    sync.Mutex
	calls int
	texts int
}

// New returns a bag-of-words embedder of width dims.
func New(dims int) *Embedder {
	return &Embedder{Dims: dims, Name: "test/bow"}
}

// Calls reports how many Embed/EmbedBatch calls were made.
func (e *Embedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// Texts reports how many texts were embedded in total.
func (e *Embedder) Texts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.texts
}

func (e *Embedder) Model() string   { return e.Name }
func (e *Embedder) Dimensions() int { return e.Dims }

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (e *Embedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.texts += len(texts)
	e.mu.Unlock()

	if e.Err != nil {
		return nil, e.Err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			continue
		}
		v := make([]float32, e.Dims)
		for _, w := range strings.FieldsFunc(strings.ToLower(t), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		}) {
			h := fnv.New32a()
			h.Write([]byte(w))
			v[int(h.Sum32())%e.Dims]++
		}
		out[i] = embed.Normalize(v)
	}
	return out, nil
}

var _ embed.Embedder = (*Embedder)(nil)
