package embed

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/hurttlocker/terrorreco/internal/logging"
)

const onnxBatchSize = 32

// ONNXEmbedder runs a sentence-transformer (BERT-family) model locally.
// The model is loaded on first use; that first call pays the cold start.
type ONNXEmbedder struct {
	config EmbedConfig

	mu      sync.Mutex
	loaded  bool
	loadErr error
	tk      *tokenizer.Tokenizer
	session *ort.DynamicAdvancedSession
}

// NewONNXEmbedder validates the config. No files are touched until the first embed call.
func NewONNXEmbedder(config *EmbedConfig) (*ONNXEmbedder, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfg := *config
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 256
	}
	return &ONNXEmbedder{config: cfg}, nil
}

// Model returns "onnx/<model>".
func (e *ONNXEmbedder) Model() string {
	return "onnx/" + e.config.Model
}

// Dimensions returns the configured output width.
func (e *ONNXEmbedder) Dimensions() int {
	return e.config.Dimensions
}

// Embed generates an embedding vector for a single text.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("empty text")
	}
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch embeds texts with mean pooling over the attention mask.
// Empty texts get a nil vector at their position.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.load(); err != nil {
		return nil, err
	}

	result := make([][]float32, len(texts))
	var pending []int
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		batch := make([]string, len(pending))
		for i, idx := range pending {
			batch[i] = texts[idx]
		}
		vecs, err := e.run(batch)
		if err != nil {
			return err
		}
		for i, idx := range pending {
			result[idx] = vecs[i]
		}
		pending = pending[:0]
		return nil
	}

	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		pending = append(pending, i)
		if len(pending) == onnxBatchSize {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	return result, nil
}

// Close releases the ONNX session.
func (e *ONNXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil {
		err := e.session.Destroy()
		e.session = nil
		return err
	}
	return nil
}

// load must be called with e.mu held. A failed load is sticky.
func (e *ONNXEmbedder) load() error {
	if e.loaded {
		return e.loadErr
	}
	e.loaded = true
	start := time.Now()

	modelPath := filepath.Join(e.config.ModelDir, "model.onnx")
	tokenizerPath := filepath.Join(e.config.ModelDir, "tokenizer.json")
	for _, p := range []string{modelPath, tokenizerPath} {
		if _, err := os.Stat(p); err != nil {
			e.loadErr = fmt.Errorf("%w: %v", ErrUnavailable, err)
			return e.loadErr
		}
	}

	tk, err := pretrained.FromFile(tokenizerPath)
	if err != nil {
		e.loadErr = fmt.Errorf("%w: loading tokenizer: %v", ErrUnavailable, err)
		return e.loadErr
	}

	if e.config.LibraryPath != "" {
		ort.SetSharedLibraryPath(e.config.LibraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			e.loadErr = fmt.Errorf("%w: initializing onnxruntime: %v", ErrUnavailable, err)
			return e.loadErr
		}
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"}, nil)
	if err != nil {
		e.loadErr = fmt.Errorf("%w: creating session: %v", ErrUnavailable, err)
		return e.loadErr
	}

	e.tk = tk
	e.session = session
	logging.Info().
		Str("model", e.Model()).
		Dur("load_time", time.Since(start)).
		Msg("embedding model loaded")
	return nil
}

func (e *ONNXEmbedder) run(texts []string) ([][]float32, error) {
	encodings := make([]*tokenizer.Encoding, len(texts))
	seqLen := 0
	for i, text := range texts {
		enc, err := e.tk.EncodeSingle(text, true)
		if err != nil {
			return nil, fmt.Errorf("tokenizing: %w", err)
		}
		encodings[i] = enc
		if n := min(len(enc.Ids), e.config.MaxTokens); n > seqLen {
			seqLen = n
		}
	}
	if seqLen == 0 {
		seqLen = 1
	}

	batch := len(texts)
	ids := make([]int64, batch*seqLen)
	mask := make([]int64, batch*seqLen)
	typeIDs := make([]int64, batch*seqLen)
	for b, enc := range encodings {
		n := min(len(enc.Ids), seqLen)
		for s := 0; s < n; s++ {
			ids[b*seqLen+s] = int64(enc.Ids[s])
			mask[b*seqLen+s] = 1
			if s < len(enc.TypeIds) {
				typeIDs[b*seqLen+s] = int64(enc.TypeIds[s])
			}
		}
		// Truncated sequences keep their trailing [SEP].
		if len(enc.Ids) > seqLen {
			ids[b*seqLen+seqLen-1] = int64(enc.Ids[len(enc.Ids)-1])
		}
	}

	shape := ort.NewShape(int64(batch), int64(seqLen))
	idsT, err := ort.NewTensor(shape, ids)
	if err != nil {
		return nil, fmt.Errorf("creating input_ids tensor: %w", err)
	}
	defer idsT.Destroy()
	maskT, err := ort.NewTensor(shape, mask)
	if err != nil {
		return nil, fmt.Errorf("creating attention_mask tensor: %w", err)
	}
	defer maskT.Destroy()
	typeT, err := ort.NewTensor(shape, typeIDs)
	if err != nil {
		return nil, fmt.Errorf("creating token_type_ids tensor: %w", err)
	}
	defer typeT.Destroy()

	dims := e.config.Dimensions
	outT, err := ort.NewEmptyTensor[float32](ort.NewShape(int64(batch), int64(seqLen), int64(dims)))
	if err != nil {
		return nil, fmt.Errorf("creating output tensor: %w", err)
	}
	defer outT.Destroy()

	if err := e.session.Run([]ort.Value{idsT, maskT, typeT}, []ort.Value{outT}); err != nil {
		return nil, fmt.Errorf("running model: %w", err)
	}

	hidden := outT.GetData()
	out := make([][]float32, batch)
	for b := 0; b < batch; b++ {
		vec := make([]float32, dims)
		var count float32
		for s := 0; s < seqLen; s++ {
			if mask[b*seqLen+s] == 0 {
				continue
			}
			count++
			base := (b*seqLen + s) * dims
			for d := 0; d < dims; d++ {
				vec[d] += hidden[base+d]
			}
		}
		if count > 0 {
			for d := range vec {
				vec[d] /= count
			}
		}
		out[b] = Normalize(vec)
	}
	return out, nil
}

var _ Embedder = (*ONNXEmbedder)(nil)
