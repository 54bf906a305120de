// Package embed provides text-to-vector embedding.
//
// Supported providers:
// - onnx: local sentence-transformer model run through ONNX Runtime (default)
// - ollama: http://localhost:11434/v1/embeddings
// - openai: https://api.openai.com/v1/embeddings
// - openrouter: https://openrouter.ai/api/v1/embeddings
// - custom: user-specified OpenAI-compatible endpoint
//
// Every embedder returns L2-normalized vectors so cosine similarity is a dot product.
package embed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
)

// ErrUnavailable marks an embedder that cannot serve requests at all
// (model files missing, runtime not installed).
var ErrUnavailable = errors.New("embedding provider unavailable")

// Embedder generates embedding vectors from text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	// Model identifies provider and model version, e.g. "onnx/all-MiniLM-L6-v2".
	Model() string
}

// EmbedConfig holds embedding provider configuration.
type EmbedConfig struct {
	Provider    string // "onnx", "ollama", "openai", "openrouter", "custom"
	Model       string // model name
	Endpoint    string // full API URL (HTTP providers)
	APIKey      string
	MaxRetries  int // default: 3
	TimeoutSecs int // per-request timeout (default: 60)

	// ONNX only.
	ModelDir    string // directory holding model.onnx and tokenizer.json
	LibraryPath string // onnxruntime shared library
	Dimensions  int    // output width, default 384
	MaxTokens   int    // truncation length, default 256
}

// EmbedRequest represents an OpenAI-compatible embeddings request.
type EmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// EmbedResponse represents an OpenAI-compatible embeddings response.
type EmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// HTTPError represents an HTTP error with additional context.
type HTTPError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Client implements Embedder with HTTP API calls.
type Client struct {
	config     EmbedConfig
	http       *http.Client
	dimensions atomic.Int64 // learned from the first response
}

// DefaultEmbedFlag is used when no provider is configured anywhere.
const DefaultEmbedFlag = "onnx/all-MiniLM-L6-v2"

// ParseEmbedFlag parses "provider/model" format.
// Handles model names with slashes and colons like "openrouter/sentence-transformers/all-MiniLM-L6-v2".
func ParseEmbedFlag(flag string) (*EmbedConfig, error) {
	if flag == "" {
		return nil, fmt.Errorf("empty embedding flag")
	}

	slashIdx := strings.Index(flag, "/")
	if slashIdx == -1 {
		return nil, fmt.Errorf("invalid --embed format: expected 'provider/model', got %q", flag)
	}

	provider := flag[:slashIdx]
	model := flag[slashIdx+1:]

	if provider == "" {
		return nil, fmt.Errorf("empty provider in --embed flag: %q", flag)
	}
	if model == "" {
		return nil, fmt.Errorf("empty model in --embed flag: %q", flag)
	}

	config := &EmbedConfig{
		Provider:    provider,
		Model:       model,
		MaxRetries:  3,
		TimeoutSecs: 60,
	}

	switch provider {
	case "onnx":
		config.ModelDir = defaultModelDir(model)
		config.LibraryPath = os.Getenv("TERRORRECO_ONNXRUNTIME_LIB")
		config.Dimensions = 384
		config.MaxTokens = 256
		if dir := os.Getenv("TERRORRECO_ONNX_DIR"); dir != "" {
			config.ModelDir = dir
		}
		return config, nil
	case "ollama":
		config.Endpoint = "http://localhost:11434/v1/embeddings"
	case "openai":
		config.Endpoint = "https://api.openai.com/v1/embeddings"
		config.APIKey = os.Getenv("OPENAI_API_KEY")
	case "openrouter":
		config.Endpoint = "https://openrouter.ai/api/v1/embeddings"
		config.APIKey = os.Getenv("OPENROUTER_API_KEY")
	case "custom":
		config.Endpoint = os.Getenv("TERRORRECO_EMBED_ENDPOINT")
		config.APIKey = os.Getenv("TERRORRECO_EMBED_API_KEY")
	default:
		return nil, fmt.Errorf("unknown provider %q. Supported: onnx, ollama, openai, openrouter, custom", provider)
	}

	if endpoint := os.Getenv("TERRORRECO_EMBED_ENDPOINT"); endpoint != "" {
		config.Endpoint = endpoint
	}
	if apiKey := os.Getenv("TERRORRECO_EMBED_API_KEY"); apiKey != "" {
		config.APIKey = apiKey
	}

	return config, nil
}

func defaultModelDir(model string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".terrorreco", "models", model)
	}
	return filepath.Join(home, ".terrorreco", "models", model)
}

// Validate checks if the embedding configuration is valid and complete.
func (c *EmbedConfig) Validate() error {
	if c.Provider == "" {
		return fmt.Errorf("provider is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}

	if c.Provider == "onnx" {
		if c.ModelDir == "" {
			return fmt.Errorf("model directory is required for onnx")
		}
		if c.Dimensions <= 0 {
			return fmt.Errorf("dimensions must be positive")
		}
		return nil
	}

	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}

	// API key validation (except for Ollama and test providers which don't need one)
	if c.Provider != "ollama" && c.Provider != "test" && c.APIKey == "" {
		return fmt.Errorf("API key is required for provider %q (set via environment variable)", c.Provider)
	}

	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.TimeoutSecs <= 0 {
		return fmt.Errorf("timeout must be positive")
	}

	return nil
}

// New returns the embedder for the configured provider.
func New(config *EmbedConfig) (Embedder, error) {
	if config != nil && config.Provider == "onnx" {
		return NewONNXEmbedder(config)
	}
	return NewClient(config)
}

// NewClient creates a new HTTP embedding client with the given configuration.
func NewClient(config *EmbedConfig) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Client{
		config: *config,
		http: &http.Client{
			Timeout: time.Duration(config.TimeoutSecs) * time.Second,
		},
	}, nil
}

// Model returns "provider/model".
func (c *Client) Model() string {
	return c.config.Provider + "/" + c.config.Model
}

// Embed generates an embedding vector for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("empty text")
	}

	embeddings, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}

	if len(embeddings) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d", len(embeddings))
	}

	return embeddings[0], nil
}

// EmbedBatch generates embedding vectors for multiple texts in a single API call.
// Empty texts get a nil vector at their position.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	nonEmptyTexts := make([]string, 0, len(texts))
	indexMap := make([]int, 0, len(texts)) // result index -> original index
	for i, text := range texts {
		if strings.TrimSpace(text) != "" {
			nonEmptyTexts = append(nonEmptyTexts, text)
			indexMap = append(indexMap, i)
		}
	}

	if len(nonEmptyTexts) == 0 {
		return make([][]float32, len(texts)), nil
	}

	// Retry logic with exponential backoff
	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		embeddings, err := c.attemptEmbedBatch(ctx, nonEmptyTexts)
		if err == nil {
			result := make([][]float32, len(texts))
			for i, embedding := range embeddings {
				if i < len(indexMap) {
					result[indexMap[i]] = Normalize(embedding)
				}
			}

			for _, emb := range embeddings {
				if len(emb) > 0 {
					c.dimensions.Store(int64(len(emb)))
					break
				}
			}

			return result, nil
		}

		lastErr = err

		if attempt == c.config.MaxRetries {
			break
		}

		// Exponential backoff: 1s, 2s, 4s
		backoffDuration := time.Duration(1<<attempt) * time.Second

		// For rate limit errors, respect Retry-After if present
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusTooManyRequests {
			if retryAfter := httpErr.RetryAfter; retryAfter > 0 {
				backoffDuration = retryAfter
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoffDuration):
		}
	}

	return nil, fmt.Errorf("embedding failed after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

// Dimensions returns the dimensionality of embeddings from this client.
// Returns 0 if no embeddings have been generated yet.
func (c *Client) Dimensions() int {
	return int(c.dimensions.Load())
}

// attemptEmbedBatch makes a single embedding attempt.
func (c *Client) attemptEmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	req := EmbedRequest{
		Model: c.config.Model,
		Input: texts,
	}

	requestBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.config.Endpoint, bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	if c.config.Provider == "openrouter" {
		httpReq.Header.Set("HTTP-Referer", "https://github.com/hurttlocker/terrorreco")
		httpReq.Header.Set("X-Title", "terrorreco")
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != 200 {
		var retryAfter time.Duration
		if retryAfterHeader := resp.Header.Get("Retry-After"); retryAfterHeader != "" {
			if seconds, err := strconv.Atoi(retryAfterHeader); err == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}

		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Message:    string(body),
			RetryAfter: retryAfter,
		}
	}

	var embedResp EmbedResponse
	if err := json.Unmarshal(body, &embedResp); err != nil {
		return nil, fmt.Errorf("parsing response JSON: %w", err)
	}

	if len(embedResp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(embedResp.Data))
	}

	embeddings := make([][]float32, len(texts))
	for _, data := range embedResp.Data {
		if data.Index < 0 || data.Index >= len(embeddings) {
			return nil, fmt.Errorf("invalid embedding index: %d", data.Index)
		}
		embeddings[data.Index] = data.Embedding
	}

	return embeddings, nil
}

// Normalize scales v to unit L2 length in place and returns it.
// Zero vectors are returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return v
}
