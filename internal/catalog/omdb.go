package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// DefaultBaseURL is the public OMDb endpoint.
const DefaultBaseURL = "https://www.omdbapi.com/"

// OMDbConfig holds catalog client configuration.
type OMDbConfig struct {
	BaseURL     string
	APIKey      string
	TimeoutSecs int // default: 12
}

// HTTPError represents a non-200 catalog response.
type HTTPError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// OMDbClient implements Catalog against an OMDb-compatible HTTP API.
type OMDbClient struct {
	config OMDbConfig
	http   *http.Client
}

// envelope carries OMDb's in-band failure signal: {"Response":"False","Error":"..."}.
type envelope struct {
	Response string `json:"Response"`
	Error    string `json:"Error"`
}

type searchResponse struct {
	envelope
	Search []SearchHit `json:"Search"`
}

type detailResponse struct {
	envelope
	Detail
}

// NewOMDbClient creates a catalog client. An empty API key is allowed so
// self-hosted mirrors without auth can be used.
func NewOMDbClient(cfg OMDbConfig) *OMDbClient {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.TimeoutSecs <= 0 {
		cfg.TimeoutSecs = 12
	}
	return &OMDbClient{
		config: cfg,
		http: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSecs) * time.Second,
		},
	}
}

// SearchTitles searches titles. Provider-reported "not found" yields an empty page.
func (c *OMDbClient) SearchTitles(ctx context.Context, query string, page int, kind string, year int) ([]SearchHit, error) {
	if page <= 0 {
		page = 1
	}
	params := url.Values{}
	params.Set("s", query)
	params.Set("page", strconv.Itoa(page))
	if kind != "" {
		params.Set("type", kind)
	}
	if year > 0 {
		params.Set("y", strconv.Itoa(year))
	}

	var resp searchResponse
	if err := c.get(ctx, params, &resp); err != nil {
		return nil, err
	}
	if err := inBandError(resp.envelope); err != nil {
		return nil, err
	}
	if strings.EqualFold(resp.Response, "False") {
		return nil, nil
	}

	hits := make([]SearchHit, 0, len(resp.Search))
	for _, h := range resp.Search {
		if strings.TrimSpace(h.ID) == "" {
			continue
		}
		hits = append(hits, h)
	}
	return hits, nil
}

// GetByID fetches full details for one id; nil means the catalog does not know it.
func (c *OMDbClient) GetByID(ctx context.Context, id string, fullPlot bool) (*Detail, error) {
	params := url.Values{}
	params.Set("i", id)
	if fullPlot {
		params.Set("plot", "full")
	} else {
		params.Set("plot", "short")
	}

	var resp detailResponse
	if err := c.get(ctx, params, &resp); err != nil {
		return nil, err
	}
	if err := inBandError(resp.envelope); err != nil {
		return nil, err
	}
	if strings.EqualFold(resp.Response, "False") {
		return nil, nil
	}

	d := resp.Detail
	return &d, nil
}

// inBandError turns quota exhaustion into an error so the builder can count
// it as a failure; every other Response=False is a plain miss.
func inBandError(env envelope) error {
	if !strings.EqualFold(env.Response, "False") {
		return nil
	}
	msg := strings.ToLower(env.Error)
	if strings.Contains(msg, "limit") || strings.Contains(msg, "invalid api key") {
		return fmt.Errorf("%w: %s", ErrRateLimited, env.Error)
	}
	return nil
}

func (c *OMDbClient) get(ctx context.Context, params url.Values, out any) error {
	if c.config.APIKey != "" {
		params.Set("apikey", c.config.APIKey)
	}

	endpoint := c.config.BaseURL
	if strings.Contains(endpoint, "?") {
		endpoint += "&" + params.Encode()
	} else {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var retryAfter time.Duration
		if h := resp.Header.Get("Retry-After"); h != "" {
			if seconds, err := strconv.Atoi(h); err == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return &HTTPError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
			RetryAfter: retryAfter,
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parsing response JSON: %w", err)
	}
	return nil
}

var _ Catalog = (*OMDbClient)(nil)
