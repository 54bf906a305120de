package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/hurttlocker/terrorreco/internal/corpus"
	"github.com/hurttlocker/terrorreco/internal/logging"
	"github.com/hurttlocker/terrorreco/internal/recommend"
)

// Response is the envelope of every JSON endpoint.
type Response struct {
	Status   string    `json:"status"` // "success" or "error"
	Data     any       `json:"data"`
	Metadata Metadata  `json:"metadata"`
	Error    *APIError `json:"error,omitempty"`
}

// Metadata carries timing for a response.
type Metadata struct {
	Timestamp   time.Time `json:"timestamp"`
	QueryTimeMS int64     `json:"query_time_ms"`
}

// APIError is a machine-readable error code plus a message.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, &Response{
		Status:   "success",
		Data:     map[string]string{"status": "ok"},
		Metadata: Metadata{Timestamp: time.Now()},
	})
}

// Recommendations handles GET /api/recommendations.
//
// Query parameters: q (required), limit, min_year, max_year, min_rating, language.
func (h *Handler) Recommendations(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	q, err := parseQuery(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}

	items := h.engine.Recommend(r.Context(), q)
	respondJSON(w, http.StatusOK, &Response{
		Status: "success",
		Data:   items,
		Metadata: Metadata{
			Timestamp:   time.Now(),
			QueryTimeMS: time.Since(start).Milliseconds(),
		},
	})
}

// Stats handles GET /api/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	st, err := h.engine.Status(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "Failed to read corpus statistics", err)
		return
	}
	respondJSON(w, http.StatusOK, &Response{
		Status: "success",
		Data:   st,
		Metadata: Metadata{
			Timestamp:   time.Now(),
			QueryTimeMS: time.Since(start).Milliseconds(),
		},
	})
}

// Build handles POST /api/corpus/build. Optional query parameters max_new,
// pages and kind override the configured build options. The build runs to
// completion even if the client disconnects.
func (h *Handler) Build(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	opts, err := h.parseBuild(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}

	res, err := h.engine.Rebuild(context.WithoutCancel(r.Context()), opts)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "BUILD_ERROR", "Corpus build failed", err)
		return
	}
	respondJSON(w, http.StatusOK, &Response{
		Status: "success",
		Data: map[string]any{
			"corpus_size": len(res.Items),
			"build":       res.Record,
		},
		Metadata: Metadata{
			Timestamp:   time.Now(),
			QueryTimeMS: time.Since(start).Milliseconds(),
		},
	})
}

func parseQuery(r *http.Request) (recommend.Query, error) {
	v := r.URL.Query()
	q := recommend.Query{
		Text:     strings.TrimSpace(v.Get("q")),
		Language: strings.TrimSpace(v.Get("language")),
	}
	if q.Text == "" {
		return q, fmt.Errorf("q is required")
	}

	var err error
	if q.Limit, err = intParam(v.Get("limit")); err != nil {
		return q, fmt.Errorf("invalid limit: %w", err)
	}
	if q.MinYear, err = intParam(v.Get("min_year")); err != nil {
		return q, fmt.Errorf("invalid min_year: %w", err)
	}
	if q.MaxYear, err = intParam(v.Get("max_year")); err != nil {
		return q, fmt.Errorf("invalid max_year: %w", err)
	}
	if q.MinYear > 0 && q.MaxYear > 0 && q.MinYear > q.MaxYear {
		return q, fmt.Errorf("min_year must not exceed max_year")
	}
	if s := v.Get("min_rating"); s != "" {
		rating, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return q, fmt.Errorf("invalid min_rating: %w", err)
		}
		q.MinRating = &rating
	}
	return q, nil
}

func (h *Handler) parseBuild(r *http.Request) (corpus.BuildOptions, error) {
	v := r.URL.Query()
	opts := h.build

	if n, err := intParam(v.Get("max_new")); err != nil || n < 0 {
		return opts, fmt.Errorf("invalid max_new")
	} else if n > 0 {
		opts.MaxNew = n
	}
	if n, err := intParam(v.Get("pages")); err != nil || n < 0 {
		return opts, fmt.Errorf("invalid pages")
	} else if n > 0 {
		opts.Pages = n
	}
	switch kind := strings.ToLower(v.Get("kind")); kind {
	case "":
	case corpus.KindMovie, corpus.KindSeries, corpus.KindBoth:
		opts.Kind = kind
	default:
		return opts, fmt.Errorf("invalid kind %q (movie, series or both)", kind)
	}
	return opts, nil
}

// intParam parses an optional integer; empty means 0.
func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func respondJSON(w http.ResponseWriter, status int, resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		logging.Error().Err(err).Msg("failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("failed to write JSON response")
	}
}

func respondError(w http.ResponseWriter, status int, code, message string, err error) {
	if err != nil {
		logging.Error().Err(err).Str("code", code).Msg("api error")
	}
	respondJSON(w, status, &Response{
		Status:   "error",
		Metadata: Metadata{Timestamp: time.Now()},
		Error:    &APIError{Code: code, Message: message},
	})
}
