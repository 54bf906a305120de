// Package mcp provides a Model Context Protocol server for terrorreco.
//
// It exposes recommendations and corpus maintenance as MCP tools, and the
// corpus statistics as an MCP resource. The server is served over stdio by
// `terrorreco mcp`.
package mcp

import (
	"context"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hurttlocker/terrorreco/internal/corpus"
	"github.com/hurttlocker/terrorreco/internal/logging"
	"github.com/hurttlocker/terrorreco/internal/recommend"
	"github.com/hurttlocker/terrorreco/internal/store"
)

// StatsURI is the resource URI for corpus statistics.
const StatsURI = "terrorreco://corpus/stats"

// ServerConfig holds configuration for the MCP server.
type ServerConfig struct {
	Engine  *recommend.Engine
	Version string              // version string for MCP server info
	Build   corpus.BuildOptions // defaults for corpus_build
}

// NewServer creates a configured MCP server with all terrorreco tools and resources.
func NewServer(cfg ServerConfig) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}

	s := server.NewMCPServer(
		"terrorreco",
		ver,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(true, false),
	)

	registerRecommendTool(s, cfg.Engine)
	registerBuildTool(s, cfg.Engine, cfg.Build)
	registerStatsTool(s, cfg.Engine)
	registerStatsResource(s, cfg.Engine)

	return s
}

// recommendation is the tool-facing view of an item.
type recommendation struct {
	Rank int `json:"rank"`
	store.Item
}

func registerRecommendTool(s *server.MCPServer, engine *recommend.Engine) {
	tool := mcp.NewTool("recommend_movies",
		mcp.WithDescription("Recommend horror movies for a free-text mood or plot description. Results are relevance-ranked and diversified. Filters are optional; items with an unknown year or rating never pass a year or rating filter."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("What the user is in the mood for, e.g. 'slow burn haunted house'"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Number of recommendations (default: 6, max: 50)"),
		),
		mcp.WithNumber("min_year",
			mcp.Description("Earliest release year (inclusive)"),
		),
		mcp.WithNumber("max_year",
			mcp.Description("Latest release year (inclusive)"),
		),
		mcp.WithNumber("min_rating",
			mcp.Description("Minimum audience rating on a 0-10 scale"),
		),
		mcp.WithString("language",
			mcp.Description("Case-insensitive substring of the language field, e.g. 'spanish'"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil || strings.TrimSpace(query) == "" {
			return mcp.NewToolResultError("query is required"), nil
		}

		q := recommend.Query{Text: query}
		if v, err := req.RequireFloat("limit"); err == nil {
			q.Limit = int(v)
		}
		if v, err := req.RequireFloat("min_year"); err == nil {
			q.MinYear = int(v)
		}
		if v, err := req.RequireFloat("max_year"); err == nil {
			q.MaxYear = int(v)
		}
		if v, err := req.RequireFloat("min_rating"); err == nil {
			q.MinRating = &v
		}
		if v, err := req.RequireString("language"); err == nil {
			q.Language = v
		}
		if q.MinYear > 0 && q.MaxYear > 0 && q.MinYear > q.MaxYear {
			return mcp.NewToolResultError("min_year must not exceed max_year"), nil
		}

		items := engine.Recommend(ctx, q)
		out := make([]recommendation, len(items))
		for i, it := range items {
			out[i] = recommendation{Rank: i + 1, Item: it}
		}
		return jsonResult(out)
	})
}

func registerBuildTool(s *server.MCPServer, engine *recommend.Engine, defaults corpus.BuildOptions) {
	tool := mcp.NewTool("corpus_build",
		mcp.WithDescription("Extend the candidate corpus from the movie catalog and recompute embeddings. Existing items are kept; new ones are appended. This calls the catalog provider and can take minutes."),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithNumber("max_new",
			mcp.Description("Maximum number of new detail fetches (default: 800)"),
		),
		mcp.WithNumber("pages",
			mcp.Description("Search result pages per discovery term (default: 2)"),
		),
		mcp.WithString("kind",
			mcp.Description("What to discover: movie, series or both (default: movie)"),
			mcp.Enum(corpus.KindMovie, corpus.KindSeries, corpus.KindBoth),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		opts := defaults
		if v, err := req.RequireFloat("max_new"); err == nil {
			if v <= 0 {
				return mcp.NewToolResultError("max_new must be positive"), nil
			}
			opts.MaxNew = int(v)
		}
		if v, err := req.RequireFloat("pages"); err == nil {
			if v <= 0 {
				return mcp.NewToolResultError("pages must be positive"), nil
			}
			opts.Pages = int(v)
		}
		if v, err := req.RequireString("kind"); err == nil && v != "" {
			opts.Kind = v
		}

		res, err := engine.Rebuild(ctx, opts)
		if err != nil {
			logging.Error().Err(err).Msg("mcp corpus build failed")
			return mcp.NewToolResultError(fmt.Sprintf("build failed: %v", err)), nil
		}
		return jsonResult(map[string]any{
			"corpus_size": len(res.Items),
			"build":       res.Record,
		})
	})
}

func registerStatsTool(s *server.MCPServer, engine *recommend.Engine) {
	tool := mcp.NewTool("corpus_stats",
		mcp.WithDescription("Report corpus size, embedding matrix shape and model, and the last build."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		st, err := engine.Status(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("stats failed: %v", err)), nil
		}
		return jsonResult(st)
	})
}

func registerStatsResource(s *server.MCPServer, engine *recommend.Engine) {
	resource := mcp.NewResource(
		StatsURI,
		"Corpus Statistics",
		mcp.WithResourceDescription("Corpus size, embedding matrix shape and model, and build history counts."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		st, err := engine.Status(ctx)
		if err != nil {
			return nil, fmt.Errorf("getting stats: %w", err)
		}
		data, err := json.MarshalIndent(st, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encoding stats: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	})
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encoding result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
