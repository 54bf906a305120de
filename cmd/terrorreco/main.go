package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hurttlocker/terrorreco/internal/catalog"
	"github.com/hurttlocker/terrorreco/internal/config"
	"github.com/hurttlocker/terrorreco/internal/embed"
	"github.com/hurttlocker/terrorreco/internal/logging"
	"github.com/hurttlocker/terrorreco/internal/recommend"
	"github.com/hurttlocker/terrorreco/internal/store"
)

const version = "0.1.0-dev"

// Global flags, valid before or after the subcommand.
var (
	globalDBPath     string
	globalConfigPath string
	globalEmbed      string
	globalVerbose    bool
)

func main() {
	args := parseGlobalFlags(os.Args[1:])
	if len(args) == 0 {
		printUsage()
		os.Exit(0)
	}

	var err error
	switch args[0] {
	case "build":
		err = runBuild(args[1:])
	case "embed":
		err = runEmbed(args[1:])
	case "recommend", "rec":
		err = runRecommend(args[1:])
	case "stats":
		err = runStats(args[1:])
	case "serve":
		err = runServe(args[1:])
	case "mcp":
		err = runMCP(args[1:])
	case "config":
		err = runConfig(args[1:])
	case "vacuum":
		err = runVacuum(args[1:])
	case "version", "--version", "-v":
		fmt.Printf("terrorreco %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseGlobalFlags strips --db, --config, --embed and --verbose from args
// and returns what is left.
func parseGlobalFlags(args []string) []string {
	var rest []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--db" && i+1 < len(args):
			i++
			globalDBPath = args[i]
		case strings.HasPrefix(arg, "--db="):
			globalDBPath = strings.TrimPrefix(arg, "--db=")
		case arg == "--config" && i+1 < len(args):
			i++
			globalConfigPath = args[i]
		case strings.HasPrefix(arg, "--config="):
			globalConfigPath = strings.TrimPrefix(arg, "--config=")
		case arg == "--embed" && i+1 < len(args):
			i++
			globalEmbed = args[i]
		case strings.HasPrefix(arg, "--embed="):
			globalEmbed = strings.TrimPrefix(arg, "--embed=")
		case arg == "--verbose" || arg == "-V":
			globalVerbose = true
		default:
			rest = append(rest, arg)
		}
	}
	return rest
}

func resolveConfig(addr string) (config.ResolvedConfig, error) {
	cfg, err := config.ResolveConfig(config.ResolveOptions{
		ConfigPath: globalConfigPath,
		CLIEmbed:   globalEmbed,
		CLIDBPath:  globalDBPath,
		CLIAddr:    addr,
	})
	if err != nil {
		return cfg, err
	}

	level := cfg.LogLevel.Value
	if globalVerbose {
		level = "debug"
	}
	logging.Init(logging.Config{Level: level, Format: cfg.LogFormat.Value, Output: os.Stderr})
	return cfg, nil
}

// app bundles what every corpus-touching command needs.
type app struct {
	cfg    config.ResolvedConfig
	store  store.Store
	embed  embed.Embedder
	engine *recommend.Engine
}

func (rt *app) Close() {
	if c, ok := rt.embed.(io.Closer); ok {
		c.Close()
	}
	if rt.store != nil {
		rt.store.Close()
	}
}

func openApp(addr string) (*app, error) {
	cfg, err := resolveConfig(addr)
	if err != nil {
		return nil, err
	}

	if dir := dbDir(cfg.DBPath.Value); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}
	s, err := store.NewStore(store.StoreConfig{DBPath: cfg.DBPath.Value})
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	embedCfg, err := cfg.EmbedConfig()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("embedding config: %w", err)
	}
	emb, err := embed.New(embedCfg)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	cat := catalog.NewOMDbClient(cfg.CatalogConfig())
	engine := recommend.New(cat, s, emb, cfg.EngineOptions())
	return &app{cfg: cfg, store: s, embed: emb, engine: engine}, nil
}

func dbDir(path string) string {
	if path == "" || path == ":memory:" {
		return ""
	}
	if dir := filepath.Dir(path); dir != "." {
		return dir
	}
	return ""
}

func printUsage() {
	fmt.Printf(`terrorreco %s - mood-driven horror movie recommendations

Usage:
  terrorreco [global flags] <command> [arguments]

Commands:
  build               Extend the corpus from the movie catalog
  embed               Compute (or verify) the embedding matrix
  recommend <query>   Recommend movies for a free-text mood
  stats               Show corpus and embedding statistics
  serve               Serve the HTTP API and /metrics
  mcp                 Serve MCP tools over stdio
  config              Show resolved configuration and where each value came from
  vacuum              Compact the database file
  version             Print version

Global Flags:
  --db <path>         Database path (default: %s)
  --config <path>     Config file (default: ~/.terrorreco/config.yaml)
  --embed <p/model>   Embedding provider, e.g. onnx/all-MiniLM-L6-v2, ollama/nomic-embed-text
  -V, --verbose       Debug logging

Build Flags:
  --max-new N         Cap on new detail fetches (default: 800)
  --pages N           Search pages per discovery term (default: 2)
  --kind K            movie, series or both (default: movie)
  --delay-ms N        Minimum spacing between catalog calls (default: 120)

Recommend Flags:
  --limit N           Number of results (default: 6, max: 50)
  --min-year Y        Earliest release year
  --max-year Y        Latest release year
  --min-rating R      Minimum rating (0-10)
  --language L        Language substring, e.g. spanish
  --json              Print JSON

Environment:
  OMDB_API_KEY, OMDB_BASE_URL, TERRORRECO_DB, TERRORRECO_EMBED,
  TERRORRECO_EMBED_ENDPOINT, TERRORRECO_EMBED_API_KEY, TERRORRECO_ADDR,
  TERRORRECO_LOG_LEVEL, TERRORRECO_LOG_FORMAT
`, version, store.DefaultDBPath)
}
