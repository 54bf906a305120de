package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hurttlocker/terrorreco/internal/catalog"
	"github.com/hurttlocker/terrorreco/internal/corpus"
	"github.com/hurttlocker/terrorreco/internal/embed"
	"github.com/hurttlocker/terrorreco/internal/rank"
	"github.com/hurttlocker/terrorreco/internal/recommend"
	"github.com/hurttlocker/terrorreco/internal/store"
)

type ValueSource string

const (
	SourceUnknown ValueSource = "unknown"
	SourceConfig  ValueSource = "config"
	SourceEnv     ValueSource = "env"
	SourceCLI     ValueSource = "cli"
	SourceDefault ValueSource = "default"
)

const DefaultAddr = "127.0.0.1:8080"

type ResolvedValue struct {
	Value  string      `json:"value"`
	Source ValueSource `json:"source"`
	From   string      `json:"from,omitempty"`
}

type ResolveOptions struct {
	ConfigPath string
	CLIEmbed   string
	CLIDBPath  string
	CLIAddr    string
}

type ResolvedConfig struct {
	ConfigPath string `json:"config_path"`

	DBPath ResolvedValue `json:"db_path"`

	CatalogBaseURL ResolvedValue `json:"catalog_base_url"`
	CatalogAPIKey  ResolvedValue `json:"catalog_api_key"`

	EmbedProvider ResolvedValue `json:"embed_provider"`
	EmbedAPIKey   ResolvedValue `json:"embed_api_key"`
	EmbedEndpoint ResolvedValue `json:"embed_endpoint"`

	LogLevel  ResolvedValue `json:"log_level"`
	LogFormat ResolvedValue `json:"log_format"`
	Addr      ResolvedValue `json:"addr"`

	Corpus  CorpusSettings  `json:"corpus"`
	Ranking RankingSettings `json:"ranking"`
}

// CorpusSettings come from the config file only; CLI flags override them per command.
type CorpusSettings struct {
	Genre     string   `yaml:"genre" json:"genre,omitempty"`
	Pages     int      `yaml:"pages" json:"pages,omitempty"`
	MaxNew    int      `yaml:"max_new" json:"max_new,omitempty"`
	DelayMS   *int     `yaml:"delay_ms" json:"delay_ms,omitempty"`
	SaveEvery int      `yaml:"save_every" json:"save_every,omitempty"`
	Kind      string   `yaml:"kind" json:"kind,omitempty"`
	Terms     []string `yaml:"terms" json:"terms,omitempty"`
}

type RankingSettings struct {
	Weights  WeightSettings `yaml:"weights" json:"weights"`
	Lambda   *float64       `yaml:"lambda" json:"lambda,omitempty"`
	Strategy string         `yaml:"strategy" json:"strategy,omitempty"`
	Seed     uint64         `yaml:"seed" json:"seed,omitempty"`
}

// WeightSettings overrides individual signal weights; unset fields keep
// their defaults.
type WeightSettings struct {
	Semantic   *float64 `yaml:"semantic" json:"semantic,omitempty"`
	Keyword    *float64 `yaml:"keyword" json:"keyword,omitempty"`
	Popularity *float64 `yaml:"popularity" json:"popularity,omitempty"`
	Recency    *float64 `yaml:"recency" json:"recency,omitempty"`
}

// Apply overlays the set fields on w.
func (s WeightSettings) Apply(w rank.Weights) rank.Weights {
	for _, f := range []struct {
		src *float64
		dst *float64
	}{
		{s.Semantic, &w.Semantic},
		{s.Keyword, &w.Keyword},
		{s.Popularity, &w.Popularity},
		{s.Recency, &w.Recency},
	} {
		if f.src != nil {
			*f.dst = *f.src
		}
	}
	return w
}

type fileConfig struct {
	DBPath  string `yaml:"db_path"`
	Catalog struct {
		BaseURL string `yaml:"base_url"`
		APIKey  string `yaml:"api_key"`
	} `yaml:"catalog"`
	Embed struct {
		Provider string `yaml:"provider"`
		APIKey   string `yaml:"api_key"`
		Endpoint string `yaml:"endpoint"`
	} `yaml:"embed"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Serve struct {
		Addr string `yaml:"addr"`
	} `yaml:"serve"`
	Corpus  CorpusSettings  `yaml:"corpus"`
	Ranking RankingSettings `yaml:"ranking"`
}

func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".terrorreco", "config.yaml")
}

// ResolveConfig layers built-in defaults < config file < environment < CLI flags.
func ResolveConfig(opts ResolveOptions) (ResolvedConfig, error) {
	path := strings.TrimSpace(opts.ConfigPath)
	if path == "" {
		path = DefaultConfigPath()
	}

	out := ResolvedConfig{ConfigPath: path}
	setDefault(&out.DBPath, store.DefaultDBPath)
	setDefault(&out.CatalogBaseURL, catalog.DefaultBaseURL)
	setDefault(&out.EmbedProvider, embed.DefaultEmbedFlag)
	setDefault(&out.LogLevel, "info")
	setDefault(&out.LogFormat, "json")
	setDefault(&out.Addr, DefaultAddr)

	cfg, err := loadConfig(path)
	if err != nil {
		return out, err
	}

	if cfg != nil {
		apply(&out.DBPath, cfg.DBPath, SourceConfig, path)
		apply(&out.CatalogBaseURL, cfg.Catalog.BaseURL, SourceConfig, path)
		apply(&out.CatalogAPIKey, cfg.Catalog.APIKey, SourceConfig, path)
		apply(&out.EmbedProvider, cfg.Embed.Provider, SourceConfig, path)
		apply(&out.EmbedEndpoint, cfg.Embed.Endpoint, SourceConfig, path)
		apply(&out.EmbedAPIKey, cfg.Embed.APIKey, SourceConfig, path)
		apply(&out.LogLevel, cfg.Log.Level, SourceConfig, path)
		apply(&out.LogFormat, cfg.Log.Format, SourceConfig, path)
		apply(&out.Addr, cfg.Serve.Addr, SourceConfig, path)
		out.Corpus = cfg.Corpus
		out.Ranking = cfg.Ranking
	}

	applyEnv(&out.DBPath, "TERRORRECO_DB")
	applyEnv(&out.CatalogBaseURL, "OMDB_BASE_URL")
	applyEnv(&out.CatalogAPIKey, "OMDB_API_KEY")
	applyEnv(&out.EmbedProvider, "TERRORRECO_EMBED")
	applyEnv(&out.EmbedEndpoint, "TERRORRECO_EMBED_ENDPOINT")
	applyEnv(&out.EmbedAPIKey, "TERRORRECO_EMBED_API_KEY")
	applyEnv(&out.LogLevel, "TERRORRECO_LOG_LEVEL")
	applyEnv(&out.LogFormat, "TERRORRECO_LOG_FORMAT")
	applyEnv(&out.Addr, "TERRORRECO_ADDR")

	apply(&out.EmbedProvider, opts.CLIEmbed, SourceCLI, "--embed")
	apply(&out.DBPath, opts.CLIDBPath, SourceCLI, "--db")
	apply(&out.Addr, opts.CLIAddr, SourceCLI, "--addr")

	if out.DBPath.Value != "" {
		out.DBPath.Value = expandUserPath(out.DBPath.Value)
	}

	return out, nil
}

// EmbedConfig parses the resolved provider flag and applies endpoint and key overrides.
func (r ResolvedConfig) EmbedConfig() (*embed.EmbedConfig, error) {
	cfg, err := embed.ParseEmbedFlag(r.EmbedProvider.Value)
	if err != nil {
		return nil, err
	}
	if v := strings.TrimSpace(r.EmbedEndpoint.Value); v != "" && cfg.Provider != "onnx" {
		cfg.Endpoint = v
	}
	if v := strings.TrimSpace(r.EmbedAPIKey.Value); v != "" {
		cfg.APIKey = v
	}
	return cfg, nil
}

// CatalogConfig returns the OMDb client settings.
func (r ResolvedConfig) CatalogConfig() catalog.OMDbConfig {
	return catalog.OMDbConfig{
		BaseURL: r.CatalogBaseURL.Value,
		APIKey:  r.CatalogAPIKey.Value,
	}
}

// BuildOptions returns corpus build defaults overlaid with the config file.
func (r ResolvedConfig) BuildOptions() corpus.BuildOptions {
	o := corpus.DefaultBuildOptions()
	c := r.Corpus
	if s := strings.TrimSpace(c.Genre); s != "" {
		o.Genre = s
	}
	if c.Pages > 0 {
		o.Pages = c.Pages
	}
	if c.MaxNew > 0 {
		o.MaxNew = c.MaxNew
	}
	if c.DelayMS != nil && *c.DelayMS >= 0 {
		o.Delay = time.Duration(*c.DelayMS) * time.Millisecond
	}
	if c.SaveEvery > 0 {
		o.SaveEvery = c.SaveEvery
	}
	if s := strings.TrimSpace(c.Kind); s != "" {
		o.Kind = strings.ToLower(s)
	}
	if len(c.Terms) > 0 {
		o.Terms = c.Terms
	}
	return o
}

// EngineOptions returns recommendation defaults overlaid with the config file.
func (r ResolvedConfig) EngineOptions() recommend.Options {
	o := recommend.DefaultOptions()
	o.Build = r.BuildOptions()
	o.Weights = r.Ranking.Weights.Apply(o.Weights)
	if r.Ranking.Lambda != nil {
		o.Lambda = *r.Ranking.Lambda
	}
	if s := strings.ToLower(strings.TrimSpace(r.Ranking.Strategy)); s != "" {
		o.Strategy = s
	}
	o.Seed = r.Ranking.Seed
	return o
}

// Redacted returns a copy with secrets masked, for display.
func (r ResolvedConfig) Redacted() ResolvedConfig {
	r.CatalogAPIKey.Value = mask(r.CatalogAPIKey.Value)
	r.EmbedAPIKey.Value = mask(r.EmbedAPIKey.Value)
	return r
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}

func setDefault(dst *ResolvedValue, v string) {
	*dst = ResolvedValue{Value: v, Source: SourceDefault, From: "built-in default"}
}

func apply(dst *ResolvedValue, raw string, source ValueSource, from string) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return
	}
	*dst = ResolvedValue{Value: v, Source: source, From: from}
}

func applyEnv(dst *ResolvedValue, envKey string) {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		*dst = ResolvedValue{Value: v, Source: SourceEnv, From: envKey}
	}
}

func loadConfig(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

func expandUserPath(path string) string {
	return store.ExpandPath(path)
}
