package main

import (
	"fmt"
	"io"
	"os"

	"github.com/hurttlocker/terrorreco/internal/config"
)

func runConfig(args []string) error {
	jsonOut := false
	for _, arg := range args {
		switch arg {
		case "--json":
			jsonOut = true
		default:
			return fmt.Errorf("unknown flag: %s\nusage: terrorreco config [--json]", arg)
		}
	}

	cfg, err := resolveConfig("")
	if err != nil {
		return err
	}
	cfg = cfg.Redacted()

	if jsonOut {
		return writeJSON(os.Stdout, cfg)
	}
	printConfig(os.Stdout, cfg)
	return nil
}

func printConfig(w io.Writer, cfg config.ResolvedConfig) {
	fmt.Fprintf(w, "Config file: %s\n\n", cfg.ConfigPath)
	rows := []struct {
		key string
		val config.ResolvedValue
	}{
		{"db_path", cfg.DBPath},
		{"catalog.base_url", cfg.CatalogBaseURL},
		{"catalog.api_key", cfg.CatalogAPIKey},
		{"embed.provider", cfg.EmbedProvider},
		{"embed.endpoint", cfg.EmbedEndpoint},
		{"embed.api_key", cfg.EmbedAPIKey},
		{"log.level", cfg.LogLevel},
		{"log.format", cfg.LogFormat},
		{"serve.addr", cfg.Addr},
	}
	for _, r := range rows {
		v := r.val.Value
		if v == "" {
			v = "(unset)"
		}
		src := string(r.val.Source)
		if src == "" {
			src = string(config.SourceUnknown)
		}
		if r.val.From != "" {
			src += " " + r.val.From
		}
		fmt.Fprintf(w, "  %-18s %-40s [%s]\n", r.key, v, src)
	}

	b := cfg.BuildOptions()
	fmt.Fprintf(w, "\nCorpus: genre=%s kind=%s pages=%d max_new=%d delay=%s save_every=%d terms=%d\n",
		b.Genre, b.Kind, b.Pages, b.MaxNew, b.Delay, b.SaveEvery, len(b.Terms))
	o := cfg.EngineOptions()
	fmt.Fprintf(w, "Ranking: strategy=%s lambda=%.2f weights=%.2f/%.2f/%.2f/%.2f\n",
		o.Strategy, o.Lambda, o.Weights.Semantic, o.Weights.Keyword, o.Weights.Popularity, o.Weights.Recency)
}
