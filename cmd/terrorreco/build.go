package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hurttlocker/terrorreco/internal/corpus"
	"github.com/hurttlocker/terrorreco/internal/embedcache"
)

// parseBuildArgs overlays build flags on the configured defaults.
func parseBuildArgs(args []string, opts corpus.BuildOptions) (corpus.BuildOptions, error) {
	for i := 0; i < len(args); i++ {
		name, value, ok := splitFlag(args, &i)
		if !ok {
			return opts, fmt.Errorf("unexpected argument: %s", args[i])
		}
		switch name {
		case "--max-new", "--pages", "--delay-ms", "--save-every":
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return opts, fmt.Errorf("invalid %s: %q", name, value)
			}
			switch name {
			case "--max-new":
				opts.MaxNew = n
			case "--pages":
				opts.Pages = n
			case "--delay-ms":
				opts.Delay = time.Duration(n) * time.Millisecond
			case "--save-every":
				opts.SaveEvery = n
			}
		case "--kind":
			switch k := strings.ToLower(value); k {
			case corpus.KindMovie, corpus.KindSeries, corpus.KindBoth:
				opts.Kind = k
			default:
				return opts, fmt.Errorf("invalid --kind %q (movie, series or both)", value)
			}
		case "--genre":
			opts.Genre = value
		default:
			return opts, fmt.Errorf("unknown flag: %s", name)
		}
	}
	return opts, nil
}

// splitFlag reads "--name value" or "--name=value" at args[*i].
func splitFlag(args []string, i *int) (name, value string, ok bool) {
	arg := args[*i]
	if !strings.HasPrefix(arg, "-") {
		return "", "", false
	}
	if eq := strings.IndexByte(arg, '='); eq > 0 {
		return arg[:eq], arg[eq+1:], true
	}
	if *i+1 < len(args) {
		*i++
		return arg, args[*i], true
	}
	return arg, "", true
}

func runBuild(args []string) error {
	rt, err := openApp("")
	if err != nil {
		return err
	}
	defer rt.Close()

	opts, err := parseBuildArgs(args, rt.cfg.BuildOptions())
	if err != nil {
		return fmt.Errorf("%w\nusage: terrorreco build [--max-new N] [--pages N] [--kind movie|series|both] [--delay-ms N] [--genre G]", err)
	}
	if rt.cfg.CatalogAPIKey.Value == "" {
		fmt.Fprintln(os.Stderr, "Warning: OMDB_API_KEY is not set; the public catalog will reject requests.")
	}

	// Ctrl-C stops discovery; progress collected so far is kept.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Building %s corpus (max %d new, %d pages per term)...\n", opts.Genre, opts.MaxNew, opts.Pages)
	start := time.Now()
	res, err := rt.engine.Rebuild(ctx, opts)
	if err != nil {
		return err
	}

	rec := res.Record
	fmt.Printf("\nSearched:   %d\n", rec.Searched)
	fmt.Printf("Fetched:    %d\n", rec.Fetched)
	fmt.Printf("Accepted:   %d\n", rec.Accepted)
	fmt.Printf("Failures:   %d\n", rec.Failures)
	fmt.Printf("Stopped:    %s\n", rec.StopReason)
	fmt.Printf("Corpus:     %d items\n", len(res.Items))
	fmt.Printf("Elapsed:    %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}

func runEmbed(args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("usage: terrorreco embed")
	}
	rt, err := openApp("")
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx := context.Background()
	items, err := rt.store.LoadItems(ctx)
	if err != nil {
		return fmt.Errorf("loading corpus: %w", err)
	}
	if len(items) == 0 {
		fmt.Println("Corpus is empty. Run `terrorreco build` first.")
		return nil
	}

	start := time.Now()
	m, degraded, err := embedcache.New(rt.store, rt.embed).Resolve(ctx, items)
	if err != nil {
		return err
	}
	if degraded {
		return fmt.Errorf("embedding provider %s unavailable; matrix not persisted", rt.embed.Model())
	}
	fmt.Printf("Embedded %d items (%d dims, %s) in %s\n",
		m.Rows(), m.Dims(), rt.embed.Model(), time.Since(start).Round(time.Millisecond))
	return nil
}
