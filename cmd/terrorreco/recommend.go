package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/hurttlocker/terrorreco/internal/recommend"
	"github.com/hurttlocker/terrorreco/internal/store"
)

type recommendArgs struct {
	query   recommend.Query
	jsonOut bool
}

func parseRecommendArgs(args []string) (recommendArgs, error) {
	var out recommendArgs
	var words []string

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--json" {
			out.jsonOut = true
			continue
		}
		if !strings.HasPrefix(arg, "--") {
			words = append(words, arg)
			continue
		}

		name, value, _ := splitFlag(args, &i)
		switch name {
		case "--limit", "--min-year", "--max-year":
			n, err := strconv.Atoi(value)
			if err != nil {
				return out, fmt.Errorf("invalid %s: %q", name, value)
			}
			switch name {
			case "--limit":
				out.query.Limit = n
			case "--min-year":
				out.query.MinYear = n
			case "--max-year":
				out.query.MaxYear = n
			}
		case "--min-rating":
			r, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return out, fmt.Errorf("invalid --min-rating: %q", value)
			}
			out.query.MinRating = &r
		case "--language":
			out.query.Language = value
		default:
			return out, fmt.Errorf("unknown flag: %s", name)
		}
	}

	out.query.Text = strings.TrimSpace(strings.Join(words, " "))
	if out.query.Text == "" {
		return out, fmt.Errorf("usage: terrorreco recommend <query> [--limit N] [--min-year Y] [--max-year Y] [--min-rating R] [--language L] [--json]")
	}
	if q := out.query; q.MinYear > 0 && q.MaxYear > 0 && q.MinYear > q.MaxYear {
		return out, fmt.Errorf("--min-year must not exceed --max-year")
	}
	return out, nil
}

func runRecommend(args []string) error {
	ra, err := parseRecommendArgs(args)
	if err != nil {
		return err
	}

	rt, err := openApp("")
	if err != nil {
		return err
	}
	defer rt.Close()

	items := rt.engine.Recommend(context.Background(), ra.query)
	if ra.jsonOut {
		return writeJSON(os.Stdout, items)
	}
	printRecommendations(os.Stdout, items)
	return nil
}

func printRecommendations(w io.Writer, items []store.Item) {
	if len(items) == 0 {
		fmt.Fprintln(w, "No recommendations. Try a broader query or fewer filters.")
		return
	}
	for i, it := range items {
		fmt.Fprintf(w, "%d. %s", i+1, it.Title)
		if it.Year > 0 {
			fmt.Fprintf(w, " (%d)", it.Year)
		}
		if it.Rating != nil {
			fmt.Fprintf(w, "  ★ %.1f", *it.Rating)
		}
		fmt.Fprintf(w, "  [%s]\n", it.ID)
		if it.Description != "" {
			fmt.Fprintf(w, "   %s\n", truncate(it.Description, 160))
		}
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func runStats(args []string) error {
	jsonOut := false
	for _, arg := range args {
		switch arg {
		case "--json":
			jsonOut = true
		default:
			return fmt.Errorf("unknown flag: %s", arg)
		}
	}

	rt, err := openApp("")
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx := context.Background()
	st, err := rt.store.Stats(ctx)
	if err != nil {
		return err
	}
	builds, err := rt.store.ListBuilds(ctx, 5)
	if err != nil {
		return err
	}

	if jsonOut {
		return writeJSON(os.Stdout, map[string]any{"store": st, "builds": builds})
	}

	fmt.Printf("Database:   %s\n", rt.cfg.DBPath.Value)
	fmt.Printf("Items:      %d\n", st.ItemCount)
	fmt.Printf("Embeddings: %d x %d", st.MatrixRows, st.MatrixDims)
	if st.MatrixModel != "" {
		fmt.Printf(" (%s)", st.MatrixModel)
	}
	if st.ItemCount > 0 && !st.MatrixInSync {
		fmt.Print("  stale, recomputed on next use")
	}
	fmt.Println()
	fmt.Printf("Builds:     %d\n", st.BuildCount)
	for _, b := range builds {
		fmt.Printf("  %s  %s  +%d accepted, %d failures, %s\n",
			b.StartedAt.Local().Format("2006-01-02 15:04"), shortID(b.ID), b.Accepted, b.Failures, b.StopReason)
	}
	if st.DBSizeBytes > 0 {
		fmt.Printf("Size:       %.1f MB\n", float64(st.DBSizeBytes)/(1024*1024))
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
