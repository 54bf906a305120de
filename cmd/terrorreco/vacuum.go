package main

import (
	"context"
	"fmt"
	"os"

	"github.com/hurttlocker/terrorreco/internal/store"
)

func runVacuum(args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("usage: terrorreco vacuum")
	}
	cfg, err := resolveConfig("")
	if err != nil {
		return err
	}
	if cfg.DBPath.Value == ":memory:" {
		return fmt.Errorf("nothing to vacuum for an in-memory database")
	}
	if _, err := os.Stat(store.ExpandPath(cfg.DBPath.Value)); err != nil {
		return fmt.Errorf("database %s: %w", cfg.DBPath.Value, err)
	}

	s, err := store.NewStore(store.StoreConfig{DBPath: cfg.DBPath.Value})
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer s.Close()

	before, after, err := vacuum(context.Background(), s)
	if err != nil {
		return err
	}
	fmt.Printf("Vacuumed %s: %s -> %s\n", cfg.DBPath.Value, formatBytes(before), formatBytes(after))
	return nil
}

// vacuum compacts s and reports the file size before and after.
func vacuum(ctx context.Context, s store.Store) (before, after int64, err error) {
	st, err := s.Stats(ctx)
	if err != nil {
		return 0, 0, err
	}
	before = st.DBSizeBytes
	if err := s.Vacuum(ctx); err != nil {
		return before, 0, fmt.Errorf("vacuum: %w", err)
	}
	if st, err = s.Stats(ctx); err != nil {
		return before, 0, err
	}
	return before, st.DBSizeBytes, nil
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
