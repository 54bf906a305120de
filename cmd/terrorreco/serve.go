package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/hurttlocker/terrorreco/internal/api"
	"github.com/hurttlocker/terrorreco/internal/logging"
	"github.com/hurttlocker/terrorreco/internal/mcp"
)

const shutdownTimeout = 10 * time.Second

func runServe(args []string) error {
	addr := ""
	warm := true
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--addr" && i+1 < len(args):
			i++
			addr = args[i]
		case strings.HasPrefix(args[i], "--addr="):
			addr = strings.TrimPrefix(args[i], "--addr=")
		case args[i] == "--no-warmup":
			warm = false
		default:
			return fmt.Errorf("unknown flag: %s\nusage: terrorreco serve [--addr host:port] [--no-warmup]", args[i])
		}
	}

	rt, err := openApp(addr)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Warm up in the background so the listener is up immediately; the
	// first request joins the in-flight load if it is not done yet.
	if warm {
		go func() {
			if err := rt.engine.Warmup(ctx); err != nil {
				logging.Error().Err(err).Msg("warmup failed")
			}
		}()
	}

	srv := &http.Server{
		Addr:              rt.cfg.Addr.Value,
		Handler:           api.NewHandler(rt.engine, rt.cfg.BuildOptions()).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logging.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runMCP(args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("usage: terrorreco mcp")
	}
	rt, err := openApp("")
	if err != nil {
		return err
	}
	defer rt.Close()

	s := mcp.NewServer(mcp.ServerConfig{
		Engine:  rt.engine,
		Version: version,
		Build:   rt.cfg.BuildOptions(),
	})
	return server.ServeStdio(s)
}
