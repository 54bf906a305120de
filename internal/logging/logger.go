// Package logging provides the process-wide zerolog logger for terrorreco.
//
// JSON output is the default; console output is meant for interactive CLI use.
//
//	logging.Init(logging.Config{Level: "debug", Format: "console"})
//	logging.Warn().Int("rows", n).Msg("embedding provider unavailable")
//
// Environment:
//   - TERRORRECO_LOG_LEVEL: trace, debug, info, warn, error (default: info)
//   - TERRORRECO_LOG_FORMAT: json, console (default: json)
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logging configuration.
type Config struct {
	// Level is the minimum log level. Default: info.
	Level string

	// Format is json or console. Default: json.
	Format string

	// Output defaults to os.Stderr so stdout stays clean for command output.
	Output io.Writer
}

// DefaultConfig returns the default logging configuration, honoring env overrides.
func DefaultConfig() Config {
	cfg := Config{
		Level:  "info",
		Format: "json",
		Output: os.Stderr,
	}
	if v := strings.TrimSpace(os.Getenv("TERRORRECO_LOG_LEVEL")); v != "" {
		cfg.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("TERRORRECO_LOG_FORMAT")); v != "" {
		cfg.Format = v
	}
	return cfg
}

var (
	log zerolog.Logger
	mu  sync.RWMutex
)

func init() {
	initLogger(DefaultConfig())
}

// Init reconfigures the global logger. Safe to call more than once.
func Init(cfg Config) {
	mu.Lock()
	defer mu.Unlock()
	initLogger(cfg)
}

func initLogger(cfg Config) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	out := cfg.Output
	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{Out: cfg.Output, TimeFormat: time.Kitchen}
	}

	log = zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// Logger returns a copy of the global logger.
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// With returns a child logger context for attaching component fields.
func With() zerolog.Context {
	mu.RLock()
	defer mu.RUnlock()
	return log.With()
}

func Debug() *zerolog.Event {
	mu.RLock()
	defer mu.RUnlock()
	return log.Debug()
}

func Info() *zerolog.Event {
	mu.RLock()
	defer mu.RUnlock()
	return log.Info()
}

func Warn() *zerolog.Event {
	mu.RLock()
	defer mu.RUnlock()
	return log.Warn()
}

func Error() *zerolog.Event {
	mu.RLock()
	defer mu.RUnlock()
	return log.Error()
}
