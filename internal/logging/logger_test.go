package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestInit_JSONLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "warn", Format: "json", Output: &buf})
	t.Cleanup(func() { Init(DefaultConfig()) })

	Info().Msg("hidden")
	Warn().Str("component", "embedcache").Msg("degraded")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info message should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, `"component":"embedcache"`) {
		t.Errorf("expected structured field in output: %s", out)
	}
	if !strings.Contains(out, `"level":"warn"`) {
		t.Errorf("expected warn level in output: %s", out)
	}
}

func TestInit_UnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "loud", Output: &buf})
	t.Cleanup(func() { Init(DefaultConfig()) })

	Debug().Msg("debug-line")
	Info().Msg("info-line")

	out := buf.String()
	if strings.Contains(out, "debug-line") {
		t.Errorf("debug should be filtered by fallback info level")
	}
	if !strings.Contains(out, "info-line") {
		t.Errorf("info should be emitted, got %q", out)
	}
}

func TestDefaultConfig_Env(t *testing.T) {
	t.Setenv("TERRORRECO_LOG_LEVEL", "debug")
	t.Setenv("TERRORRECO_LOG_FORMAT", "console")

	cfg := DefaultConfig()
	if cfg.Level != "debug" {
		t.Errorf("Level = %q, want debug", cfg.Level)
	}
	if cfg.Format != "console" {
		t.Errorf("Format = %q, want console", cfg.Format)
	}
}
