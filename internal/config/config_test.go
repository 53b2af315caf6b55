package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	_ "time/tzdata"

	"github.com/spf13/pflag"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("Failed to parse flags: %v", err)
	}
	return fs
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "knolsched.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(newFlags(t))
	if err != nil {
		t.Fatalf("Load() returned an error: %v", err)
	}
	d := Default()
	if cfg.DB != d.DB {
		t.Errorf("Expected db %q, but got %q", d.DB, cfg.DB)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("Expected log level info, but got %q", cfg.LogLevel)
	}
	if cfg.Policy.DefaultFactor != 2.3 || cfg.Policy.Timezone != "Local" {
		t.Errorf("Expected the default policy, but got %+v", cfg.Policy)
	}
}

func TestLoadLayers(t *testing.T) {
	path := writeFile(t, `
db: /tmp/from-file.db
log_level: warn
policy:
  timezone: Europe/Dublin
  mastery_interval_days: 30
  early_graduating_intervals: [2, 5, 9]
`)

	t.Run("file", func(t *testing.T) {
		cfg, err := Load(newFlags(t, "--config", path))
		if err != nil {
			t.Fatalf("Load() returned an error: %v", err)
		}
		if cfg.DB != "/tmp/from-file.db" {
			t.Errorf("Expected db from file, but got %q", cfg.DB)
		}
		if cfg.LogLevel != "warn" {
			t.Errorf("Expected log level warn, but got %q", cfg.LogLevel)
		}
		if cfg.Policy.Timezone != "Europe/Dublin" {
			t.Errorf("Expected timezone Europe/Dublin, but got %q", cfg.Policy.Timezone)
		}
		if cfg.Policy.MasteryIntervalDays != 30 {
			t.Errorf("Expected mastery interval 30, but got %v", cfg.Policy.MasteryIntervalDays)
		}
		if got := cfg.Policy.EarlyGraduatingIntervals; len(got) != 3 || got[2] != 9 {
			t.Errorf("Expected early intervals [2 5 9], but got %v", got)
		}
		if cfg.Policy.MinFactor != 1.3 {
			t.Errorf("Expected untouched keys to keep defaults, but got min factor %v", cfg.Policy.MinFactor)
		}
	})

	t.Run("env overrides file", func(t *testing.T) {
		t.Setenv("KNOLSCHED_LOG_LEVEL", "debug")
		t.Setenv("KNOLSCHED_POLICY__MASTERY_INTERVAL_DAYS", "40")
		cfg, err := Load(newFlags(t, "--config", path))
		if err != nil {
			t.Fatalf("Load() returned an error: %v", err)
		}
		if cfg.LogLevel != "debug" {
			t.Errorf("Expected log level debug, but got %q", cfg.LogLevel)
		}
		if cfg.Policy.MasteryIntervalDays != 40 {
			t.Errorf("Expected mastery interval 40, but got %v", cfg.Policy.MasteryIntervalDays)
		}
		if cfg.DB != "/tmp/from-file.db" {
			t.Errorf("Expected db from file, but got %q", cfg.DB)
		}
	})

	t.Run("flags override env", func(t *testing.T) {
		t.Setenv("KNOLSCHED_DB", "/tmp/from-env.db")
		t.Setenv("KNOLSCHED_POLICY__TIMEZONE", "Asia/Tokyo")
		cfg, err := Load(newFlags(t, "--config", path, "--db", "/tmp/from-flag.db", "--timezone", "UTC"))
		if err != nil {
			t.Fatalf("Load() returned an error: %v", err)
		}
		if cfg.DB != "/tmp/from-flag.db" {
			t.Errorf("Expected db from flag, but got %q", cfg.DB)
		}
		if cfg.Policy.Timezone != "UTC" {
			t.Errorf("Expected timezone UTC, but got %q", cfg.Policy.Timezone)
		}
	})

	t.Run("unset flags keep env", func(t *testing.T) {
		t.Setenv("KNOLSCHED_POLICY__TIMEZONE", "Asia/Tokyo")
		cfg, err := Load(newFlags(t, "--config", path))
		if err != nil {
			t.Fatalf("Load() returned an error: %v", err)
		}
		if cfg.Policy.Timezone != "Asia/Tokyo" {
			t.Errorf("Expected timezone from env, but got %q", cfg.Policy.Timezone)
		}
	})
}

func TestLoadErrors(t *testing.T) {
	testCases := []struct {
		name string
		yaml string
		args []string
	}{
		{name: "missing file", args: []string{"--config", filepath.Join(t.TempDir(), "nope.yaml")}},
		{name: "bad log level", args: []string{"--log-level", "loud"}},
		{name: "unknown timezone", args: []string{"--timezone", "Mars/Olympus"}},
		{name: "inverted factors", yaml: "policy:\n  min_factor: 3\n  max_factor: 2\n"},
		{name: "malformed yaml", yaml: "policy: [\n"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			args := tc.args
			if tc.yaml != "" {
				args = append(args, "--config", writeFile(t, tc.yaml))
			}
			if _, err := Load(newFlags(t, args...)); err == nil {
				t.Error("Expected an error, but got nil")
			}
		})
	}
}

func TestLevel(t *testing.T) {
	testCases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
	}
	for in, want := range testCases {
		if got := (Config{LogLevel: in}).Level(); got != want {
			t.Errorf("Level(%q) = %v, want %v", in, got, want)
		}
	}
}
