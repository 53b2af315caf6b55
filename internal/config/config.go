// Package config loads knolsched settings from defaults, a YAML file, the
// environment and command-line flags, in increasing order of precedence.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/conorfennell/knolsched/internal/policy"
)

// EnvPrefix prefixes every environment variable read by Load. A double
// underscore separates nested keys: KNOLSCHED_POLICY__TIMEZONE.
const EnvPrefix = "KNOLSCHED_"

// Config is the full application configuration.
type Config struct {
	DB       string        `koanf:"db" validate:"required"`
	LogLevel string        `koanf:"log_level" validate:"oneof=debug info warn error"`
	Policy   policy.Policy `koanf:"policy"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DB:       defaultDBPath(),
		LogLevel: "info",
		Policy:   policy.Default(),
	}
}

func defaultDBPath() string {
	if xdg := strings.TrimSpace(os.Getenv("XDG_DATA_HOME")); xdg != "" {
		return filepath.Join(xdg, "knolsched", "knolsched.db")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "knolsched.db"
	}
	return filepath.Join(home, ".local", "share", "knolsched", "knolsched.db")
}

// flagKeys maps the configuration flags to their keys. Other flags in the
// same set belong to the command and are not configuration.
var flagKeys = map[string]string{
	"db":        "db",
	"log-level": "log_level",
	"timezone":  "policy.timezone",
}

// RegisterFlags adds the configuration flags to flags.
func RegisterFlags(flags *pflag.FlagSet) {
	d := Default()
	flags.String("config", "", "Path to a YAML configuration file")
	flags.String("db", d.DB, "Path to the SQLite database file")
	flags.String("log-level", d.LogLevel, "Log level: debug, info, warn or error")
	flags.String("timezone", d.Policy.Timezone, "IANA timezone used for review dates")
}

// Load builds the configuration from flags registered with RegisterFlags.
// An empty --config skips the file layer; a named file that cannot be read
// is an error. Only flags set explicitly override the other layers.
func Load(flags *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	if path, _ := flags.GetString("config"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}

	if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return "", nil
		}
		return key, posflag.FlagVal(flags, f)
	}), nil); err != nil {
		return Config{}, fmt.Errorf("load flags: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the top-level settings and the scheduling policy.
func Validate(cfg Config) error {
	if err := validate.StructExcept(cfg, "Policy"); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.Policy.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Level returns the slog level named by cfg.LogLevel.
func (cfg Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}
