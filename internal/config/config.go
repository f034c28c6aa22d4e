// Package config loads the service configuration from defaults, an optional
// YAML file, the environment and command line flags.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/JonMunkholm/tablebrowser/internal/registry"
)

// EnvPrefix is the prefix of environment variables read into the config.
// ADMIN_QUERY_TIMEOUT sets query_timeout.
const EnvPrefix = "ADMIN_"

// DefaultConfigFile is loaded when present and no file is given explicitly.
const DefaultConfigFile = "tablebrowser.yaml"

// Config holds the application configuration.
type Config struct {
	Port            string        `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	QueryTimeout    time.Duration `koanf:"query_timeout"`
	ProbeTimeout    time.Duration `koanf:"probe_timeout"`

	RegistryPath  string `koanf:"registry_path"`
	EncryptionKey string `koanf:"encryption_key"`

	APITokens  []string `koanf:"api_tokens"`
	CORSOrigin string   `koanf:"cors_origin"`
	RateLimit  float64  `koanf:"rate_limit"`

	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`

	Schemas         []string      `koanf:"schemas"`
	DefaultPageSize int           `koanf:"default_page_size"`
	MaxPageSize     int           `koanf:"max_page_size"`
	PageCacheTTL    time.Duration `koanf:"page_cache_ttl"`
	MetaCacheTTL    time.Duration `koanf:"meta_cache_ttl"`
	LenientBooleans bool          `koanf:"lenient_booleans"`

	DatabaseURL string          `koanf:"database_url"`
	Connections []registry.Seed `koanf:"connections"`

	// File is the config file that was loaded, if any.
	File string `koanf:"-"`
}

func defaults() map[string]any {
	return map[string]any{
		"port":              "8080",
		"read_timeout":      15 * time.Second,
		"write_timeout":     60 * time.Second,
		"shutdown_timeout":  30 * time.Second,
		"query_timeout":     30 * time.Second,
		"probe_timeout":     5 * time.Second,
		"registry_path":     "tablebrowser.db",
		"rate_limit":        600.0,
		"log_level":         "info",
		"log_format":        "text",
		"default_page_size": 50,
		"max_page_size":     500,
		"page_cache_ttl":    5 * time.Second,
		"meta_cache_ttl":    5 * time.Minute,
		"lenient_booleans":  false,
	}
}

// Load reads configuration with precedence (highest first): changed flags,
// DATABASE_URL and PORT, ADMIN_* variables, the config file, defaults.
// A .env file in the working directory is loaded into the environment first.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	// Load .env file if it exists (silently ignore if missing)
	_ = godotenv.Load()

	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	used := cfgFile
	if used == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			used = DefaultConfigFile
		}
	}
	if used != "" {
		if err := k.Load(file.Provider(used), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", used, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// The unprefixed names conventional for twelve-factor deployments.
	plain := map[string]any{}
	if v, ok := os.LookupEnv("DATABASE_URL"); ok && v != "" {
		plain["database_url"] = v
	}
	if v, ok := os.LookupEnv("PORT"); ok && v != "" {
		plain["port"] = v
	}
	if err := k.Load(confmap.Provider(plain, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed || f.Name == "config" {
				return "", nil
			}
			return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.File = used
	cfg.APITokens = compact(cfg.APITokens)
	cfg.Schemas = compact(cfg.Schemas)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate rejects values the service cannot run with.
func (c *Config) Validate() error {
	port, err := strconv.Atoi(c.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid port %q", c.Port)
	}
	for name, d := range map[string]time.Duration{
		"read_timeout":     c.ReadTimeout,
		"write_timeout":    c.WriteTimeout,
		"shutdown_timeout": c.ShutdownTimeout,
		"query_timeout":    c.QueryTimeout,
		"probe_timeout":    c.ProbeTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.PageCacheTTL < 0 {
		return fmt.Errorf("page_cache_ttl must not be negative")
	}
	if c.RegistryPath == "" {
		return fmt.Errorf("registry_path is required")
	}
	if c.EncryptionKey != "" {
		key, err := hex.DecodeString(c.EncryptionKey)
		if err != nil || len(key) != 32 {
			return fmt.Errorf("encryption_key must be 64 hex characters")
		}
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate_limit must not be negative")
	}
	if c.MaxPageSize < 1 {
		return fmt.Errorf("max_page_size must be at least 1")
	}
	if c.DefaultPageSize < 1 || c.DefaultPageSize > c.MaxPageSize {
		return fmt.Errorf("default_page_size must be between 1 and max_page_size (%d)", c.MaxPageSize)
	}
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(c.LogLevel)) {
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	if !slices.Contains([]string{"text", "json"}, strings.ToLower(c.LogFormat)) {
		return fmt.Errorf("invalid log_format %q", c.LogFormat)
	}
	for i, s := range c.Connections {
		if strings.TrimSpace(s.Name) == "" || strings.TrimSpace(s.DSN) == "" {
			return fmt.Errorf("connections[%d]: name and dsn are required", i)
		}
	}
	return nil
}

// DefaultSeedName names the profile created from DATABASE_URL.
const DefaultSeedName = "default"

// Seeds returns the connection profiles to create at startup. DATABASE_URL
// comes first so it is the one activated on a fresh registry.
func (c *Config) Seeds() []registry.Seed {
	seeds := make([]registry.Seed, 0, len(c.Connections)+1)
	if c.DatabaseURL != "" {
		seeds = append(seeds, registry.Seed{Name: DefaultSeedName, DSN: c.DatabaseURL})
	}
	return append(seeds, c.Connections...)
}
