package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/tablebrowser/internal/registry"
)

// chdirTemp runs the test in an empty directory so no stray .env or
// tablebrowser.yaml is picked up.
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	chdirTemp(t)
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PORT", "")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.QueryTimeout)
	assert.Equal(t, 50, cfg.DefaultPageSize)
	assert.Equal(t, 500, cfg.MaxPageSize)
	assert.Equal(t, "tablebrowser.db", cfg.RegistryPath)
	assert.False(t, cfg.LenientBooleans)
	assert.Empty(t, cfg.File)
	assert.Empty(t, cfg.Seeds())
}

func TestLoad_Precedence(t *testing.T) {
	dir := chdirTemp(t)
	yamlPath := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
port: "9000"
query_timeout: 10s
max_page_size: 200
schemas: [public, sales]
connections:
  - name: reporting
    dsn: postgresql://ro@db/reporting
    read_only: true
`), 0o600))

	t.Setenv("ADMIN_QUERY_TIMEOUT", "20s")
	t.Setenv("ADMIN_API_TOKENS", "one, two")
	t.Setenv("ADMIN_LENIENT_BOOLEANS", "true")
	t.Setenv("DATABASE_URL", "postgresql://app@db/main")
	t.Setenv("PORT", "9100")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("config", "", "")
	flags.String("log-level", "info", "")
	flags.Int("max-page-size", 500, "")
	require.NoError(t, flags.Parse([]string{"--config", yamlPath, "--log-level", "debug"}))

	cfg, err := Load(yamlPath, flags)
	require.NoError(t, err)

	assert.Equal(t, yamlPath, cfg.File)
	assert.Equal(t, "9100", cfg.Port, "PORT beats the file")
	assert.Equal(t, 20*time.Second, cfg.QueryTimeout, "env beats the file")
	assert.Equal(t, 200, cfg.MaxPageSize, "unchanged flags do not override")
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, []string{"public", "sales"}, cfg.Schemas)
	assert.Equal(t, []string{"one", "two"}, cfg.APITokens)
	assert.True(t, cfg.LenientBooleans)

	seeds := cfg.Seeds()
	require.Len(t, seeds, 2)
	assert.Equal(t, registry.Seed{Name: DefaultSeedName, DSN: "postgresql://app@db/main"}, seeds[0])
	assert.Equal(t, registry.Seed{Name: "reporting", DSN: "postgresql://ro@db/reporting", ReadOnly: true}, seeds[1])
}

func TestLoad_DefaultFileAndDotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte("log_format: json\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("ADMIN_RATE_LIMIT=30\n"), 0o600))
	t.Setenv("ADMIN_RATE_LIMIT", "")
	require.NoError(t, os.Unsetenv("ADMIN_RATE_LIMIT"))

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfigFile, cfg.File)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 30.0, cfg.RateLimit)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	chdirTemp(t)
	_, err := Load("nope.yaml", nil)
	assert.ErrorContains(t, err, "nope.yaml")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Port: "8080", ReadTimeout: time.Second, WriteTimeout: time.Second,
			ShutdownTimeout: time.Second, QueryTimeout: time.Second, ProbeTimeout: time.Second,
			RegistryPath: ":memory:", LogLevel: "info", LogFormat: "text",
			DefaultPageSize: 50, MaxPageSize: 500,
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{"port", func(c *Config) { c.Port = "http" }, "invalid port"},
		{"zero timeout", func(c *Config) { c.QueryTimeout = 0 }, "query_timeout must be positive"},
		{"negative cache ttl", func(c *Config) { c.PageCacheTTL = -time.Second }, "page_cache_ttl"},
		{"short key", func(c *Config) { c.EncryptionKey = "abcd" }, "encryption_key"},
		{"page sizes", func(c *Config) { c.DefaultPageSize = 600 }, "default_page_size"},
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"log format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
		{"seed", func(c *Config) { c.Connections = []registry.Seed{{Name: "x"}} }, "connections[0]"},
		{"rate limit", func(c *Config) { c.RateLimit = -1 }, "rate_limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			assert.ErrorContains(t, c.Validate(), tt.errMsg)
		})
	}
}
