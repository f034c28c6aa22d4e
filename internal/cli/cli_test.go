package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/tablebrowser/internal/testutil"
)

// isolate runs the test in an empty directory without DATABASE_URL and
// returns a registry path inside it.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PORT", "")
	return filepath.Join(dir, "registry.db")
}

func run(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func TestConnectionsList_Empty(t *testing.T) {
	reg := isolate(t)
	out, err := run(t, context.Background(), "--registry-path", reg, "connections", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "ID")
	assert.Equal(t, 1, strings.Count(out, "\n"))
}

func TestInvalidConfig(t *testing.T) {
	reg := isolate(t)
	_, err := run(t, context.Background(), "--registry-path", reg, "--log-level", "loud", "connections", "list")
	assert.ErrorContains(t, err, "log_level")
}

func TestArgumentErrors(t *testing.T) {
	reg := isolate(t)

	_, err := run(t, context.Background(), "--registry-path", reg, "connections", "remove", "abc")
	assert.ErrorContains(t, err, "invalid connection id")

	_, err = run(t, context.Background(), "--registry-path", reg, "tables", "show", "public.")
	assert.ErrorContains(t, err, "invalid table reference")

	_, err = run(t, context.Background(), "--registry-path", reg, "connections", "test")
	assert.ErrorContains(t, err, "host is required")
}

func TestTables_NoActiveConnection(t *testing.T) {
	reg := isolate(t)
	_, err := run(t, context.Background(), "--registry-path", reg, "tables")
	assert.ErrorContains(t, err, "no active connection")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", "json")
	logger.Info("hidden")
	logger.Warn("shown", "k", 1)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "shown", rec["msg"])
	assert.Equal(t, "WARN", rec["level"])

	buf.Reset()
	newLogger(&buf, "debug", "text").Debug("visible")
	assert.Contains(t, buf.String(), "msg=visible")
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	reg := isolate(t)
	port := freePort(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := run(t, ctx, "--registry-path", reg, "serve", "--port", fmt.Sprint(port))
		done <- err
	}()

	url := fmt.Sprintf("http://127.0.0.1:%d/health", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 10*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestCommandsAgainstPostgres(t *testing.T) {
	dsn := testutil.StartPostgres(t, `
		CREATE TABLE widgets (id integer PRIMARY KEY, label text);
		INSERT INTO widgets VALUES (1, 'one'), (2, 'two');
	`)
	reg := isolate(t)
	ctx := context.Background()

	out, err := run(t, ctx, "--registry-path", reg, "connections", "test", dsn)
	require.NoError(t, err)
	assert.Equal(t, "ok\n", out)

	out, err = run(t, ctx, "--registry-path", reg, "connections", "add", "local", dsn, "--activate")
	require.NoError(t, err)
	assert.Contains(t, out, "local")
	assert.NotContains(t, out, ":test@", "password is redacted")

	out, err = run(t, ctx, "--registry-path", reg, "tables")
	require.NoError(t, err)
	assert.Equal(t, "public.widgets\n", out)

	out, err = run(t, ctx, "--registry-path", reg, "tables", "rows", "widgets", "--limit", "1", "--offset", "1")
	require.NoError(t, err)
	var page struct {
		Total int64            `json:"total"`
		Rows  []map[string]any `json:"rows"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &page))
	assert.Equal(t, int64(2), page.Total)
	require.Len(t, page.Rows, 1)
	assert.Equal(t, "two", page.Rows[0]["label"])

	_, err = run(t, ctx, "--registry-path", reg, "connections", "remove", "1")
	assert.ErrorContains(t, err, "active")
}
