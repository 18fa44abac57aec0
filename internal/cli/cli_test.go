package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ecociel/mcp-app-go/internal/jsonrpc"
)

func buildDir(t *testing.T) string {
	t.Helper()
	dist := filepath.Join(t.TempDir(), "dist")
	require.NoError(t, os.MkdirAll(filepath.Join(dist, "greeting"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dist, "greeting", "index.html"),
		[]byte(`<html><head><link rel="stylesheet" href="./app.css"></head><body>hi</body></html>`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dist, "greeting", "app.css"), []byte(`body{color:red}`), 0o600))
	return dist
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("WIDGET_MANIFEST", "")
	t.Setenv("CACHE_BACKEND", "memory")
	t.Setenv("LOG_LEVEL", "error")
	cmd := NewRootCmd("test")
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestResolveInline(t *testing.T) {
	dist := buildDir(t)
	out, err := run(t, "", "resolve", "greeting", "--build-dir", dist, "--strategy", "inline")
	require.NoError(t, err)
	require.Contains(t, out, "<style>body{color:red}</style>")
	require.NotContains(t, out, "app.css")
}

func TestResolveExternalizedAsset(t *testing.T) {
	dist := buildDir(t)
	out, err := run(t, "", "resolve", "greeting", "--build-dir", dist, "--strategy", "externalize")
	require.NoError(t, err)
	require.Contains(t, out, `href="ui://widget/greeting/app.css"`)

	out, err = run(t, "", "resolve", "ui://widget/greeting/app.css", "--build-dir", dist, "--strategy", "externalize")
	require.NoError(t, err)
	require.Equal(t, "body{color:red}", out)
}

func TestResolveUnknownWidget(t *testing.T) {
	_, err := run(t, "", "resolve", "weather", "--build-dir", buildDir(t))
	require.Error(t, err)
}

func TestListTable(t *testing.T) {
	dist := buildDir(t)
	out, err := run(t, "", "list", "--build-dir", dist, "--strategy", "externalize")
	require.NoError(t, err)
	require.Contains(t, out, "ui://widget/greeting.html")
	require.Contains(t, out, "ui://widget/greeting/app.css")
	require.Contains(t, out, "text/html+skybridge")
}

func TestListJSON(t *testing.T) {
	dist := buildDir(t)
	out, err := run(t, "", "list", "--json", "--build-dir", dist)
	require.NoError(t, err)
	var items []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &items))
	require.Len(t, items, 1)
	require.Equal(t, "ui://widget/greeting.html", items[0]["uri"])
}

func TestServeStdio(t *testing.T) {
	dist := buildDir(t)
	in := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"show-greeting-widget","arguments":{"name":"Ada"}}}` + "\n"
	out, err := run(t, in, "serve", "--transport", "stdio", "--cache", "none", "--build-dir", dist)
	require.NoError(t, err)

	var msg jsonrpc.AnyMessage
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(out)), &msg))
	require.Nil(t, msg.Error)
	require.Contains(t, string(msg.Result), "Widget rendered!")
	require.Contains(t, string(msg.Result), `"name":"Ada"`)
}

func TestInvalidStrategyFails(t *testing.T) {
	_, err := run(t, "", "list", "--strategy", "bundle", "--build-dir", buildDir(t))
	require.Error(t, err)
}
