package widget

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, rel, content string) string {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

const (
	appJS  = "console.log(\"hello from app\");\n"
	appCSS = "body { color: rebeccapurple; }\n"
	index  = `<!doctype html>
<html>
<head>
  <meta charset="utf-8">
  <script type="module" crossorigin src="./assets/app.js"></script>
  <link rel="stylesheet" crossorigin href="./assets/app.css">
</head>
<body><div id="root"></div></body>
</html>
`
)

// buildFixture lays out <root>/dist/greeting/{index.html,assets/app.js,assets/app.css}
// and returns the dist directory.
func buildFixture(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	dist := filepath.Join(root, "dist")
	writeFile(t, dist, "greeting/index.html", index)
	writeFile(t, dist, "greeting/assets/app.js", appJS)
	writeFile(t, dist, "greeting/assets/app.css", appCSS)
	return dist
}
