package widget

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ecociel/mcp-app-go/mcp"
	"github.com/ecociel/mcp-app-go/storage/memory"
)

func newRegistry(t *testing.T, build, dev string, s Strategy, opts ...RegistryOption) *Registry {
	t.Helper()
	reg, err := NewRegistry(NewLocator(build, dev), newResolver(t, s), []Widget{{Name: "greeting", Title: "Greeting", PrefersBorder: true}}, opts...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

func TestRegistryCanonicalInline(t *testing.T) {
	t.Parallel()
	reg := newRegistry(t, buildFixture(t), "", StrategyInline)

	c, err := reg.Lookup(context.Background(), "ui://widget/greeting.html")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if c.MIMEType != mcp.MIMETypeSkybridge {
		t.Fatalf("mime = %q", c.MIMEType)
	}
	doc := string(c.Data)
	if !strings.Contains(doc, appJS) || !strings.Contains(doc, appCSS) {
		t.Fatalf("expected inlined assets:\n%s", doc)
	}
	if c.Meta[mcp.MetaWidgetPrefersBorder] != true {
		t.Fatalf("expected prefers-border meta, got %v", c.Meta)
	}
}

func TestRegistryWidgetDescriptionMeta(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dist := buildFixture(t)
	writeFile(t, dist, "other/index.html", "<p>other</p>")
	reg, err := NewRegistry(NewLocator(dist, ""), newResolver(t, StrategyInline), []Widget{
		{Name: "greeting", Description: "Greets the user."},
		{Name: "other", Description: "ignored", Meta: map[string]any{mcp.MetaWidgetDescription: "Explicit."}},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	c, err := reg.Lookup(ctx, "ui://widget/greeting.html")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if c.Meta[mcp.MetaWidgetDescription] != "Greets the user." {
		t.Fatalf("meta = %v", c.Meta)
	}
	if _, ok := c.Meta[mcp.MetaWidgetPrefersBorder]; ok {
		t.Fatalf("unexpected prefers-border meta: %v", c.Meta)
	}

	c, err = reg.Lookup(ctx, "ui://widget/other.html")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if c.Meta[mcp.MetaWidgetDescription] != "Explicit." {
		t.Fatalf("meta = %v", c.Meta)
	}
}

func TestRegistryExternalizedAssetsRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg := newRegistry(t, buildFixture(t), "", StrategyExternalize)

	c, err := reg.Lookup(ctx, "ui://widget/greeting.html")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	cases := map[string]struct{ body, mime string }{
		"ui://widget/greeting/assets/app.js":  {appJS, "application/javascript"},
		"ui://widget/greeting/assets/app.css": {appCSS, "text/css"},
	}
	for uri, want := range cases {
		if !strings.Contains(string(c.Data), `"`+uri+`"`) {
			t.Fatalf("document does not reference %s:\n%s", uri, c.Data)
		}
		a, err := reg.Lookup(ctx, uri)
		if err != nil {
			t.Fatalf("Lookup(%s): %v", uri, err)
		}
		if string(a.Data) != want.body || a.MIMEType != want.mime {
			t.Fatalf("Lookup(%s) = %q %q", uri, a.Data, a.MIMEType)
		}
	}
}

func TestRegistryPlaceholderWhenBuildAbsent(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	reg := newRegistry(t, filepath.Join(root, "dist"), filepath.Join(root, "static"), StrategyInline)

	c, err := reg.Lookup(context.Background(), "ui://widget/greeting.html")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if string(c.Data) != Placeholder {
		t.Fatalf("expected placeholder, got %q", c.Data)
	}
	if c.MIMEType != mcp.MIMETypeSkybridge {
		t.Fatalf("mime = %q", c.MIMEType)
	}
}

func TestRegistryDevFallback(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	dev := filepath.Join(root, "static")
	writeFile(t, dev, "greeting.html", `<script src="greeting.js"></script>`)
	writeFile(t, dev, "greeting.js", "dev()")
	reg := newRegistry(t, filepath.Join(root, "dist"), dev, StrategyInline)

	c, err := reg.Lookup(context.Background(), "ui://widget/greeting.html")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got := string(c.Data); got != "<script>dev()</script>" {
		t.Fatalf("got %q", got)
	}
}

func TestRegistryNotFound(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dist := buildFixture(t)
	writeFile(t, filepath.Dir(dist), "secret.txt", "top secret")
	reg := newRegistry(t, dist, "", StrategyExternalize)

	for _, uri := range []string{
		"ui://widget/other.html",
		"ui://widget/greeting/assets/missing.js",
		"ui://widget/greeting/../secret.txt",
		"ui://widget/greeting/%2e%2e/%2e%2e/secret.txt",
		"ui://widget/greeting/assets%2f..%2f..%2f..%2fsecret.txt",
		"ui://widget/greeting/",
		"file:///etc/passwd",
		"",
	} {
		_, err := reg.Lookup(ctx, uri)
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("Lookup(%q): expected ErrNotFound, got %v", uri, err)
		}
	}
}

func TestRegistryDerivedNotFoundWithoutEntry(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	reg := newRegistry(t, filepath.Join(root, "dist"), "", StrategyExternalize)
	if _, err := reg.Lookup(context.Background(), "ui://widget/greeting/assets/app.js"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRegistryListExternalizeIncludesAssets(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dist := buildFixture(t)

	inline := newRegistry(t, dist, "", StrategyInline)
	ls, err := inline.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ls) != 1 || ls[0].URI != "ui://widget/greeting.html" || ls[0].Title != "Greeting" {
		t.Fatalf("inline listing = %+v", ls)
	}

	ext := newRegistry(t, dist, "", StrategyExternalize)
	ls, err = ext.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var uris []string
	for _, l := range ls {
		uris = append(uris, l.URI)
	}
	want := []string{
		"ui://widget/greeting.html",
		"ui://widget/greeting/assets/app.css",
		"ui://widget/greeting/assets/app.js",
	}
	if strings.Join(uris, ",") != strings.Join(want, ",") {
		t.Fatalf("listing = %v, want %v", uris, want)
	}
}

func newMemoryCache(t *testing.T) *memory.Storage {
	t.Helper()
	cache, err := memory.New(16)
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	t.Cleanup(func() { _ = cache.Close() })
	return cache
}

// touch rewrites a file and moves its mtime forward so the change is visible
// on filesystems with coarse timestamps.
func touch(t *testing.T, dir, rel, content string, d time.Duration) {
	t.Helper()
	p := writeFile(t, dir, rel, content)
	later := time.Now().Add(d)
	if err := os.Chtimes(p, later, later); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func TestRegistryCacheTracksAssets(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dist := buildFixture(t)
	cache := newMemoryCache(t)
	reg := newRegistry(t, dist, "", StrategyInline, WithCache(cache, time.Minute))

	first, err := reg.Lookup(ctx, "ui://widget/greeting.html")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if cache.Len() != 1 {
		t.Fatalf("cache len = %d, want 1", cache.Len())
	}
	again, _ := reg.Lookup(ctx, "ui://widget/greeting.html")
	if string(again.Data) != string(first.Data) {
		t.Fatalf("expected cached document")
	}

	// An asset-only change must not be served stale.
	touch(t, dist, "greeting/assets/app.js", "changed()", time.Hour)
	fresh, err := reg.Lookup(ctx, "ui://widget/greeting.html")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !strings.Contains(string(fresh.Data), "changed()") || strings.Contains(string(fresh.Data), appJS) {
		t.Fatalf("expected re-resolved document, got:\n%s", fresh.Data)
	}

	// A rebuild touches the entry document.
	touch(t, dist, "greeting/index.html", `<script src="./assets/app.js"></script>`, 2*time.Hour)
	rebuilt, _ := reg.Lookup(ctx, "ui://widget/greeting.html")
	if got := string(rebuilt.Data); got != "<script>changed()</script>" {
		t.Fatalf("got %q", got)
	}

	if err := reg.Invalidate(ctx); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if cache.Len() != 0 {
		t.Fatalf("cache len after Invalidate = %d", cache.Len())
	}
}

func TestRegistryCacheDevAssetEdit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	root := t.TempDir()
	dev := filepath.Join(root, "static")
	writeFile(t, dev, "greeting.html", `<script src="main.js"></script>`)
	writeFile(t, dev, "main.js", "v1()")
	reg := newRegistry(t, filepath.Join(root, "dist"), dev, StrategyInline, WithCache(newMemoryCache(t), 0))

	c, err := reg.Lookup(ctx, "ui://widget/greeting.html")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got := string(c.Data); got != "<script>v1()</script>" {
		t.Fatalf("got %q", got)
	}

	touch(t, dev, "main.js", "v2(); v2()", time.Hour)
	c, err = reg.Lookup(ctx, "ui://widget/greeting.html")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got := string(c.Data); got != "<script>v2(); v2()</script>" {
		t.Fatalf("got %q", got)
	}
}

func TestRegistryCacheMissingAssetAppears(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	root := t.TempDir()
	dev := filepath.Join(root, "static")
	writeFile(t, dev, "greeting.html", `<script src="main.js"></script>`)
	reg := newRegistry(t, filepath.Join(root, "dist"), dev, StrategyInline, WithCache(newMemoryCache(t), 0))

	c, err := reg.Lookup(ctx, "ui://widget/greeting.html")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got := string(c.Data); got != `<script src="main.js"></script>` {
		t.Fatalf("got %q", got)
	}

	writeFile(t, dev, "main.js", "late()")
	c, err = reg.Lookup(ctx, "ui://widget/greeting.html")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got := string(c.Data); got != "<script>late()</script>" {
		t.Fatalf("got %q", got)
	}
}

func TestNewRegistryValidation(t *testing.T) {
	t.Parallel()
	l := NewLocator("", "")
	r := newResolver(t, StrategyInline)

	bad := [][]Widget{
		{{Name: ""}},
		{{Name: "a/b"}},
		{{Name: "a"}, {Name: "a"}},
		{{Name: "a", URI: "https://example.com/a.html"}},
		{{Name: "a"}, {Name: "b", URI: "ui://widget/a/b.html"}},
	}
	for _, ws := range bad {
		if _, err := NewRegistry(l, r, ws); err == nil {
			t.Fatalf("expected error for %+v", ws)
		}
	}
}
