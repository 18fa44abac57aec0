package widget

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ecociel/mcp-app-go/mcp"
	"github.com/ecociel/mcp-app-go/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/ecociel/mcp-app-go/widget"

// Placeholder is served for a widget whose entry document cannot be found,
// for instance before the first build.
const Placeholder = `<!doctype html>
<html>
<head><meta charset="utf-8"><title>Widget unavailable</title></head>
<body><p>This widget has not been built yet.</p></body>
</html>
`

// Widget declares one widget resource.
type Widget struct {
	// Name selects the entry document (see Locator) and is the resource name.
	Name string
	// URI overrides the canonical identifier. Defaults to CanonicalURI(Name).
	URI         string
	Title       string
	// Description is listed with the resource and advertised to hosts as
	// openai/widgetDescription unless Meta sets that key.
	Description string
	// PrefersBorder is advertised to hosts as openai/widgetPrefersBorder.
	PrefersBorder bool
	// Meta is merged into the resource _meta object.
	Meta map[string]any
}

// CanonicalURI returns the widget's canonical identifier.
func (w Widget) CanonicalURI() string {
	if w.URI != "" {
		return w.URI
	}
	return CanonicalURI(w.Name)
}

func (w Widget) meta() map[string]any {
	if !w.PrefersBorder && w.Description == "" && len(w.Meta) == 0 {
		return nil
	}
	m := make(map[string]any, len(w.Meta)+2)
	if w.PrefersBorder {
		m[mcp.MetaWidgetPrefersBorder] = true
	}
	if w.Description != "" {
		m[mcp.MetaWidgetDescription] = w.Description
	}
	for k, v := range w.Meta {
		m[k] = v
	}
	return m
}

// Content is the result of a lookup.
type Content struct {
	URI      string
	MIMEType string
	Data     []byte
	Meta     map[string]any
}

// Listing describes a resource the registry can serve.
type Listing struct {
	URI         string         `json:"uri"`
	Name        string         `json:"name"`
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	MIMEType    string         `json:"mimeType"`
	Meta        map[string]any `json:"_meta,omitempty"`
}

// Registry maps widget identifiers to content.
type Registry struct {
	widgets  []Widget
	byURI    map[string]int
	prefixes []string // parallel to widgets

	locator  *Locator
	resolver *Resolver
	mimeType string

	cache    storage.Storage
	cacheTTL time.Duration

	log    *slog.Logger
	tracer trace.Tracer
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithWidgetMIMEType sets the MIME type of canonical widget documents.
// Defaults to mcp.MIMETypeSkybridge.
func WithWidgetMIMEType(mt string) RegistryOption {
	return func(r *Registry) {
		if mt != "" {
			r.mimeType = mt
		}
	}
}

// WithCache keeps resolved documents in s. Entries are keyed on the entry
// document's path and modification time, are dropped on read when any asset
// they inlined has changed, and expire after ttl when ttl is positive.
func WithCache(s storage.Storage, ttl time.Duration) RegistryOption {
	return func(r *Registry) {
		r.cache = s
		r.cacheTTL = ttl
	}
}

// WithRegistryLogger sets the logger.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.log = l }
}

// WithTracerProvider sets the OpenTelemetry tracer provider used for lookup
// spans. Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) RegistryOption {
	return func(r *Registry) { r.tracer = tp.Tracer(tracerName) }
}

// NewRegistry builds a registry serving widgets. Widget names and canonical
// identifiers must be unique, and no widget's derived namespace may contain
// another widget's canonical identifier.
func NewRegistry(locator *Locator, resolver *Resolver, widgets []Widget, opts ...RegistryOption) (*Registry, error) {
	if locator == nil || resolver == nil {
		return nil, errors.New("widget: locator and resolver are required")
	}
	r := &Registry{
		byURI:    make(map[string]int, len(widgets)),
		locator:  locator,
		resolver: resolver,
		mimeType: mcp.MIMETypeSkybridge,
		log:      slog.Default(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(r)
	}

	names := make(map[string]bool, len(widgets))
	for _, w := range widgets {
		if !ValidName(w.Name) {
			return nil, fmt.Errorf("widget: invalid name %q", w.Name)
		}
		if names[w.Name] {
			return nil, fmt.Errorf("widget: duplicate name %q", w.Name)
		}
		names[w.Name] = true

		uri := w.CanonicalURI()
		if !strings.HasPrefix(uri, Scheme+"://") {
			return nil, fmt.Errorf("widget %s: identifier %q must use the %s scheme", w.Name, uri, Scheme)
		}
		if _, dup := r.byURI[uri]; dup {
			return nil, fmt.Errorf("widget %s: duplicate identifier %q", w.Name, uri)
		}
		r.byURI[uri] = len(r.widgets)
		r.widgets = append(r.widgets, w)
		r.prefixes = append(r.prefixes, DerivedPrefix(uri))
	}
	for i, p := range r.prefixes {
		for uri := range r.byURI {
			if strings.HasPrefix(uri, p) {
				return nil, fmt.Errorf("widget %s: identifier %q overlaps derived namespace %q", r.widgets[i].Name, uri, p)
			}
		}
	}
	return r, nil
}

// Widget returns the widget with the given name.
func (r *Registry) Widget(name string) (Widget, bool) {
	for _, w := range r.widgets {
		if w.Name == name {
			return w, true
		}
	}
	return Widget{}, false
}

// Strategy returns the bundling strategy applied to canonical documents.
func (r *Registry) Strategy() Strategy { return r.resolver.Strategy() }

// Lookup returns the content for uri. Canonical identifiers always resolve,
// falling back to Placeholder. Derived identifiers resolve to the asset
// bytes. Everything else, including derived paths that escape the asset
// root, reports ErrNotFound.
func (r *Registry) Lookup(ctx context.Context, uri string) (*Content, error) {
	ctx, span := r.tracer.Start(ctx, "widget.Lookup", trace.WithAttributes(attribute.String("widget.uri", uri)))
	defer span.End()

	c, err := r.lookup(ctx, uri)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("widget.mime_type", c.MIMEType), attribute.Int("widget.bytes", len(c.Data)))
	return c, nil
}

func (r *Registry) lookup(ctx context.Context, uri string) (*Content, error) {
	if i, ok := r.byURI[uri]; ok {
		return r.canonical(ctx, r.widgets[i])
	}
	for i, p := range r.prefixes {
		rel, ok, err := relFromDerived(p, uri)
		if !ok {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s", err, uri)
		}
		return r.derived(ctx, r.widgets[i], rel, uri)
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, uri)
}

func (r *Registry) canonical(ctx context.Context, w Widget) (*Content, error) {
	uri := w.CanonicalURI()
	placeholder := func(reason error) *Content {
		r.log.InfoContext(ctx, "widget.lookup.placeholder",
			slog.String("widget", w.Name),
			slog.String("reason", reason.Error()),
		)
		return &Content{URI: uri, MIMEType: r.mimeType, Data: []byte(Placeholder), Meta: w.meta()}
	}

	entry, err := r.locator.Locate(ctx, w.Name)
	if errors.Is(err, ErrEntryMissing) {
		return placeholder(err), nil
	}
	if err != nil {
		return nil, err
	}

	store, err := NewStore(entry.Root)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return placeholder(err), nil
		}
		return nil, err
	}

	key := r.cacheKey(uri, entry)
	if doc, ok := r.cached(ctx, w.Name, key, store); ok {
		return &Content{URI: uri, MIMEType: r.mimeType, Data: doc, Meta: w.meta()}, nil
	}
	src, err := store.Read(ctx, filepath.Base(entry.Path))
	if err != nil {
		// Removed between Locate and Read.
		if errors.Is(err, ErrNotFound) {
			return placeholder(err), nil
		}
		return nil, err
	}

	start := time.Now()
	rec := &recordingReader{store: store}
	doc, err := r.resolve(ctx, string(src.Data), rec, DerivedPrefix(uri))
	if err != nil {
		return nil, fmt.Errorf("resolve widget %s: %w", w.Name, err)
	}
	r.log.DebugContext(ctx, "widget.resolve.ok",
		slog.String("widget", w.Name),
		slog.String("source", entry.Source.String()),
		slog.String("strategy", string(r.resolver.Strategy())),
		slog.Int64("dur_ms", time.Since(start).Milliseconds()),
	)

	data := []byte(doc)
	r.store(ctx, w.Name, key, data, rec.deps)
	return &Content{URI: uri, MIMEType: r.mimeType, Data: data, Meta: w.meta()}, nil
}

func (r *Registry) resolve(ctx context.Context, doc string, assets AssetReader, prefix string) (string, error) {
	ctx, span := r.tracer.Start(ctx, "widget.Resolve", trace.WithAttributes(
		attribute.String("widget.strategy", string(r.resolver.Strategy())),
	))
	defer span.End()
	out, err := r.resolver.Resolve(ctx, doc, assets, prefix)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return out, err
}

func (r *Registry) derived(ctx context.Context, w Widget, rel, uri string) (*Content, error) {
	entry, err := r.locator.Locate(ctx, w.Name)
	if err != nil {
		if errors.Is(err, ErrEntryMissing) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, uri)
		}
		return nil, err
	}
	store, err := NewStore(entry.Root)
	if err != nil {
		return nil, err
	}
	asset, err := store.Read(ctx, rel)
	if err != nil {
		return nil, fmt.Errorf("%w (%s)", err, uri)
	}
	return &Content{URI: uri, MIMEType: asset.MIMEType, Data: asset.Data}, nil
}

// List enumerates the canonical widgets and, with the externalize strategy,
// the assets of every built widget. Asset listings are sorted by identifier
// within each widget.
func (r *Registry) List(ctx context.Context) ([]Listing, error) {
	out := make([]Listing, 0, len(r.widgets))
	for _, w := range r.widgets {
		out = append(out, Listing{
			URI:         w.CanonicalURI(),
			Name:        w.Name,
			Title:       w.Title,
			Description: w.Description,
			MIMEType:    r.mimeType,
			Meta:        w.meta(),
		})
	}
	if r.resolver.Strategy() != StrategyExternalize {
		return out, nil
	}

	for i, w := range r.widgets {
		entry, err := r.locator.Locate(ctx, w.Name)
		if err != nil {
			if errors.Is(err, ErrEntryMissing) {
				continue
			}
			return nil, err
		}
		// Development files share one directory; only build output is
		// enumerated.
		if entry.Source != SourceBuilt {
			continue
		}
		store, err := NewStore(entry.Root)
		if err != nil {
			continue
		}
		files, err := store.Files(ctx)
		if err != nil {
			return nil, err
		}
		entryRel := filepath.Base(entry.Path)
		for _, rel := range files {
			if rel == entryRel {
				continue
			}
			out = append(out, Listing{
				URI:      DerivedURI(r.prefixes[i], rel),
				Name:     w.Name + "/" + rel,
				MIMEType: MIMETypeFor(rel),
			})
		}
	}
	return out, nil
}

// Invalidate drops every cached document.
func (r *Registry) Invalidate(ctx context.Context) error {
	if r.cache == nil {
		return nil
	}
	var errs []error
	for _, w := range r.widgets {
		if err := r.cache.Delete(ctx, storage.WithNamespace(cacheNamespace(w.Name))); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func cacheNamespace(name string) string { return "widget:" + name }

func (r *Registry) cacheKey(uri string, e *Entry) string {
	return strings.Join([]string{
		uri,
		string(r.resolver.Strategy()),
		e.Path,
		strconv.FormatInt(e.ModTime.UnixNano(), 10),
	}, "|")
}

// assetDep fingerprints one asset consulted while resolving a document.
// Missing assets are recorded too, so their later appearance is noticed.
type assetDep struct {
	Path    string `json:"path"`
	Found   bool   `json:"found"`
	ModTime int64  `json:"mtime,omitempty"`
	Size    int64  `json:"size,omitempty"`
}

func (d assetDep) current(ctx context.Context, s *Store) bool {
	fi, err := s.Stat(ctx, d.Path)
	if err != nil {
		return !d.Found && errors.Is(err, ErrNotFound)
	}
	return d.Found && fi.ModTime().UnixNano() == d.ModTime && fi.Size() == d.Size
}

// recordingReader notes every asset the resolver reads.
type recordingReader struct {
	store *Store
	deps  []assetDep
}

func (rr *recordingReader) Read(ctx context.Context, rel string) (*Asset, error) {
	a, err := rr.store.Read(ctx, rel)
	switch {
	case err == nil:
		rr.deps = append(rr.deps, assetDep{Path: rel, Found: true, ModTime: a.ModTime.UnixNano(), Size: int64(len(a.Data))})
	case errors.Is(err, ErrNotFound) && !errors.Is(err, ErrTraversalRejected):
		rr.deps = append(rr.deps, assetDep{Path: rel})
	}
	return a, err
}

// cachedDoc is the cache value: the resolved document and the assets it
// was built from.
type cachedDoc struct {
	Doc  []byte     `json:"doc"`
	Deps []assetDep `json:"deps,omitempty"`
}

// cached returns the stored document for key unless one of the assets it
// was built from has changed, appeared or disappeared since.
func (r *Registry) cached(ctx context.Context, name, key string, s *Store) ([]byte, bool) {
	if r.cache == nil {
		return nil, false
	}
	item, err := r.cache.Get(ctx, key, storage.WithNamespace(cacheNamespace(name)))
	if err != nil {
		r.log.WarnContext(ctx, "widget.cache.get_failed", slog.String("widget", name), slog.String("err", err.Error()))
		return nil, false
	}
	if item == nil {
		return nil, false
	}
	var cd cachedDoc
	if err := json.Unmarshal(item.Data, &cd); err != nil {
		r.log.WarnContext(ctx, "widget.cache.decode_failed", slog.String("widget", name), slog.String("err", err.Error()))
		return nil, false
	}
	for _, d := range cd.Deps {
		if !d.current(ctx, s) {
			r.log.DebugContext(ctx, "widget.cache.stale", slog.String("widget", name), slog.String("asset", d.Path))
			return nil, false
		}
	}
	return cd.Doc, true
}

// store writes through to the cache. Concurrent resolutions of the same key
// may both write; the last one wins.
func (r *Registry) store(ctx context.Context, name, key string, doc []byte, deps []assetDep) {
	if r.cache == nil {
		return
	}
	b, err := json.Marshal(cachedDoc{Doc: doc, Deps: deps})
	if err != nil {
		r.log.WarnContext(ctx, "widget.cache.encode_failed", slog.String("widget", name), slog.String("err", err.Error()))
		return
	}
	err = r.cache.Set(ctx, key, b, storage.WithNamespace(cacheNamespace(name)), storage.WithTTL(r.cacheTTL))
	if err != nil {
		r.log.WarnContext(ctx, "widget.cache.set_failed", slog.String("widget", name), slog.String("err", err.Error()))
	}
}
