package mcpservice

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/ecociel/mcp-app-go/internal/logctx"
	"github.com/ecociel/mcp-app-go/mcp"
	"github.com/ecociel/mcp-app-go/widget"
)

// WidgetResources serves a widget.Registry as a ResourcesCapability.
//
// Textual content (valid UTF-8) is returned in the text field; anything else
// is base64 encoded into blob.
type WidgetResources struct {
	registry *widget.Registry
	notifier ChangeNotifier
	pageSize int
	log      *slog.Logger
}

// WidgetResourcesOption configures WidgetResources.
type WidgetResourcesOption func(*WidgetResources)

// WithResourcesPageSize sets the ListResources page size. Non-positive
// values are ignored.
func WithResourcesPageSize(n int) WidgetResourcesOption {
	return func(r *WidgetResources) {
		if n > 0 {
			r.pageSize = n
		}
	}
}

// WithResourcesLogger sets the logger.
func WithResourcesLogger(l *slog.Logger) WidgetResourcesOption {
	return func(r *WidgetResources) { r.log = l }
}

// NewWidgetResources wraps registry.
func NewWidgetResources(registry *widget.Registry, opts ...WidgetResourcesOption) *WidgetResources {
	r := &WidgetResources{
		registry: registry,
		pageSize: DefaultPageSize,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *WidgetResources) ListResources(ctx context.Context, cursor *string) (Page[mcp.Resource], error) {
	listings, err := r.registry.List(ctx)
	if err != nil {
		return NewPage[mcp.Resource](nil), fmt.Errorf("list widgets: %w", err)
	}
	all := make([]mcp.Resource, 0, len(listings))
	for _, l := range listings {
		all = append(all, mcp.Resource{
			URI:         l.URI,
			Name:        l.Name,
			Title:       l.Title,
			Description: l.Description,
			MimeType:    l.MIMEType,
			Meta:        l.Meta,
		})
	}
	return pageSlice(all, r.pageSize, cursor), nil
}

func (r *WidgetResources) ListResourceTemplates(ctx context.Context, cursor *string) (Page[mcp.ResourceTemplate], error) {
	return NewPage[mcp.ResourceTemplate](nil), nil
}

func (r *WidgetResources) ReadResource(ctx context.Context, uri string) ([]mcp.ResourceContents, error) {
	ctx = logctx.WithResourceData(ctx, &logctx.ResourceData{URI: uri})
	c, err := r.registry.Lookup(ctx, uri)
	if err != nil {
		if errors.Is(err, widget.ErrNotFound) {
			r.log.DebugContext(ctx, "resources.read.not_found", slog.String("err", err.Error()))
			return nil, fmt.Errorf("%w: %s", ErrResourceNotFound, uri)
		}
		return nil, fmt.Errorf("read %s: %w", uri, err)
	}
	rc := mcp.ResourceContents{URI: c.URI, MimeType: c.MIMEType, Meta: c.Meta}
	if utf8.Valid(c.Data) {
		rc.Text = string(c.Data)
	} else {
		rc.Blob = base64.StdEncoding.EncodeToString(c.Data)
	}
	return []mcp.ResourceContents{rc}, nil
}

func (r *WidgetResources) GetListChangedCapability(ctx context.Context) (ListChangedCapability, bool, error) {
	return listChangedFromSubscriber{sub: r}, true, nil
}

// Subscriber implements ChangeSubscriber.
func (r *WidgetResources) Subscriber() <-chan struct{} {
	return r.notifier.Subscriber()
}

// Changed drops cached documents and notifies list_changed subscribers.
func (r *WidgetResources) Changed(ctx context.Context) {
	if err := r.registry.Invalidate(ctx); err != nil {
		r.log.WarnContext(ctx, "resources.invalidate.fail", slog.String("err", err.Error()))
	}
	_ = r.notifier.Notify(ctx)
}

// Watch calls Changed whenever a file under roots changes, until ctx is
// done.
func (r *WidgetResources) Watch(ctx context.Context, roots []string, opts ...widget.WatcherOption) error {
	return widget.NewWatcher(roots, r.Changed, opts...).Run(ctx)
}

// Close releases list_changed subscribers.
func (r *WidgetResources) Close() {
	r.notifier.Close()
}
