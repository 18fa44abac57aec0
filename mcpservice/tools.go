package mcpservice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/invopop/jsonschema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ecociel/mcp-app-go/internal/logctx"
	"github.com/ecociel/mcp-app-go/mcp"
	"github.com/ecociel/mcp-app-go/widget"
)

const tracerName = "github.com/ecociel/mcp-app-go/mcpservice"

// ToolFunc handles one tool invocation by writing to w. A returned error is
// a protocol-level failure; argument problems go into the result with
// SetError.
type ToolFunc func(ctx context.Context, w ToolResponseWriter, req *mcp.CallToolRequestReceived) error

// Tool pairs a descriptor with its handler.
type Tool struct {
	Descriptor mcp.Tool
	Handler    ToolFunc
}

// ToolOption configures the descriptor of a widget tool.
type ToolOption func(*toolConfig)

type toolConfig struct {
	title       string
	description string
	meta        map[string]any
	message     string
}

// WithToolTitle sets the display title.
func WithToolTitle(title string) ToolOption {
	return func(c *toolConfig) { c.title = title }
}

// WithToolDescription sets the tool description used in listings.
func WithToolDescription(desc string) ToolOption {
	return func(c *toolConfig) { c.description = desc }
}

// WithToolMeta merges extra keys into the descriptor _meta.
func WithToolMeta(meta map[string]any) ToolOption {
	return func(c *toolConfig) { c.meta = meta }
}

// WithToolResultMessage sets the result text of a reflected tool. Defaults
// to widget.DefaultToolMessage.
func WithToolResultMessage(msg string) ToolOption {
	return func(c *toolConfig) { c.message = msg }
}

// NewWidgetTool exposes h as a tool whose results render h.WidgetURI().
// The descriptor advertises the output template so hosts can prefetch the
// widget.
func NewWidgetTool(h *widget.ToolHandler, opts ...ToolOption) (Tool, error) {
	cfg := toolConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	input, err := toInputSchema(h.Schema())
	if err != nil {
		return Tool{}, fmt.Errorf("tool %s: %w", h.Name(), err)
	}

	meta := make(map[string]any, len(cfg.meta)+3)
	for k, v := range cfg.meta {
		meta[k] = v
	}
	meta[mcp.MetaOutputTemplate] = h.WidgetURI()
	meta[mcp.MetaWidgetAccessible] = true
	meta[mcp.MetaResultCanProduceWidget] = true

	desc := mcp.Tool{
		Name:        h.Name(),
		Title:       cfg.title,
		Description: cfg.description,
		InputSchema: input,
		Meta:        meta,
	}
	return Tool{Descriptor: desc, Handler: widgetToolFunc(h)}, nil
}

// NewTypedWidgetTool reflects the input schema from the Go type A and
// exposes it as a widget tool rendering widgetURI.
func NewTypedWidgetTool[A any](name, widgetURI string, opts ...ToolOption) (Tool, error) {
	cfg := toolConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	schema, err := reflectSchema[A]()
	if err != nil {
		return Tool{}, fmt.Errorf("tool %s: %w", name, err)
	}
	h, err := widget.NewToolHandler(name, widgetURI, schema, widget.WithToolMessage(cfg.message))
	if err != nil {
		return Tool{}, err
	}
	return NewWidgetTool(h, opts...)
}

func widgetToolFunc(h *widget.ToolHandler) ToolFunc {
	return func(ctx context.Context, w ToolResponseWriter, req *mcp.CallToolRequestReceived) error {
		var args map[string]any
		if len(req.Arguments) > 0 {
			dec := json.NewDecoder(bytes.NewReader(req.Arguments))
			dec.UseNumber()
			if err := dec.Decode(&args); err != nil {
				w.SetError(true)
				return w.AppendText(fmt.Sprintf("invalid arguments: %v", err))
			}
		}
		res, err := h.Invoke(ctx, args)
		var verr *widget.ValidationError
		if errors.As(err, &verr) {
			w.SetError(true)
			return w.AppendText(verr.Error())
		}
		if err != nil {
			return err
		}
		// Arguments ride along in _meta for the widget; the template key
		// always wins.
		for k, v := range res.StructuredContent {
			w.SetMeta(k, v)
		}
		w.SetMeta(mcp.MetaOutputTemplate, res.RenderHint)
		w.SetStructured(res.StructuredContent)
		return w.AppendText(res.Message)
	}
}

// reflectSchema reflects A into a JSON Schema object map.
func reflectSchema[A any]() (map[string]any, error) {
	r := &jsonschema.Reflector{
		Anonymous:      true,
		DoNotReference: true,
		ExpandedStruct: true,
	}
	b, err := json.Marshal(r.Reflect(new(A)))
	if err != nil {
		return nil, fmt.Errorf("encode reflected schema: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode reflected schema: %w", err)
	}
	delete(m, "$schema")
	delete(m, "$id")
	return m, nil
}

// toInputSchema projects a JSON Schema object onto the descriptor shape.
func toInputSchema(schema map[string]any) (mcp.ToolInputSchema, error) {
	var in mcp.ToolInputSchema
	b, err := json.Marshal(schema)
	if err != nil {
		return in, fmt.Errorf("encode input schema: %w", err)
	}
	if err := json.Unmarshal(b, &in); err != nil {
		return in, fmt.Errorf("decode input schema: %w", err)
	}
	if in.Type == "" {
		in.Type = "object"
	}
	return in, nil
}

// ToolsContainer owns a threadsafe set of tools and implements
// ToolsCapability over it.
type ToolsContainer struct {
	mu       sync.RWMutex
	tools    []mcp.Tool
	handlers map[string]ToolFunc

	notifier ChangeNotifier
	pageSize int
	log      *slog.Logger
	tracer   trace.Tracer
}

// ToolsContainerOption configures a ToolsContainer.
type ToolsContainerOption func(*ToolsContainer)

// WithToolsPageSize sets the ListTools page size. Non-positive values are
// ignored.
func WithToolsPageSize(n int) ToolsContainerOption {
	return func(c *ToolsContainer) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithToolsLogger sets the logger for call diagnostics.
func WithToolsLogger(l *slog.Logger) ToolsContainerOption {
	return func(c *ToolsContainer) { c.log = l }
}

// WithToolsTracerProvider sets the tracer provider for call spans.
func WithToolsTracerProvider(tp trace.TracerProvider) ToolsContainerOption {
	return func(c *ToolsContainer) { c.tracer = tp.Tracer(tracerName) }
}

// NewToolsContainer builds a container holding tools. Later tools replace
// earlier ones with the same name.
func NewToolsContainer(tools []Tool, opts ...ToolsContainerOption) *ToolsContainer {
	c := &ToolsContainer{
		pageSize: DefaultPageSize,
		log:      slog.Default(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.set(tools)
	return c
}

func (c *ToolsContainer) set(tools []Tool) {
	c.tools = make([]mcp.Tool, 0, len(tools))
	c.handlers = make(map[string]ToolFunc, len(tools))
	for _, t := range tools {
		name := t.Descriptor.Name
		if _, dup := c.handlers[name]; dup {
			for i := range c.tools {
				if c.tools[i].Name == name {
					c.tools[i] = t.Descriptor
				}
			}
		} else {
			c.tools = append(c.tools, t.Descriptor)
		}
		c.handlers[name] = t.Handler
	}
}

// Replace swaps the whole tool set and notifies list_changed subscribers.
func (c *ToolsContainer) Replace(ctx context.Context, tools ...Tool) {
	c.mu.Lock()
	c.set(tools)
	c.mu.Unlock()
	_ = c.notifier.Notify(ctx)
}

// Snapshot returns a copy of the current descriptors.
func (c *ToolsContainer) Snapshot() []mcp.Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]mcp.Tool(nil), c.tools...)
}

// Subscriber implements ChangeSubscriber.
func (c *ToolsContainer) Subscriber() <-chan struct{} {
	return c.notifier.Subscriber()
}

// Close releases list_changed subscribers.
func (c *ToolsContainer) Close() {
	c.notifier.Close()
}

func (c *ToolsContainer) ListTools(ctx context.Context, cursor *string) (Page[mcp.Tool], error) {
	c.mu.RLock()
	all := append([]mcp.Tool(nil), c.tools...)
	size := c.pageSize
	c.mu.RUnlock()
	return pageSlice(all, size, cursor), nil
}

func (c *ToolsContainer) CallTool(ctx context.Context, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
	if req == nil || req.Name == "" {
		return nil, fmt.Errorf("invalid tool request: missing name")
	}
	c.mu.RLock()
	h := c.handlers[req.Name]
	c.mu.RUnlock()
	if h == nil {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, req.Name)
	}

	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: req.Name})
	ctx, span := c.tracer.Start(ctx, "mcp.CallTool", trace.WithAttributes(attribute.String("mcp.tool.name", req.Name)))
	defer span.End()

	start := time.Now()
	w := newToolResponseWriter(ctx)
	if err := h(ctx, w, req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.log.ErrorContext(ctx, "tools.call.fail", slog.String("err", err.Error()))
		return nil, err
	}
	res := w.Result()
	span.SetAttributes(attribute.Bool("mcp.tool.is_error", res.IsError))
	c.log.InfoContext(ctx, "tools.call.ok",
		slog.Bool("is_error", res.IsError),
		slog.Int64("dur_ms", time.Since(start).Milliseconds()),
	)
	return res, nil
}

func (c *ToolsContainer) GetListChangedCapability(ctx context.Context) (ListChangedCapability, bool, error) {
	return listChangedFromSubscriber{sub: c}, true, nil
}
