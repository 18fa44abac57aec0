// Package app assembles a widget server from configuration: the widget
// registry and its cache, the tools container and the MCP server
// capabilities shared by every transport.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/ecociel/mcp-app-go/internal/config"
	"github.com/ecociel/mcp-app-go/mcp"
	"github.com/ecociel/mcp-app-go/mcpservice"
	"github.com/ecociel/mcp-app-go/storage"
	"github.com/ecociel/mcp-app-go/storage/memory"
	"github.com/ecociel/mcp-app-go/storage/redis"
	"github.com/ecociel/mcp-app-go/widget"
)

// GreetingArgs are the arguments of the built-in greeting tool.
type GreetingArgs struct {
	Name string `json:"name" jsonschema:"title=Name,description=Who to greet"`
}

// App holds the assembled components.
type App struct {
	Registry  *widget.Registry
	Resources *mcpservice.WidgetResources
	Tools     *mcpservice.ToolsContainer
	Server    mcpservice.ServerCapabilities

	env     *config.Env
	log     *slog.Logger
	closers []func() error
}

// Option configures New.
type Option func(*options)

type options struct {
	log     *slog.Logger
	level   *slog.LevelVar
	tp      trace.TracerProvider
	version string
}

// WithLogger sets the logger shared by all components.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithLevelVar lets MCP clients adjust the server log level through
// logging/setLevel.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(o *options) { o.level = lv }
}

// WithTracerProvider sets the tracer provider for lookup and tool spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tp = tp }
}

// WithVersion sets the version advertised in serverInfo.
func WithVersion(v string) Option {
	return func(o *options) { o.version = v }
}

// New validates env and manifest and assembles the server.
func New(ctx context.Context, env *config.Env, manifest *config.Manifest, opts ...Option) (*App, error) {
	o := options{log: slog.Default(), tp: otel.GetTracerProvider(), version: "dev"}
	for _, opt := range opts {
		opt(&o)
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	if err := manifest.Validate(); err != nil {
		return nil, err
	}

	a := &App{env: env, log: o.log}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	strategy, err := widget.ParseStrategy(env.Strategy)
	if err != nil {
		return nil, err
	}
	resolver, err := widget.NewResolver(strategy, widget.WithResolverLogger(o.log))
	if err != nil {
		return nil, err
	}
	regOpts := []widget.RegistryOption{
		widget.WithWidgetMIMEType(env.MIMEType),
		widget.WithRegistryLogger(o.log),
		widget.WithTracerProvider(o.tp),
	}
	cache, err := a.openCache(ctx)
	if err != nil {
		return nil, err
	}
	if cache != nil {
		regOpts = append(regOpts, widget.WithCache(cache, env.CacheTTL))
	}
	a.Registry, err = widget.NewRegistry(widget.NewLocator(env.BuildDir, env.DevDir), resolver, manifest.WidgetList(), regOpts...)
	if err != nil {
		return nil, err
	}
	a.Resources = mcpservice.NewWidgetResources(a.Registry, mcpservice.WithResourcesLogger(o.log))
	a.closers = append(a.closers, func() error { a.Resources.Close(); return nil })

	tools, err := BuildTools(manifest)
	if err != nil {
		return nil, err
	}
	a.Tools = mcpservice.NewToolsContainer(tools,
		mcpservice.WithToolsLogger(o.log),
		mcpservice.WithToolsTracerProvider(o.tp),
	)
	a.closers = append(a.closers, func() error { a.Tools.Close(); return nil })

	srvOpts := []mcpservice.ServerOption{
		mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: "mcp-app-go", Title: "Widget server", Version: o.version}),
		mcpservice.WithResourcesCapability(a.Resources),
		mcpservice.WithToolsCapability(a.Tools),
	}
	if manifest.Instructions != "" {
		srvOpts = append(srvOpts, mcpservice.WithInstructions(manifest.Instructions))
	}
	if o.level != nil {
		srvOpts = append(srvOpts, mcpservice.WithLoggingCapability(mcpservice.NewSlogLevelVarLogging(o.level)))
	}
	a.Server = mcpservice.NewServer(srvOpts...)

	ok = true
	return a, nil
}

func (a *App) openCache(ctx context.Context) (storage.Storage, error) {
	switch a.env.CacheBackend {
	case config.CacheMemory:
		s, err := memory.New(a.env.CacheSize)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	case config.CacheRedis:
		client := goredis.NewClient(&goredis.Options{Addr: a.env.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		s, err := redis.New(redis.Config{Client: client, KeyPrefix: a.env.RedisKeyPrefix})
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	default:
		return nil, nil
	}
}

// BuildTools creates one widget tool per manifest entry.
func BuildTools(m *config.Manifest) ([]mcpservice.Tool, error) {
	out := make([]mcpservice.Tool, 0, len(m.Tools))
	for _, spec := range m.Tools {
		uri, ok := m.WidgetURI(spec.Widget)
		if !ok {
			return nil, fmt.Errorf("tool %s: unknown widget %q", spec.Name, spec.Widget)
		}
		opts := []mcpservice.ToolOption{
			mcpservice.WithToolTitle(spec.Title),
			mcpservice.WithToolDescription(spec.Description),
			mcpservice.WithToolMeta(spec.Meta),
			mcpservice.WithToolResultMessage(spec.Message),
		}

		var (
			tool mcpservice.Tool
			err  error
		)
		switch spec.Args {
		case config.ArgsGreeting:
			tool, err = mcpservice.NewTypedWidgetTool[GreetingArgs](spec.Name, uri, opts...)
		default:
			var h *widget.ToolHandler
			h, err = widget.NewToolHandler(spec.Name, uri, spec.InputSchema, widget.WithToolMessage(spec.Message))
			if err == nil {
				tool, err = mcpservice.NewWidgetTool(h, opts...)
			}
		}
		if err != nil {
			return nil, err
		}
		out = append(out, tool)
	}
	return out, nil
}

// WatchRoots returns the directories whose changes invalidate resolved
// documents.
func (a *App) WatchRoots() []string {
	roots := []string{a.env.BuildDir}
	if a.env.DevDir != "" {
		roots = append(roots, a.env.DevDir)
	}
	return roots
}

// Watch invalidates cached documents and notifies clients whenever a file
// under WatchRoots changes. When a manifest file is configured, edits to it
// reload the tool set. It blocks until ctx is done.
func (a *App) Watch(ctx context.Context) error {
	if a.env.Manifest == "" {
		return a.Resources.Watch(ctx, a.WatchRoots(), widget.WithWatcherLogger(a.log))
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errc := make(chan error, 1)
	go func() {
		errc <- widget.NewWatcher([]string{a.env.Manifest}, a.reloadTools, widget.WithWatcherLogger(a.log)).Run(ctx)
	}()
	err := a.Resources.Watch(ctx, a.WatchRoots(), widget.WithWatcherLogger(a.log))
	cancel()
	return errors.Join(err, <-errc)
}

// ReloadTools re-reads the manifest file and swaps the tool set. Widgets
// are fixed for the lifetime of the App, so every tool must still target
// a registered widget.
func (a *App) ReloadTools(ctx context.Context) error {
	m, err := config.LoadManifest(a.env.Manifest)
	if err != nil {
		return err
	}
	for _, spec := range m.Tools {
		uri, _ := m.WidgetURI(spec.Widget)
		w, ok := a.Registry.Widget(spec.Widget)
		if !ok || w.CanonicalURI() != uri {
			return fmt.Errorf("tool %s: widget %q is not registered; restart to change widgets", spec.Name, spec.Widget)
		}
	}
	tools, err := BuildTools(m)
	if err != nil {
		return err
	}
	a.Tools.Replace(ctx, tools...)
	a.log.InfoContext(ctx, "tools.reload.ok", slog.Int("tools", len(tools)))
	return nil
}

func (a *App) reloadTools(ctx context.Context) {
	if err := a.ReloadTools(ctx); err != nil {
		a.log.WarnContext(ctx, "tools.reload.fail", slog.String("err", err.Error()))
	}
}

// Close releases the cache backend and change subscribers.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
