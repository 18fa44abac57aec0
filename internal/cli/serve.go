package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/ecociel/mcp-app-go/internal/app"
	"github.com/ecociel/mcp-app-go/internal/config"
	"github.com/ecociel/mcp-app-go/internal/telemetry"
	"github.com/ecociel/mcp-app-go/stdio"
	"github.com/ecociel/mcp-app-go/streaminghttp"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(st *state) *cobra.Command {
	var (
		transport string
		addr      string
		path      string
		cache     string
		watch     bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve widgets over streamable HTTP or stdio",
		Long: `Serve the declared widgets and tools.

With --transport http (the default) the server answers JSON-RPC POSTs on
--path. With --transport stdio it reads newline-delimited JSON-RPC from
stdin and writes responses to stdout; logs go to stderr.

Example:
  widget-server serve --build-dir web/dist --strategy externalize --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if flags.Changed("transport") {
				st.env.Transport = transport
			}
			if flags.Changed("addr") {
				st.env.Addr = addr
			}
			if flags.Changed("path") {
				st.env.Path = path
			}
			if flags.Changed("cache") {
				st.env.CacheBackend = cache
			}
			if flags.Changed("watch") {
				st.env.Watch = watch
			}
			return runServe(cmd, st)
		},
	}
	cmd.Flags().StringVar(&transport, "transport", config.TransportHTTP, "Transport: http|stdio")
	cmd.Flags().StringVar(&addr, "addr", ":8000", "HTTP listen address")
	cmd.Flags().StringVar(&path, "path", "/mcp", "HTTP route of the MCP endpoint")
	cmd.Flags().StringVar(&cache, "cache", config.CacheMemory, "Resolved document cache: none|memory|redis")
	cmd.Flags().BoolVar(&watch, "watch", false, "Reload widgets when the build or dev directory changes")
	return cmd
}

func runServe(cmd *cobra.Command, st *state) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	env := st.env

	tel, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        env.OTelEnabled,
		Endpoint:       env.OTelEndpoint,
		Insecure:       env.OTelInsecure,
		ServiceName:    env.OTelServiceName,
		ServiceVersion: st.version,
		SampleRatio:    env.OTelSampleRatio,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		if err := tel.Shutdown(sctx); err != nil {
			st.log.WarnContext(sctx, "telemetry.shutdown.fail", slog.String("err", err.Error()))
		}
	}()

	a, err := st.build(ctx, app.WithTracerProvider(tel.TracerProvider))
	if err != nil {
		return err
	}
	defer a.Close()

	if env.Watch {
		go func() {
			if err := a.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				st.log.ErrorContext(ctx, "widget.watch.fail", slog.String("err", err.Error()))
			}
		}()
	}

	st.log.InfoContext(ctx, "serve.start",
		slog.String("transport", env.Transport),
		slog.String("strategy", env.Strategy),
		slog.String("build_dir", env.BuildDir),
		slog.String("cache", env.CacheBackend),
	)

	switch env.Transport {
	case config.TransportStdio:
		h := stdio.NewHandler(a.Server,
			stdio.WithIO(cmd.InOrStdin(), cmd.OutOrStdout()),
			stdio.WithLogger(st.log),
		)
		return h.Serve(ctx)
	default:
		return serveHTTP(ctx, st, a)
	}
}

func serveHTTP(ctx context.Context, st *state, a *app.App) error {
	h, err := streaminghttp.New(a.Server,
		streaminghttp.WithPath(st.env.Path),
		streaminghttp.WithLogger(st.log),
	)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle(h.Path(), h)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	ln, err := net.Listen("tcp", st.env.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", st.env.Addr, err)
	}
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	st.log.InfoContext(ctx, "http.listen", slog.String("addr", ln.Addr().String()), slog.String("path", h.Path()))

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	st.log.InfoContext(sctx, "http.shutdown.ok")
	return nil
}
