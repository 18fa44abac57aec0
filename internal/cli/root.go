// Package cli implements the widget-server command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ecociel/mcp-app-go/internal/app"
	"github.com/ecociel/mcp-app-go/internal/config"
	"github.com/ecociel/mcp-app-go/internal/logctx"
)

// state is shared by all subcommands of one root command.
type state struct {
	version string
	env     *config.Env
	level   slog.LevelVar
	log     *slog.Logger
}

// NewRootCmd builds the command tree.
func NewRootCmd(version string) *cobra.Command {
	st := &state{version: version}

	var (
		manifest  string
		buildDir  string
		devDir    string
		strategy  string
		mimeType  string
		logLevel  string
		logFormat string
	)

	root := &cobra.Command{
		Use:   "widget-server",
		Short: "Serve HTML widgets to MCP hosts",
		Long: `widget-server exposes bundled HTML widgets as MCP resources and the
tools that render them, over streamable HTTP or stdio.

Settings come from the environment (WIDGET_*, MCP_*, CACHE_*, OTEL_*)
and may be overridden with flags.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			env, err := config.LoadEnv()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			override := func(name string, dst *string, v string) {
				if flags.Changed(name) {
					*dst = v
				}
			}
			override("manifest", &env.Manifest, manifest)
			override("build-dir", &env.BuildDir, buildDir)
			override("dev-dir", &env.DevDir, devDir)
			override("strategy", &env.Strategy, strategy)
			override("mime-type", &env.MIMEType, mimeType)
			override("log-level", &env.LogLevel, logLevel)
			override("log-format", &env.LogFormat, logFormat)
			st.env = env

			lv, err := config.ParseLogLevel(env.LogLevel)
			if err != nil {
				return err
			}
			st.level.Set(lv)
			st.log = newLogger(cmd.ErrOrStderr(), env.LogFormat, &st.level)
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&manifest, "manifest", "", "YAML manifest declaring widgets and tools (default: built-in greeting widget)")
	pf.StringVar(&buildDir, "build-dir", "", "Directory holding built widget bundles")
	pf.StringVar(&devDir, "dev-dir", "", "Directory holding unbuilt widget sources")
	pf.StringVar(&strategy, "strategy", "", "Bundle strategy: inline|externalize")
	pf.StringVar(&mimeType, "mime-type", "", "MIME type of widget documents")
	pf.StringVar(&logLevel, "log-level", "", "Log level: debug|info|warn|error")
	pf.StringVar(&logFormat, "log-format", "", "Log format: text|json")

	root.AddCommand(newServeCmd(st))
	root.AddCommand(newResolveCmd(st))
	root.AddCommand(newListCmd(st))
	return root
}

// Execute runs the command tree until it finishes or the process is
// interrupted.
func Execute(version string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := NewRootCmd(version).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newLogger(w io.Writer, format string, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return logctx.Wrap(slog.New(h))
}

// build assembles the application from the resolved configuration.
func (st *state) build(ctx context.Context, opts ...app.Option) (*app.App, error) {
	m, err := config.LoadManifest(st.env.Manifest)
	if err != nil {
		return nil, err
	}
	opts = append([]app.Option{
		app.WithLogger(st.log),
		app.WithLevelVar(&st.level),
		app.WithVersion(st.version),
	}, opts...)
	return app.New(ctx, st.env, m, opts...)
}
