// Package config loads process configuration from the environment and the
// widget manifest from YAML.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"

	"github.com/ecociel/mcp-app-go/mcp"
	"github.com/ecociel/mcp-app-go/widget"
)

// Cache backends understood by Env.CacheBackend.
const (
	CacheNone   = "none"
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Transports understood by Env.Transport.
const (
	TransportHTTP  = "http"
	TransportStdio = "stdio"
)

// Env holds settings sourced from environment variables. Command line flags
// override individual fields after loading.
type Env struct {
	// BuildDir holds built widget bundles. ENV: WIDGET_BUILD_DIR
	BuildDir string `env:"WIDGET_BUILD_DIR,default=assets/dist"`
	// DevDir holds unbuilt widget sources used when no build exists. ENV: WIDGET_DEV_DIR
	DevDir string `env:"WIDGET_DEV_DIR"`
	// Strategy is "inline" or "externalize". ENV: WIDGET_STRATEGY
	Strategy string `env:"WIDGET_STRATEGY,default=inline"`
	// MIMEType of canonical widget documents. ENV: WIDGET_MIME_TYPE
	MIMEType string `env:"WIDGET_MIME_TYPE,default=text/html+skybridge"`
	// Manifest is an optional YAML file declaring widgets and tools. ENV: WIDGET_MANIFEST
	Manifest string `env:"WIDGET_MANIFEST"`
	// Watch re-reads bundles when the build or dev directory changes. ENV: WIDGET_WATCH
	Watch bool `env:"WIDGET_WATCH,default=false"`

	Transport string `env:"MCP_TRANSPORT,default=http"`
	Addr      string `env:"MCP_ADDR,default=:8000"`
	Path      string `env:"MCP_PATH,default=/mcp"`

	CacheBackend   string        `env:"CACHE_BACKEND,default=memory"`
	CacheSize      int           `env:"CACHE_SIZE,default=256"`
	CacheTTL       time.Duration `env:"CACHE_TTL,default=0s"`
	RedisAddr      string        `env:"REDIS_ADDR,default=localhost:6379"`
	RedisKeyPrefix string        `env:"REDIS_KEY_PREFIX,default=mcp-app:cache:"`

	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=text"`

	OTelEnabled     bool    `env:"OTEL_ENABLED,default=false"`
	OTelEndpoint    string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelInsecure    bool    `env:"OTEL_EXPORTER_OTLP_INSECURE,default=false"`
	OTelServiceName string  `env:"OTEL_SERVICE_NAME,default=mcp-app-go"`
	OTelSampleRatio float64 `env:"OTEL_TRACES_SAMPLER_ARG,default=1"`
}

// LoadEnv decodes Env from the process environment, applying tag defaults.
func LoadEnv() (*Env, error) {
	var e Env
	if err := envdecode.Decode(&e); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	return &e, nil
}

// Validate reports the first invalid setting.
func (e *Env) Validate() error {
	if _, err := widget.ParseStrategy(e.Strategy); err != nil {
		return err
	}
	switch e.MIMEType {
	case mcp.MIMETypeSkybridge, mcp.MIMETypeMCPApp:
	default:
		return fmt.Errorf("unsupported widget MIME type %q", e.MIMEType)
	}
	switch e.Transport {
	case TransportHTTP, TransportStdio:
	default:
		return fmt.Errorf("unknown transport %q", e.Transport)
	}
	if e.Transport == TransportHTTP && !strings.HasPrefix(e.Path, "/") {
		return fmt.Errorf("http path %q must start with /", e.Path)
	}
	switch e.CacheBackend {
	case CacheNone, CacheMemory, CacheRedis:
	default:
		return fmt.Errorf("unknown cache backend %q", e.CacheBackend)
	}
	if e.CacheBackend == CacheMemory && e.CacheSize <= 0 {
		return fmt.Errorf("cache size must be positive, got %d", e.CacheSize)
	}
	if e.CacheTTL < 0 {
		return fmt.Errorf("cache ttl must not be negative, got %s", e.CacheTTL)
	}
	if _, err := ParseLogLevel(e.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLogLevel maps debug, info, warn and error to slog levels.
func ParseLogLevel(s string) (slog.Level, error) {
	var lv slog.Level
	if err := lv.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return lv, nil
}
