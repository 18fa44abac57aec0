package mcpservice

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ecociel/mcp-app-go/mcp"
)

// ErrInvalidLoggingLevel indicates the provided level is not one of the
// protocol-defined LoggingLevel values.
var ErrInvalidLoggingLevel = errors.New("invalid logging level")

// NewSlogLevelVarLogging returns a LoggingCapability that maps MCP levels
// onto lv. Handlers built with the same LevelVar follow the change.
func NewSlogLevelVarLogging(lv *slog.LevelVar) LoggingCapability {
	return &slogLevelVarLogging{lv: lv}
}

type slogLevelVarLogging struct{ lv *slog.LevelVar }

func (l *slogLevelVarLogging) SetLevel(ctx context.Context, level mcp.LoggingLevel) error {
	if !mcp.IsValidLoggingLevel(level) {
		return ErrInvalidLoggingLevel
	}
	if l.lv == nil {
		return nil
	}
	l.lv.Set(SlogLevel(level))
	return nil
}

// SlogLevel maps an MCP logging level to the closest slog level. Notice
// maps to info; error and everything above it map to error.
func SlogLevel(level mcp.LoggingLevel) slog.Level {
	switch level {
	case mcp.LoggingLevelDebug:
		return slog.LevelDebug
	case mcp.LoggingLevelWarning:
		return slog.LevelWarn
	case mcp.LoggingLevelError, mcp.LoggingLevelCritical, mcp.LoggingLevelAlert, mcp.LoggingLevelEmergency:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
