package mcpservice

import (
	"context"

	"github.com/ecociel/mcp-app-go/mcp"
)

// ServerOption configures the ServerCapabilities built by NewServer.
type ServerOption func(*server)

type server struct {
	info            mcp.ImplementationInfo
	protocolVersion string
	instructions    *string

	resources ResourcesCapability
	tools     ToolsCapability
	logging   LoggingCapability
}

// NewServer builds a ServerCapabilities from static values.
func NewServer(opts ...ServerOption) ServerCapabilities {
	s := &server{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithServerInfo sets the implementation info returned by initialize.
func WithServerInfo(info mcp.ImplementationInfo) ServerOption {
	return func(s *server) { s.info = info }
}

// WithPreferredProtocolVersion sets the version offered to clients asking
// for an unsupported one. Defaults to mcp.LatestProtocolVersion.
func WithPreferredProtocolVersion(version string) ServerOption {
	return func(s *server) { s.protocolVersion = version }
}

// WithInstructions sets the instructions returned by initialize.
func WithInstructions(instr string) ServerOption {
	return func(s *server) { s.instructions = &instr }
}

// WithResourcesCapability wires the resources capability.
func WithResourcesCapability(c ResourcesCapability) ServerOption {
	return func(s *server) { s.resources = c }
}

// WithToolsCapability wires the tools capability.
func WithToolsCapability(c ToolsCapability) ServerOption {
	return func(s *server) { s.tools = c }
}

// WithLoggingCapability wires the logging capability.
func WithLoggingCapability(c LoggingCapability) ServerOption {
	return func(s *server) { s.logging = c }
}

func (s *server) GetServerInfo(ctx context.Context) (mcp.ImplementationInfo, error) {
	return s.info, nil
}

func (s *server) GetPreferredProtocolVersion(ctx context.Context) (string, bool, error) {
	if s.protocolVersion == "" {
		return mcp.LatestProtocolVersion, true, nil
	}
	return s.protocolVersion, true, nil
}

func (s *server) GetInstructions(ctx context.Context) (string, bool, error) {
	if s.instructions == nil {
		return "", false, nil
	}
	return *s.instructions, true, nil
}

func (s *server) GetResourcesCapability(ctx context.Context) (ResourcesCapability, bool, error) {
	return s.resources, s.resources != nil, nil
}

func (s *server) GetToolsCapability(ctx context.Context) (ToolsCapability, bool, error) {
	return s.tools, s.tools != nil, nil
}

func (s *server) GetLoggingCapability(ctx context.Context) (LoggingCapability, bool, error) {
	return s.logging, s.logging != nil, nil
}
