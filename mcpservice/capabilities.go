package mcpservice

import (
	"context"
	"errors"

	"github.com/ecociel/mcp-app-go/mcp"
)

// Capability accessors return (value, ok, error). ok == false means the
// capability is absent and is omitted from the initialize response; an empty
// value with ok == true is still advertised.
//
// Pagination uses Page[T]; a nil cursor requests the first page.

var (
	// ErrResourceNotFound is returned by ReadResource for an identifier the
	// server does not serve. Transports map it to JSON-RPC code -32002.
	ErrResourceNotFound = errors.New("resource not found")

	// ErrToolNotFound is returned by CallTool for an unknown tool name.
	ErrToolNotFound = errors.New("tool not found")
)

// ServerCapabilities describes the server to the protocol engine.
type ServerCapabilities interface {
	// GetServerInfo returns the implementation name and version.
	GetServerInfo(ctx context.Context) (mcp.ImplementationInfo, error)

	// GetPreferredProtocolVersion returns the version offered when the
	// client asks for one the server does not support.
	GetPreferredProtocolVersion(ctx context.Context) (string, bool, error)

	// GetInstructions returns optional human-readable instructions.
	GetInstructions(ctx context.Context) (string, bool, error)

	GetResourcesCapability(ctx context.Context) (ResourcesCapability, bool, error)
	GetToolsCapability(ctx context.Context) (ToolsCapability, bool, error)
	GetLoggingCapability(ctx context.Context) (LoggingCapability, bool, error)
}

// ResourcesCapability lists and reads resources.
type ResourcesCapability interface {
	// ListResources returns a page of resources. When more results exist,
	// Page.NextCursor is set.
	ListResources(ctx context.Context, cursor *string) (Page[mcp.Resource], error)

	// ListResourceTemplates returns a page of resource templates.
	ListResourceTemplates(ctx context.Context, cursor *string) (Page[mcp.ResourceTemplate], error)

	// ReadResource returns the contents of uri. Unknown identifiers yield an
	// error wrapping ErrResourceNotFound.
	ReadResource(ctx context.Context, uri string) ([]mcp.ResourceContents, error)

	// GetListChangedCapability reports whether list_changed notifications are
	// emitted.
	GetListChangedCapability(ctx context.Context) (ListChangedCapability, bool, error)
}

// ToolsCapability lists and invokes tools.
type ToolsCapability interface {
	ListTools(ctx context.Context, cursor *string) (Page[mcp.Tool], error)

	// CallTool invokes a tool. Argument problems are reported as a result
	// with IsError set; a returned error is a protocol-level failure.
	CallTool(ctx context.Context, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error)

	GetListChangedCapability(ctx context.Context) (ListChangedCapability, bool, error)
}

// LoggingCapability handles logging/setLevel.
type LoggingCapability interface {
	SetLevel(ctx context.Context, level mcp.LoggingLevel) error
}

// NotifyListChangedFunc is invoked each time a list changes.
type NotifyListChangedFunc func(ctx context.Context)

// ListChangedCapability registers a callback for list changes. The callback
// stays registered until ctx is done.
type ListChangedCapability interface {
	Register(ctx context.Context, fn NotifyListChangedFunc) (bool, error)
}

// listChangedFromSubscriber adapts a ChangeSubscriber to ListChangedCapability.
type listChangedFromSubscriber struct{ sub ChangeSubscriber }

func (l listChangedFromSubscriber) Register(ctx context.Context, fn NotifyListChangedFunc) (bool, error) {
	if l.sub == nil || fn == nil {
		return false, nil
	}
	ch := l.sub.Subscriber()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				fn(ctx)
			}
		}
	}()
	return true, nil
}
