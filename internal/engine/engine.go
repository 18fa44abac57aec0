package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ecociel/mcp-app-go/internal/jsonrpc"
	"github.com/ecociel/mcp-app-go/internal/logctx"
	"github.com/ecociel/mcp-app-go/mcp"
	"github.com/ecociel/mcp-app-go/mcpservice"
)

// ErrCancelled is the cancellation cause recorded for requests abandoned via
// notifications/cancelled.
var ErrCancelled = errors.New("operation cancelled")

// Engine routes decoded JSON-RPC messages to the server capabilities.
//
// The only per-client state is the table of in-flight tool calls that
// notifications/cancelled aborts, keyed by request id. Request ids are only
// unique within one connection, so an Engine shared by many clients must be
// built WithoutCancellation.
type Engine struct {
	srv mcpservice.ServerCapabilities
	log *slog.Logger

	noTracking bool
	inflightMu sync.Mutex
	inflight   map[string]*inflightCall
}

type inflightCall struct {
	cancel context.CancelCauseFunc
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets a custom logger for the Engine.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithoutCancellation disables in-flight tracking. Cancellation
// notifications are then accepted and ignored.
func WithoutCancellation() EngineOption {
	return func(e *Engine) { e.noTracking = true }
}

func NewEngine(srv mcpservice.ServerCapabilities, opts ...EngineOption) *Engine {
	e := &Engine{
		srv:      srv,
		log:      slog.Default(),
		inflight: make(map[string]*inflightCall),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// HandleMessage decodes one JSON-RPC message and dispatches it. It returns
// nil when no response is due (notifications and stray responses).
// Malformed input yields a parse error or invalid request response with a
// null id.
func (e *Engine) HandleMessage(ctx context.Context, data []byte) *jsonrpc.Response {
	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		if !json.Valid(data) {
			e.log.InfoContext(ctx, "engine.decode.parse_error", slog.String("err", err.Error()))
			return jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeParseError, "parse error", nil)
		}
		e.log.InfoContext(ctx, "engine.decode.invalid", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeInvalidRequest, "invalid request", nil)
	}

	switch msg.Type() {
	case jsonrpc.KindResponse:
		// The server never issues requests, so there is nothing to correlate.
		e.log.DebugContext(ctx, "engine.decode.unexpected_response", slog.String("id", msg.ID.String()))
		return nil
	case jsonrpc.KindNotification:
		e.HandleNotification(ctx, msg.AsRequest())
		return nil
	}

	req := msg.AsRequest()
	res, err := e.HandleRequest(ctx, req)
	if err != nil {
		e.log.ErrorContext(ctx, "engine.handle_request.encode_fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil)
	}
	return res
}

// HandleRequest dispatches a request that expects a response.
func (e *Engine) HandleRequest(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{
		Method: req.Method,
		ID:     req.ID.String(),
		Type:   string(jsonrpc.KindRequest),
	})

	switch req.Method {
	case string(mcp.InitializeMethod):
		return e.handleInitialize(ctx, req)
	case string(mcp.PingMethod):
		return jsonrpc.NewResultResponse(req.ID, &mcp.EmptyResult{})
	case string(mcp.ToolsListMethod):
		return e.handleToolsList(ctx, req)
	case string(mcp.ToolsCallMethod):
		return e.handleToolCall(ctx, req)
	case string(mcp.ResourcesListMethod):
		return e.handleResourcesList(ctx, req)
	case string(mcp.ResourcesReadMethod):
		return e.handleResourcesRead(ctx, req)
	case string(mcp.ResourcesTemplatesListMethod):
		return e.handleResourcesTemplatesList(ctx, req)
	case string(mcp.LoggingSetLevelMethod):
		return e.handleSetLoggingLevel(ctx, req)
	}

	e.log.InfoContext(ctx, "engine.handle_request.unknown_method")
	return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "method not found", nil), nil
}

func (e *Engine) handleInitialize(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	var params mcp.InitializeRequest
	if err := json.Unmarshal(req.Params, &params); err != nil {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}

	res, err := e.initializeResult(ctx, params.ProtocolVersion)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}

	log.InfoContext(ctx, "engine.handle_request.ok",
		slog.String("client_name", params.ClientInfo.Name),
		slog.String("client_version", params.ClientInfo.Version),
		slog.String("protocol_version", res.ProtocolVersion),
		slog.Int64("dur_ms", time.Since(start).Milliseconds()),
	)
	return jsonrpc.NewResultResponse(req.ID, res)
}

// initializeResult negotiates the protocol version and advertises the
// configured capabilities. A supported client version is echoed; otherwise
// the server's preferred version is offered.
func (e *Engine) initializeResult(ctx context.Context, clientVersion string) (*mcp.InitializeResult, error) {
	negotiated := clientVersion
	if !mcp.IsSupportedProtocolVersion(clientVersion) {
		v, ok, err := e.srv.GetPreferredProtocolVersion(ctx)
		if err != nil {
			return nil, fmt.Errorf("get preferred protocol version: %w", err)
		}
		negotiated = mcp.LatestProtocolVersion
		if ok && v != "" {
			negotiated = v
		}
	}

	info, err := e.srv.GetServerInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("get server info: %w", err)
	}
	res := &mcp.InitializeResult{ProtocolVersion: negotiated, ServerInfo: info}

	if instr, ok, err := e.srv.GetInstructions(ctx); err != nil {
		return nil, fmt.Errorf("get instructions: %w", err)
	} else if ok {
		res.Instructions = instr
	}

	if resCap, ok, err := e.srv.GetResourcesCapability(ctx); err != nil {
		return nil, fmt.Errorf("get resources capability: %w", err)
	} else if ok && resCap != nil {
		entry := &struct {
			ListChanged bool `json:"listChanged"`
			Subscribe   bool `json:"subscribe"`
		}{}
		if lc, hasLC, err := resCap.GetListChangedCapability(ctx); err != nil {
			return nil, fmt.Errorf("get resources listChanged capability: %w", err)
		} else if hasLC && lc != nil {
			entry.ListChanged = true
		}
		res.Capabilities.Resources = entry
	}

	if toolsCap, ok, err := e.srv.GetToolsCapability(ctx); err != nil {
		return nil, fmt.Errorf("get tools capability: %w", err)
	} else if ok && toolsCap != nil {
		entry := &struct {
			ListChanged bool `json:"listChanged"`
		}{}
		if lc, hasLC, err := toolsCap.GetListChangedCapability(ctx); err != nil {
			return nil, fmt.Errorf("get tools listChanged capability: %w", err)
		} else if hasLC && lc != nil {
			entry.ListChanged = true
		}
		res.Capabilities.Tools = entry
	}

	if _, ok, err := e.srv.GetLoggingCapability(ctx); err != nil {
		return nil, fmt.Errorf("get logging capability: %w", err)
	} else if ok {
		res.Capabilities.Logging = &struct{}{}
	}
	return res, nil
}

func (e *Engine) handleSetLoggingLevel(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	var params mcp.SetLevelRequest
	if err := json.Unmarshal(req.Params, &params); err != nil {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}

	c, ok, err := e.srv.GetLoggingCapability(ctx)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}
	if !ok || c == nil {
		log.InfoContext(ctx, "engine.handle_request.unsupported", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "logging capability not supported", nil), nil
	}

	if err := c.SetLevel(ctx, params.Level); err != nil {
		if errors.Is(err, mcpservice.ErrInvalidLoggingLevel) {
			log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
		}
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}

	log.InfoContext(ctx, "engine.handle_request.ok", slog.String("level", string(params.Level)), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	return jsonrpc.NewResultResponse(req.ID, &mcp.EmptyResult{})
}

// cursorParam decodes an optional paginated params object.
func cursorParam(raw json.RawMessage) (*string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var params mcp.PaginatedRequest
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, err
	}
	if params.Cursor == "" {
		return nil, nil
	}
	return &params.Cursor, nil
}

func (e *Engine) handleToolsList(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	cursor, err := cursorParam(req.Params)
	if err != nil {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}

	c, ok, err := e.srv.GetToolsCapability(ctx)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}
	if !ok || c == nil {
		log.InfoContext(ctx, "engine.handle_request.unsupported", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "tools capability not supported", nil), nil
	}

	page, err := c.ListTools(ctx, cursor)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}

	result := &mcp.ListToolsResult{Tools: page.Items}
	if page.NextCursor != nil {
		result.NextCursor = *page.NextCursor
	}
	log.InfoContext(ctx, "engine.handle_request.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()), slog.Int("tool_count", len(page.Items)))
	return jsonrpc.NewResultResponse(req.ID, result)
}

func (e *Engine) handleToolCall(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	var params mcp.CallToolRequestReceived
	if err := json.Unmarshal(req.Params, &params); err != nil {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}
	if params.Name == "" {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", "missing tool name"), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}

	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: params.Name})

	c, ok, err := e.srv.GetToolsCapability(ctx)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}
	if !ok || c == nil {
		log.InfoContext(ctx, "engine.handle_request.unsupported", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "tools capability not supported", nil), nil
	}

	toolCtx, done := e.track(ctx, req.ID)
	defer done()

	res, err := c.CallTool(toolCtx, &params)
	if err != nil {
		switch {
		case errors.Is(err, mcpservice.ErrToolNotFound):
			log.InfoContext(ctx, "engine.handle_request.unknown_tool", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "unknown tool: "+params.Name, nil), nil
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			log.InfoContext(ctx, "engine.handle_request.cancelled", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "cancelled", nil), nil
		}
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}

	log.InfoContext(ctx, "engine.handle_request.ok", slog.Bool("is_error", res.IsError), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	return jsonrpc.NewResultResponse(req.ID, res)
}

func (e *Engine) handleResourcesList(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	cursor, err := cursorParam(req.Params)
	if err != nil {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}

	c, ok, err := e.srv.GetResourcesCapability(ctx)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}
	if !ok || c == nil {
		log.InfoContext(ctx, "engine.handle_request.unsupported", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "resources capability not supported", nil), nil
	}

	page, err := c.ListResources(ctx, cursor)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}

	res := &mcp.ListResourcesResult{Resources: page.Items}
	if page.NextCursor != nil {
		res.NextCursor = *page.NextCursor
	}
	log.InfoContext(ctx, "engine.handle_request.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()), slog.Int("resource_count", len(page.Items)))
	return jsonrpc.NewResultResponse(req.ID, res)
}

func (e *Engine) handleResourcesTemplatesList(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	cursor, err := cursorParam(req.Params)
	if err != nil {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}

	c, ok, err := e.srv.GetResourcesCapability(ctx)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}
	if !ok || c == nil {
		log.InfoContext(ctx, "engine.handle_request.unsupported", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "resources capability not supported", nil), nil
	}

	page, err := c.ListResourceTemplates(ctx, cursor)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}

	res := &mcp.ListResourceTemplatesResult{ResourceTemplates: page.Items}
	if page.NextCursor != nil {
		res.NextCursor = *page.NextCursor
	}
	log.InfoContext(ctx, "engine.handle_request.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	return jsonrpc.NewResultResponse(req.ID, res)
}

func (e *Engine) handleResourcesRead(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	var params mcp.ReadResourceRequest
	if err := json.Unmarshal(req.Params, &params); err != nil {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}
	if params.URI == "" {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", "missing uri"), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}

	ctx = logctx.WithResourceData(ctx, &logctx.ResourceData{URI: params.URI})

	c, ok, err := e.srv.GetResourcesCapability(ctx)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}
	if !ok || c == nil {
		log.InfoContext(ctx, "engine.handle_request.unsupported", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "resources capability not supported", nil), nil
	}

	contents, err := c.ReadResource(ctx, params.URI)
	if err != nil {
		if errors.Is(err, mcpservice.ErrResourceNotFound) {
			log.InfoContext(ctx, "engine.handle_request.not_found", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeResourceNotFound,
				"resource not found: "+params.URI, map[string]any{"uri": params.URI}), nil
		}
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}

	res := &mcp.ReadResourceResult{Contents: contents}
	log.InfoContext(ctx, "engine.handle_request.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()), slog.Int("content_count", len(contents)))
	return jsonrpc.NewResultResponse(req.ID, res)
}

// HandleNotification processes a client notification. Unknown notifications
// are ignored.
func (e *Engine) HandleNotification(ctx context.Context, note *jsonrpc.Request) {
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{
		Method: note.Method,
		Type:   string(jsonrpc.KindNotification),
	})

	switch note.Method {
	case string(mcp.InitializedNotificationMethod):
		e.log.InfoContext(ctx, "engine.session.initialized")
	case string(mcp.CancelledNotificationMethod):
		var params mcp.CancelledNotification
		if err := json.Unmarshal(note.Params, &params); err != nil || params.RequestID == nil {
			e.log.InfoContext(ctx, "engine.handle_notification.invalid")
			return
		}
		id := fmt.Sprint(params.RequestID)
		if e.cancel(id) {
			e.log.InfoContext(ctx, "engine.handle_notification.cancelled", slog.String("request_id", id), slog.String("reason", params.Reason))
		}
	default:
		e.log.DebugContext(ctx, "engine.handle_notification.ignored")
	}
}

// track registers a cancellable context for an in-flight request. A later
// request reusing the id takes over the entry; done only removes its own.
func (e *Engine) track(ctx context.Context, id *jsonrpc.RequestID) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(ctx)
	key := id.String()
	if key == "" || e.noTracking {
		return ctx, func() { cancel(context.Canceled) }
	}
	call := &inflightCall{cancel: cancel}
	e.inflightMu.Lock()
	e.inflight[key] = call
	e.inflightMu.Unlock()
	return ctx, func() {
		e.inflightMu.Lock()
		if e.inflight[key] == call {
			delete(e.inflight, key)
		}
		e.inflightMu.Unlock()
		cancel(context.Canceled)
	}
}

func (e *Engine) cancel(id string) bool {
	e.inflightMu.Lock()
	call, ok := e.inflight[id]
	e.inflightMu.Unlock()
	if ok {
		call.cancel(ErrCancelled)
	}
	return ok
}

// WatchListChanged writes a list_changed notification to w whenever the
// tool or resource set changes, until ctx is done.
func (e *Engine) WatchListChanged(ctx context.Context, w MessageWriter) {
	emit := func(method mcp.Method) mcpservice.NotifyListChangedFunc {
		return func(cbCtx context.Context) {
			note := &jsonrpc.Request{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: string(method)}
			if err := w.WriteMessage(cbCtx, note); err != nil {
				e.log.WarnContext(cbCtx, "engine.emitter.write.fail", slog.String("err", err.Error()))
			}
		}
	}

	if c, ok, err := e.srv.GetResourcesCapability(ctx); err == nil && ok && c != nil {
		if lc, hasLC, err := c.GetListChangedCapability(ctx); err == nil && hasLC && lc != nil {
			_, _ = lc.Register(ctx, emit(mcp.ResourcesListChangedNotificationMethod))
		}
	}
	if c, ok, err := e.srv.GetToolsCapability(ctx); err == nil && ok && c != nil {
		if lc, hasLC, err := c.GetListChangedCapability(ctx); err == nil && hasLC && lc != nil {
			_, _ = lc.Register(ctx, emit(mcp.ToolsListChangedNotificationMethod))
		}
	}
}
