package streaminghttp

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"

	"github.com/ecociel/mcp-app-go/internal/engine"
	"github.com/ecociel/mcp-app-go/internal/jsonrpc"
	"github.com/ecociel/mcp-app-go/internal/logctx"
	"github.com/ecociel/mcp-app-go/mcpservice"
)

var (
	_ http.Handler = (*Handler)(nil)
)

var (
	jsonMediaType = contenttype.NewMediaType("application/json")
)

const (
	defaultPath         = "/mcp"
	defaultMaxBodyBytes = 4 << 20

	requestIDHeader          = "X-Request-Id"
	mcpProtocolVersionHeader = "Mcp-Protocol-Version"
)

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

// Option configures the Handler.
type Option func(*Handler)

// WithPath sets the route the handler answers on. Defaults to "/mcp".
func WithPath(path string) Option {
	return func(h *Handler) {
		if path != "" {
			h.path = path
		}
	}
}

// WithLogger sets the logger used for transport events.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// WithMaxBodyBytes bounds the size of a single POSTed message.
func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBody = n
		}
	}
}

// Handler serves MCP JSON-RPC over plain HTTP POST. Every request carries
// exactly one message and gets exactly one JSON response, or 202 Accepted
// when the message is a notification.
type Handler struct {
	path    string
	log     *slog.Logger
	maxBody int64
	eng     *engine.Engine
	mux     *http.ServeMux
}

// New constructs a Handler serving the given server capabilities.
func New(srv mcpservice.ServerCapabilities, opts ...Option) (*Handler, error) {
	if srv == nil {
		return nil, errors.New("streaminghttp: server capabilities are required")
	}
	h := &Handler{
		path:    defaultPath,
		log:     slog.Default(),
		maxBody: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	// Every POST is its own exchange and request ids collide across
	// clients, so there is nothing a cancellation could safely target.
	h.eng = engine.NewEngine(srv, engine.WithLogger(h.log), engine.WithoutCancellation())

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+h.path, h.handlePostMCP)
	mux.HandleFunc(h.path, h.handleMethodNotAllowed)
	h.mux = mux
	return h, nil
}

// Path reports the route the handler is mounted on.
func (h *Handler) Path() string { return h.path }

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := uuid.NewString()
	w.Header().Set(requestIDHeader, reqID)
	h.mux.ServeHTTP(w, r.WithContext(logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  reqID,
		Transport:  "http",
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})))
}

func (h *Handler) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	h.log.InfoContext(r.Context(), "http.method_not_allowed", slog.String("method", r.Method))
	w.Header().Set("Allow", http.MethodPost)
	writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// handlePostMCP decodes one JSON-RPC message and answers it synchronously.
func (h *Handler) handlePostMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.post.start")

	mt, err := contenttype.GetMediaType(r)
	if err != nil || !mt.Matches(jsonMediaType) {
		h.log.InfoContext(ctx, "http.post.unsupported_media_type", slog.String("content_type", r.Header.Get("Content-Type")))
		writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		return
	}
	if _, _, err := contenttype.GetAcceptableMediaType(r, []contenttype.MediaType{jsonMediaType}); err != nil {
		h.log.InfoContext(ctx, "http.post.not_acceptable", slog.String("accept", r.Header.Get("Accept")))
		writeJSONError(w, http.StatusNotAcceptable, "client must accept application/json")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		h.log.ErrorContext(ctx, "http.post.read.fail", slog.String("err", err.Error()))
		writeJSONError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && trimmed[0] == '[' {
		h.log.InfoContext(ctx, "http.post.batch_rejected")
		h.writeResponse(w, http.StatusBadRequest, jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeInvalidRequest, "batch requests are not supported", nil))
		return
	}

	res := h.eng.HandleMessage(ctx, body)
	if res == nil {
		w.WriteHeader(http.StatusAccepted)
		h.log.InfoContext(ctx, "http.post.accepted", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return
	}

	status := http.StatusOK
	if res.Error != nil && res.ID.IsNil() {
		status = http.StatusBadRequest
	}
	if v := r.Header.Get(mcpProtocolVersionHeader); v != "" {
		w.Header().Set(mcpProtocolVersionHeader, v)
	}
	h.writeResponse(w, status, res)
	h.log.InfoContext(ctx, "http.post.ok", slog.Int("status", status), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
}

func (h *Handler) writeResponse(w http.ResponseWriter, status int, res *jsonrpc.Response) {
	b, err := json.Marshal(res)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
		return
	}
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_, _ = w.Write(b)
}
