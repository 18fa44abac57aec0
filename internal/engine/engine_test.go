package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ecociel/mcp-app-go/internal/jsonrpc"
	"github.com/ecociel/mcp-app-go/mcp"
	"github.com/ecociel/mcp-app-go/mcpservice"
	"github.com/ecociel/mcp-app-go/widget"
)

type greetingArgs struct {
	Name string `json:"name"`
}

type fixture struct {
	engine    *Engine
	srv       mcpservice.ServerCapabilities
	resources *mcpservice.WidgetResources
	tools     *mcpservice.ToolsContainer
}

func newFixture(t *testing.T, extra ...mcpservice.Tool) *fixture {
	t.Helper()
	dist := filepath.Join(t.TempDir(), "dist")
	if err := os.MkdirAll(filepath.Join(dist, "greeting"), 0o750); err != nil {
		t.Fatal(err)
	}
	doc := `<html><head><script src="app.js"></script></head><body></body></html>`
	if err := os.WriteFile(filepath.Join(dist, "greeting", "index.html"), []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dist, "greeting", "app.js"), []byte("go()"), 0o600); err != nil {
		t.Fatal(err)
	}

	resolver, err := widget.NewResolver(widget.StrategyInline)
	if err != nil {
		t.Fatal(err)
	}
	reg, err := widget.NewRegistry(widget.NewLocator(dist, ""), resolver, []widget.Widget{{Name: "greeting"}})
	if err != nil {
		t.Fatal(err)
	}
	greet, err := mcpservice.NewTypedWidgetTool[greetingArgs]("show-greeting-widget", widget.CanonicalURI("greeting"))
	if err != nil {
		t.Fatal(err)
	}

	var lv slog.LevelVar
	f := &fixture{
		resources: mcpservice.NewWidgetResources(reg),
		tools:     mcpservice.NewToolsContainer(append([]mcpservice.Tool{greet}, extra...)),
	}
	srv := mcpservice.NewServer(
		mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: "widgets", Version: "test"}),
		mcpservice.WithResourcesCapability(f.resources),
		mcpservice.WithToolsCapability(f.tools),
		mcpservice.WithLoggingCapability(mcpservice.NewSlogLevelVarLogging(&lv)),
	)
	f.srv = srv
	f.engine = NewEngine(srv)
	return f
}

func call(t *testing.T, e *Engine, body string) *jsonrpc.Response {
	t.Helper()
	return e.HandleMessage(context.Background(), []byte(body))
}

func decodeResult(t *testing.T, res *jsonrpc.Response, v any) {
	t.Helper()
	if res == nil {
		t.Fatal("expected response, got nil")
	}
	if res.Error != nil {
		t.Fatalf("unexpected error response: %+v", res.Error)
	}
	if err := json.Unmarshal(res.Result, v); err != nil {
		t.Fatalf("decode result: %v", err)
	}
}

func TestInitializeNegotiatesVersion(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	var got mcp.InitializeResult
	decodeResult(t, call(t, f.engine, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"c","version":"1"}}}`), &got)
	if got.ProtocolVersion != "2025-03-26" {
		t.Fatalf("protocol = %q", got.ProtocolVersion)
	}
	if got.ServerInfo.Name != "widgets" {
		t.Fatalf("server info = %+v", got.ServerInfo)
	}
	if got.Capabilities.Tools == nil || !got.Capabilities.Tools.ListChanged {
		t.Fatalf("tools capability = %+v", got.Capabilities.Tools)
	}
	if got.Capabilities.Resources == nil || !got.Capabilities.Resources.ListChanged || got.Capabilities.Resources.Subscribe {
		t.Fatalf("resources capability = %+v", got.Capabilities.Resources)
	}
	if got.Capabilities.Logging == nil {
		t.Fatal("logging capability missing")
	}

	decodeResult(t, call(t, f.engine, `{"jsonrpc":"2.0","id":2,"method":"initialize","params":{"protocolVersion":"1999-01-01","capabilities":{},"clientInfo":{"name":"c","version":"1"}}}`), &got)
	if got.ProtocolVersion != mcp.LatestProtocolVersion {
		t.Fatalf("protocol = %q, want %q", got.ProtocolVersion, mcp.LatestProtocolVersion)
	}
}

func TestPing(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	res := call(t, f.engine, `{"jsonrpc":"2.0","id":"p","method":"ping"}`)
	if res.Error != nil || string(res.Result) != "{}" {
		t.Fatalf("ping = %s / %+v", res.Result, res.Error)
	}
	if res.ID.String() != "p" {
		t.Fatalf("id = %q", res.ID.String())
	}
}

func TestToolsListCarriesWidgetMeta(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	var got mcp.ListToolsResult
	decodeResult(t, call(t, f.engine, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`), &got)
	if len(got.Tools) != 1 {
		t.Fatalf("tools = %+v", got.Tools)
	}
	tool := got.Tools[0]
	if tool.Meta[mcp.MetaOutputTemplate] != "ui://widget/greeting.html" {
		t.Fatalf("meta = %v", tool.Meta)
	}
	if tool.Meta[mcp.MetaWidgetAccessible] != true || tool.Meta[mcp.MetaResultCanProduceWidget] != true {
		t.Fatalf("meta = %v", tool.Meta)
	}
}

func TestToolsCall(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	var got mcp.CallToolResult
	decodeResult(t, call(t, f.engine, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"show-greeting-widget","arguments":{"name":"Ada"}}}`), &got)
	if got.IsError {
		t.Fatalf("unexpected tool error: %+v", got)
	}
	if got.StructuredContent["name"] != "Ada" {
		t.Fatalf("structuredContent = %v", got.StructuredContent)
	}
	if got.Meta[mcp.MetaOutputTemplate] != "ui://widget/greeting.html" {
		t.Fatalf("meta = %v", got.Meta)
	}
	if len(got.Content) != 1 || got.Content[0].Text != widget.DefaultToolMessage {
		t.Fatalf("content = %+v", got.Content)
	}

	decodeResult(t, call(t, f.engine, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"show-greeting-widget","arguments":{}}}`), &got)
	if !got.IsError || !strings.Contains(got.Content[0].Text, "name") {
		t.Fatalf("expected validation failure, got %+v", got)
	}
}

func TestToolsCallUnknownTool(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	res := call(t, f.engine, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"nope"}}`)
	if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeInvalidParams {
		t.Fatalf("error = %+v", res.Error)
	}
}

func TestResourcesReadAndNotFound(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	var got mcp.ReadResourceResult
	decodeResult(t, call(t, f.engine, `{"jsonrpc":"2.0","id":1,"method":"resources/read","params":{"uri":"ui://widget/greeting.html"}}`), &got)
	if len(got.Contents) != 1 || !strings.Contains(got.Contents[0].Text, "<script>go()</script>") {
		t.Fatalf("contents = %+v", got.Contents)
	}
	if got.Contents[0].MimeType != mcp.MIMETypeSkybridge {
		t.Fatalf("mime = %q", got.Contents[0].MimeType)
	}

	res := call(t, f.engine, `{"jsonrpc":"2.0","id":2,"method":"resources/read","params":{"uri":"ui://widget/greeting/..%2Fsecret"}}`)
	if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeResourceNotFound {
		t.Fatalf("error = %+v", res.Error)
	}
	if res.Error.Message != "resource not found: ui://widget/greeting/..%2Fsecret" {
		t.Fatalf("message = %q", res.Error.Message)
	}

	res = call(t, f.engine, `{"jsonrpc":"2.0","id":3,"method":"resources/read","params":{}}`)
	if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeInvalidParams {
		t.Fatalf("error = %+v", res.Error)
	}
}

func TestResourcesListAndTemplates(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	var got mcp.ListResourcesResult
	decodeResult(t, call(t, f.engine, `{"jsonrpc":"2.0","id":1,"method":"resources/list","params":{}}`), &got)
	if len(got.Resources) != 1 || got.Resources[0].URI != "ui://widget/greeting.html" {
		t.Fatalf("resources = %+v", got.Resources)
	}

	var tpl mcp.ListResourceTemplatesResult
	decodeResult(t, call(t, f.engine, `{"jsonrpc":"2.0","id":2,"method":"resources/templates/list"}`), &tpl)
	if tpl.ResourceTemplates == nil || len(tpl.ResourceTemplates) != 0 {
		t.Fatalf("templates = %+v", tpl.ResourceTemplates)
	}
}

func TestSetLevel(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	res := call(t, f.engine, `{"jsonrpc":"2.0","id":1,"method":"logging/setLevel","params":{"level":"debug"}}`)
	if res.Error != nil {
		t.Fatalf("error = %+v", res.Error)
	}
	res = call(t, f.engine, `{"jsonrpc":"2.0","id":2,"method":"logging/setLevel","params":{"level":"loud"}}`)
	if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeInvalidParams {
		t.Fatalf("error = %+v", res.Error)
	}
}

func TestMalformedAndUnknown(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	cases := []struct {
		body string
		code jsonrpc.ErrorCode
	}{
		{`{not json`, jsonrpc.ErrorCodeParseError},
		{`[{"jsonrpc":"2.0","id":1,"method":"ping"}]`, jsonrpc.ErrorCodeInvalidRequest},
		{`{"jsonrpc":"1.0","id":1,"method":"ping"}`, jsonrpc.ErrorCodeInvalidRequest},
		{`{"jsonrpc":"2.0","id":1,"method":"prompts/list"}`, jsonrpc.ErrorCodeMethodNotFound},
	}
	for _, tc := range cases {
		res := call(t, f.engine, tc.body)
		if res == nil || res.Error == nil || res.Error.Code != tc.code {
			t.Fatalf("%s: response = %+v", tc.body, res)
		}
	}
}

func TestNotificationsGetNoResponse(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	for _, body := range []string{
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","method":"notifications/cancelled","params":{"requestId":42}}`,
		`{"jsonrpc":"2.0","method":"notifications/whatever"}`,
		`{"jsonrpc":"2.0","id":9,"result":{}}`,
	} {
		if res := call(t, f.engine, body); res != nil {
			t.Fatalf("%s: unexpected response %+v", body, res)
		}
	}
}

func TestCancelledNotificationAbortsToolCall(t *testing.T) {
	t.Parallel()
	started := make(chan struct{})
	slow := mcpservice.Tool{
		Descriptor: mcp.Tool{Name: "slow", InputSchema: mcp.ToolInputSchema{Type: "object"}},
		Handler: func(ctx context.Context, w mcpservice.ToolResponseWriter, req *mcp.CallToolRequestReceived) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		},
	}
	f := newFixture(t, slow)

	done := make(chan *jsonrpc.Response, 1)
	go func() {
		done <- call(t, f.engine, `{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"slow"}}`)
	}()
	<-started
	call(t, f.engine, `{"jsonrpc":"2.0","method":"notifications/cancelled","params":{"requestId":7,"reason":"user"}}`)

	select {
	case res := <-done:
		if res.Error == nil || res.Error.Message != "cancelled" {
			t.Fatalf("response = %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tool call was not cancelled")
	}
}

// blockingTool returns a tool that signals started, then waits for release
// or cancellation.
func blockingTool(name string, started, release chan struct{}) mcpservice.Tool {
	return mcpservice.Tool{
		Descriptor: mcp.Tool{Name: name, InputSchema: mcp.ToolInputSchema{Type: "object"}},
		Handler: func(ctx context.Context, w mcpservice.ToolResponseWriter, req *mcp.CallToolRequestReceived) error {
			close(started)
			select {
			case <-release:
				return w.AppendText("released")
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
}

func TestCancelledNotificationAfterIDReuse(t *testing.T) {
	t.Parallel()
	firstStarted, firstRelease := make(chan struct{}), make(chan struct{})
	secondStarted, secondRelease := make(chan struct{}), make(chan struct{})
	defer close(secondRelease)
	f := newFixture(t,
		blockingTool("first", firstStarted, firstRelease),
		blockingTool("second", secondStarted, secondRelease),
	)

	first := make(chan *jsonrpc.Response, 1)
	go func() {
		first <- call(t, f.engine, `{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"first"}}`)
	}()
	<-firstStarted
	second := make(chan *jsonrpc.Response, 1)
	go func() {
		second <- call(t, f.engine, `{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"second"}}`)
	}()
	<-secondStarted

	// The first call finishing must not drop the second call's entry.
	close(firstRelease)
	if res := <-first; res.Error != nil {
		t.Fatalf("first response = %+v", res)
	}
	call(t, f.engine, `{"jsonrpc":"2.0","method":"notifications/cancelled","params":{"requestId":7}}`)

	select {
	case res := <-second:
		if res.Error == nil || res.Error.Message != "cancelled" {
			t.Fatalf("second response = %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second call was not cancelled")
	}
}

func TestWithoutCancellationIgnoresCancelledNotification(t *testing.T) {
	t.Parallel()
	started, release := make(chan struct{}), make(chan struct{})
	f := newFixture(t, blockingTool("slow", started, release))
	e := NewEngine(f.srv, WithoutCancellation())

	done := make(chan *jsonrpc.Response, 1)
	go func() {
		done <- call(t, e, `{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"slow"}}`)
	}()
	<-started
	if res := call(t, e, `{"jsonrpc":"2.0","method":"notifications/cancelled","params":{"requestId":7}}`); res != nil {
		t.Fatalf("unexpected response %+v", res)
	}

	select {
	case res := <-done:
		t.Fatalf("call ended early: %+v", res)
	case <-time.After(100 * time.Millisecond):
	}
	close(release)
	select {
	case res := <-done:
		if res.Error != nil {
			t.Fatalf("response = %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("call did not finish")
	}
}

type recordingWriter struct {
	mu   sync.Mutex
	msgs []string
	seen chan struct{}
}

func (w *recordingWriter) WriteMessage(ctx context.Context, msg any) error {
	req := msg.(*jsonrpc.Request)
	w.mu.Lock()
	w.msgs = append(w.msgs, req.Method)
	w.mu.Unlock()
	w.seen <- struct{}{}
	return nil
}

func TestWatchListChanged(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := &recordingWriter{seen: make(chan struct{}, 4)}
	f.engine.WatchListChanged(ctx, w)

	f.resources.Changed(ctx)
	select {
	case <-w.seen:
	case <-time.After(2 * time.Second):
		t.Fatal("no resources notification")
	}
	f.tools.Replace(ctx)
	select {
	case <-w.seen:
	case <-time.After(2 * time.Second):
		t.Fatal("no tools notification")
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	want := []string{
		string(mcp.ResourcesListChangedNotificationMethod),
		string(mcp.ToolsListChangedNotificationMethod),
	}
	if strings.Join(w.msgs, ",") != strings.Join(want, ",") {
		t.Fatalf("notifications = %v", w.msgs)
	}
}
