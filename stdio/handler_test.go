package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ecociel/mcp-app-go/internal/jsonrpc"
	"github.com/ecociel/mcp-app-go/mcp"
	"github.com/ecociel/mcp-app-go/mcpservice"
	"github.com/ecociel/mcp-app-go/widget"
)

type testHarness struct {
	t         *testing.T
	stdinW    *io.PipeWriter
	lines     chan string
	done      chan error
	resources *mcpservice.WidgetResources
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	dist := filepath.Join(t.TempDir(), "dist")
	if err := os.MkdirAll(filepath.Join(dist, "greeting"), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dist, "greeting", "index.html"), []byte("<p>hi</p>"), 0o600); err != nil {
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
	resources := mcpservice.NewWidgetResources(reg)
	srv := mcpservice.NewServer(
		mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: "widgets", Version: "test"}),
		mcpservice.WithResourcesCapability(resources),
	)

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	h := NewHandler(srv, WithIO(inR, outW))

	ctx, cancel := context.WithCancel(context.Background())
	th := &testHarness{t: t, stdinW: inW, lines: make(chan string, 16), done: make(chan error, 1), resources: resources}
	go func() { th.done <- h.Serve(ctx) }()
	go func() {
		sc := bufio.NewScanner(outR)
		for sc.Scan() {
			th.lines <- sc.Text()
		}
	}()
	t.Cleanup(func() {
		cancel()
		_ = inW.Close()
		_ = outW.Close()
	})
	return th
}

func (th *testHarness) send(s string) {
	th.t.Helper()
	if _, err := th.stdinW.Write([]byte(s + "\n")); err != nil {
		th.t.Fatalf("write stdin: %v", err)
	}
}

func (th *testHarness) next() jsonrpc.AnyMessage {
	th.t.Helper()
	select {
	case line := <-th.lines:
		var msg jsonrpc.AnyMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			th.t.Fatalf("decode %q: %v", line, err)
		}
		return msg
	case <-time.After(2 * time.Second):
		th.t.Fatal("timeout waiting for output line")
	}
	return jsonrpc.AnyMessage{}
}

func TestStdioRequestResponse(t *testing.T) {
	t.Parallel()
	th := newHarness(t)

	th.send(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","capabilities":{},"clientInfo":{"name":"c","version":"1"}}}`)
	msg := th.next()
	if msg.Type() != jsonrpc.KindResponse || msg.Error != nil || msg.ID.String() != "1" {
		t.Fatalf("initialize response = %+v", msg)
	}

	th.send(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	th.send("")
	th.send(`{"jsonrpc":"2.0","id":2,"method":"resources/read","params":{"uri":"ui://widget/greeting.html"}}`)
	msg = th.next()
	if msg.ID.String() != "2" || msg.Error != nil {
		t.Fatalf("read response = %+v", msg)
	}
	var res mcp.ReadResourceResult
	if err := json.Unmarshal(msg.Result, &res); err != nil {
		t.Fatal(err)
	}
	if res.Contents[0].Text != "<p>hi</p>" {
		t.Fatalf("contents = %+v", res.Contents)
	}
}

func TestStdioParseError(t *testing.T) {
	t.Parallel()
	th := newHarness(t)

	th.send(`{garbage`)
	msg := th.next()
	if msg.Error == nil || msg.Error.Code != jsonrpc.ErrorCodeParseError {
		t.Fatalf("response = %+v", msg)
	}
	if !msg.ID.IsNil() {
		t.Fatalf("expected null id, got %q", msg.ID.String())
	}
}

func TestStdioListChangedNotification(t *testing.T) {
	t.Parallel()
	th := newHarness(t)

	// Round-trip once so Serve has registered its emitters.
	th.send(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	th.next()

	th.resources.Changed(context.Background())
	msg := th.next()
	if msg.Type() != jsonrpc.KindNotification || msg.Method != string(mcp.ResourcesListChangedNotificationMethod) {
		t.Fatalf("notification = %+v", msg)
	}
}

func TestStdioServeReturnsOnEOF(t *testing.T) {
	t.Parallel()
	th := newHarness(t)
	_ = th.stdinW.Close()
	select {
	case err := <-th.done:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return on EOF")
	}
}

func TestStdioLineTooLong(t *testing.T) {
	t.Parallel()
	inR, inW := io.Pipe()
	h := NewHandler(mcpservice.NewServer(), WithIO(inR, io.Discard), WithMaxLineBytes(16))
	done := make(chan error, 1)
	go func() { done <- h.Serve(context.Background()) }()
	go func() { _, _ = inW.Write([]byte(strings.Repeat("x", 64) + "\n")) }()

	select {
	case err := <-done:
		if err != ErrLineTooLong {
			t.Fatalf("Serve = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not reject the long line")
	}
}
