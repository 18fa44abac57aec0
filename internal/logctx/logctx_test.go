package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestHandlerAddsContextGroups(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := Wrap(slog.New(slog.NewJSONHandler(&buf, nil))).With("component", "test")

	ctx := WithRequestData(context.Background(), &RequestData{RequestID: "r1", Transport: "http"})
	ctx = WithRPCMessage(ctx, &RPCMessage{Method: "resources/read", ID: "1", Type: "request"})
	ctx = WithResourceData(ctx, &ResourceData{URI: "ui://widget/greeting.html"})
	log.InfoContext(ctx, "widget.lookup.ok")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if rec["component"] != "test" {
		t.Fatalf("expected With attrs to survive, got %v", rec)
	}
	req, _ := rec["req"].(map[string]any)
	if req["id"] != "r1" || req["transport"] != "http" {
		t.Fatalf("unexpected req group: %v", rec["req"])
	}
	res, _ := rec["resource"].(map[string]any)
	if res["uri"] != "ui://widget/greeting.html" {
		t.Fatalf("unexpected resource group: %v", rec["resource"])
	}
	if _, ok := rec["tool"]; ok {
		t.Fatalf("tool group must be absent without tool data")
	}
}
