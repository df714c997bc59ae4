package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestHandler_AddsContextGroups(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(Handler{Handler: slog.NewJSONHandler(&buf, nil)}).With(slog.String("component", "test"))

	ctx := WithConnData(context.Background(), &ConnData{ConnID: "c1", AgentName: "agent"})
	ctx = WithRPCMessage(ctx, &RPCMessage{Method: "secrets/get", ID: "3", Type: "request"})
	ctx = WithDocument(ctx, &DocumentData{URI: "file:///a.go", Event: "focus"})
	log.InfoContext(ctx, "hello")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	rpc, ok := rec["rpc"].(map[string]any)
	if !ok || rpc["method"] != "secrets/get" || rpc["id"] != "3" {
		t.Fatalf("missing rpc group: %v", rec)
	}
	doc, ok := rec["doc"].(map[string]any)
	if !ok || doc["uri"] != "file:///a.go" {
		t.Fatalf("missing doc group: %v", rec)
	}
	conn, ok := rec["conn"].(map[string]any)
	if !ok || conn["id"] != "c1" {
		t.Fatalf("missing conn group: %v", rec)
	}
	if rec["component"] != "test" {
		t.Fatalf("WithAttrs lost wrapper attrs: %v", rec)
	}
}
