package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

type stubTool struct {
	name   string
	schema map[string]any
	result any
	err    error
}

func (s stubTool) Name() string                { return s.name }
func (s stubTool) JSONSchema() map[string]any  { return s.schema }
func (s stubTool) Call(_ context.Context, _ json.RawMessage) (any, error) {
	return s.result, s.err
}

func TestRegistryDispatchReturnsToolResult(t *testing.T) {
	r := NewRegistry()
	r.Register(stubTool{name: "ping", schema: map[string]any{"description": "pings"}, result: map[string]any{"ok": true}})

	out, err := r.Dispatch(context.Background(), "ping", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("expected valid json payload: %v", err)
	}
	if decoded["ok"] != true {
		t.Fatalf("expected ok=true, got %v", decoded)
	}
}

func TestRegistryDispatchUnknownToolReturnsErrorPayload(t *testing.T) {
	r := NewRegistry()
	out, err := r.Dispatch(context.Background(), "missing", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var decoded map[string]any
	json.Unmarshal(out, &decoded)
	if decoded["error"] == nil {
		t.Fatalf("expected error payload, got %s", out)
	}
}

func TestRegistryDispatchToolErrorReturnsStructuredPayload(t *testing.T) {
	r := NewRegistry()
	r.Register(stubTool{name: "boom", schema: map[string]any{}, err: errors.New("kaboom")})

	out, err := r.Dispatch(context.Background(), "boom", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var decoded map[string]any
	json.Unmarshal(out, &decoded)
	if decoded["ok"] != false || decoded["error"] != "kaboom" {
		t.Fatalf("expected structured error payload, got %v", decoded)
	}
}

func TestRegistrySchemasReflectRegisteredTools(t *testing.T) {
	r := NewRegistry()
	r.Register(stubTool{name: "search", schema: map[string]any{
		"description": "search things",
		"parameters":  map[string]any{"type": "object"},
	}})

	schemas := r.Schemas()
	if len(schemas) != 1 {
		t.Fatalf("expected 1 schema, got %d", len(schemas))
	}
	if schemas[0].Name != "search" || schemas[0].Description != "search things" {
		t.Fatalf("unexpected schema: %+v", schemas[0])
	}
}

func TestRecordingRegistryInvokesCallbackOnDispatch(t *testing.T) {
	base := NewRegistry()
	base.Register(stubTool{name: "ping", schema: map[string]any{}, result: "pong"})

	var events []DispatchEvent
	rec := NewRecordingRegistry(base, func(e DispatchEvent) { events = append(events, e) })

	if _, err := rec.Dispatch(context.Background(), "ping", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 || events[0].Name != "ping" {
		t.Fatalf("expected one recorded ping event, got %+v", events)
	}
}

func TestRecordingRegistryDefaultsBaseWhenNil(t *testing.T) {
	rec := NewRecordingRegistry(nil, nil)
	rec.Register(stubTool{name: "x", schema: map[string]any{}, result: 1})
	if len(rec.Schemas()) != 1 {
		t.Fatalf("expected registration to reach the auto-created base registry")
	}
}
