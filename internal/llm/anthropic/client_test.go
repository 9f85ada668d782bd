package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Lumen-Labs/brainapi2/internal/llm"
)

func newTestServer(t *testing.T, body map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal test response: %v", err)
		}
		_, _ = w.Write(b)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestChatReturnsText(t *testing.T) {
	srv := newTestServer(t, map[string]any{
		"id":      "msg_1",
		"type":    "message",
		"role":    "assistant",
		"model":   "claude-3-7-sonnet-latest",
		"content":   []map[string]any{{"type": "text", "text": "hello there"}},
		"stop_reason": "end_turn",
		"usage":   map[string]any{"input_tokens": 12, "output_tokens": 3},
	})
	client := New(Config{APIKey: "k", BaseURL: srv.URL})

	msg, usage, err := client.Chat(context.Background(), []llm.Message{{Role: "user", Content: "hi"}}, nil, "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Content != "hello there" {
		t.Fatalf("unexpected content: %q", msg.Content)
	}
	if usage.InputTokens != 12 || usage.OutputTokens != 3 {
		t.Fatalf("unexpected usage: %+v", usage)
	}
}

func TestChatToolCall(t *testing.T) {
	srv := newTestServer(t, map[string]any{
		"id":    "msg_2",
		"type":  "message",
		"role":  "assistant",
		"model": "claude-3-7-sonnet-latest",
		"content": []map[string]any{
			{"type": "tool_use", "id": "call-1", "name": "emit_result", "input": map[string]any{"observations": []string{"a"}}},
		},
		"stop_reason": "tool_use",
		"usage":       map[string]any{"input_tokens": 20, "output_tokens": 5},
	})
	client := New(Config{APIKey: "k", BaseURL: srv.URL})

	schema := map[string]any{
		"type":       "object",
		"properties": map[string]any{"observations": map[string]any{"type": "array"}},
	}
	msg, _, err := client.Chat(context.Background(), []llm.Message{{Role: "user", Content: "hi"}}, nil, "", schema)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msg.ToolCalls) != 1 || msg.ToolCalls[0].Name != "emit_result" {
		t.Fatalf("expected a single emit_result tool call, got %+v", msg.ToolCalls)
	}
}

func TestChatRequiresMessages(t *testing.T) {
	client := New(Config{APIKey: "k"})
	if _, _, err := client.Chat(context.Background(), nil, nil, "", nil); err == nil {
		t.Fatal("expected an error for an empty message list")
	}
}

func TestChatRejectsUnsupportedRole(t *testing.T) {
	client := New(Config{APIKey: "k"})
	if _, _, err := client.Chat(context.Background(), []llm.Message{{Role: "narrator", Content: "x"}}, nil, "", nil); err == nil {
		t.Fatal("expected an error for an unsupported role")
	}
}
