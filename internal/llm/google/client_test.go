package google

import (
	"encoding/json"
	"testing"

	genai "google.golang.org/genai"

	"github.com/Lumen-Labs/brainapi2/internal/llm"
)

func TestToContentsSkipsSystemAndCarriesToolCalls(t *testing.T) {
	args, _ := json.Marshal(map[string]any{"name": "acme"})
	msgs := []llm.Message{
		{Role: "system", Content: "be terse"},
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "looking it up", ToolCalls: []llm.ToolCall{{Name: "lookup", Args: args, ID: "call-1"}}},
		{Role: "tool", ToolID: "lookup", Content: `{"found": true}`},
	}

	contents, err := toContents(msgs)
	if err != nil {
		t.Fatalf("toContents returned error: %v", err)
	}
	if len(contents) != 3 {
		t.Fatalf("expected 3 contents (system skipped), got %d", len(contents))
	}
	if contents[0].Role != genai.RoleUser {
		t.Fatalf("expected first content role user, got %s", contents[0].Role)
	}
	if contents[1].Role != genai.RoleModel {
		t.Fatalf("expected assistant turn mapped to model role, got %s", contents[1].Role)
	}
	foundCall := false
	for _, p := range contents[1].Parts {
		if p.FunctionCall != nil && p.FunctionCall.Name == "lookup" {
			foundCall = true
		}
	}
	if !foundCall {
		t.Fatalf("expected function call part for lookup")
	}
}

func TestToContentsRequiresMessages(t *testing.T) {
	if _, err := toContents(nil); err == nil {
		t.Fatalf("expected error for empty messages")
	}
}

func TestAdaptToolsForcesEmitResultWhenSchemaSet(t *testing.T) {
	schema := map[string]any{"type": "object", "properties": map[string]any{"ok": map[string]any{"type": "boolean"}}}
	tools := []llm.ToolSchema{{Name: "search", Description: "search things", Parameters: map[string]any{"type": "object"}}}

	decls, cfg, err := adaptTools(tools, schema)
	if err != nil {
		t.Fatalf("adaptTools returned error: %v", err)
	}
	if len(decls) != 1 || len(decls[0].FunctionDeclarations) != 2 {
		t.Fatalf("expected search + emit_result declarations, got %+v", decls)
	}
	if cfg.FunctionCallingConfig.Mode != genai.FunctionCallingConfigModeAny {
		t.Fatalf("expected ANY mode when responseSchema set, got %s", cfg.FunctionCallingConfig.Mode)
	}
	if len(cfg.FunctionCallingConfig.AllowedFunctionNames) != 1 || cfg.FunctionCallingConfig.AllowedFunctionNames[0] != "emit_result" {
		t.Fatalf("expected allowed names restricted to emit_result, got %v", cfg.FunctionCallingConfig.AllowedFunctionNames)
	}
}

func TestAdaptToolsAutoModeWithoutSchema(t *testing.T) {
	tools := []llm.ToolSchema{{Name: "search", Parameters: map[string]any{"type": "object"}}}
	decls, cfg, err := adaptTools(tools, nil)
	if err != nil {
		t.Fatalf("adaptTools returned error: %v", err)
	}
	if len(decls[0].FunctionDeclarations) != 1 {
		t.Fatalf("expected only the declared tool, got %d", len(decls[0].FunctionDeclarations))
	}
	if cfg.FunctionCallingConfig.Mode != genai.FunctionCallingConfigModeAuto {
		t.Fatalf("expected AUTO mode without responseSchema, got %s", cfg.FunctionCallingConfig.Mode)
	}
}

func TestAdaptToolsRejectsUnnamedTool(t *testing.T) {
	if _, _, err := adaptTools([]llm.ToolSchema{{Name: "  "}}, nil); err == nil {
		t.Fatalf("expected error for blank tool name")
	}
}

func TestMessageFromResponseExtractsTextAndCalls(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{
				Content: &genai.Content{
					Parts: []*genai.Part{
						genai.NewPartFromText("partial answer"),
						genai.NewPartFromFunctionCall("emit_result", map[string]any{"ok": true}),
					},
				},
			},
		},
	}

	msg, err := messageFromResponse(resp)
	if err != nil {
		t.Fatalf("messageFromResponse returned error: %v", err)
	}
	if msg.Content != "partial answer" {
		t.Fatalf("unexpected content: %q", msg.Content)
	}
	if len(msg.ToolCalls) != 1 || msg.ToolCalls[0].Name != "emit_result" {
		t.Fatalf("expected single emit_result call, got %+v", msg.ToolCalls)
	}
}

func TestMessageFromResponseRejectsNoCandidates(t *testing.T) {
	if _, err := messageFromResponse(&genai.GenerateContentResponse{}); err == nil {
		t.Fatalf("expected error for empty candidates")
	}
}

func TestPickModelFallsBackToConfigured(t *testing.T) {
	c := &Client{model: "gemini-1.5-pro"}
	if got := c.pickModel(""); got != "gemini-1.5-pro" {
		t.Fatalf("expected fallback model, got %q", got)
	}
	if got := c.pickModel("gemini-2.0-flash"); got != "gemini-2.0-flash" {
		t.Fatalf("expected override model, got %q", got)
	}
}
