package architect

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Lumen-Labs/brainapi2/internal/agent/janitor"
	"github.com/Lumen-Labs/brainapi2/internal/kg"
	"github.com/Lumen-Labs/brainapi2/internal/llm"
	"github.com/Lumen-Labs/brainapi2/internal/retry"
)

type scriptedProvider struct {
	steps []llm.Message
	calls int
}

func (s *scriptedProvider) Chat(_ context.Context, _ []llm.Message, _ []llm.ToolSchema, _ string, _ map[string]any) (llm.Message, llm.Usage, error) {
	msg := s.steps[s.calls]
	s.calls++
	return msg, llm.Usage{InputTokens: 10, OutputTokens: 5}, nil
}

func toolCallMsg(name string, args any, id string) llm.Message {
	raw, _ := json.Marshal(args)
	return llm.Message{Role: "assistant", ToolCalls: []llm.ToolCall{{Name: name, Args: raw, ID: id}}}
}

func twoEntities() []kg.ScoutEntity {
	return []kg.ScoutEntity{
		{UUID: "actor-1", Type: "PERSON", Name: "Alice", Polarity: kg.PolarityPositive},
		{UUID: "event-1", Type: "EVENT", Name: "Donated", Polarity: kg.PolarityPositive},
	}
}

func sampleRel() kg.ArchitectRelationship {
	return kg.ArchitectRelationship{
		UUID:    "rel-1",
		FlowKey: "flow-1",
		Tail:    kg.EntityRef{UUID: "actor-1", Type: "PERSON", Name: "Alice"},
		Tip:     kg.EntityRef{UUID: "event-1", Type: "EVENT", Name: "Donated"},
		Name:    "MADE",
	}
}

func TestBuildToolerConvergesAndReturnsAccumulatedRelationships(t *testing.T) {
	rel := sampleRel()
	provider := &scriptedProvider{steps: []llm.Message{
		toolCallMsg("get_remaining_entities_to_process", map[string]any{}, "c1"),
		toolCallMsg("create_relationship", map[string]any{"relationships": []kg.ArchitectRelationship{rel}}, "c2"),
		toolCallMsg("mark_entities_as_used", map[string]any{"entity_uuids": []string{"actor-1", "event-1"}}, "c3"),
		{Role: "assistant", Content: "all entities processed"},
	}}
	a := &Agent{Provider: provider, Model: "test-model", RetryPolicy: fastPolicy()}

	relationships, err := a.Build(context.Background(), "Alice donated.", twoEntities(), nil, "brain-1", "session-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(relationships) != 1 || relationships[0].Name != "MADE" {
		t.Fatalf("expected the created relationship to survive into the result, got %+v", relationships)
	}
}

func TestBuildToolerWithJanitorAutoFixesRelationship(t *testing.T) {
	rel := sampleRel()
	fixed := rel
	fixed.Name = "TARGETED"

	provider := &scriptedProvider{steps: []llm.Message{
		toolCallMsg("create_relationship", map[string]any{"relationships": []kg.ArchitectRelationship{rel}}, "c1"),
		{Role: "assistant", Content: "done"},
	}}
	janitorPayload := map[string]any{"outcome": "ok", "fixed": []kg.ArchitectRelationship{fixed}}
	janitorMsg := llm.Message{
		Role:      "assistant",
		ToolCalls: []llm.ToolCall{{Name: "emit_result", Args: mustMarshal(t, janitorPayload), ID: "j1"}},
	}
	jAgent := &janitor.Agent{Provider: fixedProvider{msg: janitorMsg}, Model: "test-model", RetryPolicy: fastPolicy()}

	a := &Agent{Provider: provider, Model: "test-model", Janitor: jAgent, RetryPolicy: fastPolicy()}

	relationships, err := a.Build(context.Background(), "text", twoEntities(), nil, "brain-1", "session-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(relationships) != 1 || relationships[0].Name != "TARGETED" {
		t.Fatalf("expected janitor-fixed relationship to replace the original, got %+v", relationships)
	}
}

func TestBuildSingleShotAccumulatesRelationship(t *testing.T) {
	rel := sampleRel()
	payload := map[string]any{"relationships": []kg.ArchitectRelationship{rel}}
	msg := llm.Message{
		Role:      "assistant",
		ToolCalls: []llm.ToolCall{{Name: "emit_result", Args: mustMarshal(t, payload), ID: "c1"}},
	}
	provider := fixedProvider{msg: msg}
	a := &Agent{Provider: provider, Model: "test-model", SingleShot: true, RetryPolicy: fastPolicy()}

	relationships, err := a.Build(context.Background(), "Alice donated.", twoEntities(), nil, "brain-1", "session-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(relationships) != 1 || relationships[0].Name != "MADE" {
		t.Fatalf("expected the relationship to be accumulated, got %+v", relationships)
	}
}

type fixedProvider struct {
	msg llm.Message
	err error
}

func (f fixedProvider) Chat(_ context.Context, _ []llm.Message, _ []llm.ToolSchema, _ string, _ map[string]any) (llm.Message, llm.Usage, error) {
	if f.err != nil {
		return llm.Message{}, llm.Usage{}, f.err
	}
	return f.msg, llm.Usage{InputTokens: 10, OutputTokens: 5}, nil
}

func mustMarshal(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func fastPolicy() *retry.Policy {
	return &retry.Policy{MaxAttempts: 2, MinBackoff: time.Millisecond, MaxBackoff: time.Millisecond, PerAttempt: time.Second}
}
