package scout

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Lumen-Labs/brainapi2/internal/kg"
	"github.com/Lumen-Labs/brainapi2/internal/llm"
	"github.com/Lumen-Labs/brainapi2/internal/retry"
)

type stubProvider struct {
	msg llm.Message
	err error
}

func (s stubProvider) Chat(_ context.Context, _ []llm.Message, _ []llm.ToolSchema, _ string, _ map[string]any) (llm.Message, llm.Usage, error) {
	if s.err != nil {
		return llm.Message{}, llm.Usage{}, s.err
	}
	return s.msg, llm.Usage{InputTokens: 42, OutputTokens: 7}, nil
}

func emitResultMessage(t *testing.T, payload any) llm.Message {
	t.Helper()
	args, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return llm.Message{
		Role:      "assistant",
		ToolCalls: []llm.ToolCall{{Name: "emit_result", Args: args, ID: "call-1"}},
	}
}

func TestExtractParsesEntitiesAndPolarity(t *testing.T) {
	payload := map[string]any{
		"entities": []map[string]any{
			{"type": "PERSON", "name": "John", "polarity": "neutral"},
			{"type": "EVENT", "name": "Went", "description": "John went to NYC", "polarity": "neutral"},
		},
	}
	provider := stubProvider{msg: emitResultMessage(t, payload)}
	a := &Agent{Provider: provider, Model: "test-model"}

	result, err := a.Extract(context.Background(), "John went to New York City.", nil, "brain-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Entities) != 2 {
		t.Fatalf("expected 2 entities, got %d", len(result.Entities))
	}
	if result.Entities[0].UUID == "" {
		t.Fatalf("expected a minted UUID for each entity")
	}
	if result.Entities[0].Polarity != kg.PolarityNeutral {
		t.Fatalf("expected neutral polarity, got %q", result.Entities[0].Polarity)
	}
	if result.InputTokens != 42 || result.OutputTokens != 7 {
		t.Fatalf("unexpected usage passthrough: %+v", result)
	}
}

func TestExtractRetriesOnMalformedOutputThenSucceeds(t *testing.T) {
	calls := 0
	provider := retryingProvider{
		fn: func() (llm.Message, error) {
			calls++
			if calls < 2 {
				return llm.Message{Role: "assistant", Content: "not json"}, nil
			}
			return emitResultMessage(t, map[string]any{"entities": []map[string]any{
				{"type": "CITY", "name": "NYC", "polarity": "neutral"},
			}}), nil
		},
	}
	fastPolicy := retry.Policy{MaxAttempts: 3, MinBackoff: time.Millisecond, MaxBackoff: time.Millisecond, PerAttempt: time.Second}
	a := &Agent{Provider: provider, Model: "test-model", RetryPolicy: &fastPolicy}

	result, err := a.Extract(context.Background(), "text", nil, "brain-1")
	if err != nil {
		t.Fatalf("expected eventual success, got error: %v", err)
	}
	if len(result.Entities) != 1 {
		t.Fatalf("expected 1 entity after retry, got %d", len(result.Entities))
	}
	if calls < 2 {
		t.Fatalf("expected at least one retry, got %d calls", calls)
	}
}

type retryingProvider struct {
	fn func() (llm.Message, error)
}

func (r retryingProvider) Chat(_ context.Context, _ []llm.Message, _ []llm.ToolSchema, _ string, _ map[string]any) (llm.Message, llm.Usage, error) {
	msg, err := r.fn()
	return msg, llm.Usage{}, err
}
