// Package observer implements the Observations Agent: a single schema-
// constrained model call that reads a text chunk and a caller-supplied list
// of things to look for, returning short derived-fact strings, grounded on
// the original source's observations_agent.py (ObservationsAgent.observe,
// OBSERVATIONS_AGENT_SYSTEM_PROMPT).
package observer

import (
	"context"
	"fmt"
	"time"

	"github.com/Lumen-Labs/brainapi2/internal/agent"
	"github.com/Lumen-Labs/brainapi2/internal/llm"
	"github.com/Lumen-Labs/brainapi2/internal/retry"
)

const systemPrompt = `You are an expert in reading and understanding the hidden concepts and
meanings inside text. You are given a text; your task is to carefully read it and understand
its meaning and any hidden concepts, reasoning step by step and missing nothing important.

Return a json list of strings, each one an observation you made in the text.`

var responseSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"observations": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
	},
	"required": []string{"observations"},
}

// Agent is the Observations Agent.
type Agent struct {
	Provider llm.Provider
	Model    string

	// RetryPolicy overrides the default retry policy; tests use this to
	// avoid real backoff delays.
	RetryPolicy *retry.Policy
}

func (a *Agent) retryPolicy() retry.Policy {
	if a.RetryPolicy != nil {
		return *a.RetryPolicy
	}
	return retry.AgentPolicy(60 * time.Second)
}

type observePayload struct {
	Observations []string `json:"observations"`
}

// Observe returns the observations made against text, narrowed by
// observateFor (the things the caller wants looked for). An empty
// observateFor still runs the pass; the model is simply left to its own
// judgment about what is worth observing.
func (a *Agent) Observe(ctx context.Context, text string, observateFor []string) ([]string, llm.Usage, error) {
	user := fmt.Sprintf("Text:\n%s\n\nLook for the following things to observe:\n%v", text, observateFor)
	msgs := []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: user},
	}

	loop := &agent.Loop{Provider: a.Provider, Model: a.Model, MaxSteps: 1}
	policy := a.retryPolicy()

	type out struct {
		observations []string
		usage        llm.Usage
	}
	retryAlways := func(error) bool { return true }
	result, err := retry.Do(ctx, policy, retryAlways, func(actx context.Context) (out, error) {
		final, _, usage, err := loop.Run(actx, msgs, responseSchema)
		if err != nil {
			return out{}, err
		}
		var payload observePayload
		if err := agent.DecodeStructured(final, &payload); err != nil {
			return out{}, err
		}
		return out{observations: payload.Observations, usage: usage}, nil
	})
	return result.observations, result.usage, err
}
