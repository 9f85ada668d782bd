// Package scout implements the Scout Agent: decomposes raw text into atomic
// entities, tagging each with a polarity, grounded on the original source's
// scout_agent.py (ScoutAgent.run, SCOUT_AGENT_SYSTEM_PROMPT) and adapted onto
// internal/agent.Loop the way the teacher's specialist agents sit on top of
// internal/agent.Engine.
package scout

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Lumen-Labs/brainapi2/internal/agent"
	"github.com/Lumen-Labs/brainapi2/internal/kg"
	"github.com/Lumen-Labs/brainapi2/internal/llm"
	"github.com/Lumen-Labs/brainapi2/internal/retry"
)

func uuidV4() string { return uuid.NewString() }

const systemPrompt = `You are a High-Recall Semantic Scout. Decompose the given text into its
fundamental building blocks: Entities, Quantities, and Events.

ENTITY VS. PROPERTY:
- Static attributes unique to one entity (IDs, emails, single-owner descriptions) are
  PROPERTIES of that entity, never their own entity.
- Shared dimensions that could attach to multiple entities (currencies, languages, cities,
  roles, units) are standalone ENTITIES.
- Numeric quantities are never entities. Identify the unit as an entity; the number itself
  becomes a relationship property later.

POLARITY DECISION TREE, applied per entity:
1. Deficit verbs (struggling, failing, lacking, losing, stuck) or seeker intent (looking
   for, needs, searching) or a downward quantitative delta -> polarity "negative".
2. Achievement verbs (raised, scaled, mastered, won, launched) or a state of strength or
   capacity (expert in, provides, has, CEO of) or an upward quantitative delta -> polarity
   "positive".
3. Simple location/movement facts without intent -> polarity "neutral".

Entities must be atomic: never emit a composite phrase as one entity. Normalize dates to
DD/MM/YYYY and place them in properties.happened_at on event entities.

Respond only with the extracted entity list matching the required schema.`

var responseSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"entities": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"type":        map[string]any{"type": "string"},
					"name":        map[string]any{"type": "string"},
					"description": map[string]any{"type": "string"},
					"polarity":    map[string]any{"type": "string", "enum": []string{"positive", "negative", "neutral"}},
					"properties":  map[string]any{"type": "object"},
				},
				"required": []string{"type", "name", "polarity"},
			},
		},
	},
	"required": []string{"entities"},
}

// Agent is the Scout Agent.
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
	p := retry.AgentPolicy(60 * time.Second)
	p.MaxAttempts = 5 // spec: malformed/timeout Scout output retries up to 5 attempts
	return p
}

type extractPayload struct {
	Entities []struct {
		Type        string         `json:"type"`
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Polarity    string         `json:"polarity"`
		Properties  map[string]any `json:"properties"`
	} `json:"entities"`
}

// Extract decomposes text into atomic ScoutEntity records. targeting, when
// non-nil, narrows extraction toward entities relevant to that node (the
// original source passes the targeting node's name into the user prompt so
// the model anchors new entities against it).
func (a *Agent) Extract(ctx context.Context, text string, targeting *kg.Node, brainID string) (kg.ScoutResult, error) {
	user := "Extract entities from the following text:\n\n" + text
	if targeting != nil {
		user += "\n\nAnchor extraction around this existing entity: " + targeting.Name
	}
	msgs := []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: user},
	}

	loop := &agent.Loop{Provider: a.Provider, Model: a.Model, MaxSteps: 1}
	policy := a.retryPolicy()

	retryAlways := func(error) bool { return true }
	result, err := retry.Do(ctx, policy, retryAlways, func(actx context.Context) (kg.ScoutResult, error) {
		final, _, usage, err := loop.Run(actx, msgs, responseSchema)
		if err != nil {
			return kg.ScoutResult{}, err
		}
		var payload extractPayload
		if err := agent.DecodeStructured(final, &payload); err != nil {
			return kg.ScoutResult{}, err
		}
		out := kg.ScoutResult{InputTokens: usage.InputTokens, OutputTokens: usage.OutputTokens}
		for _, e := range payload.Entities {
			out.Entities = append(out.Entities, kg.ScoutEntity{
				UUID:        uuidV4(),
				Type:        e.Type,
				Name:        e.Name,
				Description: e.Description,
				Polarity:    kg.Polarity(e.Polarity),
				Properties:  e.Properties,
			})
		}
		return out, nil
	})
	return result, err
}
