// Package architect implements the Architect Agent: builds validated
// relationships from Scout entities and source text using the Triangle of
// Attribution schema, grounded on the original source's architect_agent.py
// (ArchitectAgent.run/run_tooler) and internal/agent.Loop/internal/tools for
// the Go-idiomatic tool-dispatch rewrite.
package architect

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Lumen-Labs/brainapi2/internal/agent"
	"github.com/Lumen-Labs/brainapi2/internal/agent/janitor"
	"github.com/Lumen-Labs/brainapi2/internal/kg"
	"github.com/Lumen-Labs/brainapi2/internal/llm"
	"github.com/Lumen-Labs/brainapi2/internal/retry"
	"github.com/Lumen-Labs/brainapi2/internal/tools"
)

// maxRecursion bounds the tooler-mode tool loop (one create_relationship call
// per recursion in the worst case).
const maxRecursion = 100

// maxSingleShotIterations bounds single-shot mode's entity-connection passes.
const maxSingleShotIterations = 3

const systemPrompt = `You are the Knowledge Graph Architect. Given a set of extracted entities
and the source text, produce validated relationships using the Triangle of Attribution:

1. INITIATION: Actor --[MADE | COVERED_ROLE | EXPERIENCED | ...]--> Event (carry amount if a
   quantity appears in the text).
2. TARGET: Event --[TARGETED | RESULTED_IN | ...]--> Object/Recipient (repeat amount).
3. CONTEXT: Event --[OCCURRED_WITHIN | HAPPENED_WITHIN | ...]--> BroaderAnchor.

Pure fact statements without an action produce a direct Actor --[relation]--> Object edge with
no Event hub. Never create a node for a raw number: the number becomes a relationship's amount
property and its unit becomes its own entity.

tail is always the origin of the action, tip is always the destination. Never connect Actor
directly to Target for a dynamic action — route through the Event hub.`

const toolerInstructions = `Work through the remaining entities using your tools until none
remain: call get_remaining_entities_to_process to see what is left, create_relationship for
each phrase-worth of edges you can support from the text, mark_entities_as_used once an
entity is fully accounted for, and check_used_entities if fewer than two entities remain
unused and you need to decide whether a pass is complete. Stop calling tools once
get_remaining_entities_to_process would return an empty list.`

// Agent is the Architect Agent. SingleShot selects single-shot vs. tooler
// execution; tooler is the preferred, recursive mode.
type Agent struct {
	Provider llm.Provider
	Model    string
	Janitor  *janitor.Agent

	// RetryPolicy overrides the default agent-level retry policy; tests use
	// this to avoid real backoff delays.
	RetryPolicy *retry.Policy

	// SingleShot forces single-shot mode instead of the preferred tooler mode.
	SingleShot bool
}

func (a *Agent) retryPolicy() retry.Policy {
	if a.RetryPolicy != nil {
		return *a.RetryPolicy
	}
	return retry.AgentPolicy(90 * time.Second)
}

// Build produces validated relationships connecting entities to each other
// and, when targeting is non-nil, anchoring new relationships against it.
// brainID is accepted to match the multi-tenant contract every other
// store-facing operation in this pipeline carries, even though the Architect
// itself makes no direct store calls.
func (a *Agent) Build(ctx context.Context, text string, entities []kg.ScoutEntity, targeting *kg.Node, brainID, ingestionSessionID string) ([]kg.ArchitectRelationship, error) {
	if a.SingleShot {
		return a.buildSingleShot(ctx, text, entities, targeting)
	}
	return a.buildTooler(ctx, text, entities, targeting, ingestionSessionID)
}

// state is the Architect's tooler-mode working set: entities not yet
// accounted for, entities already marked used, and the accumulated
// relationship set, deduped by (tail, tip, name).
type state struct {
	pending          map[string]kg.ScoutEntity
	used             map[string]kg.ScoutEntity
	relationshipsSet map[kg.RelationshipKey]kg.ArchitectRelationship
}

func newState(entities []kg.ScoutEntity) *state {
	s := &state{
		pending:          make(map[string]kg.ScoutEntity, len(entities)),
		used:             make(map[string]kg.ScoutEntity),
		relationshipsSet: make(map[kg.RelationshipKey]kg.ArchitectRelationship),
	}
	for _, e := range entities {
		s.pending[e.UUID] = e
	}
	return s
}

func (s *state) relationships() []kg.ArchitectRelationship {
	out := make([]kg.ArchitectRelationship, 0, len(s.relationshipsSet))
	for _, r := range s.relationshipsSet {
		out = append(out, r)
	}
	return out
}

func (a *Agent) buildTooler(ctx context.Context, text string, entities []kg.ScoutEntity, targeting *kg.Node, ingestionSessionID string) ([]kg.ArchitectRelationship, error) {
	st := newState(entities)
	registry := a.registerTools(st, text, targeting)

	user := fmt.Sprintf("SOURCE_TEXT: %s\n\n%s", text, toolerInstructions)
	if targeting != nil {
		user += fmt.Sprintf("\n\nTARGETING_NODE: %s", targeting.Name)
	}
	msgs := []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: user},
	}

	loop := &agent.Loop{Provider: a.Provider, Tools: registry, Model: a.Model, MaxSteps: maxRecursion}
	policy := a.retryPolicy()
	retryAlways := func(error) bool { return true }

	_, err := retry.Do(ctx, policy, retryAlways, func(actx context.Context) (struct{}, error) {
		_, _, _, runErr := loop.Run(actx, msgs, nil)
		return struct{}{}, runErr
	})
	if err != nil {
		return nil, fmt.Errorf("architect: tooler loop for session %s: %w", ingestionSessionID, err)
	}
	return st.relationships(), nil
}

var singleShotSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"new_nodes":     map[string]any{"type": "array", "items": map[string]any{"type": "object"}},
		"relationships": map[string]any{"type": "array", "items": map[string]any{"type": "object"}},
	},
	"required": []string{"relationships"},
}

type singleShotPayload struct {
	NewNodes      []kg.EntityRef              `json:"new_nodes"`
	Relationships []kg.ArchitectRelationship `json:"relationships"`
}

// buildSingleShot iterates up to maxSingleShotIterations passes, each time
// showing the model only still-unconnected entities plus relationships
// already produced, accumulating into one deduped relationship set.
func (a *Agent) buildSingleShot(ctx context.Context, text string, entities []kg.ScoutEntity, targeting *kg.Node) ([]kg.ArchitectRelationship, error) {
	st := newState(entities)
	loop := &agent.Loop{Provider: a.Provider, Model: a.Model, MaxSteps: 1}
	policy := a.retryPolicy()
	retryAlways := func(error) bool { return true }

	for iter := 0; iter < maxSingleShotIterations && len(st.pending) > 0; iter++ {
		remaining := make([]kg.ScoutEntity, 0, len(st.pending))
		for _, e := range st.pending {
			remaining = append(remaining, e)
		}
		payload, err := json.Marshal(struct {
			Remaining     []kg.ScoutEntity           `json:"remaining_entities"`
			Relationships []kg.ArchitectRelationship `json:"existing_relationships"`
		}{remaining, st.relationships()})
		if err != nil {
			return nil, fmt.Errorf("architect: marshal single-shot input: %w", err)
		}
		user := fmt.Sprintf("SOURCE_TEXT: %s\n\n%s", text, string(payload))
		if targeting != nil {
			user += fmt.Sprintf("\n\nTARGETING_NODE: %s", targeting.Name)
		}
		msgs := []llm.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: user},
		}

		result, err := retry.Do(ctx, policy, retryAlways, func(actx context.Context) (singleShotPayload, error) {
			final, _, _, runErr := loop.Run(actx, msgs, singleShotSchema)
			if runErr != nil {
				return singleShotPayload{}, runErr
			}
			var out singleShotPayload
			if decodeErr := agent.DecodeStructured(final, &out); decodeErr != nil {
				return singleShotPayload{}, decodeErr
			}
			return out, nil
		})
		if err != nil {
			return nil, fmt.Errorf("architect: single-shot iteration %d: %w", iter, err)
		}

		validated, verr := a.validateAndAccumulate(ctx, st, text, targeting, result.Relationships)
		if verr != nil {
			return nil, verr
		}
		for _, rel := range validated {
			delete(st.pending, rel.Tail.UUID)
			delete(st.pending, rel.Tip.UUID)
		}
	}
	return st.relationships(), nil
}

// validateAndAccumulate runs the Atomic Janitor over one phrase-worth of
// relationships and folds whatever it accepts (as-is or auto-fixed) into the
// relationship set, mirroring the tooler mode's create_relationship tool.
func (a *Agent) validateAndAccumulate(ctx context.Context, st *state, text string, targeting *kg.Node, candidates []kg.ArchitectRelationship) ([]kg.ArchitectRelationship, error) {
	if a.Janitor == nil || len(candidates) == 0 {
		for _, rel := range candidates {
			st.relationshipsSet[rel.Key()] = rel
		}
		return candidates, nil
	}

	result, err := a.Janitor.ValidateAtomic(ctx, text, targeting, candidates)
	if err != nil {
		return nil, fmt.Errorf("architect: atomic janitor validation: %w", err)
	}
	for _, rel := range result.Fixed {
		st.relationshipsSet[rel.Key()] = rel
	}
	return result.Fixed, nil
}
