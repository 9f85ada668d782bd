// Package janitor implements the three Janitor variants (Atomic, Full,
// Consolidator) behind one JanitorResult tagged result, grounded on the
// original source's janitor_agent.py (JanitorAgent.run_atomic_janitor/run/
// run_graph_consolidator) and JANITOR_AGENT_SYSTEM_PROMPT /
// JANITOR_AGENT_NORMALIZE_INSERTION_PROMPT /
// JANITOR_AGENT_GRAPH_NORMALIZATOR_SYSTEM_PROMPT. Each variant is a single
// schema-constrained model call on top of internal/agent.Loop — the
// validation logic itself (directional audit, instance protection,
// co-reference resolution) is the model's job, not hand-coded Go.
package janitor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Lumen-Labs/brainapi2/internal/agent"
	"github.com/Lumen-Labs/brainapi2/internal/kg"
	"github.com/Lumen-Labs/brainapi2/internal/llm"
	"github.com/Lumen-Labs/brainapi2/internal/retry"
)

const baseSystemPrompt = `You are the Knowledge Graph Janitor. You resolve entities, enforce
directional logic, and preserve semantic intent.

REVISION PROTOCOL:
1. IDENTITY RESOLUTION: prefer existing database entities over minting new ones when a match
   exists for People, Places, Organizations, and broad contexts.
2. DIRECTIONAL AUDIT:
   - ACTOR-CENTRIC labels (MADE, INITIATED, PERFORMED): tail must be the Subject, tip must be
     the Event.
   - IMPACT-CENTRIC labels (TARGETED, AFFECTED, RESULTED_IN): tail must be the Event, tip must
     be the Object/Recipient.
   - Never change the semantic label. Only swap tail/tip when the entities and label are
     logically inverted.
3. PROPERTY ENFORCEMENT: if a node name carries a numeric prefix (e.g. "23 Friends"), strip it
   from the name and move the value into the relationship's amount property.
4. INSTANCE PROTECTION: never merge two Event nodes; each event instance stays unique.`

// Agent runs any of the three Janitor variants via schema-constrained LLM calls.
type Agent struct {
	Provider llm.Provider
	Model    string

	// RetryPolicy overrides the default agent-level retry policy; tests use
	// this to avoid real backoff delays.
	RetryPolicy *retry.Policy
}

func (a *Agent) retryPolicy() retry.Policy {
	if a.RetryPolicy != nil {
		return *a.RetryPolicy
	}
	return retry.AgentPolicy(60 * time.Second)
}

func (a *Agent) chat(ctx context.Context, system, user string, schema map[string]any) (llm.Message, llm.Usage, error) {
	loop := &agent.Loop{Provider: a.Provider, Model: a.Model, MaxSteps: 1}
	msgs := []llm.Message{{Role: "system", Content: system}, {Role: "user", Content: user}}

	type out struct {
		msg   llm.Message
		usage llm.Usage
	}
	policy := a.retryPolicy()
	retryAlways := func(error) bool { return true }
	result, err := retry.Do(ctx, policy, retryAlways, func(actx context.Context) (out, error) {
		final, _, usage, err := loop.Run(actx, msgs, schema)
		if err != nil {
			return out{}, err
		}
		return out{msg: final, usage: usage}, nil
	})
	return result.msg, result.usage, err
}

var atomicSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"outcome": map[string]any{"type": "string", "enum": []string{"ok", "needs_repair"}},
		"fixed":   map[string]any{"type": "array", "items": map[string]any{"type": "object"}},
		"wrong":   map[string]any{"type": "array", "items": map[string]any{"type": "object"}},
	},
	"required": []string{"outcome"},
}

// ValidateAtomic is invoked inline during an Architect create_relationship
// tool call: one phrase-worth of relationships, validated against directional
// semantics and instance-protection rules.
func (a *Agent) ValidateAtomic(ctx context.Context, text string, targeting *kg.Node, relationships []kg.ArchitectRelationship) (kg.JanitorResult, error) {
	payload, err := json.Marshal(relationships)
	if err != nil {
		return kg.JanitorResult{}, fmt.Errorf("janitor: marshal relationships: %w", err)
	}
	user := fmt.Sprintf("CONTEXT_TEXT: %s\n\nRELATIONSHIPS: %s", text, string(payload))
	if targeting != nil {
		user += fmt.Sprintf("\n\nTARGETING_NODE: %s", targeting.Name)
	}

	msg, _, err := a.chat(ctx, baseSystemPrompt, user, atomicSchema)
	if err != nil {
		return kg.JanitorResult{}, err
	}
	var result kg.JanitorResult
	if err := agent.DecodeStructured(msg, &result); err != nil {
		return kg.JanitorResult{}, err
	}
	if result.Outcome == "" {
		result.Outcome = kg.JanitorOK
	}
	return result, nil
}

var unitSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"relationship": map[string]any{"type": "object"},
		"virtual_node": map[string]any{"type": "object"},
		"entity":       map[string]any{"type": "object"},
	},
}

// NormalizeUnit runs the Full (legacy, per-unit) Janitor over exactly one
// populated field of UnitOfWork, grounded on
// JANITOR_AGENT_NORMALIZE_INSERTION_PROMPT.
func (a *Agent) NormalizeUnit(ctx context.Context, text string, targeting *kg.Node, unit kg.UnitOfWork) (kg.UnitOfWork, error) {
	payload, err := json.Marshal(unit)
	if err != nil {
		return kg.UnitOfWork{}, fmt.Errorf("janitor: marshal unit: %w", err)
	}
	user := fmt.Sprintf("UNIT_OF_WORK: %s\n\nCONTEXT_TEXT: %s", string(payload), text)
	if targeting != nil {
		user += fmt.Sprintf("\n\nTARGETING_NODE: %s", targeting.Name)
	}

	msg, _, err := a.chat(ctx, baseSystemPrompt, user, unitSchema)
	if err != nil {
		return kg.UnitOfWork{}, err
	}
	var out kg.UnitOfWork
	if err := agent.DecodeStructured(msg, &out); err != nil {
		return kg.UnitOfWork{}, err
	}
	return out, nil
}

const consolidatorSystemPrompt = `You are the Knowledge Graph Architect responsible for Global
Entity Resolution and Relational Synthesis across a batch of newly ingested relationships.

CORE PROTOCOLS:
1. CO-REFERENCE RESOLUTION: identify entities referring to the same real-world object or event
   even under different names, using shared time, shared location, or overlapping participants
   as merge criteria.
2. RELATIONSHIP CONSOLIDATION: when merging nodes, remap every incoming and outgoing edge to
   the survivor node and avoid duplicate relationships.
3. HIERARCHICAL LINKING: connect specific event instances to broader concepts via an IS_A
   relationship where warranted.
4. Never merge two Event nodes.`

var consolidationSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"consolidation": map[string]any{"type": "object"},
	},
}

// Consolidate runs the Graph Consolidator Janitor once per batch over the
// batch's new relationships plus a 2-hop neighborhood snapshot of their
// endpoints. The returned Usage lets callers fold this call's token cost into
// a session-wide TokenDetail via internal/tokenaccount.
func (a *Agent) Consolidate(ctx context.Context, batch []kg.ArchitectRelationship, neighborhood []kg.Node) (kg.ConsolidationResult, llm.Usage, error) {
	payload, err := json.Marshal(struct {
		Batch        []kg.ArchitectRelationship `json:"batch"`
		Neighborhood []kg.Node                  `json:"neighborhood"`
	}{batch, neighborhood})
	if err != nil {
		return kg.ConsolidationResult{}, llm.Usage{}, fmt.Errorf("janitor: marshal consolidation input: %w", err)
	}

	msg, usage, err := a.chat(ctx, consolidatorSystemPrompt, string(payload), consolidationSchema)
	if err != nil {
		return kg.ConsolidationResult{}, llm.Usage{}, err
	}
	var wrapped struct {
		Consolidation kg.ConsolidationResult `json:"consolidation"`
	}
	if err := agent.DecodeStructured(msg, &wrapped); err != nil {
		return kg.ConsolidationResult{}, llm.Usage{}, err
	}
	return wrapped.Consolidation, usage, nil
}
