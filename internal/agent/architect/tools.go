package architect

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Lumen-Labs/brainapi2/internal/kg"
	"github.com/Lumen-Labs/brainapi2/internal/tools"
)

// registerTools wires the Architect's fixed four-tool contract into a fresh
// tools.Registry scoped to one Build call's state, text, and targeting node.
func (a *Agent) registerTools(st *state, text string, targeting *kg.Node) tools.Registry {
	registry := tools.NewRegistry()
	registry.Register(&remainingEntitiesTool{st: st})
	registry.Register(&createRelationshipTool{agent: a, st: st, text: text, targeting: targeting})
	registry.Register(&markUsedTool{st: st})
	registry.Register(&checkUsedTool{st: st})
	return registry
}

type remainingEntitiesTool struct{ st *state }

func (t *remainingEntitiesTool) Name() string { return "get_remaining_entities_to_process" }

func (t *remainingEntitiesTool) JSONSchema() map[string]any {
	return map[string]any{
		"description": "Returns the list of entities not yet marked used.",
		"parameters":  map[string]any{"type": "object", "properties": map[string]any{}},
	}
}

func (t *remainingEntitiesTool) Call(_ context.Context, _ json.RawMessage) (any, error) {
	out := make([]kg.ScoutEntity, 0, len(t.st.pending))
	for _, e := range t.st.pending {
		out = append(out, e)
	}
	return out, nil
}

type createRelationshipArgs struct {
	Relationships []kg.ArchitectRelationship `json:"relationships"`
}

type createRelationshipTool struct {
	agent     *Agent
	st        *state
	text      string
	targeting *kg.Node
}

func (t *createRelationshipTool) Name() string { return "create_relationship" }

func (t *createRelationshipTool) JSONSchema() map[string]any {
	return map[string]any{
		"description": "Validates one phrase-worth of relationships via the Atomic Janitor and, on success, appends them to the relationship set.",
		"parameters": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"relationships": map[string]any{"type": "array", "items": map[string]any{"type": "object"}},
			},
			"required": []string{"relationships"},
		},
	}
}

func (t *createRelationshipTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var args createRelationshipArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("create_relationship: decode args: %w", err)
	}
	if len(args.Relationships) == 0 {
		return map[string]any{"status": "ok", "fixed": []kg.ArchitectRelationship{}}, nil
	}

	if t.agent.Janitor == nil {
		for _, rel := range args.Relationships {
			t.st.relationshipsSet[rel.Key()] = rel
		}
		return map[string]any{"status": "ok", "fixed": args.Relationships}, nil
	}

	result, err := t.agent.Janitor.ValidateAtomic(ctx, t.text, t.targeting, args.Relationships)
	if err != nil {
		return nil, fmt.Errorf("create_relationship: atomic janitor: %w", err)
	}
	if result.Outcome == kg.JanitorNeedsRepair {
		for _, rel := range result.Fixed {
			t.st.relationshipsSet[rel.Key()] = rel
		}
		return map[string]any{"status": "needs_repair", "wrong": result.Wrong, "fixed": result.Fixed}, nil
	}
	for _, rel := range result.Fixed {
		t.st.relationshipsSet[rel.Key()] = rel
	}
	return map[string]any{"status": "ok", "fixed": result.Fixed}, nil
}

type markUsedArgs struct {
	EntityUUIDs []string `json:"entity_uuids"`
}

type markUsedTool struct{ st *state }

func (t *markUsedTool) Name() string { return "mark_entities_as_used" }

func (t *markUsedTool) JSONSchema() map[string]any {
	return map[string]any{
		"description": "Moves the given entity uuids from pending to used.",
		"parameters": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"entity_uuids": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			},
			"required": []string{"entity_uuids"},
		},
	}
}

func (t *markUsedTool) Call(_ context.Context, raw json.RawMessage) (any, error) {
	var args markUsedArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("mark_entities_as_used: decode args: %w", err)
	}
	for _, id := range args.EntityUUIDs {
		if e, ok := t.st.pending[id]; ok {
			t.st.used[id] = e
			delete(t.st.pending, id)
		}
	}
	return map[string]any{"marked": args.EntityUUIDs, "remaining": len(t.st.pending)}, nil
}

type checkUsedTool struct{ st *state }

func (t *checkUsedTool) Name() string { return "check_used_entities" }

func (t *checkUsedTool) JSONSchema() map[string]any {
	return map[string]any{
		"description": "Returns the set of entities already marked used, for reconsidering edge cases when fewer than two entities remain.",
		"parameters":  map[string]any{"type": "object", "properties": map[string]any{}},
	}
}

func (t *checkUsedTool) Call(_ context.Context, _ json.RawMessage) (any, error) {
	out := make([]kg.ScoutEntity, 0, len(t.st.used))
	for _, e := range t.st.used {
		out = append(out, e)
	}
	return out, nil
}
