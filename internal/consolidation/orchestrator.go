// Package consolidation implements the Consolidation Orchestrator: once all
// per-batch ingestion tasks for a session complete, it drains the session's
// aggregated relationship set out of the cache, runs the Graph Consolidator
// Janitor over fixed-size batches with a 2-hop neighborhood snapshot, and
// applies the resulting merges/remaps/hierarchy links to the graph. Grounded
// on the original source's consolidation_orchestrator.py
// (run_graph_consolidation) and its KG Agent's structured tool set
// (KGAgentAddTripletsTool for new edges, KGAgentExecuteGraphOperationTool for
// the merge/remap operations the capability interfaces don't expose as a
// single CRUD call).
package consolidation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Lumen-Labs/brainapi2/internal/kg"
	"github.com/Lumen-Labs/brainapi2/internal/llm"
	"github.com/Lumen-Labs/brainapi2/internal/observability"
	"github.com/Lumen-Labs/brainapi2/internal/store"
	"github.com/Lumen-Labs/brainapi2/internal/tokenaccount"
)

const (
	defaultBatchSize  = 20
	defaultSimilarity = 0.35
)

// Janitor is the subset of janitor.Agent the orchestrator depends on,
// narrowed to an interface so tests can substitute a stub.
type Janitor interface {
	Consolidate(ctx context.Context, batch []kg.ArchitectRelationship, neighborhood []kg.Node) (kg.ConsolidationResult, llm.Usage, error)
}

// AuditSink is the subset of auditlog.Sink the orchestrator depends on,
// narrowed to an interface so tests can substitute a stub.
type AuditSink interface {
	Append(ctx context.Context, change kg.KGChange) error
}

// Orchestrator runs the Consolidation Orchestrator for one brain's sessions.
// RunGraphConsolidator gates the whole flow: when false, Run is a true no-op.
type Orchestrator struct {
	Janitor Janitor
	Graph   store.GraphStore
	Docs    store.DocStore
	Cache   store.Cache

	// Audit, if set, additionally records every KGChange to a durable,
	// queryable audit trail (internal/store/auditlog) alongside
	// Docs.SaveKGChanges. Optional: a nil Audit just skips the secondary
	// write.
	Audit AuditSink

	BatchSize            int
	Similarity           float64
	RunGraphConsolidator bool
}

func (o *Orchestrator) batchSize() int {
	if o.BatchSize > 0 {
		return o.BatchSize
	}
	return defaultBatchSize
}

func (o *Orchestrator) similarity() float64 {
	if o.Similarity > 0 {
		return o.Similarity
	}
	return defaultSimilarity
}

func relationshipsKey(sessionID string) string { return fmt.Sprintf("session:%s:relationships", sessionID) }
func pendingTasksKey(sessionID string) string   { return fmt.Sprintf("session:%s:pending_tasks", sessionID) }

// Run drains session:{id}:relationships, consolidates it in batches, applies
// the result to the graph, and deletes the session's cache keys. It returns
// the merged token usage across every Janitor call this run made. When
// RunGraphConsolidator is false it returns immediately: no cache read, no
// graph touch, no cache-key deletion, no Janitor call.
func (o *Orchestrator) Run(ctx context.Context, brainID, sessionID string) (kg.TokenDetail, error) {
	if !o.RunGraphConsolidator {
		return kg.TokenDetail{}, nil
	}
	log := observability.LoggerWithTrace(ctx)

	raw, err := o.Cache.Get(ctx, brainID, relationshipsKey(sessionID))
	if err != nil {
		// Nothing was ever staged for this session (or it already drained):
		// still clear the counter key so a stray fan-in trigger can't re-fire.
		_ = o.Cache.Delete(ctx, brainID, pendingTasksKey(sessionID))
		return kg.TokenDetail{}, nil
	}

	var relationships []kg.ArchitectRelationship
	if err := json.Unmarshal([]byte(raw), &relationships); err != nil {
		return kg.TokenDetail{}, fmt.Errorf("consolidation: decode session relationships: %w", err)
	}

	batches := splitBatches(relationships, o.batchSize())
	var usages []kg.TokenDetail
	for i, batch := range batches {
		usage, err := o.runBatch(ctx, brainID, batch)
		if err != nil {
			return kg.TokenDetail{}, fmt.Errorf("consolidation: batch %d/%d: %w", i+1, len(batches), err)
		}
		usages = append(usages, usage)
	}

	if err := o.Cache.Delete(ctx, brainID, relationshipsKey(sessionID)); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("consolidation_cache_cleanup_failed")
	}
	if err := o.Cache.Delete(ctx, brainID, pendingTasksKey(sessionID)); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("consolidation_counter_cleanup_failed")
	}

	return tokenaccount.Merge(usages), nil
}

func (o *Orchestrator) runBatch(ctx context.Context, brainID string, batch []kg.ArchitectRelationship) (kg.TokenDetail, error) {
	seed := seedUUIDs(batch)
	hops, err := o.Graph.Get2ndDegreeHops(ctx, brainID, seed, o.similarity())
	if err != nil {
		return kg.TokenDetail{}, fmt.Errorf("2nd-degree neighborhood snapshot: %w", err)
	}
	neighborhood := nodesFromTriples(hops)

	result, usage, err := o.Janitor.Consolidate(ctx, batch, neighborhood)
	if err != nil {
		return kg.TokenDetail{}, fmt.Errorf("graph consolidator janitor: %w", err)
	}

	if err := o.apply(ctx, brainID, result); err != nil {
		return kg.TokenDetail{}, err
	}
	return tokenaccount.FromCounts(usage.InputTokens, usage.OutputTokens, usage.CachedTokens, usage.ReasoningTokens), nil
}

// apply executes one batch's ConsolidationResult against the graph. New
// hierarchy links are structured triplets and go through AddRelationship
// directly, mirroring KGAgentAddTripletsTool. Merges and edge remaps rewire
// multiple edges around a survivor node in one step, something none of the
// structured GraphStore methods expresses on their own, so they're executed
// as a single synthesized operation via ExecuteOperation, mirroring
// KGAgentExecuteGraphOperationTool's fallback role.
func (o *Orchestrator) apply(ctx context.Context, brainID string, result kg.ConsolidationResult) error {
	for _, remap := range result.EdgeRemaps {
		op := fmt.Sprintf("REMAP relationship %s endpoint %s -> %s", remap.RelationshipUUID, remap.FromUUID, remap.ToUUID)
		if _, err := o.Graph.ExecuteOperation(ctx, brainID, op); err != nil {
			return fmt.Errorf("apply edge remap %s: %w", remap.RelationshipUUID, err)
		}
	}

	for _, merge := range result.Merges {
		if len(merge.MergedUUIDs) == 0 {
			continue
		}
		op := fmt.Sprintf("MERGE nodes %v into survivor %s", merge.MergedUUIDs, merge.SurvivorUUID)
		if _, err := o.Graph.ExecuteOperation(ctx, brainID, op); err != nil {
			return fmt.Errorf("apply node merge into %s: %w", merge.SurvivorUUID, err)
		}
		if err := o.Graph.RemoveNodes(ctx, brainID, merge.MergedUUIDs); err != nil {
			return fmt.Errorf("remove merged-away nodes for survivor %s: %w", merge.SurvivorUUID, err)
		}
		o.audit(ctx, brainID, kg.KGChangeNodesMerged, merge)
	}

	for _, rel := range result.NewHierarchy {
		tail := kg.Node{UUID: rel.Tail.UUID, Labels: []string{rel.Tail.Type}, Name: rel.Tail.Name}
		tip := kg.Node{UUID: rel.Tip.UUID, Labels: []string{rel.Tip.Type}, Name: rel.Tip.Name}
		pred := kg.Predicate{UUID: rel.UUID, Name: rel.Name, Description: rel.Description, FlowKey: rel.FlowKey, Amount: rel.Amount}
		if err := o.Graph.AddRelationship(ctx, brainID, tail, pred, tip); err != nil {
			return fmt.Errorf("add hierarchy relationship %s: %w", rel.UUID, err)
		}
		o.audit(ctx, brainID, kg.KGChangeRelationshipCreated, rel)
	}

	return nil
}

// audit best-effort-logs a KGChange to the audit trail; a failure here must
// never fail the consolidation run itself, since the graph mutation already
// succeeded.
func (o *Orchestrator) audit(ctx context.Context, brainID string, typ kg.KGChangeType, change any) {
	log := observability.LoggerWithTrace(ctx)
	record := kg.KGChange{
		BrainID:    brainID,
		Type:       typ,
		Change:     change,
		OccurredAt: time.Now(),
	}
	if o.Docs != nil {
		if err := o.Docs.SaveKGChanges(ctx, brainID, record); err != nil {
			log.Warn().Err(err).Str("change_type", string(typ)).Msg("consolidation_audit_write_failed")
		}
	}
	if o.Audit != nil {
		if err := o.Audit.Append(ctx, record); err != nil {
			log.Warn().Err(err).Str("change_type", string(typ)).Msg("consolidation_audit_clickhouse_write_failed")
		}
	}
}

func splitBatches(relationships []kg.ArchitectRelationship, size int) [][]kg.ArchitectRelationship {
	if len(relationships) == 0 {
		return nil
	}
	var out [][]kg.ArchitectRelationship
	for i := 0; i < len(relationships); i += size {
		end := i + size
		if end > len(relationships) {
			end = len(relationships)
		}
		out = append(out, relationships[i:end])
	}
	return out
}

func seedUUIDs(batch []kg.ArchitectRelationship) []string {
	seen := make(map[string]struct{}, len(batch)*2)
	var out []string
	add := func(uuid string) {
		if uuid == "" {
			return
		}
		if _, ok := seen[uuid]; ok {
			return
		}
		seen[uuid] = struct{}{}
		out = append(out, uuid)
	}
	for _, rel := range batch {
		add(rel.Tail.UUID)
		add(rel.Tip.UUID)
	}
	return out
}

func nodesFromTriples(triples []kg.Triple) []kg.Node {
	seen := make(map[string]struct{}, len(triples)*2)
	var out []kg.Node
	add := func(n kg.Node) {
		if n.UUID == "" {
			return
		}
		if _, ok := seen[n.UUID]; ok {
			return
		}
		seen[n.UUID] = struct{}{}
		out = append(out, n)
	}
	for _, t := range triples {
		add(t.Tail)
		add(t.Tip)
	}
	return out
}
