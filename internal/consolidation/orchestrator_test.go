package consolidation

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Lumen-Labs/brainapi2/internal/kg"
	"github.com/Lumen-Labs/brainapi2/internal/llm"
	"github.com/Lumen-Labs/brainapi2/internal/store/memory"
)

type stubJanitor struct {
	calls  int
	result kg.ConsolidationResult
	usage  llm.Usage
	err    error
}

func (s *stubJanitor) Consolidate(_ context.Context, _ []kg.ArchitectRelationship, _ []kg.Node) (kg.ConsolidationResult, llm.Usage, error) {
	s.calls++
	return s.result, s.usage, s.err
}

func sampleRel(uuid string) kg.ArchitectRelationship {
	return kg.ArchitectRelationship{
		UUID: uuid,
		Tail: kg.EntityRef{UUID: "a-" + uuid, Type: "PERSON", Name: "Alice"},
		Tip:  kg.EntityRef{UUID: "e-" + uuid, Type: "EVENT", Name: "Donated"},
		Name: "MADE",
	}
}

func seedSession(t *testing.T, cache interface {
	Set(ctx context.Context, brainID, key, value string, expiresIn time.Duration) error
}, brainID, sessionID string, relationships []kg.ArchitectRelationship) {
	t.Helper()
	payload, err := json.Marshal(relationships)
	if err != nil {
		t.Fatalf("marshal relationships: %v", err)
	}
	if err := cache.Set(context.Background(), brainID, relationshipsKey(sessionID), string(payload), time.Hour); err != nil {
		t.Fatalf("seed session cache: %v", err)
	}
}

func TestRunIsNoOpWhenGraphConsolidatorDisabled(t *testing.T) {
	cache := memory.NewCache()
	janitor := &stubJanitor{}
	seedSession(t, cache, "brain1", "sess1", []kg.ArchitectRelationship{sampleRel("r1")})

	o := &Orchestrator{Janitor: janitor, Graph: memory.NewGraph(), Cache: cache, RunGraphConsolidator: false}
	detail, err := o.Run(context.Background(), "brain1", "sess1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if detail != (kg.TokenDetail{}) {
		t.Fatalf("expected zero token detail, got %+v", detail)
	}
	if janitor.calls != 0 {
		t.Fatalf("expected no janitor calls when disabled, got %d", janitor.calls)
	}
	if _, err := cache.Get(context.Background(), "brain1", relationshipsKey("sess1")); err != nil {
		t.Fatalf("expected session cache key to survive a disabled run untouched: %v", err)
	}
}

func TestRunReturnsZeroWhenNoSessionDataStaged(t *testing.T) {
	cache := memory.NewCache()
	janitor := &stubJanitor{}
	o := &Orchestrator{Janitor: janitor, Graph: memory.NewGraph(), Cache: cache, RunGraphConsolidator: true}

	detail, err := o.Run(context.Background(), "brain1", "missing-session")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if detail != (kg.TokenDetail{}) {
		t.Fatalf("expected zero token detail for an empty session, got %+v", detail)
	}
	if janitor.calls != 0 {
		t.Fatalf("expected no janitor calls for an empty session, got %d", janitor.calls)
	}
}

func TestRunAppliesMergesRemapsAndHierarchyThenClearsSessionKeys(t *testing.T) {
	cache := memory.NewCache()
	graph := memory.NewGraph()
	docs := memory.NewDoc()

	rel := sampleRel("r1")
	seedSession(t, cache, "brain1", "sess1", []kg.ArchitectRelationship{rel})

	hierarchy := kg.ArchitectRelationship{
		UUID: "h1",
		Tail: kg.EntityRef{UUID: "e-r1", Type: "EVENT", Name: "Donated"},
		Tip:  kg.EntityRef{UUID: "broad-1", Type: "CONCEPT", Name: "Philanthropy"},
		Name: "IS_A",
	}
	janitor := &stubJanitor{
		result: kg.ConsolidationResult{
			Merges:       []kg.NodesMerged{{SurvivorUUID: "a-r1", MergedUUIDs: []string{"dup-1"}}},
			EdgeRemaps:   []kg.EdgeRemap{{RelationshipUUID: "r1", FromUUID: "dup-1", ToUUID: "a-r1"}},
			NewHierarchy: []kg.ArchitectRelationship{hierarchy},
		},
		usage: llm.Usage{InputTokens: 100, OutputTokens: 40, CachedTokens: 10},
	}

	o := &Orchestrator{Janitor: janitor, Graph: graph, Docs: docs, Cache: cache, RunGraphConsolidator: true}
	detail, err := o.Run(context.Background(), "brain1", "sess1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if janitor.calls != 1 {
		t.Fatalf("expected exactly one batch for a single relationship, got %d calls", janitor.calls)
	}
	if detail.Input.Total != 100 || detail.Output.Total != 40 {
		t.Fatalf("expected aggregated token usage to surface, got %+v", detail)
	}

	if _, err := cache.Get(context.Background(), "brain1", relationshipsKey("sess1")); err == nil {
		t.Fatalf("expected session relationships key to be deleted after a successful run")
	}
	if _, err := cache.Get(context.Background(), "brain1", pendingTasksKey("sess1")); err == nil {
		t.Fatalf("expected pending-tasks counter key to be deleted after a successful run")
	}
}

func TestRunSplitsIntoBatchSizedGroups(t *testing.T) {
	cache := memory.NewCache()
	janitor := &stubJanitor{}
	relationships := make([]kg.ArchitectRelationship, 45)
	for i := range relationships {
		relationships[i] = sampleRel(string(rune('a' + i%26)))
	}
	seedSession(t, cache, "brain1", "sess1", relationships)

	o := &Orchestrator{Janitor: janitor, Graph: memory.NewGraph(), Cache: cache, RunGraphConsolidator: true, BatchSize: 20}
	if _, err := o.Run(context.Background(), "brain1", "sess1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if janitor.calls != 3 {
		t.Fatalf("expected 45 relationships split into 3 batches of <=20, got %d calls", janitor.calls)
	}
}

func TestRunPropagatesJanitorError(t *testing.T) {
	cache := memory.NewCache()
	janitor := &stubJanitor{err: context.DeadlineExceeded}
	seedSession(t, cache, "brain1", "sess1", []kg.ArchitectRelationship{sampleRel("r1")})

	o := &Orchestrator{Janitor: janitor, Graph: memory.NewGraph(), Cache: cache, RunGraphConsolidator: true}
	if _, err := o.Run(context.Background(), "brain1", "sess1"); err == nil {
		t.Fatal("expected janitor error to propagate")
	}
	if _, err := cache.Get(context.Background(), "brain1", relationshipsKey("sess1")); err != nil {
		t.Fatalf("expected session cache to survive a failed run for retry: %v", err)
	}
}
