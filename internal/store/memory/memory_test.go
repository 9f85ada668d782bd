package memory

import (
	"context"
	"testing"
	"time"

	"github.com/Lumen-Labs/brainapi2/internal/kg"
	"github.com/Lumen-Labs/brainapi2/internal/store"
	"github.com/google/uuid"
)

func TestGraphAddNodesUpsertsByUUID(t *testing.T) {
	ctx := context.Background()
	g := NewGraph()
	id := uuid.NewString()
	n := kg.Node{UUID: id, Labels: []string{"Person"}, Name: "Alice"}
	out, err := g.AddNodes(ctx, "brain1", []kg.Node{n})
	if err != nil || len(out) != 1 {
		t.Fatalf("unexpected AddNodes result: %+v err=%v", out, err)
	}
	n.Description = "updated"
	out, err = g.AddNodes(ctx, "brain1", []kg.Node{n})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[0].Description != "updated" {
		t.Fatalf("expected merged description, got %+v", out[0])
	}

	exists, err := g.CheckNodeExistence(ctx, "brain1", store.NodeFilter{UUID: id})
	if err != nil || !exists {
		t.Fatalf("expected node to exist: exists=%v err=%v", exists, err)
	}
}

func TestGraphIsolatesBrains(t *testing.T) {
	ctx := context.Background()
	g := NewGraph()
	id := uuid.NewString()
	if _, err := g.AddNodes(ctx, "brain1", []kg.Node{{UUID: id, Name: "Alice"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	exists, err := g.CheckNodeExistence(ctx, "brain2", store.NodeFilter{UUID: id})
	if err != nil || exists {
		t.Fatalf("expected node to be invisible from a different brain, exists=%v err=%v", exists, err)
	}
}

func TestGraphAddRelationshipAndNeighbors(t *testing.T) {
	ctx := context.Background()
	g := NewGraph()
	tail := kg.Node{UUID: uuid.NewString(), Name: "Alice", Labels: []string{"Person"}}
	tip := kg.Node{UUID: uuid.NewString(), Name: "Acme", Labels: []string{"Org"}}
	rel := kg.Predicate{UUID: uuid.NewString(), Name: "WorksAt"}
	if err := g.AddRelationship(ctx, "brain1", tail, rel, tip); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	triples, err := g.GetNeighbors(ctx, "brain1", []string{tail.UUID}, nil, 0)
	if err != nil || len(triples) != 1 {
		t.Fatalf("unexpected neighbors: %+v err=%v", triples, err)
	}
	if triples[0].Rel.Name != "WorksAt" {
		t.Fatalf("unexpected relationship: %+v", triples[0])
	}
}

func TestVectorSearchSimilarByIDsFindsTopDuplicate(t *testing.T) {
	ctx := context.Background()
	v := NewVector()
	anchor := kg.Vector{ID: "anchor", Embeddings: []float32{1, 0, 0}}
	near := kg.Vector{ID: "near", Embeddings: []float32{0.95, 0.05, 0}}
	far := kg.Vector{ID: "far", Embeddings: []float32{0, 1, 0}}
	if _, err := v.AddVectors(ctx, "brain1", kg.CollectionRelationships, []kg.Vector{anchor, near, far}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	hits, err := v.SearchSimilarByIDs(ctx, "brain1", kg.CollectionRelationships, []string{"anchor"}, 0.90, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "near" {
		t.Fatalf("expected top-1 near duplicate, got %+v", hits)
	}
}

func TestVectorSearchVectorsRanksByCosine(t *testing.T) {
	ctx := context.Background()
	v := NewVector()
	if _, err := v.AddVectors(ctx, "brain1", kg.CollectionNodes, []kg.Vector{
		{ID: "a", Embeddings: []float32{1, 0}},
		{ID: "b", Embeddings: []float32{0, 1}},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	results, err := v.SearchVectors(ctx, "brain1", kg.CollectionNodes, []float32{1, 0}, 2)
	if err != nil || len(results) != 2 {
		t.Fatalf("unexpected results: %+v err=%v", results, err)
	}
	if results[0].ID != "a" {
		t.Fatalf("expected a to rank first, got %+v", results)
	}
}

func TestCacheDecrAndIncrByAreAtomicPerBrain(t *testing.T) {
	ctx := context.Background()
	c := NewCache()
	if _, err := c.IncrBy(ctx, "brain1", "session:s1:pending_tasks", 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, err := c.Decr(ctx, "brain1", "session:s1:pending_tasks")
	if err != nil || v != 2 {
		t.Fatalf("expected 2 after decrement, got %d err=%v", v, err)
	}
	other, err := c.Get(ctx, "brain2", "session:s1:pending_tasks")
	if err == nil {
		t.Fatalf("expected isolation error for other brain, got value %q", other)
	}
}

func TestCacheSetExpires(t *testing.T) {
	ctx := context.Background()
	c := NewCache()
	if err := c.Set(ctx, "brain1", "task:abc", "{}", time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := c.Get(ctx, "brain1", "task:abc"); err == nil {
		t.Fatalf("expected expired key to be absent")
	}
}

func TestCacheGetTaskKeysSkipsExpired(t *testing.T) {
	ctx := context.Background()
	c := NewCache()
	if err := c.Set(ctx, "brain1", "task:live", "{}", time.Hour); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Set(ctx, "brain1", "task:dead", "{}", time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	keys, err := c.GetTaskKeys(ctx, "brain1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(keys) != 1 || keys[0] != "task:live" {
		t.Fatalf("expected only live task key, got %v", keys)
	}
}

func TestDocSaveAndGetTextChunk(t *testing.T) {
	ctx := context.Background()
	d := NewDoc()
	chunk := kg.TextChunk{ID: uuid.NewString(), Text: "the quick brown fox"}
	if _, err := d.SaveTextChunk(ctx, "brain1", chunk); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := d.GetTextChunkByID(ctx, "brain1", chunk.ID)
	if err != nil || got.Text != chunk.Text {
		t.Fatalf("unexpected chunk: %+v err=%v", got, err)
	}
	results, err := d.Search(ctx, "brain1", "brown")
	if err != nil || len(results) != 1 {
		t.Fatalf("expected one search hit, got %+v err=%v", results, err)
	}
}
