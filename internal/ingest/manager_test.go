package ingest

import (
	"context"
	"testing"

	"github.com/Lumen-Labs/brainapi2/internal/kg"
	"github.com/Lumen-Labs/brainapi2/internal/store"
)

type stubEmbedder struct {
	calls int
	empty bool
}

func (s *stubEmbedder) Embed(_ context.Context, texts []string) []kg.Vector {
	s.calls++
	out := make([]kg.Vector, len(texts))
	if s.empty {
		return out
	}
	for i := range out {
		out[i].Embeddings = []float32{0.1, 0.2, 0.3}
	}
	return out
}

type stubVectorStore struct {
	store.VectorStore
	nextID string
	added  []kg.Vector
}

func (s *stubVectorStore) AddVectors(_ context.Context, _ string, _ kg.VectorCollection, vectors []kg.Vector) ([]string, error) {
	s.added = append(s.added, vectors...)
	ids := make([]string, len(vectors))
	for i := range ids {
		ids[i] = s.nextID
	}
	return ids, nil
}

func TestProcessNodeVectorsStoresVIDAndSkipsOnRepeatName(t *testing.T) {
	embedder := &stubEmbedder{}
	vectors := &stubVectorStore{nextID: "vec-1"}
	m := New(embedder, vectors)

	entity := &kg.ScoutEntity{UUID: "n-1", Type: "PERSON", Name: "Alice"}
	uuid, err := m.ProcessNodeVectors(context.Background(), entity, "brain-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if uuid != "n-1" {
		t.Fatalf("expected node uuid passthrough, got %q", uuid)
	}
	if entity.Properties["v_id"] != "vec-1" {
		t.Fatalf("expected v_id stored in properties, got %+v", entity.Properties)
	}

	other := &kg.ScoutEntity{UUID: "n-2", Type: "PERSON", Name: "Alice"}
	if _, err := m.ProcessNodeVectors(context.Background(), other, "brain-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if embedder.calls != 1 {
		t.Fatalf("expected the second same-name entity to skip embedding, got %d calls", embedder.calls)
	}
}

func TestProcessNodeVectorsSkipsWriteOnEmptyEmbedding(t *testing.T) {
	embedder := &stubEmbedder{empty: true}
	vectors := &stubVectorStore{nextID: "vec-1"}
	m := New(embedder, vectors)

	entity := &kg.ScoutEntity{UUID: "n-1", Type: "PERSON", Name: "Alice"}
	uuid, err := m.ProcessNodeVectors(context.Background(), entity, "brain-1")
	if err != nil {
		t.Fatalf("expected empty embedding to be a skip, not an error: %v", err)
	}
	if uuid != "n-1" {
		t.Fatalf("expected uuid passthrough even without a vector write, got %q", uuid)
	}
	if len(vectors.added) != 0 {
		t.Fatalf("expected no vector write on empty embedding, got %d", len(vectors.added))
	}
	if _, ok := entity.Properties["v_id"]; ok {
		t.Fatalf("expected no v_id set on empty embedding")
	}
}

func TestProcessRelVectorsNoOpOnEmptyDescription(t *testing.T) {
	embedder := &stubEmbedder{}
	vectors := &stubVectorStore{nextID: "vec-1"}
	m := New(embedder, vectors)

	rel := &kg.ArchitectRelationship{UUID: "rel-1"}
	uuid, vID, err := m.ProcessRelVectors(context.Background(), rel, "brain-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if uuid != "rel-1" || vID != nil {
		t.Fatalf("expected a no-op passthrough for an empty description, got uuid=%q vID=%v", uuid, vID)
	}
	if embedder.calls != 0 {
		t.Fatalf("expected no embedding call for an empty description")
	}
}

func TestProcessRelVectorsEmbedsDescriptionAndStoresVID(t *testing.T) {
	embedder := &stubEmbedder{}
	vectors := &stubVectorStore{nextID: "vec-2"}
	m := New(embedder, vectors)

	rel := &kg.ArchitectRelationship{
		UUID:        "rel-1",
		Description: "Alice donated to the shelter",
		Tail:        kg.EntityRef{UUID: "a"},
		Tip:         kg.EntityRef{UUID: "e"},
		Name:        "MADE",
	}
	uuid, vID, err := m.ProcessRelVectors(context.Background(), rel, "brain-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if uuid != "rel-1" || vID == nil || *vID != "vec-2" {
		t.Fatalf("unexpected result: uuid=%q vID=%v", uuid, vID)
	}
	if rel.Properties["v_id"] != "vec-2" {
		t.Fatalf("expected v_id stored on relationship properties, got %+v", rel.Properties)
	}
}
