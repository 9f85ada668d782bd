// Package ingest implements the IngestionManager: mediates vector embedding
// and vector-store writes for nodes and edges, grounded on the original
// source's saving/ingestion_manager.py (IngestionManager.__init__,
// process_node_vectors, process_rel_vectors). One Manager is constructed per
// ingestion run and never shared across runs, exactly as the original seeds
// a fresh resolved_cache per instantiation.
package ingest

import (
	"context"
	"fmt"
	"sync"

	"github.com/Lumen-Labs/brainapi2/internal/kg"
	"github.com/Lumen-Labs/brainapi2/internal/observability"
	"github.com/Lumen-Labs/brainapi2/internal/store"
)

// Embedder is the subset of internal/embedding.Client the manager depends
// on, narrowed to an interface so tests can substitute a stub.
type Embedder interface {
	Embed(ctx context.Context, texts []string) []kg.Vector
}

// Manager mediates node/relationship embedding and vector-store writes for
// one ingestion run. It is not safe to share across concurrent runs; the
// resolvedCache is scoped to a single Manager instance by design, but is
// itself mutex-guarded since a single run's process_architect_relationships
// fan-out calls ProcessRelVectors/ProcessNodeVectors concurrently from a
// bounded worker pool.
type Manager struct {
	Embedder Embedder
	Vectors  store.VectorStore

	mu            sync.Mutex
	resolvedCache map[string]string // entity name -> already-embedded node uuid
}

// New constructs a Manager with a fresh resolvedCache.
func New(embedder Embedder, vectors store.VectorStore) *Manager {
	return &Manager{Embedder: embedder, Vectors: vectors, resolvedCache: make(map[string]string)}
}

// ProcessNodeVectors embeds entity.Name and writes it to the nodes
// collection, storing the returned vector id in entity.Properties["v_id"].
// It skips embedding entirely if this run already resolved a node with the
// same name. An embedder failure (empty Vector) is logged and treated as a
// skip, never an error.
func (m *Manager) ProcessNodeVectors(ctx context.Context, entity *kg.ScoutEntity, brainID string) (string, error) {
	log := observability.LoggerWithTrace(ctx)

	m.mu.Lock()
	if cached, ok := m.resolvedCache[entity.Name]; ok {
		m.mu.Unlock()
		return cached, nil
	}
	m.mu.Unlock()

	vecs := m.Embedder.Embed(ctx, []string{entity.Name})
	if len(vecs) == 0 || !vecs[0].Embedded() {
		log.Warn().Str("entity", entity.Name).Msg("ingest_node_embedding_empty")
		return entity.UUID, nil
	}

	vec := vecs[0]
	vec.Metadata = map[string]any{
		"labels": []string{entity.Type},
		"name":   entity.Name,
		"uuid":   entity.UUID,
	}
	ids, err := m.Vectors.AddVectors(ctx, brainID, kg.CollectionNodes, []kg.Vector{vec})
	if err != nil {
		return "", fmt.Errorf("ingest: write node vector for %q: %w", entity.Name, err)
	}
	if len(ids) == 0 {
		return "", fmt.Errorf("ingest: vector store returned no id for node %q", entity.Name)
	}

	if entity.Properties == nil {
		entity.Properties = make(map[string]any)
	}
	entity.Properties["v_id"] = ids[0]

	m.mu.Lock()
	m.resolvedCache[entity.Name] = entity.UUID
	m.mu.Unlock()

	return entity.UUID, nil
}

// ProcessRelVectors embeds rel.Description (a no-op when empty) and writes it
// to the relationships collection, storing the returned vector id in
// rel.Properties["v_id"]. Like ProcessNodeVectors, an empty-embeddings
// result is logged and skipped rather than treated as an error.
func (m *Manager) ProcessRelVectors(ctx context.Context, rel *kg.ArchitectRelationship, brainID string) (string, *string, error) {
	if rel.Description == "" {
		return rel.UUID, nil, nil
	}
	log := observability.LoggerWithTrace(ctx)

	vecs := m.Embedder.Embed(ctx, []string{rel.Description})
	if len(vecs) == 0 || !vecs[0].Embedded() {
		log.Warn().Str("relationship", rel.UUID).Msg("ingest_relationship_embedding_empty")
		return rel.UUID, nil, nil
	}

	vec := vecs[0]
	vec.Metadata = map[string]any{
		"uuid":     rel.UUID,
		"node_ids": []string{rel.Tail.UUID, rel.Tip.UUID},
		"predicate": rel.Name,
	}
	ids, err := m.Vectors.AddVectors(ctx, brainID, kg.CollectionRelationships, []kg.Vector{vec})
	if err != nil {
		return "", nil, fmt.Errorf("ingest: write relationship vector for %q: %w", rel.UUID, err)
	}
	if len(ids) == 0 {
		return "", nil, fmt.Errorf("ingest: vector store returned no id for relationship %q", rel.UUID)
	}

	if rel.Properties == nil {
		rel.Properties = make(map[string]any)
	}
	rel.Properties["v_id"] = ids[0]

	return rel.UUID, &ids[0], nil
}
