// Package store defines the capability interfaces the ingestion core depends
// on: GraphStore, VectorStore, DocStore, and Cache. All operations are
// brain-scoped; implementations must guarantee per-brain isolation.
package store

import (
	"context"
	"time"

	"github.com/Lumen-Labs/brainapi2/internal/kg"
)

// NodeFilter narrows a node search/update by uuid, name, and/or labels.
// Zero-value fields are unconstrained.
type NodeFilter struct {
	UUID   string
	Name   string
	Labels []string
}

// Schema describes the shapes a GraphStore currently holds for a brain, used
// by Janitor/KG-agent tools to ground their query generation.
type Schema struct {
	Labels        []string
	Relationships []string
	EventNames    []string
}

// PropertyUpdate is one node/relationship property mutation.
type PropertyUpdate struct {
	Set   map[string]any
	Unset []string
}

// UpdateTarget selects what PropertyUpdate applies to.
type UpdateTarget string

const (
	UpdateNode         UpdateTarget = "node"
	UpdateRelationship UpdateTarget = "relationship"
)

// GraphStore is the property-graph capability contract. Every method is
// brain-scoped by brainID.
type GraphStore interface {
	AddNodes(ctx context.Context, brainID string, nodes []kg.Node) ([]kg.Node, error)
	AddRelationship(ctx context.Context, brainID string, tail kg.Node, rel kg.Predicate, tip kg.Node) error

	CheckNodeExistence(ctx context.Context, brainID string, f NodeFilter) (bool, error)
	GetByUUID(ctx context.Context, brainID string, uuids []string) ([]kg.Node, error)
	GetNodesByUUID(ctx context.Context, brainID string, uuids []string, withRelationships bool, depth int, typeFilter, labelFilter []string) ([]kg.Node, error)

	GetNeighbors(ctx context.Context, brainID string, uuids []string, ofTypes []string, limit int) ([]kg.Triple, error)
	Get2ndDegreeHops(ctx context.Context, brainID string, uuids []string, similarityThreshold float64) ([]kg.Triple, error)
	GetNextsByFlowKey(ctx context.Context, brainID string, predicateUUIDs []string, flowKey string) ([]kg.Triple, error)
	GetTriplesByUUID(ctx context.Context, brainID string, relationshipUUIDs []string) ([]kg.Triple, error)

	SearchEntities(ctx context.Context, brainID string, f NodeFilter) ([]kg.Node, error)
	SearchRelationships(ctx context.Context, brainID string, predicateName string) ([]kg.Predicate, error)

	DeprecateRelationship(ctx context.Context, brainID, relationshipUUID string) error
	UpdateProperties(ctx context.Context, brainID, uuid string, target UpdateTarget, update PropertyUpdate) error
	RemoveNodes(ctx context.Context, brainID string, uuids []string) error
	RemoveRelationships(ctx context.Context, brainID string, uuids []string) error

	GetSchema(ctx context.Context, brainID string) (Schema, error)
	ExecuteOperation(ctx context.Context, brainID, rawQuery string) (string, error)

	Close() error
}

// VectorResult is one similarity-search hit.
type VectorResult struct {
	ID       string
	Score    float64
	Metadata map[string]any
}

// VectorStore holds embeddings across four named collections per brain:
// nodes, relationships, observations, data.
type VectorStore interface {
	AddVectors(ctx context.Context, brainID string, collection kg.VectorCollection, vectors []kg.Vector) ([]string, error)
	SearchVectors(ctx context.Context, brainID string, collection kg.VectorCollection, query []float32, k int) ([]VectorResult, error)
	GetByIDs(ctx context.Context, brainID string, collection kg.VectorCollection, ids []string) ([]kg.Vector, error)
	SearchSimilarByIDs(ctx context.Context, brainID string, collection kg.VectorCollection, ids []string, minSimilarity float64, limit int) ([]VectorResult, error)
	RemoveVectors(ctx context.Context, brainID string, collection kg.VectorCollection, ids []string) error
	Close() error
}

// ListFilter narrows a DocStore list read.
type ListFilter struct {
	Limit  int
	Skip   int
	Fields map[string]any
}

// DocStore persists text chunks, observations, structured data, and the
// KGChange audit trail. Document IDs are UUIDs.
type DocStore interface {
	SaveTextChunk(ctx context.Context, brainID string, chunk kg.TextChunk) (kg.TextChunk, error)
	SaveObservations(ctx context.Context, brainID string, obs []kg.Observation) error
	SaveStructuredData(ctx context.Context, brainID string, sd kg.StructuredData) error
	SaveKGChanges(ctx context.Context, brainID string, change kg.KGChange) error

	GetTextChunkByID(ctx context.Context, brainID, id string) (kg.TextChunk, error)
	GetStructuredDataByID(ctx context.Context, brainID, id string) (*kg.StructuredData, error)
	GetObservationsList(ctx context.Context, brainID string, f ListFilter) ([]kg.Observation, error)
	Search(ctx context.Context, brainID, text string) ([]kg.TextChunk, error)

	Close() error
}

// Cache is a per-brain key/value store with TTL, plus the primitives the
// task runtime needs for fan-in counters and task-status bookkeeping.
type Cache interface {
	Get(ctx context.Context, brainID, key string) (string, error)
	Set(ctx context.Context, brainID, key, value string, expiresIn time.Duration) error
	Delete(ctx context.Context, brainID, key string) error
	Decr(ctx context.Context, brainID, counterKey string) (int64, error)
	IncrBy(ctx context.Context, brainID, counterKey string, delta int64) (int64, error)
	GetTaskKeys(ctx context.Context, brainID string) ([]string, error)
	Close() error
}
