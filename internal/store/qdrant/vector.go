// Package qdrant implements store.VectorStore over qdrant/go-client,
// grounded on the teacher's internal/persistence/databases qdrantVector
// (DSN parsing, deterministic point-UUID generation, payload-based original
// ID recovery) and extended to four named collections per brain — nodes,
// relationships, observations, data — instead of the teacher's single
// configurable collection.
package qdrant

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/Lumen-Labs/brainapi2/internal/kg"
	"github.com/Lumen-Labs/brainapi2/internal/store"
)

// payloadIDField mirrors the teacher's PAYLOAD_ID_FIELD: Qdrant only accepts
// UUID or integer point IDs, so arbitrary string IDs are mapped to a
// deterministic UUID and the original ID is recovered from the payload.
const payloadIDField = "_original_id"

// Vector is a brain-and-collection-partitioned VectorStore backed by
// Qdrant. Each (brainID, collection) pair maps to its own Qdrant collection,
// created lazily on first use.
type Vector struct {
	client    *qdrant.Client
	dimension int
	metric    string

	mu      sync.Mutex
	ensured map[string]bool
}

// NewVector parses a Qdrant gRPC DSN (e.g. "http://localhost:6334?api_key=...")
// the same way the teacher does and returns a VectorStore that creates one
// Qdrant collection per (brainID, kg.VectorCollection) pair on demand.
func NewVector(dsn string, dimension int, metric string) (store.VectorStore, error) {
	parsedURL, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("qdrant vector: parse dsn: %w", err)
	}
	host := parsedURL.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsedURL.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("qdrant vector: invalid port in dsn: %w", err)
	}
	config := &qdrant.Config{Host: host, Port: portNum}
	if parsedURL.Scheme == "https" {
		config.UseTLS = true
	}
	if apiKey := parsedURL.Query().Get("api_key"); apiKey != "" {
		config.APIKey = apiKey
	}
	client, err := qdrant.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("qdrant vector: create client: %w", err)
	}
	if dimension <= 0 {
		client.Close()
		return nil, fmt.Errorf("qdrant vector: dimension must be > 0")
	}
	return &Vector{
		client:    client,
		dimension: dimension,
		metric:    strings.ToLower(strings.TrimSpace(metric)),
		ensured:   make(map[string]bool),
	}, nil
}

func collectionName(brainID string, collection kg.VectorCollection) string {
	return fmt.Sprintf("%s__%s", brainID, collection)
}

func pointID(id string) (*qdrant.PointId, bool) {
	if _, err := uuid.Parse(id); err == nil {
		return qdrant.NewIDUUID(id), false
	}
	derived := uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
	return qdrant.NewIDUUID(derived), true
}

func (v *Vector) distance() qdrant.Distance {
	switch v.metric {
	case "l2", "euclidean":
		return qdrant.Distance_Euclid
	case "ip", "dot":
		return qdrant.Distance_Dot
	case "manhattan":
		return qdrant.Distance_Manhattan
	default:
		return qdrant.Distance_Cosine
	}
}

func (v *Vector) ensureCollection(ctx context.Context, name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.ensured[name] {
		return nil
	}
	exists, err := v.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("qdrant vector: check collection %s: %w", name, err)
	}
	if !exists {
		err = v.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(v.dimension),
				Distance: v.distance(),
			}),
		})
		if err != nil {
			return fmt.Errorf("qdrant vector: create collection %s: %w", name, err)
		}
	}
	v.ensured[name] = true
	return nil
}

func (v *Vector) AddVectors(ctx context.Context, brainID string, collection kg.VectorCollection, vectors []kg.Vector) ([]string, error) {
	name := collectionName(brainID, collection)
	if err := v.ensureCollection(ctx, name); err != nil {
		return nil, err
	}
	points := make([]*qdrant.PointStruct, 0, len(vectors))
	ids := make([]string, 0, len(vectors))
	for _, vec := range vectors {
		id, derived := pointID(vec.ID)
		metadataAny := make(map[string]any, len(vec.Metadata)+1)
		for k, val := range vec.Metadata {
			metadataAny[k] = val
		}
		if derived {
			metadataAny[payloadIDField] = vec.ID
		}
		embeddings := make([]float32, len(vec.Embeddings))
		copy(embeddings, vec.Embeddings)
		points = append(points, &qdrant.PointStruct{
			Id:      id,
			Vectors: qdrant.NewVectorsDense(embeddings),
			Payload: qdrant.NewValueMap(metadataAny),
		})
		ids = append(ids, vec.ID)
	}
	if _, err := v.client.Upsert(ctx, &qdrant.UpsertPoints{CollectionName: name, Points: points}); err != nil {
		return nil, fmt.Errorf("qdrant vector: upsert into %s: %w", name, err)
	}
	return ids, nil
}

func (v *Vector) SearchVectors(ctx context.Context, brainID string, collection kg.VectorCollection, query []float32, k int) ([]store.VectorResult, error) {
	name := collectionName(brainID, collection)
	if err := v.ensureCollection(ctx, name); err != nil {
		return nil, err
	}
	if k <= 0 {
		k = 10
	}
	vec := make([]float32, len(query))
	copy(vec, query)
	limit := uint64(k)
	hits, err := v.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: name,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant vector: search %s: %w", name, err)
	}
	return toResults(hits), nil
}

func toResults(hits []*qdrant.ScoredPoint) []store.VectorResult {
	out := make([]store.VectorResult, 0, len(hits))
	for _, hit := range hits {
		out = append(out, store.VectorResult{ID: originalID(hit.Id, hit.Payload), Score: float64(hit.Score), Metadata: payloadToMap(hit.Payload)})
	}
	return out
}

func originalID(id *qdrant.PointId, payload map[string]*qdrant.Value) string {
	if payload != nil {
		if v, ok := payload[payloadIDField]; ok {
			return v.GetStringValue()
		}
	}
	if s := id.GetUuid(); s != "" {
		return s
	}
	return id.String()
}

func payloadToMap(payload map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for k, val := range payload {
		if k == payloadIDField {
			continue
		}
		out[k] = valueToAny(val)
	}
	return out
}

// valueToAny decodes a qdrant payload value back to the shape this module
// ever writes into vector metadata: a plain string, or (e.g. "node_ids") a
// list of strings. GetListValue returns non-nil only when the value was
// actually stored as a list, so this doesn't misread a string payload field
// as a list or vice versa.
func valueToAny(val *qdrant.Value) any {
	if val == nil {
		return nil
	}
	if lv := val.GetListValue(); lv != nil {
		items := lv.GetValues()
		strs := make([]string, 0, len(items))
		for _, item := range items {
			strs = append(strs, item.GetStringValue())
		}
		return strs
	}
	return val.GetStringValue()
}

func (v *Vector) GetByIDs(ctx context.Context, brainID string, collection kg.VectorCollection, ids []string) ([]kg.Vector, error) {
	name := collectionName(brainID, collection)
	if err := v.ensureCollection(ctx, name); err != nil {
		return nil, err
	}
	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pid, _ := pointID(id)
		pointIDs = append(pointIDs, pid)
	}
	points, err := v.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: name,
		Ids:            pointIDs,
		WithVectors:    qdrant.NewWithVectors(true),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant vector: get by ids from %s: %w", name, err)
	}
	out := make([]kg.Vector, 0, len(points))
	for _, p := range points {
		out = append(out, kg.Vector{
			ID:         originalID(p.Id, p.Payload),
			Embeddings: p.Vectors.GetVector().GetData(),
			Metadata:   payloadToMap(p.Payload),
		})
	}
	return out, nil
}

// SearchSimilarByIDs fetches the stored vectors for ids, then queries each
// against the collection, keeping hits scoring at or above minSimilarity and
// excluding the seed ids themselves. This backs the near-duplicate-edge
// dedupe check (spec §4.5): callers pass limit=1 and minSimilarity=0.90.
func (v *Vector) SearchSimilarByIDs(ctx context.Context, brainID string, collection kg.VectorCollection, ids []string, minSimilarity float64, limit int) ([]store.VectorResult, error) {
	anchors, err := v.GetByIDs(ctx, brainID, collection, ids)
	if err != nil {
		return nil, err
	}
	seed := make(map[string]bool, len(ids))
	for _, id := range ids {
		seed[id] = true
	}
	var all []store.VectorResult
	for _, anchor := range anchors {
		hits, err := v.SearchVectors(ctx, brainID, collection, anchor.Embeddings, limit+len(ids))
		if err != nil {
			return nil, err
		}
		for _, h := range hits {
			if seed[h.ID] || h.Score < minSimilarity {
				continue
			}
			all = append(all, h)
		}
	}
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (v *Vector) RemoveVectors(ctx context.Context, brainID string, collection kg.VectorCollection, ids []string) error {
	name := collectionName(brainID, collection)
	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pid, _ := pointID(id)
		pointIDs = append(pointIDs, pid)
	}
	_, err := v.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: name,
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return fmt.Errorf("qdrant vector: remove vectors from %s: %w", name, err)
	}
	return nil
}

func (v *Vector) Close() error {
	return v.client.Close()
}
