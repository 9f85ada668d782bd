package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/Lumen-Labs/brainapi2/internal/kg"
	"github.com/Lumen-Labs/brainapi2/internal/store"
)

type vecEntry struct {
	embeddings []float32
	metadata   map[string]any
}

type brainVector struct {
	collections map[kg.VectorCollection]map[string]vecEntry
}

// Vector is an in-memory, brain-and-collection-partitioned VectorStore using
// the same dot-product-over-norms cosine similarity as the teacher's fake.
type Vector struct {
	mu     sync.RWMutex
	brains map[string]*brainVector
}

// NewVector constructs an empty in-memory VectorStore.
func NewVector() store.VectorStore {
	return &Vector{brains: make(map[string]*brainVector)}
}

func (v *Vector) brain(id string) *brainVector {
	b, ok := v.brains[id]
	if !ok {
		b = &brainVector{collections: make(map[kg.VectorCollection]map[string]vecEntry)}
		v.brains[id] = b
	}
	return b
}

func (b *brainVector) collection(c kg.VectorCollection) map[string]vecEntry {
	m, ok := b.collections[c]
	if !ok {
		m = make(map[string]vecEntry)
		b.collections[c] = m
	}
	return m
}

func (v *Vector) AddVectors(_ context.Context, brainID string, collection kg.VectorCollection, vectors []kg.Vector) ([]string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	coll := v.brain(brainID).collection(collection)
	ids := make([]string, 0, len(vectors))
	for _, vec := range vectors {
		if vec.ID == "" {
			return nil, fmt.Errorf("memory vector: vector missing id")
		}
		coll[vec.ID] = vecEntry{embeddings: vec.Embeddings, metadata: vec.Metadata}
		ids = append(ids, vec.ID)
	}
	return ids, nil
}

func (v *Vector) SearchVectors(_ context.Context, brainID string, collection kg.VectorCollection, query []float32, k int) ([]store.VectorResult, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	coll := v.brain(brainID).collection(collection)
	results := make([]store.VectorResult, 0, len(coll))
	for id, e := range coll {
		results = append(results, store.VectorResult{ID: id, Score: cosine(query, e.embeddings), Metadata: e.metadata})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (v *Vector) GetByIDs(_ context.Context, brainID string, collection kg.VectorCollection, ids []string) ([]kg.Vector, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	coll := v.brain(brainID).collection(collection)
	out := make([]kg.Vector, 0, len(ids))
	for _, id := range ids {
		if e, ok := coll[id]; ok {
			out = append(out, kg.Vector{ID: id, Embeddings: e.embeddings, Metadata: e.metadata})
		}
	}
	return out, nil
}

// SearchSimilarByIDs compares each id's stored vector against every other
// vector in the collection, returning hits scoring at or above
// minSimilarity, sorted descending and truncated to limit. This backs the
// near-duplicate-edge dedupe check (spec §4.5): callers pass limit=1 and
// minSimilarity=0.90 to find a top-1 near-duplicate.
func (v *Vector) SearchSimilarByIDs(_ context.Context, brainID string, collection kg.VectorCollection, ids []string, minSimilarity float64, limit int) ([]store.VectorResult, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	coll := v.brain(brainID).collection(collection)
	seed := map[string]bool{}
	for _, id := range ids {
		seed[id] = true
	}
	var results []store.VectorResult
	for _, id := range ids {
		anchor, ok := coll[id]
		if !ok {
			continue
		}
		for otherID, e := range coll {
			if seed[otherID] {
				continue
			}
			score := cosine(anchor.embeddings, e.embeddings)
			if score >= minSimilarity {
				results = append(results, store.VectorResult{ID: otherID, Score: score, Metadata: e.metadata})
			}
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (v *Vector) RemoveVectors(_ context.Context, brainID string, collection kg.VectorCollection, ids []string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	coll := v.brain(brainID).collection(collection)
	for _, id := range ids {
		delete(coll, id)
	}
	return nil
}

func (v *Vector) Close() error { return nil }

func norm(a []float32) float64 {
	var sum float64
	for _, x := range a {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func cosine(a, b []float32) float64 {
	na, nb := norm(a), norm(b)
	if na == 0 || nb == 0 {
		return 0
	}
	return dot(a, b) / (na * nb)
}
