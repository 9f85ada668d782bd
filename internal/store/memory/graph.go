// Package memory provides in-memory fakes for store.GraphStore,
// store.VectorStore, store.DocStore, and store.Cache, grounded on the
// teacher's databases.NewMemoryGraph/NewMemoryVector fakes. They exist for
// tests; production wiring uses internal/store/postgres, qdrant, and
// rediscache.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Lumen-Labs/brainapi2/internal/kg"
	"github.com/Lumen-Labs/brainapi2/internal/store"
)

type brainGraph struct {
	nodes map[string]kg.Node           // uuid -> node
	edges map[string]edgeEntry         // edge uuid -> entry
	byKey map[string]string            // "name|labels" -> uuid, secondary identity
}

type edgeEntry struct {
	tailUUID string
	tipUUID  string
	rel      kg.Predicate
}

// Graph is an in-memory, brain-partitioned GraphStore.
type Graph struct {
	mu     sync.RWMutex
	brains map[string]*brainGraph
}

// NewGraph constructs an empty in-memory GraphStore.
func NewGraph() store.GraphStore {
	return &Graph{brains: make(map[string]*brainGraph)}
}

func (g *Graph) brain(id string) *brainGraph {
	b, ok := g.brains[id]
	if !ok {
		b = &brainGraph{nodes: make(map[string]kg.Node), edges: make(map[string]edgeEntry), byKey: make(map[string]string)}
		g.brains[id] = b
	}
	return b
}

func nodeKey(name string, labels []string) string {
	sorted := append([]string{}, labels...)
	sort.Strings(sorted)
	return name + "|" + strings.Join(sorted, ",")
}

func (g *Graph) AddNodes(_ context.Context, brainID string, nodes []kg.Node) ([]kg.Node, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	b := g.brain(brainID)
	out := make([]kg.Node, 0, len(nodes))
	for _, n := range nodes {
		key := nodeKey(n.Name, n.Labels)
		if existingUUID, ok := b.byKey[key]; ok && n.UUID == "" {
			n.UUID = existingUUID
		}
		if n.UUID == "" {
			return nil, fmt.Errorf("memory graph: node %q missing uuid", n.Name)
		}
		if existing, ok := b.nodes[n.UUID]; ok {
			merged := existing
			merged.Labels = n.Labels
			merged.Name = n.Name
			if n.Description != "" {
				merged.Description = n.Description
			}
			if n.Polarity != "" {
				merged.Polarity = n.Polarity
			}
			if merged.Properties == nil {
				merged.Properties = map[string]any{}
			}
			for k, v := range n.Properties {
				merged.Properties[k] = v
			}
			b.nodes[n.UUID] = merged
			out = append(out, merged)
		} else {
			b.nodes[n.UUID] = n
			out = append(out, n)
		}
		b.byKey[key] = n.UUID
	}
	return out, nil
}

func (g *Graph) AddRelationship(_ context.Context, brainID string, tail kg.Node, rel kg.Predicate, tip kg.Node) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	b := g.brain(brainID)
	upsertNodeLocked(b, tail)
	upsertNodeLocked(b, tip)
	if rel.UUID == "" {
		return fmt.Errorf("memory graph: relationship missing uuid")
	}
	b.edges[rel.UUID] = edgeEntry{tailUUID: tail.UUID, tipUUID: tip.UUID, rel: rel}
	return nil
}

func upsertNodeLocked(b *brainGraph, n kg.Node) {
	key := nodeKey(n.Name, n.Labels)
	if _, ok := b.nodes[n.UUID]; !ok {
		b.nodes[n.UUID] = n
	}
	b.byKey[key] = n.UUID
}

func (g *Graph) CheckNodeExistence(_ context.Context, brainID string, f store.NodeFilter) (bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	b := g.brain(brainID)
	if f.UUID != "" {
		if _, ok := b.nodes[f.UUID]; ok {
			return true, nil
		}
	}
	if f.Name != "" {
		if _, ok := b.byKey[nodeKey(f.Name, f.Labels)]; ok {
			return true, nil
		}
	}
	return false, nil
}

func (g *Graph) GetByUUID(_ context.Context, brainID string, uuids []string) ([]kg.Node, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	b := g.brain(brainID)
	out := make([]kg.Node, 0, len(uuids))
	for _, id := range uuids {
		if n, ok := b.nodes[id]; ok {
			out = append(out, n)
		}
	}
	return out, nil
}

func (g *Graph) GetNodesByUUID(ctx context.Context, brainID string, uuids []string, _ bool, _ int, _ []string, _ []string) ([]kg.Node, error) {
	return g.GetByUUID(ctx, brainID, uuids)
}

func (g *Graph) GetNeighbors(_ context.Context, brainID string, uuids []string, ofTypes []string, limit int) ([]kg.Triple, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	b := g.brain(brainID)
	seeds := map[string]bool{}
	for _, id := range uuids {
		seeds[id] = true
	}
	var out []kg.Triple
	for _, e := range b.edges {
		if !seeds[e.tailUUID] && !seeds[e.tipUUID] {
			continue
		}
		tail, tip := b.nodes[e.tailUUID], b.nodes[e.tipUUID]
		if len(ofTypes) > 0 && !hasAnyLabel(tip.Labels, ofTypes) && !hasAnyLabel(tail.Labels, ofTypes) {
			continue
		}
		out = append(out, kg.Triple{Tail: tail, Rel: e.rel, Tip: tip})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func hasAnyLabel(labels []string, want []string) bool {
	for _, l := range labels {
		for _, w := range want {
			if l == w {
				return true
			}
		}
	}
	return false
}

// Get2ndDegreeHops returns every edge touching uuids or touching a neighbor of
// uuids. similarityThreshold is accepted for interface conformance; the
// in-memory fake has no vector-similarity notion of its own and returns the
// full 2-hop structural neighborhood unfiltered.
func (g *Graph) Get2ndDegreeHops(ctx context.Context, brainID string, uuids []string, _ float64) ([]kg.Triple, error) {
	g.mu.RLock()
	b := g.brain(brainID)
	firstHop := map[string]bool{}
	for _, id := range uuids {
		firstHop[id] = true
	}
	var frontier []string
	for _, e := range b.edges {
		if firstHop[e.tailUUID] {
			frontier = append(frontier, e.tipUUID)
		}
		if firstHop[e.tipUUID] {
			frontier = append(frontier, e.tailUUID)
		}
	}
	g.mu.RUnlock()
	all := append(append([]string{}, uuids...), frontier...)
	return g.GetNeighbors(ctx, brainID, all, nil, 0)
}

func (g *Graph) GetNextsByFlowKey(_ context.Context, brainID string, predicateUUIDs []string, flowKey string) ([]kg.Triple, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	b := g.brain(brainID)
	want := map[string]bool{}
	for _, id := range predicateUUIDs {
		want[id] = true
	}
	var out []kg.Triple
	for id, e := range b.edges {
		if e.rel.FlowKey != flowKey {
			continue
		}
		if len(want) > 0 && !want[id] {
			continue
		}
		out = append(out, kg.Triple{Tail: b.nodes[e.tailUUID], Rel: e.rel, Tip: b.nodes[e.tipUUID]})
	}
	return out, nil
}

func (g *Graph) GetTriplesByUUID(_ context.Context, brainID string, relationshipUUIDs []string) ([]kg.Triple, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	b := g.brain(brainID)
	out := make([]kg.Triple, 0, len(relationshipUUIDs))
	for _, id := range relationshipUUIDs {
		if e, ok := b.edges[id]; ok {
			out = append(out, kg.Triple{Tail: b.nodes[e.tailUUID], Rel: e.rel, Tip: b.nodes[e.tipUUID]})
		}
	}
	return out, nil
}

func (g *Graph) SearchEntities(_ context.Context, brainID string, f store.NodeFilter) ([]kg.Node, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	b := g.brain(brainID)
	var out []kg.Node
	for _, n := range b.nodes {
		if f.Name != "" && n.Name != f.Name {
			continue
		}
		if len(f.Labels) > 0 && !hasAnyLabel(n.Labels, f.Labels) {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func (g *Graph) SearchRelationships(_ context.Context, brainID string, predicateName string) ([]kg.Predicate, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	b := g.brain(brainID)
	var out []kg.Predicate
	for _, e := range b.edges {
		if predicateName == "" || e.rel.Name == predicateName {
			out = append(out, e.rel)
		}
	}
	return out, nil
}

func (g *Graph) DeprecateRelationship(_ context.Context, brainID, relationshipUUID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	b := g.brain(brainID)
	e, ok := b.edges[relationshipUUID]
	if !ok {
		return fmt.Errorf("memory graph: relationship %s not found", relationshipUUID)
	}
	e.rel.Deprecated = true
	e.rel.LastUpdated = time.Now().Unix()
	b.edges[relationshipUUID] = e
	return nil
}

func (g *Graph) UpdateProperties(_ context.Context, brainID, uuid string, target store.UpdateTarget, update store.PropertyUpdate) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	b := g.brain(brainID)
	switch target {
	case store.UpdateNode:
		n, ok := b.nodes[uuid]
		if !ok {
			return fmt.Errorf("memory graph: node %s not found", uuid)
		}
		applyUpdate(&n.Properties, update)
		b.nodes[uuid] = n
	case store.UpdateRelationship:
		e, ok := b.edges[uuid]
		if !ok {
			return fmt.Errorf("memory graph: relationship %s not found", uuid)
		}
		applyUpdate(&e.rel.Properties, update)
		e.rel.LastUpdated = time.Now().Unix()
		b.edges[uuid] = e
	}
	return nil
}

func applyUpdate(props *map[string]any, update store.PropertyUpdate) {
	if *props == nil {
		*props = map[string]any{}
	}
	for k, v := range update.Set {
		(*props)[k] = v
	}
	for _, k := range update.Unset {
		delete(*props, k)
	}
}

func (g *Graph) RemoveNodes(_ context.Context, brainID string, uuids []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	b := g.brain(brainID)
	for _, id := range uuids {
		if n, ok := b.nodes[id]; ok {
			delete(b.byKey, nodeKey(n.Name, n.Labels))
		}
		delete(b.nodes, id)
	}
	return nil
}

func (g *Graph) RemoveRelationships(_ context.Context, brainID string, uuids []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	b := g.brain(brainID)
	for _, id := range uuids {
		delete(b.edges, id)
	}
	return nil
}

func (g *Graph) GetSchema(_ context.Context, brainID string) (store.Schema, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	b := g.brain(brainID)
	labelSet := map[string]bool{}
	relSet := map[string]bool{}
	for _, n := range b.nodes {
		for _, l := range n.Labels {
			labelSet[l] = true
		}
	}
	for _, e := range b.edges {
		relSet[e.rel.Name] = true
	}
	s := store.Schema{}
	for l := range labelSet {
		s.Labels = append(s.Labels, l)
	}
	for r := range relSet {
		s.Relationships = append(s.Relationships, r)
	}
	sort.Strings(s.Labels)
	sort.Strings(s.Relationships)
	return s, nil
}

// ExecuteOperation is opaque to the core (spec §9): the in-memory fake accepts
// any operation string, applies nothing to the graph, and returns a message
// echoing the operation, so callers have something to exercise without a
// real database.
func (g *Graph) ExecuteOperation(_ context.Context, brainID, rawQuery string) (string, error) {
	return fmt.Sprintf("memory graph: executed opaque operation on brain %s: %s", brainID, rawQuery), nil
}

func (g *Graph) Close() error { return nil }
