package memory

import (
	"fmt"
	"strings"
	"sync"

	"context"

	"github.com/Lumen-Labs/brainapi2/internal/kg"
	"github.com/Lumen-Labs/brainapi2/internal/store"
)

type brainDocs struct {
	chunks      map[string]kg.TextChunk
	observations []kg.Observation
	structured  map[string]kg.StructuredData
	changes     []kg.KGChange
}

// Doc is an in-memory DocStore. Search is a naive substring match over
// TextChunk.Text, sufficient for tests exercising the ingestion pipeline
// without a real full-text index.
type Doc struct {
	mu     sync.RWMutex
	brains map[string]*brainDocs
}

// NewDoc constructs an empty in-memory DocStore.
func NewDoc() store.DocStore {
	return &Doc{brains: make(map[string]*brainDocs)}
}

func (d *Doc) brain(id string) *brainDocs {
	b, ok := d.brains[id]
	if !ok {
		b = &brainDocs{chunks: make(map[string]kg.TextChunk), structured: make(map[string]kg.StructuredData)}
		d.brains[id] = b
	}
	return b
}

func (d *Doc) SaveTextChunk(_ context.Context, brainID string, chunk kg.TextChunk) (kg.TextChunk, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b := d.brain(brainID)
	if chunk.ID == "" {
		return kg.TextChunk{}, fmt.Errorf("memory doc: text chunk missing id")
	}
	b.chunks[chunk.ID] = chunk
	return chunk, nil
}

func (d *Doc) SaveObservations(_ context.Context, brainID string, obs []kg.Observation) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b := d.brain(brainID)
	b.observations = append(b.observations, obs...)
	return nil
}

func (d *Doc) SaveStructuredData(_ context.Context, brainID string, sd kg.StructuredData) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b := d.brain(brainID)
	if sd.ID == "" {
		return fmt.Errorf("memory doc: structured data missing id")
	}
	b.structured[sd.ID] = sd
	return nil
}

func (d *Doc) SaveKGChanges(_ context.Context, brainID string, change kg.KGChange) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b := d.brain(brainID)
	b.changes = append(b.changes, change)
	return nil
}

func (d *Doc) GetTextChunkByID(_ context.Context, brainID, id string) (kg.TextChunk, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	b := d.brain(brainID)
	c, ok := b.chunks[id]
	if !ok {
		return kg.TextChunk{}, fmt.Errorf("memory doc: text chunk %s not found", id)
	}
	return c, nil
}

func (d *Doc) GetStructuredDataByID(_ context.Context, brainID, id string) (*kg.StructuredData, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	b := d.brain(brainID)
	sd, ok := b.structured[id]
	if !ok {
		return nil, nil
	}
	return &sd, nil
}

func (d *Doc) GetObservationsList(_ context.Context, brainID string, f store.ListFilter) ([]kg.Observation, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	b := d.brain(brainID)
	all := b.observations
	start := f.Skip
	if start > len(all) {
		start = len(all)
	}
	end := len(all)
	if f.Limit > 0 && start+f.Limit < end {
		end = start + f.Limit
	}
	out := make([]kg.Observation, end-start)
	copy(out, all[start:end])
	return out, nil
}

func (d *Doc) Search(_ context.Context, brainID, text string) ([]kg.TextChunk, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	b := d.brain(brainID)
	needle := strings.ToLower(text)
	var out []kg.TextChunk
	for _, c := range b.chunks {
		if strings.Contains(strings.ToLower(c.Text), needle) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (d *Doc) Close() error { return nil }
