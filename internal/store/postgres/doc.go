package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Lumen-Labs/brainapi2/internal/kg"
	"github.com/Lumen-Labs/brainapi2/internal/store"
)

// Doc is a brain_id-scoped DocStore backed by Postgres, grounded on the
// table shapes documented (but not implemented) in the teacher's
// postgres_doc.go: documents/embeddings/nodes/edges.
type Doc struct {
	pool *pgxpool.Pool
}

// NewDoc opens the text_chunks/observations/structured_data/kg_changes
// schema and returns a ready DocStore.
func NewDoc(ctx context.Context, pool *pgxpool.Pool) (store.DocStore, error) {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS pg_trgm`,
		`CREATE TABLE IF NOT EXISTS text_chunks (
			id TEXT PRIMARY KEY,
			brain_id TEXT NOT NULL,
			text TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			brain_version TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS text_chunks_trgm ON text_chunks USING gin (text gin_trgm_ops)`,
		`CREATE TABLE IF NOT EXISTS observations (
			id TEXT PRIMARY KEY,
			brain_id TEXT NOT NULL,
			text TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			resource_id TEXT NOT NULL DEFAULT '',
			inserted_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS observations_brain ON observations(brain_id, resource_id)`,
		`CREATE TABLE IF NOT EXISTS structured_data (
			id TEXT PRIMARY KEY,
			brain_id TEXT NOT NULL,
			data JSONB NOT NULL DEFAULT '{}'::jsonb,
			types TEXT[] NOT NULL DEFAULT '{}',
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			brain_version TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS kg_changes (
			id BIGSERIAL PRIMARY KEY,
			brain_id TEXT NOT NULL,
			change_type TEXT NOT NULL,
			change JSONB NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS kg_changes_brain ON kg_changes(brain_id, occurred_at)`,
	}
	for _, s := range stmts {
		if _, err := pool.Exec(ctx, s); err != nil {
			return nil, fmt.Errorf("postgres doc: schema init: %w", err)
		}
	}
	return &Doc{pool: pool}, nil
}

func (d *Doc) SaveTextChunk(ctx context.Context, brainID string, chunk kg.TextChunk) (kg.TextChunk, error) {
	metaJSON, err := json.Marshal(chunk.Metadata)
	if err != nil {
		return kg.TextChunk{}, fmt.Errorf("postgres doc: marshal chunk metadata: %w", err)
	}
	_, err = d.pool.Exec(ctx, `
INSERT INTO text_chunks(id, brain_id, text, metadata, brain_version) VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (id) DO UPDATE SET text=EXCLUDED.text, metadata=EXCLUDED.metadata, brain_version=EXCLUDED.brain_version
`, chunk.ID, brainID, chunk.Text, metaJSON, chunk.BrainVersion)
	if err != nil {
		return kg.TextChunk{}, fmt.Errorf("postgres doc: save text chunk: %w", err)
	}
	return chunk, nil
}

func (d *Doc) SaveObservations(ctx context.Context, brainID string, obs []kg.Observation) error {
	batch := d.pool
	for _, o := range obs {
		metaJSON, err := json.Marshal(o.Metadata)
		if err != nil {
			return fmt.Errorf("postgres doc: marshal observation metadata: %w", err)
		}
		insertedAt := o.InsertedAt
		if insertedAt.IsZero() {
			insertedAt = time.Now()
		}
		_, err = batch.Exec(ctx, `
INSERT INTO observations(id, brain_id, text, metadata, resource_id, inserted_at) VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (id) DO NOTHING
`, o.ID, brainID, o.Text, metaJSON, o.ResourceID, insertedAt)
		if err != nil {
			return fmt.Errorf("postgres doc: save observation %s: %w", o.ID, err)
		}
	}
	return nil
}

func (d *Doc) SaveStructuredData(ctx context.Context, brainID string, sd kg.StructuredData) error {
	dataJSON, err := json.Marshal(sd.Data)
	if err != nil {
		return fmt.Errorf("postgres doc: marshal structured data: %w", err)
	}
	metaJSON, err := json.Marshal(sd.Metadata)
	if err != nil {
		return fmt.Errorf("postgres doc: marshal structured data metadata: %w", err)
	}
	_, err = d.pool.Exec(ctx, `
INSERT INTO structured_data(id, brain_id, data, types, metadata, brain_version) VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (id) DO UPDATE SET data=EXCLUDED.data, types=EXCLUDED.types, metadata=EXCLUDED.metadata, brain_version=EXCLUDED.brain_version
`, sd.ID, brainID, dataJSON, sd.Types, metaJSON, sd.BrainVersion)
	if err != nil {
		return fmt.Errorf("postgres doc: save structured data: %w", err)
	}
	return nil
}

func (d *Doc) SaveKGChanges(ctx context.Context, brainID string, change kg.KGChange) error {
	changeJSON, err := json.Marshal(change.Change)
	if err != nil {
		return fmt.Errorf("postgres doc: marshal kg change: %w", err)
	}
	occurredAt := change.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}
	_, err = d.pool.Exec(ctx, `
INSERT INTO kg_changes(brain_id, change_type, change, occurred_at) VALUES ($1,$2,$3,$4)
`, brainID, change.Type, changeJSON, occurredAt)
	if err != nil {
		return fmt.Errorf("postgres doc: save kg change: %w", err)
	}
	return nil
}

func (d *Doc) GetTextChunkByID(ctx context.Context, brainID, id string) (kg.TextChunk, error) {
	var c kg.TextChunk
	var metaJSON []byte
	c.ID = id
	err := d.pool.QueryRow(ctx, `
SELECT text, metadata, brain_version FROM text_chunks WHERE brain_id=$1 AND id=$2
`, brainID, id).Scan(&c.Text, &metaJSON, &c.BrainVersion)
	if err != nil {
		return kg.TextChunk{}, fmt.Errorf("postgres doc: get text chunk %s: %w", id, err)
	}
	_ = json.Unmarshal(metaJSON, &c.Metadata)
	return c, nil
}

func (d *Doc) GetStructuredDataByID(ctx context.Context, brainID, id string) (*kg.StructuredData, error) {
	var sd kg.StructuredData
	var dataJSON, metaJSON []byte
	sd.ID = id
	err := d.pool.QueryRow(ctx, `
SELECT data, types, metadata, brain_version FROM structured_data WHERE brain_id=$1 AND id=$2
`, brainID, id).Scan(&dataJSON, &sd.Types, &metaJSON, &sd.BrainVersion)
	if err != nil {
		return nil, nil
	}
	_ = json.Unmarshal(dataJSON, &sd.Data)
	_ = json.Unmarshal(metaJSON, &sd.Metadata)
	return &sd, nil
}

func (d *Doc) GetObservationsList(ctx context.Context, brainID string, f store.ListFilter) ([]kg.Observation, error) {
	query := `SELECT id, text, metadata, resource_id, inserted_at FROM observations WHERE brain_id=$1 ORDER BY inserted_at DESC`
	args := []any{brainID}
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	if f.Skip > 0 {
		query += fmt.Sprintf(" OFFSET %d", f.Skip)
	}
	rows, err := d.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres doc: get observations list: %w", err)
	}
	defer rows.Close()
	var out []kg.Observation
	for rows.Next() {
		var o kg.Observation
		var metaJSON []byte
		if err := rows.Scan(&o.ID, &o.Text, &metaJSON, &o.ResourceID, &o.InsertedAt); err != nil {
			return nil, fmt.Errorf("postgres doc: scan observation: %w", err)
		}
		_ = json.Unmarshal(metaJSON, &o.Metadata)
		out = append(out, o)
	}
	return out, rows.Err()
}

func (d *Doc) Search(ctx context.Context, brainID, text string) ([]kg.TextChunk, error) {
	rows, err := d.pool.Query(ctx, `
SELECT id, text, metadata, brain_version FROM text_chunks
WHERE brain_id=$1 AND text ILIKE '%' || $2 || '%'
ORDER BY similarity(text, $2) DESC
`, brainID, strings.TrimSpace(text))
	if err != nil {
		return nil, fmt.Errorf("postgres doc: search: %w", err)
	}
	defer rows.Close()
	var out []kg.TextChunk
	for rows.Next() {
		var c kg.TextChunk
		var metaJSON []byte
		if err := rows.Scan(&c.ID, &c.Text, &metaJSON, &c.BrainVersion); err != nil {
			return nil, fmt.Errorf("postgres doc: scan text chunk: %w", err)
		}
		_ = json.Unmarshal(metaJSON, &c.Metadata)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (d *Doc) Close() error {
	d.pool.Close()
	return nil
}
