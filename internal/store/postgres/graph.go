// Package postgres implements store.GraphStore and store.DocStore over
// jackc/pgx, grounded on the teacher's internal/persistence/databases
// pgGraph pattern (UpsertNode/UpsertEdge ON CONFLICT, Neighbors query) and
// extended with brain_id-scoped multi-tenant isolation and the richer
// property surface (flow_key, amount, deprecated, last_updated) the
// knowledge-graph domain needs.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Lumen-Labs/brainapi2/internal/kg"
	"github.com/Lumen-Labs/brainapi2/internal/store"
)

// Graph is a brain_id-scoped GraphStore backed by Postgres.
type Graph struct {
	pool *pgxpool.Pool
}

// NewGraph opens the node/relationship schema (best-effort DDL, mirroring
// the teacher's NewPostgresGraph) and returns a ready GraphStore.
func NewGraph(ctx context.Context, pool *pgxpool.Pool) (store.GraphStore, error) {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS pg_trgm`,
		`CREATE TABLE IF NOT EXISTS kg_nodes (
			uuid TEXT PRIMARY KEY,
			brain_id TEXT NOT NULL,
			labels TEXT[] NOT NULL DEFAULT '{}',
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			properties JSONB NOT NULL DEFAULT '{}'::jsonb,
			polarity TEXT NOT NULL DEFAULT '',
			happened_at TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS kg_nodes_brain_name ON kg_nodes(brain_id, name)`,
		`CREATE TABLE IF NOT EXISTS kg_relationships (
			uuid TEXT PRIMARY KEY,
			brain_id TEXT NOT NULL,
			tail_uuid TEXT NOT NULL,
			tip_uuid TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			properties JSONB NOT NULL DEFAULT '{}'::jsonb,
			flow_key TEXT NOT NULL DEFAULT '',
			amount DOUBLE PRECISION,
			last_updated BIGINT NOT NULL DEFAULT 0,
			deprecated BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE INDEX IF NOT EXISTS kg_rel_brain_tail ON kg_relationships(brain_id, tail_uuid)`,
		`CREATE INDEX IF NOT EXISTS kg_rel_brain_tip ON kg_relationships(brain_id, tip_uuid)`,
		`CREATE INDEX IF NOT EXISTS kg_rel_brain_flow ON kg_relationships(brain_id, flow_key)`,
	}
	for _, s := range stmts {
		if _, err := pool.Exec(ctx, s); err != nil {
			return nil, fmt.Errorf("postgres graph: schema init: %w", err)
		}
	}
	return &Graph{pool: pool}, nil
}

func (g *Graph) AddNodes(ctx context.Context, brainID string, nodes []kg.Node) ([]kg.Node, error) {
	out := make([]kg.Node, 0, len(nodes))
	for _, n := range nodes {
		props := n.Properties
		if props == nil {
			props = map[string]any{}
		}
		propsJSON, err := json.Marshal(props)
		if err != nil {
			return nil, fmt.Errorf("postgres graph: marshal node properties: %w", err)
		}
		_, err = g.pool.Exec(ctx, `
INSERT INTO kg_nodes(uuid, brain_id, labels, name, description, properties, polarity, happened_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (uuid) DO UPDATE SET
	labels=EXCLUDED.labels, name=EXCLUDED.name,
	description=CASE WHEN EXCLUDED.description = '' THEN kg_nodes.description ELSE EXCLUDED.description END,
	properties=kg_nodes.properties || EXCLUDED.properties,
	polarity=CASE WHEN EXCLUDED.polarity = '' THEN kg_nodes.polarity ELSE EXCLUDED.polarity END
`, n.UUID, brainID, n.Labels, n.Name, n.Description, propsJSON, n.Polarity, n.HappenedAt)
		if err != nil {
			return nil, fmt.Errorf("postgres graph: upsert node %s: %w", n.UUID, err)
		}
		out = append(out, n)
	}
	return out, nil
}

func (g *Graph) AddRelationship(ctx context.Context, brainID string, tail kg.Node, rel kg.Predicate, tip kg.Node) error {
	if _, err := g.AddNodes(ctx, brainID, []kg.Node{tail, tip}); err != nil {
		return err
	}
	props := rel.Properties
	if props == nil {
		props = map[string]any{}
	}
	propsJSON, err := json.Marshal(props)
	if err != nil {
		return fmt.Errorf("postgres graph: marshal relationship properties: %w", err)
	}
	_, err = g.pool.Exec(ctx, `
INSERT INTO kg_relationships(uuid, brain_id, tail_uuid, tip_uuid, name, description, properties, flow_key, amount, last_updated, deprecated)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (uuid) DO NOTHING
`, rel.UUID, brainID, tail.UUID, tip.UUID, rel.Name, rel.Description, propsJSON, rel.FlowKey, rel.Amount, rel.LastUpdated, rel.Deprecated)
	if err != nil {
		return fmt.Errorf("postgres graph: insert relationship %s: %w", rel.UUID, err)
	}
	return nil
}

func (g *Graph) CheckNodeExistence(ctx context.Context, brainID string, f store.NodeFilter) (bool, error) {
	var exists bool
	switch {
	case f.UUID != "":
		err := g.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM kg_nodes WHERE brain_id=$1 AND uuid=$2)`, brainID, f.UUID).Scan(&exists)
		return exists, err
	case f.Name != "" && len(f.Labels) > 0:
		err := g.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM kg_nodes WHERE brain_id=$1 AND name=$2 AND labels && $3)`, brainID, f.Name, f.Labels).Scan(&exists)
		return exists, err
	case f.Name != "":
		err := g.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM kg_nodes WHERE brain_id=$1 AND name=$2)`, brainID, f.Name).Scan(&exists)
		return exists, err
	}
	return false, nil
}

func (g *Graph) GetByUUID(ctx context.Context, brainID string, uuids []string) ([]kg.Node, error) {
	rows, err := g.pool.Query(ctx, `
SELECT uuid, labels, name, description, properties, polarity, happened_at
FROM kg_nodes WHERE brain_id=$1 AND uuid = ANY($2)
`, brainID, uuids)
	if err != nil {
		return nil, fmt.Errorf("postgres graph: get by uuid: %w", err)
	}
	return scanNodes(rows)
}

func (g *Graph) GetNodesByUUID(ctx context.Context, brainID string, uuids []string, _ bool, _ int, _ []string, _ []string) ([]kg.Node, error) {
	return g.GetByUUID(ctx, brainID, uuids)
}

func scanNodes(rows pgx.Rows) ([]kg.Node, error) {
	defer rows.Close()
	var out []kg.Node
	for rows.Next() {
		var n kg.Node
		var propsJSON []byte
		if err := rows.Scan(&n.UUID, &n.Labels, &n.Name, &n.Description, &propsJSON, &n.Polarity, &n.HappenedAt); err != nil {
			return nil, fmt.Errorf("postgres graph: scan node: %w", err)
		}
		if len(propsJSON) > 0 {
			if err := json.Unmarshal(propsJSON, &n.Properties); err != nil {
				return nil, fmt.Errorf("postgres graph: unmarshal node properties: %w", err)
			}
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func scanTriples(rows pgx.Rows) ([]kg.Triple, error) {
	defer rows.Close()
	var out []kg.Triple
	for rows.Next() {
		var t kg.Triple
		var tailProps, tipProps, relProps []byte
		if err := rows.Scan(
			&t.Tail.UUID, &t.Tail.Labels, &t.Tail.Name, &t.Tail.Description, &tailProps,
			&t.Rel.UUID, &t.Rel.Name, &t.Rel.Description, &relProps, &t.Rel.FlowKey, &t.Rel.Amount, &t.Rel.LastUpdated, &t.Rel.Deprecated,
			&t.Tip.UUID, &t.Tip.Labels, &t.Tip.Name, &t.Tip.Description, &tipProps,
		); err != nil {
			return nil, fmt.Errorf("postgres graph: scan triple: %w", err)
		}
		_ = json.Unmarshal(tailProps, &t.Tail.Properties)
		_ = json.Unmarshal(tipProps, &t.Tip.Properties)
		_ = json.Unmarshal(relProps, &t.Rel.Properties)
		out = append(out, t)
	}
	return out, rows.Err()
}

const tripleSelect = `
SELECT
	tail.uuid, tail.labels, tail.name, tail.description, tail.properties,
	r.uuid, r.name, r.description, r.properties, r.flow_key, r.amount, r.last_updated, r.deprecated,
	tip.uuid, tip.labels, tip.name, tip.description, tip.properties
FROM kg_relationships r
JOIN kg_nodes tail ON tail.uuid = r.tail_uuid AND tail.brain_id = r.brain_id
JOIN kg_nodes tip ON tip.uuid = r.tip_uuid AND tip.brain_id = r.brain_id
`

func (g *Graph) GetNeighbors(ctx context.Context, brainID string, uuids []string, ofTypes []string, limit int) ([]kg.Triple, error) {
	query := tripleSelect + ` WHERE r.brain_id=$1 AND (r.tail_uuid = ANY($2) OR r.tip_uuid = ANY($2))`
	args := []any{brainID, uuids}
	if len(ofTypes) > 0 {
		query += ` AND (tail.labels && $3 OR tip.labels && $3)`
		args = append(args, ofTypes)
	}
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := g.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres graph: get neighbors: %w", err)
	}
	return scanTriples(rows)
}

// Get2ndDegreeHops returns the structural 2-hop neighborhood of uuids.
// similarityThreshold is accepted for interface conformance and ignored:
// the result is the full, unfiltered structural 2-hop expansion, and no
// similarity narrowing is applied here or by the consolidation orchestrator.
func (g *Graph) Get2ndDegreeHops(ctx context.Context, brainID string, uuids []string, _ float64) ([]kg.Triple, error) {
	firstHop, err := g.GetNeighbors(ctx, brainID, uuids, nil, 0)
	if err != nil {
		return nil, err
	}
	frontier := make(map[string]bool)
	for _, t := range firstHop {
		frontier[t.Tail.UUID] = true
		frontier[t.Tip.UUID] = true
	}
	for _, id := range uuids {
		frontier[id] = true
	}
	all := make([]string, 0, len(frontier))
	for id := range frontier {
		all = append(all, id)
	}
	return g.GetNeighbors(ctx, brainID, all, nil, 0)
}

func (g *Graph) GetNextsByFlowKey(ctx context.Context, brainID string, predicateUUIDs []string, flowKey string) ([]kg.Triple, error) {
	query := tripleSelect + ` WHERE r.brain_id=$1 AND r.flow_key=$2`
	args := []any{brainID, flowKey}
	if len(predicateUUIDs) > 0 {
		query += ` AND r.uuid = ANY($3)`
		args = append(args, predicateUUIDs)
	}
	rows, err := g.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres graph: get nexts by flow key: %w", err)
	}
	return scanTriples(rows)
}

func (g *Graph) GetTriplesByUUID(ctx context.Context, brainID string, relationshipUUIDs []string) ([]kg.Triple, error) {
	rows, err := g.pool.Query(ctx, tripleSelect+` WHERE r.brain_id=$1 AND r.uuid = ANY($2)`, brainID, relationshipUUIDs)
	if err != nil {
		return nil, fmt.Errorf("postgres graph: get triples by uuid: %w", err)
	}
	return scanTriples(rows)
}

func (g *Graph) SearchEntities(ctx context.Context, brainID string, f store.NodeFilter) ([]kg.Node, error) {
	query := `SELECT uuid, labels, name, description, properties, polarity, happened_at FROM kg_nodes WHERE brain_id=$1`
	args := []any{brainID}
	if f.Name != "" {
		args = append(args, f.Name)
		query += fmt.Sprintf(" AND name ILIKE '%%' || $%d || '%%'", len(args))
	}
	if len(f.Labels) > 0 {
		args = append(args, f.Labels)
		query += fmt.Sprintf(" AND labels && $%d", len(args))
	}
	rows, err := g.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres graph: search entities: %w", err)
	}
	return scanNodes(rows)
}

func (g *Graph) SearchRelationships(ctx context.Context, brainID string, predicateName string) ([]kg.Predicate, error) {
	query := `SELECT uuid, name, description, properties, flow_key, amount, last_updated, deprecated FROM kg_relationships WHERE brain_id=$1`
	args := []any{brainID}
	if predicateName != "" {
		args = append(args, predicateName)
		query += fmt.Sprintf(" AND name=$%d", len(args))
	}
	rows, err := g.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres graph: search relationships: %w", err)
	}
	defer rows.Close()
	var out []kg.Predicate
	for rows.Next() {
		var p kg.Predicate
		var propsJSON []byte
		if err := rows.Scan(&p.UUID, &p.Name, &p.Description, &propsJSON, &p.FlowKey, &p.Amount, &p.LastUpdated, &p.Deprecated); err != nil {
			return nil, fmt.Errorf("postgres graph: scan relationship: %w", err)
		}
		_ = json.Unmarshal(propsJSON, &p.Properties)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (g *Graph) DeprecateRelationship(ctx context.Context, brainID, relationshipUUID string) error {
	tag, err := g.pool.Exec(ctx, `
UPDATE kg_relationships SET deprecated=TRUE, last_updated=$1 WHERE brain_id=$2 AND uuid=$3
`, time.Now().Unix(), brainID, relationshipUUID)
	if err != nil {
		return fmt.Errorf("postgres graph: deprecate relationship: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres graph: relationship %s not found", relationshipUUID)
	}
	return nil
}

func (g *Graph) UpdateProperties(ctx context.Context, brainID, uuid string, target store.UpdateTarget, update store.PropertyUpdate) error {
	table := "kg_nodes"
	if target == store.UpdateRelationship {
		table = "kg_relationships"
	}
	setJSON, err := json.Marshal(update.Set)
	if err != nil {
		return fmt.Errorf("postgres graph: marshal property update: %w", err)
	}
	query := fmt.Sprintf(`UPDATE %s SET properties = (properties || $1::jsonb)`, table)
	args := []any{setJSON}
	if len(update.Unset) > 0 {
		query += fmt.Sprintf(" - $%d::text[]", len(args)+1)
		args = append(args, update.Unset)
	}
	if target == store.UpdateRelationship {
		query += fmt.Sprintf(", last_updated=$%d", len(args)+1)
		args = append(args, time.Now().Unix())
	}
	args = append(args, brainID, uuid)
	query += fmt.Sprintf(" WHERE brain_id=$%d AND uuid=$%d", len(args)-1, len(args))
	if _, err := g.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("postgres graph: update properties: %w", err)
	}
	return nil
}

func (g *Graph) RemoveNodes(ctx context.Context, brainID string, uuids []string) error {
	_, err := g.pool.Exec(ctx, `DELETE FROM kg_nodes WHERE brain_id=$1 AND uuid = ANY($2)`, brainID, uuids)
	if err != nil {
		return fmt.Errorf("postgres graph: remove nodes: %w", err)
	}
	return nil
}

func (g *Graph) RemoveRelationships(ctx context.Context, brainID string, uuids []string) error {
	_, err := g.pool.Exec(ctx, `DELETE FROM kg_relationships WHERE brain_id=$1 AND uuid = ANY($2)`, brainID, uuids)
	if err != nil {
		return fmt.Errorf("postgres graph: remove relationships: %w", err)
	}
	return nil
}

func (g *Graph) GetSchema(ctx context.Context, brainID string) (store.Schema, error) {
	var s store.Schema
	rows, err := g.pool.Query(ctx, `SELECT DISTINCT unnest(labels) FROM kg_nodes WHERE brain_id=$1`, brainID)
	if err != nil {
		return s, fmt.Errorf("postgres graph: get schema labels: %w", err)
	}
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			rows.Close()
			return s, err
		}
		s.Labels = append(s.Labels, l)
	}
	rows.Close()

	rows, err = g.pool.Query(ctx, `SELECT DISTINCT name FROM kg_relationships WHERE brain_id=$1`, brainID)
	if err != nil {
		return s, fmt.Errorf("postgres graph: get schema relationships: %w", err)
	}
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			rows.Close()
			return s, err
		}
		s.Relationships = append(s.Relationships, n)
	}
	rows.Close()
	return s, rows.Err()
}

// ExecuteOperation runs a raw, already-brain-scoped SQL statement composed by
// Janitor/KG-agent repair tooling. It is deliberately opaque to the rest of
// the core (spec §9): the agent layer is responsible for keeping the query
// text scoped to brainID.
func (g *Graph) ExecuteOperation(ctx context.Context, brainID, rawQuery string) (string, error) {
	rows, err := g.pool.Query(ctx, rawQuery)
	if err != nil {
		return "", fmt.Errorf("postgres graph: execute operation for brain %s: %w", brainID, err)
	}
	defer rows.Close()
	count := 0
	for rows.Next() {
		count++
	}
	return fmt.Sprintf("ok: %d rows", count), rows.Err()
}

func (g *Graph) Close() error {
	g.pool.Close()
	return nil
}
