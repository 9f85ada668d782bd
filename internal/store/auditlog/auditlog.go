// Package auditlog persists the KGChange stream (spec §3) to ClickHouse for
// durable, queryable audit trail independent of the primary graph/doc
// stores. It has no direct teacher counterpart — the teacher's config
// carries a ClickHouse section (internal/config's obsClickhouseYAML) but
// never opens a connection — so this package gives that configured
// dependency an actual domain home: every NodesMerged and RelationshipCreated
// change the Consolidation Orchestrator emits lands here in addition to
// DocStore.SaveKGChanges, append-only.
package auditlog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/Lumen-Labs/brainapi2/internal/kg"
)

// Sink appends KGChange records to a ClickHouse table.
type Sink struct {
	conn clickhouse.Conn
}

// New opens a connection to addr (e.g. "localhost:9000") and ensures the
// kg_changes table exists.
func New(ctx context.Context, addr, database, username, password string) (*Sink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: username,
			Password: password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("auditlog: open clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("auditlog: ping clickhouse: %w", err)
	}
	err = conn.Exec(ctx, `
CREATE TABLE IF NOT EXISTS kg_changes (
	brain_id String,
	change_type String,
	change String,
	occurred_at DateTime
) ENGINE = MergeTree()
ORDER BY (brain_id, occurred_at)
`)
	if err != nil {
		return nil, fmt.Errorf("auditlog: create table: %w", err)
	}
	return &Sink{conn: conn}, nil
}

// Append records a single KGChange. Failures here are logged by the caller
// and never block ingestion — the audit trail is a secondary record, not the
// system of record (DocStore.SaveKGChanges holds that role, spec §3).
func (s *Sink) Append(ctx context.Context, change kg.KGChange) error {
	changeJSON, err := json.Marshal(change.Change)
	if err != nil {
		return fmt.Errorf("auditlog: marshal change: %w", err)
	}
	err = s.conn.Exec(ctx, `
INSERT INTO kg_changes (brain_id, change_type, change, occurred_at) VALUES (?, ?, ?, ?)
`, change.BrainID, string(change.Type), string(changeJSON), change.OccurredAt)
	if err != nil {
		return fmt.Errorf("auditlog: insert change: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	return s.conn.Close()
}
