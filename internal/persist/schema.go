package persist

import (
	"context"
	"fmt"

	"github.com/MrWong99/photobox/pkg/graphstore"
)

// ─────────────────────────────────────────────────────────────────────────────
// DDL
// ─────────────────────────────────────────────────────────────────────────────

// Entities are keyed by the id issued by the collection; (kind, key) mirrors
// the in-memory unique indexes.
const ddlEntities = `
CREATE TABLE IF NOT EXISTS photobox_entities (
    id          BIGINT  PRIMARY KEY,
    kind        TEXT    NOT NULL CHECK (kind IN ('set', 'pix')),
    key         TEXT    NOT NULL,
    attributes  %s      NOT NULL,
    UNIQUE (kind, key)
)`

// A child has at most one parent, so child_id alone is the primary key.
const ddlEdges = `
CREATE TABLE IF NOT EXISTS photobox_edges (
    child_id   BIGINT   PRIMARY KEY REFERENCES photobox_entities (id) ON DELETE CASCADE,
    parent_id  BIGINT   NOT NULL    REFERENCES photobox_entities (id) ON DELETE CASCADE,
    rel_type   TEXT     NOT NULL DEFAULT 'IN',
    position   INTEGER  NOT NULL
)`

const ddlEdgesParentIndex = `
CREATE INDEX IF NOT EXISTS idx_photobox_edges_parent ON photobox_edges (parent_id, position)`

const ddlMeta = `
CREATE TABLE IF NOT EXISTS photobox_meta (
    name   TEXT    PRIMARY KEY,
    value  BIGINT  NOT NULL
)`

// Migrate creates the photobox tables if they do not exist. It is
// idempotent and safe to call on every startup. Statements are executed one
// at a time because the PostgreSQL extended protocol rejects batches.
func Migrate(ctx context.Context, conn graphstore.Conn, d Dialect) error {
	stmts := []string{
		fmt.Sprintf(ddlEntities, d.JSONType),
		ddlEdges,
		ddlEdgesParentIndex,
		ddlMeta,
	}
	for _, s := range stmts {
		if _, err := conn.Execute(ctx, graphstore.Query{Statement: s}); err != nil {
			return fmt.Errorf("persist: migrate: %w", err)
		}
	}
	return nil
}

// Reset deletes every row, leaving the schema in place. The last issued id
// is kept so a restarted process never reissues an id.
func Reset(ctx context.Context, conn graphstore.Conn, d Dialect) error {
	for _, s := range []string{"DELETE FROM photobox_edges", "DELETE FROM photobox_entities"} {
		if _, err := conn.Execute(ctx, graphstore.Query{Statement: s}); err != nil {
			return fmt.Errorf("persist: reset: %w", err)
		}
	}
	return nil
}
