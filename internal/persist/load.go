package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/MrWong99/photobox/pkg/collection"
	"github.com/MrWong99/photobox/pkg/graphstore"
	"github.com/MrWong99/photobox/pkg/types"
)

// Load reads the persisted collection. Entities come back ascending by id and
// edges grouped by parent in member order, matching
// [collection.Collection.Snapshot]. Store failures are returned as
// [*types.CollaboratorError]; the snapshot itself is validated by Restore.
func Load(ctx context.Context, conn graphstore.Conn, d Dialect) (collection.Snapshot, error) {
	var snap collection.Snapshot

	rows, err := conn.Execute(ctx, graphstore.Query{
		Statement: "SELECT id, kind, key, attributes FROM photobox_entities ORDER BY id",
	})
	if err != nil {
		return snap, types.Collaborator("persist: load entities", err)
	}
	for _, r := range rows {
		e, err := decodeEntity(r)
		if err != nil {
			return collection.Snapshot{}, types.Collaborator("persist: load entities", err)
		}
		snap.Entities = append(snap.Entities, e)
		if e.ID > snap.LastID {
			snap.LastID = e.ID
		}
	}

	rows, err = conn.Execute(ctx, graphstore.Query{
		Statement: "SELECT child_id, parent_id FROM photobox_edges ORDER BY parent_id, position",
	})
	if err != nil {
		return collection.Snapshot{}, types.Collaborator("persist: load edges", err)
	}
	for _, r := range rows {
		child, err := toID(r["child_id"])
		if err != nil {
			return collection.Snapshot{}, types.Collaborator("persist: load edges", err)
		}
		parent, err := toID(r["parent_id"])
		if err != nil {
			return collection.Snapshot{}, types.Collaborator("persist: load edges", err)
		}
		snap.Edges = append(snap.Edges, types.Edge{Child: child, Parent: parent})
	}

	rows, err = conn.Execute(ctx, graphstore.Query{
		Statement: fmt.Sprintf("SELECT value FROM photobox_meta WHERE name = %s", d.P(1)),
		Args:      []any{"last_id"},
	})
	if err != nil {
		return collection.Snapshot{}, types.Collaborator("persist: load meta", err)
	}
	if len(rows) == 1 {
		last, err := toID(rows[0]["value"])
		if err != nil {
			return collection.Snapshot{}, types.Collaborator("persist: load meta", err)
		}
		if last > snap.LastID {
			snap.LastID = last
		}
	}
	return snap, nil
}

func decodeEntity(r graphstore.Record) (types.Entity, error) {
	id, err := toID(r["id"])
	if err != nil {
		return types.Entity{}, err
	}
	kind, _ := r["kind"].(string)
	if !types.Kind(kind).IsValid() {
		return types.Entity{}, fmt.Errorf("entity %d: unknown kind %v", id, r["kind"])
	}

	attrs, err := decodeAttributes(r["attributes"])
	if err != nil {
		return types.Entity{}, fmt.Errorf("entity %d: %w", id, err)
	}
	keyAttr := types.KeyAttribute(types.Kind(kind))
	if _, ok := attrs[keyAttr]; !ok {
		if key, ok := r["key"].(string); ok {
			attrs[keyAttr] = key
		}
	}
	norm, err := types.NormalizeAttributes(attrs)
	if err != nil {
		return types.Entity{}, fmt.Errorf("entity %d: %w", id, err)
	}
	return types.Entity{ID: id, Kind: types.Kind(kind), Attributes: norm}, nil
}

// decodeAttributes accepts JSON text (SQLite TEXT), raw bytes, or an already
// decoded document (PostgreSQL JSONB through pgx).
func decodeAttributes(v any) (types.Attributes, error) {
	var raw []byte
	switch a := v.(type) {
	case map[string]any:
		return types.Attributes(a), nil
	case string:
		raw = []byte(a)
	case []byte:
		raw = a
	case nil:
		return types.Attributes{}, nil
	default:
		return nil, fmt.Errorf("attributes: unsupported column type %T", v)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	attrs := types.Attributes{}
	if err := dec.Decode(&attrs); err != nil {
		return nil, fmt.Errorf("attributes: %w", err)
	}
	return attrs, nil
}

func toID(v any) (types.ID, error) {
	switch n := v.(type) {
	case int64:
		if n > 0 {
			return types.ID(n), nil
		}
	case int32:
		if n > 0 {
			return types.ID(n), nil
		}
	case int:
		if n > 0 {
			return types.ID(n), nil
		}
	}
	return 0, fmt.Errorf("invalid id %v (%T)", v, v)
}
