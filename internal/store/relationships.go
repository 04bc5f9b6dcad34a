package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lazypower/orgmem/internal/memory"
)

// Visit is a node reached by Traverse and the hop count at which it was first reached.
type Visit struct {
	Node  memory.Node `json:"node"`
	Depth int         `json:"depth"`
}

// AddRelationship links two existing nodes. It returns false without error when
// either endpoint is missing. Re-adding an existing (source, target, type)
// triple updates its weight and metadata.
func (t *Tenant) AddRelationship(ctx context.Context, rel memory.Relationship) (bool, error) {
	if err := rel.Validate(); err != nil {
		return false, err
	}
	var ok bool
	err := t.db.inTx(ctx, func(tx *sql.Tx) error {
		var sourceID string
		err := tx.QueryRowContext(ctx, "SELECT id FROM mem_nodes WHERE tenant_id = ? AND symbol = ?",
			t.id.String(), rel.SourceSymbol).Scan(&sourceID)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("lookup source %s: %w", rel.SourceSymbol, err)
		}
		id, err := uuid.Parse(sourceID)
		if err != nil {
			return fmt.Errorf("parse node id: %w", err)
		}
		ok, err = t.upsertEdge(ctx, tx, id, &rel)
		return err
	})
	return ok, err
}

// upsertEdge writes an edge from sourceID to rel.TargetSymbol. It returns false
// when the target does not exist in this tenant.
func (t *Tenant) upsertEdge(ctx context.Context, tx *sql.Tx, sourceID uuid.UUID, rel *memory.Relationship) (bool, error) {
	var targetID string
	err := tx.QueryRowContext(ctx, "SELECT id FROM mem_nodes WHERE tenant_id = ? AND symbol = ?",
		t.id.String(), rel.TargetSymbol).Scan(&targetID)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup target %s: %w", rel.TargetSymbol, err)
	}

	var meta sql.NullString
	if len(rel.Metadata) > 0 {
		b, err := json.Marshal(rel.Metadata)
		if err != nil {
			return false, fmt.Errorf("encode edge metadata: %w", err)
		}
		meta = sql.NullString{String: string(b), Valid: true}
	}
	if rel.CreatedAt.IsZero() {
		rel.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO mem_relationships (tenant_id, source_id, target_id, relation_type, weight, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source_id, target_id, relation_type) DO UPDATE SET
			weight = excluded.weight, metadata = excluded.metadata
	`, t.id.String(), sourceID.String(), targetID, string(rel.Type), rel.Weight, meta, rel.CreatedAt.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("create relationship: %w", err)
	}
	return true, nil
}

// outgoing returns the edges leaving a node, with both endpoints as symbols.
func (t *Tenant) outgoing(ctx context.Context, qr queryer, id uuid.UUID) ([]memory.Relationship, error) {
	rows, err := qr.QueryContext(ctx, `
		SELECT s.symbol, d.symbol, r.relation_type, r.weight, r.metadata, r.created_at
		FROM mem_relationships r
		JOIN mem_nodes s ON s.id = r.source_id
		JOIN mem_nodes d ON d.id = r.target_id
		WHERE r.source_id = ?
		ORDER BY r.id
	`, id.String())
	if err != nil {
		return nil, fmt.Errorf("load relationships: %w", err)
	}
	defer rows.Close()

	var rels []memory.Relationship
	for rows.Next() {
		var rel memory.Relationship
		var relType string
		var meta sql.NullString
		var createdAt int64
		if err := rows.Scan(&rel.SourceSymbol, &rel.TargetSymbol, &relType, &rel.Weight, &meta, &createdAt); err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		rel.Type = memory.RelationType(relType)
		rel.CreatedAt = time.UnixMilli(createdAt).UTC()
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &rel.Metadata); err != nil {
				return nil, fmt.Errorf("decode edge metadata: %w", err)
			}
		}
		rels = append(rels, rel)
	}
	return rels, rows.Err()
}

// Relationships returns the outgoing edges of symbol.
func (t *Tenant) Relationships(ctx context.Context, symbol string) ([]memory.Relationship, error) {
	n, err := t.GetBySymbol(ctx, symbol, memory.ResolutionMicro)
	if err != nil {
		return nil, err
	}
	return n.Relationships, nil
}

func typeFilter(types []memory.RelationType) (string, []any) {
	if len(types) == 0 {
		return "", nil
	}
	ph := make([]string, len(types))
	args := make([]any, len(types))
	for i, rt := range types {
		ph[i] = "?"
		args[i] = string(rt)
	}
	return " AND relation_type IN (" + strings.Join(ph, ",") + ")", args
}

// GetRelated returns the distinct nodes connected to symbol in the given
// direction, ordered by salience DESC. A missing symbol yields no nodes.
func (t *Tenant) GetRelated(ctx context.Context, symbol string, types []memory.RelationType, dir memory.Direction, limit int, res memory.Resolution) ([]memory.Node, error) {
	var id string
	err := t.db.QueryRowContext(ctx, "SELECT id FROM mem_nodes WHERE tenant_id = ? AND symbol = ?",
		t.id.String(), symbol).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get related %s: %w", symbol, err)
	}

	tf, targs := typeFilter(types)
	var sub string
	var args []any
	switch dir {
	case memory.Incoming:
		sub = "SELECT source_id FROM mem_relationships WHERE target_id = ?" + tf
		args = append([]any{id}, targs...)
	case memory.Both:
		sub = "SELECT target_id FROM mem_relationships WHERE source_id = ?" + tf +
			" UNION SELECT source_id FROM mem_relationships WHERE target_id = ?" + tf
		args = append(append(append([]any{id}, targs...), id), targs...)
	default:
		sub = "SELECT target_id FROM mem_relationships WHERE source_id = ?" + tf
		args = append([]any{id}, targs...)
	}

	nodes, err := t.findWhere(ctx, []string{"id IN (" + sub + ")"}, args, Filter{}, res, Page{Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("get related %s: %w", symbol, err)
	}
	return nodes, nil
}

// Traverse walks outgoing edges of the allowed types breadth-first from
// start, at most maxDepth hops. Nodes are marked on discovery, so each is
// expanded once and its depth is the shortest hop count. The start node is
// included at depth 0; an unknown start yields nothing.
func (t *Tenant) Traverse(ctx context.Context, start string, types []memory.RelationType, maxDepth int, res memory.Resolution) ([]Visit, error) {
	if maxDepth < 0 {
		maxDepth = 0
	}
	var startID string
	err := t.db.QueryRowContext(ctx, "SELECT id FROM mem_nodes WHERE tenant_id = ? AND symbol = ?",
		t.id.String(), start).Scan(&startID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("traverse from %s: %w", start, err)
	}

	tf, targs := typeFilter(types)
	neighbours := "SELECT r.target_id FROM mem_relationships r JOIN mem_nodes n ON n.id = r.target_id " +
		"WHERE r.source_id = ?" + strings.ReplaceAll(tf, "relation_type", "r.relation_type") +
		" ORDER BY n.salience DESC, n.symbol ASC"

	visited := map[string]int{startID: 0}
	order := []string{startID}
	for i := 0; i < len(order); i++ {
		id := order[i]
		depth := visited[id]
		if depth == maxDepth {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next, err := scanStrings(ctx, q(t.db), neighbours, append([]any{id}, targs...)...)
		if err != nil {
			return nil, fmt.Errorf("expand %s: %w", id, err)
		}
		for _, n := range next {
			if _, seen := visited[n]; seen {
				continue
			}
			visited[n] = depth + 1
			order = append(order, n)
		}
	}

	ph, args := placeholders(order)
	nodes, err := t.queryNodes(ctx, q(t.db),
		"SELECT "+nodeColumns+" FROM mem_nodes WHERE id IN ("+ph+")", args...)
	if err != nil {
		return nil, fmt.Errorf("load traversal nodes: %w", err)
	}
	byID := make(map[string]memory.Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID.String()] = n
	}
	visits := make([]Visit, 0, len(order))
	for _, id := range order {
		n, ok := byID[id]
		if !ok {
			continue
		}
		visits = append(visits, Visit{Node: n.Project(res), Depth: visited[id]})
	}
	return visits, nil
}
