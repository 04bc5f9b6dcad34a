package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/lazypower/orgmem/internal/memory"
)

const nodeColumns = `id, team_id, symbol, micro, summary, full_content, salience, confidence, created_at, updated_at`

// Filter narrows list queries. Zero fields are ignored.
type Filter struct {
	TeamID        string
	Layer         memory.Layer
	Type          string
	MinSalience   float64
	CreatedAfter  time.Time
	CreatedBefore time.Time
}

// Page bounds a list query. A non-positive Limit means no limit.
type Page struct {
	Limit  int
	Offset int
}

func (p Page) sql() (int, int) {
	limit := p.Limit
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	offset := p.Offset
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (f Filter) where() ([]string, []any) {
	var conds []string
	var args []any
	if f.TeamID != "" {
		conds = append(conds, "team_id = ?")
		args = append(args, f.TeamID)
	}
	if f.Layer != "" {
		conds = append(conds, "layer = ?")
		args = append(args, string(f.Layer))
	}
	if f.Type != "" {
		conds = append(conds, "node_type = ?")
		args = append(args, f.Type)
	}
	if f.MinSalience > 0 {
		conds = append(conds, "salience >= ?")
		args = append(args, f.MinSalience)
	}
	if !f.CreatedAfter.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, f.CreatedAfter.UnixMilli())
	}
	if !f.CreatedBefore.IsZero() {
		conds = append(conds, "created_at <= ?")
		args = append(args, f.CreatedBefore.UnixMilli())
	}
	return conds, args
}

// BatchFailure records one node a batch create could not store.
type BatchFailure struct {
	Symbol string `json:"symbol"`
	Err    error  `json:"-"`
	Error  string `json:"error"`
}

// CreateNode inserts a new node with its tags and carried relationships.
// Relationships whose target does not exist are skipped and returned.
// A (tenant, symbol) collision fails with memory.ErrDuplicateSymbol.
func (t *Tenant) CreateNode(ctx context.Context, n *memory.Node) ([]memory.Relationship, error) {
	t.prepare(n)
	if err := n.Validate(); err != nil {
		return nil, err
	}

	var created, skipped []memory.Relationship
	err := t.db.inTx(ctx, func(tx *sql.Tx) error {
		if err := t.insertNode(ctx, tx, n); err != nil {
			return err
		}
		var err error
		created, skipped, err = t.insertCarried(ctx, tx, n)
		return err
	})
	if err != nil {
		return nil, err
	}
	n.Relationships = created
	return skipped, nil
}

// CreateNodes stores a batch best-effort. Every node is inserted in its own
// transaction first; carried relationships are added afterwards so that edges
// between nodes of the same batch resolve regardless of order.
func (t *Tenant) CreateNodes(ctx context.Context, nodes []memory.Node) ([]memory.Node, []BatchFailure, []memory.Relationship, error) {
	var stored []memory.Node
	var failed []BatchFailure
	for i := range nodes {
		n := nodes[i]
		rels := n.Relationships
		n.Relationships = nil
		t.prepare(&n)
		if err := n.Validate(); err != nil {
			failed = append(failed, BatchFailure{Symbol: n.Symbol, Err: err, Error: err.Error()})
			continue
		}
		err := t.db.inTx(ctx, func(tx *sql.Tx) error {
			return t.insertNode(ctx, tx, &n)
		})
		if err != nil {
			if ctx.Err() != nil {
				return stored, failed, nil, ctx.Err()
			}
			failed = append(failed, BatchFailure{Symbol: n.Symbol, Err: err, Error: err.Error()})
			continue
		}
		n.Relationships = rels
		stored = append(stored, n)
	}

	var skipped []memory.Relationship
	for i := range stored {
		n := &stored[i]
		var created, miss []memory.Relationship
		err := t.db.inTx(ctx, func(tx *sql.Tx) error {
			var err error
			created, miss, err = t.insertCarried(ctx, tx, n)
			return err
		})
		if err != nil {
			return stored, failed, skipped, fmt.Errorf("create relationships for %s: %w", n.Symbol, err)
		}
		n.Relationships = created
		skipped = append(skipped, miss...)
	}
	return stored, failed, skipped, nil
}

func (t *Tenant) prepare(n *memory.Node) {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	n.TenantID = t.id
	n.ApplyDefaults()
	now := time.Now().UTC().Truncate(time.Millisecond)
	n.CreatedAt = now
	n.UpdatedAt = now
}

func (t *Tenant) insertNode(ctx context.Context, tx *sql.Tx, n *memory.Node) error {
	sym, err := memory.ParseSymbol(n.Symbol)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO mem_nodes (id, tenant_id, team_id, symbol, layer, node_type, micro, summary, full_content,
			salience, confidence, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?, ?, ?, ?)
	`, n.ID.String(), t.id.String(), n.TeamID, n.Symbol, string(sym.Layer), sym.Type,
		n.Micro, n.Summary, n.Full, n.Salience, n.Confidence,
		n.CreatedAt.UnixMilli(), n.UpdatedAt.UnixMilli())
	if err != nil {
		if isUniqueViolation(err) {
			return memory.DuplicateSymbol(n.Symbol, err)
		}
		return fmt.Errorf("create node: %w", err)
	}
	return insertTags(ctx, tx, n.ID, n.Tags)
}

func (t *Tenant) insertCarried(ctx context.Context, tx *sql.Tx, n *memory.Node) (created, skipped []memory.Relationship, err error) {
	for _, rel := range n.Relationships {
		rel.SourceSymbol = n.Symbol
		if rel.Weight == 0 {
			rel.Weight = memory.DefaultWeight
		}
		ok, err := t.upsertEdge(ctx, tx, n.ID, &rel)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			skipped = append(skipped, rel)
			continue
		}
		created = append(created, rel)
	}
	return created, skipped, nil
}

func insertTags(ctx context.Context, q queryer, id uuid.UUID, tags []memory.Tag) error {
	for _, tag := range tags {
		if _, err := q.ExecContext(ctx,
			"INSERT OR IGNORE INTO mem_tags (node_id, tag) VALUES (?, ?)",
			id.String(), tag.String()); err != nil {
			return fmt.Errorf("insert tag %s: %w", tag, err)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// GetBySymbol returns the node projected at res, with its outgoing edges.
func (t *Tenant) GetBySymbol(ctx context.Context, symbol string, res memory.Resolution) (*memory.Node, error) {
	return t.getOne(ctx, "symbol = ?", symbol, symbol, res)
}

// GetByID returns the node projected at res, with its outgoing edges.
func (t *Tenant) GetByID(ctx context.Context, id uuid.UUID, res memory.Resolution) (*memory.Node, error) {
	return t.getOne(ctx, "id = ?", id.String(), id.String(), res)
}

func (t *Tenant) getOne(ctx context.Context, cond string, arg any, label string, res memory.Resolution) (*memory.Node, error) {
	nodes, err := t.queryNodes(ctx, q(t.db), "SELECT "+nodeColumns+" FROM mem_nodes WHERE tenant_id = ? AND "+cond,
		t.id.String(), arg)
	if err != nil {
		return nil, fmt.Errorf("get node %s: %w", label, err)
	}
	if len(nodes) == 0 {
		return nil, memory.NotFound(label)
	}
	n := nodes[0]
	rels, err := t.outgoing(ctx, q(t.db), n.ID)
	if err != nil {
		return nil, err
	}
	n.Relationships = rels
	projected := n.Project(res)
	return &projected, nil
}

// GetManyBySymbols returns the nodes that exist, in request order. Missing
// symbols are omitted.
func (t *Tenant) GetManyBySymbols(ctx context.Context, symbols []string, res memory.Resolution) ([]memory.Node, error) {
	nodes, err := t.getMany(ctx, "symbol", symbols, func(n memory.Node) string { return n.Symbol }, res)
	if err != nil {
		return nil, fmt.Errorf("get nodes by symbols: %w", err)
	}
	return nodes, nil
}

// GetManyByIDs is GetManyBySymbols keyed by id.
func (t *Tenant) GetManyByIDs(ctx context.Context, ids []uuid.UUID, res memory.Resolution) ([]memory.Node, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}
	nodes, err := t.getMany(ctx, "id", keys, func(n memory.Node) string { return n.ID.String() }, res)
	if err != nil {
		return nil, fmt.Errorf("get nodes by ids: %w", err)
	}
	return nodes, nil
}

func (t *Tenant) getMany(ctx context.Context, column string, keys []string, keyOf func(memory.Node) string, res memory.Resolution) ([]memory.Node, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	ph, args := placeholders(keys)
	nodes, err := t.queryNodes(ctx, q(t.db),
		"SELECT "+nodeColumns+" FROM mem_nodes WHERE tenant_id = ? AND "+column+" IN ("+ph+")",
		append([]any{t.id.String()}, args...)...)
	if err != nil {
		return nil, err
	}
	byKey := make(map[string]memory.Node, len(nodes))
	for _, n := range nodes {
		byKey[keyOf(n)] = n
	}
	out := make([]memory.Node, 0, len(nodes))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		n, ok := byKey[k]
		if !ok || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, n.Project(res))
	}
	return out, nil
}

// UpdateNode replaces the mutable fields of the node addressed by n.Symbol
// and advances updated_at. Identity, creation time and edges are untouched.
func (t *Tenant) UpdateNode(ctx context.Context, n *memory.Node) error {
	n.Tags = memory.DedupeTags(n.Tags)
	if err := n.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	err := t.db.inTx(ctx, func(tx *sql.Tx) error {
		var id string
		err := tx.QueryRowContext(ctx, "SELECT id FROM mem_nodes WHERE tenant_id = ? AND symbol = ?",
			t.id.String(), n.Symbol).Scan(&id)
		if err == sql.ErrNoRows {
			return memory.NotFound(n.Symbol)
		}
		if err != nil {
			return fmt.Errorf("update node: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE mem_nodes SET micro = ?, summary = ?, full_content = NULLIF(?, ''),
				salience = ?, confidence = ?, updated_at = ?
			WHERE id = ?
		`, n.Micro, n.Summary, n.Full, n.Salience, n.Confidence, now.UnixMilli(), id); err != nil {
			return fmt.Errorf("update node: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM mem_tags WHERE node_id = ?", id); err != nil {
			return fmt.Errorf("replace tags: %w", err)
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return fmt.Errorf("parse node id: %w", err)
		}
		n.ID = parsed
		return insertTags(ctx, tx, parsed, n.Tags)
	})
	if err != nil {
		return err
	}
	n.TenantID = t.id
	n.UpdatedAt = now
	return nil
}

// DeleteNode removes the node and every edge that references it in a single
// transaction. It returns the deleted id and whether a node was found.
func (t *Tenant) DeleteNode(ctx context.Context, symbol string) (uuid.UUID, bool, error) {
	var deleted uuid.UUID
	found := false
	err := t.db.inTx(ctx, func(tx *sql.Tx) error {
		var id string
		err := tx.QueryRowContext(ctx, "SELECT id FROM mem_nodes WHERE tenant_id = ? AND symbol = ?",
			t.id.String(), symbol).Scan(&id)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("delete node %s: %w", symbol, err)
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM mem_relationships WHERE source_id = ? OR target_id = ?", id, id); err != nil {
			return fmt.Errorf("delete edges of %s: %w", symbol, err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM mem_tags WHERE node_id = ?", id); err != nil {
			return fmt.Errorf("delete tags of %s: %w", symbol, err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM mem_nodes WHERE id = ?", id); err != nil {
			return fmt.Errorf("delete node %s: %w", symbol, err)
		}
		deleted, err = uuid.Parse(id)
		if err != nil {
			return fmt.Errorf("parse node id: %w", err)
		}
		found = true
		return nil
	})
	if err != nil {
		return uuid.Nil, false, err
	}
	return deleted, found, nil
}

// FindByPattern matches symbols against a glob (* and ?), ordered by salience DESC.
func (t *Tenant) FindByPattern(ctx context.Context, pattern string, f Filter, res memory.Resolution, p Page) ([]memory.Node, error) {
	nodes, err := t.findWhere(ctx, []string{"symbol GLOB ?"}, []any{GlobToSQLite(pattern)}, f, res, p)
	if err != nil {
		return nil, fmt.Errorf("find by pattern: %w", err)
	}
	return nodes, nil
}

// FindByTags returns nodes carrying every tag in tags, ordered by salience DESC.
func (t *Tenant) FindByTags(ctx context.Context, tags []memory.Tag, f Filter, res memory.Resolution, p Page) ([]memory.Node, error) {
	tags = memory.DedupeTags(tags)
	if len(tags) == 0 {
		return nil, nil
	}
	ph, args := placeholders(memory.TagStrings(tags))
	cond := "id IN (SELECT node_id FROM mem_tags WHERE tag IN (" + ph + ") GROUP BY node_id HAVING COUNT(DISTINCT tag) = ?)"
	args = append(args, len(tags))
	nodes, err := t.findWhere(ctx, []string{cond}, args, f, res, p)
	if err != nil {
		return nil, fmt.Errorf("find by tags: %w", err)
	}
	return nodes, nil
}

// FindByLayer returns nodes in layer, optionally of f.Type, ordered by salience DESC.
func (t *Tenant) FindByLayer(ctx context.Context, layer memory.Layer, f Filter, res memory.Resolution, p Page) ([]memory.Node, error) {
	f.Layer = layer
	nodes, err := t.findWhere(ctx, nil, nil, f, res, p)
	if err != nil {
		return nil, fmt.Errorf("find by layer: %w", err)
	}
	return nodes, nil
}

func (t *Tenant) findWhere(ctx context.Context, conds []string, args []any, f Filter, res memory.Resolution, p Page) ([]memory.Node, error) {
	fc, fa := f.where()
	conds = append([]string{"tenant_id = ?"}, append(conds, fc...)...)
	args = append([]any{t.id.String()}, append(args, fa...)...)
	limit, offset := p.sql()
	args = append(args, limit, offset)

	query := "SELECT " + nodeColumns + " FROM mem_nodes WHERE " + strings.Join(conds, " AND ") +
		" ORDER BY salience DESC, symbol ASC LIMIT ? OFFSET ?"
	nodes, err := t.queryNodes(ctx, q(t.db), query, args...)
	if err != nil {
		return nil, err
	}
	for i := range nodes {
		nodes[i] = nodes[i].Project(res)
	}
	return nodes, nil
}

// CountByLayer returns node counts per layer. An empty team counts the whole tenant.
func (t *Tenant) CountByLayer(ctx context.Context, team string) (map[memory.Layer]int, error) {
	query := "SELECT layer, COUNT(*) FROM mem_nodes WHERE tenant_id = ?"
	args := []any{t.id.String()}
	if team != "" {
		query += " AND team_id = ?"
		args = append(args, team)
	}
	query += " GROUP BY layer"

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("count by layer: %w", err)
	}
	defer rows.Close()

	counts := make(map[memory.Layer]int, len(memory.Layers))
	for _, l := range memory.Layers {
		counts[l] = 0
	}
	for rows.Next() {
		var layer string
		var n int
		if err := rows.Scan(&layer, &n); err != nil {
			return nil, fmt.Errorf("scan layer count: %w", err)
		}
		counts[memory.Layer(layer)] = n
	}
	return counts, rows.Err()
}

// NodeIDs lists every node id for a team, or the whole tenant when team is empty.
func (t *Tenant) NodeIDs(ctx context.Context, team string) ([]uuid.UUID, error) {
	query := "SELECT id FROM mem_nodes WHERE tenant_id = ?"
	args := []any{t.id.String()}
	if team != "" {
		query += " AND team_id = ?"
		args = append(args, team)
	}
	ids, err := scanStrings(ctx, q(t.db), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list node ids: %w", err)
	}
	out := make([]uuid.UUID, 0, len(ids))
	for _, s := range ids {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("parse node id %q: %w", s, err)
		}
		out = append(out, id)
	}
	return out, nil
}

func q(db *DB) queryer { return db.DB }

// queryNodes runs a node SELECT and attaches tags. Rows are fully drained
// before the tag query runs.
func (t *Tenant) queryNodes(ctx context.Context, qr queryer, query string, args ...any) ([]memory.Node, error) {
	rows, err := qr.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	nodes, err := t.scanNodes(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nodes, nil
	}
	ids := make([]string, len(nodes))
	for i := range nodes {
		ids[i] = nodes[i].ID.String()
	}
	tags, err := loadTags(ctx, qr, ids)
	if err != nil {
		return nil, err
	}
	for i := range nodes {
		nodes[i].Tags = tags[nodes[i].ID.String()]
	}
	return nodes, nil
}

func (t *Tenant) scanNodes(rows *sql.Rows) ([]memory.Node, error) {
	var nodes []memory.Node
	for rows.Next() {
		var n memory.Node
		var id string
		var full sql.NullString
		var createdAt, updatedAt int64
		if err := rows.Scan(&id, &n.TeamID, &n.Symbol, &n.Micro, &n.Summary, &full,
			&n.Salience, &n.Confidence, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parse node id %q: %w", id, err)
		}
		n.ID = parsed
		n.TenantID = t.id
		n.SetSalience(n.Salience)
		n.Full = full.String
		n.CreatedAt = time.UnixMilli(createdAt).UTC()
		n.UpdatedAt = time.UnixMilli(updatedAt).UTC()
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

func loadTags(ctx context.Context, qr queryer, ids []string) (map[string][]memory.Tag, error) {
	ph, args := placeholders(ids)
	rows, err := qr.QueryContext(ctx,
		"SELECT node_id, tag FROM mem_tags WHERE node_id IN ("+ph+") ORDER BY tag", args...)
	if err != nil {
		return nil, fmt.Errorf("load tags: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]memory.Tag, len(ids))
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tag, err := memory.ParseTag(raw)
		if err != nil {
			return nil, err
		}
		out[id] = append(out[id], tag)
	}
	return out, rows.Err()
}

func scanStrings(ctx context.Context, qr queryer, query string, args ...any) ([]string, error) {
	rows, err := qr.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func placeholders(vals []string) (string, []any) {
	ph := make([]string, len(vals))
	args := make([]any, len(vals))
	for i, v := range vals {
		ph[i] = "?"
		args[i] = v
	}
	return strings.Join(ph, ","), args
}
