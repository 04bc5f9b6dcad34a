package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "mem_nodes: tenant-scoped memory nodes with three content tiers",
		SQL: `
CREATE TABLE mem_nodes (
    id           TEXT PRIMARY KEY,
    tenant_id    TEXT NOT NULL,
    team_id      TEXT NOT NULL,
    symbol       TEXT NOT NULL,
    layer        TEXT NOT NULL CHECK (layer IN ('strategic', 'operational', 'entity', 'event')),
    node_type    TEXT NOT NULL,

    -- Three-tier content
    micro        TEXT NOT NULL,
    summary      TEXT NOT NULL,
    full_content TEXT,

    salience     REAL NOT NULL DEFAULT 0.5 CHECK (salience >= 0 AND salience <= 1),
    confidence   REAL NOT NULL DEFAULT 1.0 CHECK (confidence >= 0 AND confidence <= 1),

    created_at   INTEGER NOT NULL,
    updated_at   INTEGER NOT NULL,

    UNIQUE (tenant_id, symbol)
);

CREATE INDEX idx_nodes_layer_type ON mem_nodes(tenant_id, layer, node_type);
CREATE INDEX idx_nodes_team       ON mem_nodes(tenant_id, team_id);
CREATE INDEX idx_nodes_salience   ON mem_nodes(tenant_id, salience DESC);
`,
	},
	{
		Version:     2,
		Description: "mem_tags: key:value tag membership",
		SQL: `
CREATE TABLE mem_tags (
    node_id TEXT NOT NULL,
    tag     TEXT NOT NULL,
    PRIMARY KEY (node_id, tag),
    FOREIGN KEY (node_id) REFERENCES mem_nodes(id) ON DELETE CASCADE
);

CREATE INDEX idx_tags_tag ON mem_tags(tag);
`,
	},
	{
		Version:     3,
		Description: "mem_relationships: typed weighted edges",
		SQL: `
CREATE TABLE mem_relationships (
    id            INTEGER PRIMARY KEY,
    tenant_id     TEXT NOT NULL,
    source_id     TEXT NOT NULL,
    target_id     TEXT NOT NULL,
    relation_type TEXT NOT NULL CHECK (relation_type IN (
        'involves', 'applies', 'aligned_with', 'informs',
        'supersedes', 'conflicts_with', 'similar_to', 'escalated_to', 'follows', 'derived_from', 'related_to',
        'caused', 'caused_by', 'resolved', 'blocked_by')),
    weight        REAL NOT NULL DEFAULT 1.0 CHECK (weight >= 0 AND weight <= 1),
    metadata      TEXT,
    created_at    INTEGER NOT NULL,

    UNIQUE (source_id, target_id, relation_type),
    FOREIGN KEY (source_id) REFERENCES mem_nodes(id) ON DELETE CASCADE,
    FOREIGN KEY (target_id) REFERENCES mem_nodes(id) ON DELETE CASCADE
);

CREATE INDEX idx_rel_source ON mem_relationships(source_id);
CREATE INDEX idx_rel_target ON mem_relationships(target_id);
`,
	},
}

func (db *DB) migrate() error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
