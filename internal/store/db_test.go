package store

import (
	"path/filepath"
	"testing"
)

func TestOpenMemory(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	if db.Path != ":memory:" {
		t.Errorf("Path = %q, want :memory:", db.Path)
	}
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "orgmem.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("PRAGMA journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}

func TestSchemaVersion(t *testing.T) {
	db := testDB(t)

	v, err := db.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != len(migrations) {
		t.Errorf("SchemaVersion = %d, want %d", v, len(migrations))
	}
}

func TestTablesExist(t *testing.T) {
	db := testDB(t)

	tables := []string{"schema_versions", "mem_nodes", "mem_tags", "mem_relationships"}
	for _, table := range tables {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found: %v", table, err)
		}
	}
}

func TestMemNodesConstraints(t *testing.T) {
	db := testDB(t)

	insert := `INSERT INTO mem_nodes (id, tenant_id, team_id, symbol, layer, node_type, micro, summary, salience, created_at, updated_at)
		VALUES (?, 't1', 'team', ?, ?, 'goal', 'm', 's', ?, 1000, 1000)`

	if _, err := db.Exec(insert, "n1", "strategic.goal.a", "strategic", 0.5); err != nil {
		t.Fatalf("valid insert failed: %v", err)
	}
	if _, err := db.Exec(insert, "n2", "strategic.goal.a", "strategic", 0.5); err == nil {
		t.Error("expected error for duplicate (tenant, symbol), got nil")
	}
	if _, err := db.Exec(insert, "n3", "tactical.goal.b", "tactical", 0.5); err == nil {
		t.Error("expected error for invalid layer, got nil")
	}
	if _, err := db.Exec(insert, "n4", "strategic.goal.c", "strategic", 1.5); err == nil {
		t.Error("expected error for salience above 1, got nil")
	}
}

func TestRelationshipsConstraints(t *testing.T) {
	db := testDB(t)

	for _, id := range []string{"a", "b"} {
		if _, err := db.Exec(`INSERT INTO mem_nodes (id, tenant_id, team_id, symbol, layer, node_type, micro, summary, created_at, updated_at)
			VALUES (?, 't1', 'team', ?, 'entity', 'x', 'm', 's', 1000, 1000)`, id, "entity.x."+id); err != nil {
			t.Fatalf("insert node %s: %v", id, err)
		}
	}

	insert := `INSERT INTO mem_relationships (tenant_id, source_id, target_id, relation_type, created_at) VALUES ('t1', ?, ?, ?, 1000)`
	if _, err := db.Exec(insert, "a", "b", "involves"); err != nil {
		t.Fatalf("valid edge failed: %v", err)
	}
	if _, err := db.Exec(insert, "a", "b", "involves"); err == nil {
		t.Error("expected error for duplicate edge triple, got nil")
	}
	if _, err := db.Exec(insert, "a", "b", "likes"); err == nil {
		t.Error("expected error for unknown relation type, got nil")
	}
	if _, err := db.Exec(insert, "a", "missing", "informs"); err == nil {
		t.Error("expected foreign key error for missing target, got nil")
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	db := testDB(t)

	if err := db.migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}

	v, err := db.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != len(migrations) {
		t.Errorf("SchemaVersion after re-migrate = %d, want %d", v, len(migrations))
	}
}

func TestForeignKeysEnabled(t *testing.T) {
	db := testDB(t)

	var fk int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatalf("PRAGMA foreign_keys: %v", err)
	}
	if fk != 1 {
		t.Errorf("foreign_keys = %d, want 1", fk)
	}
}

func TestGlobToSQLite(t *testing.T) {
	tests := []struct{ in, want string }{
		{"event.finding.*", "event.finding.*"},
		{"event.?.x", "event.?.x"},
		{"entity.tag.[draft]", "entity.tag.[[]draft]"},
	}
	for _, tt := range tests {
		if got := GlobToSQLite(tt.in); got != tt.want {
			t.Errorf("GlobToSQLite(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
