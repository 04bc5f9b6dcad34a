package store

import (
	"context"
	"fmt"
	"time"

	"github.com/lazypower/orgmem/internal/memory"
)

// Boost raises salience by delta, clipped at 1.0. Returns whether the node exists.
func (t *Tenant) Boost(ctx context.Context, symbol string, delta float64) (bool, error) {
	if delta < 0 {
		return false, memory.Validationf("boost delta %v is negative", delta)
	}
	result, err := t.db.ExecContext(ctx, `
		UPDATE mem_nodes SET salience = MIN(1.0, salience + ?), updated_at = ?
		WHERE tenant_id = ? AND symbol = ?
	`, delta, time.Now().UnixMilli(), t.id.String(), symbol)
	if err != nil {
		return false, fmt.Errorf("boost %s: %w", symbol, err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// BoostMany boosts each symbol and returns how many nodes were touched.
func (t *Tenant) BoostMany(ctx context.Context, symbols []string, delta float64) (int, error) {
	touched := 0
	for _, s := range symbols {
		ok, err := t.Boost(ctx, s, delta)
		if err != nil {
			return touched, err
		}
		if ok {
			touched++
		}
	}
	return touched, nil
}

// Decay lowers salience by rate for every node above floor, never below floor.
// An empty team decays the whole tenant. Returns the number of nodes changed.
func (t *Tenant) Decay(ctx context.Context, team string, rate, floor float64) (int, error) {
	if rate < 0 {
		return 0, memory.Validationf("decay rate %v is negative", rate)
	}
	if floor < 0 || floor > 1 {
		return 0, memory.Validationf("decay floor %v outside [0,1]", floor)
	}
	query := `UPDATE mem_nodes SET salience = MAX(?, salience - ?), updated_at = ?
		WHERE tenant_id = ? AND salience > ?`
	args := []any{floor, rate, time.Now().UnixMilli(), t.id.String(), floor}
	if team != "" {
		query += " AND team_id = ?"
		args = append(args, team)
	}
	result, err := t.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("decay: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// DecayAll applies Decay to every tenant at once. Used by the background timer.
func (db *DB) DecayAll(ctx context.Context, rate, floor float64) (int, error) {
	if rate < 0 || floor < 0 || floor > 1 {
		return 0, memory.Validationf("decay rate %v / floor %v out of range", rate, floor)
	}
	result, err := db.ExecContext(ctx, `
		UPDATE mem_nodes SET salience = MAX(?, salience - ?), updated_at = ?
		WHERE salience > ?
	`, floor, rate, time.Now().UnixMilli(), floor)
	if err != nil {
		return 0, fmt.Errorf("decay all: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// PruneCandidates lists nodes at or below threshold that are older than minAge.
// Nothing is deleted.
func (t *Tenant) PruneCandidates(ctx context.Context, team string, threshold float64, minAge time.Duration) ([]memory.Node, error) {
	f := Filter{TeamID: team, CreatedBefore: time.Now().Add(-minAge)}
	nodes, err := t.findWhere(ctx, []string{"salience <= ?"}, []any{threshold}, f, memory.ResolutionMicro, Page{})
	if err != nil {
		return nil, fmt.Errorf("prune candidates: %w", err)
	}
	return nodes, nil
}

// CrossLayerSymbols lists nodes with at least one outgoing edge into a
// different layer.
func (t *Tenant) CrossLayerSymbols(ctx context.Context, team string) ([]string, error) {
	query := `
		SELECT DISTINCT s.symbol FROM mem_relationships r
		JOIN mem_nodes s ON s.id = r.source_id
		JOIN mem_nodes d ON d.id = r.target_id
		WHERE s.tenant_id = ? AND s.layer <> d.layer`
	args := []any{t.id.String()}
	if team != "" {
		query += " AND s.team_id = ?"
		args = append(args, team)
	}
	symbols, err := scanStrings(ctx, q(t.db), query+" ORDER BY s.symbol", args...)
	if err != nil {
		return nil, fmt.Errorf("cross-layer symbols: %w", err)
	}
	return symbols, nil
}
