package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/lazypower/orgmem/internal/memory"
)

// ConsolidationConfig tunes a consolidation pass.
type ConsolidationConfig struct {
	TimeDecayRate   float64 `json:"time_decay_rate"`
	CrossLayerBoost float64 `json:"cross_layer_boost"`
	PruneThreshold  float64 `json:"prune_threshold"`
	MinAgeDays      int     `json:"min_age_days"`
	Floor           float64 `json:"floor"`
}

// DefaultConsolidationConfig returns the standard consolidation settings.
func DefaultConsolidationConfig() ConsolidationConfig {
	return ConsolidationConfig{
		TimeDecayRate:   0.1,
		CrossLayerBoost: 0.1,
		PruneThreshold:  0.01,
		MinAgeDays:      30,
		Floor:           0.01,
	}
}

// ConsolidationResult reports one consolidation pass. Candidates are only
// reported; nothing is deleted.
type ConsolidationResult struct {
	NodesUpdated int      `json:"nodes_updated"`
	NodesBoosted int      `json:"nodes_boosted"`
	NodesPruned  int      `json:"nodes_pruned"`
	Candidates   []string `json:"candidates"`
	DurationMS   int64    `json:"duration_ms"`
}

// Boost raises the salience of symbol by delta, or by the configured access
// boost when delta is zero. Returns whether the node exists.
func (s *Scope) Boost(ctx context.Context, symbol string, delta float64) (bool, error) {
	if delta == 0 {
		delta = s.e.cfg.AccessBoost
	}
	return s.store.Boost(ctx, symbol, delta)
}

// Decay lowers salience across the team by the configured rate.
func (s *Scope) Decay(ctx context.Context) (int, error) {
	n, err := s.store.Decay(ctx, s.team, s.e.cfg.DecayRate, s.e.cfg.Floor)
	if err != nil {
		return 0, err
	}
	s.e.Metrics.Decayed(n)
	return n, nil
}

// Consolidate decays the team, rewards nodes linked across layers and lists
// prune candidates.
func (s *Scope) Consolidate(ctx context.Context, cfg ConsolidationConfig) (*ConsolidationResult, error) {
	start := time.Now()
	if cfg.PruneThreshold < 0 || cfg.PruneThreshold > 1 {
		return nil, memory.Validationf("prune threshold %v outside [0,1]", cfg.PruneThreshold)
	}

	updated, err := s.store.Decay(ctx, s.team, cfg.TimeDecayRate, cfg.Floor)
	if err != nil {
		return nil, fmt.Errorf("consolidate decay: %w", err)
	}
	s.e.Metrics.Decayed(updated)

	linked, err := s.store.CrossLayerSymbols(ctx, s.team)
	if err != nil {
		return nil, fmt.Errorf("consolidate cross-layer: %w", err)
	}
	boosted := 0
	if cfg.CrossLayerBoost > 0 {
		boosted, err = s.store.BoostMany(ctx, linked, cfg.CrossLayerBoost)
		if err != nil {
			return nil, fmt.Errorf("consolidate boost: %w", err)
		}
	}

	minAge := time.Duration(cfg.MinAgeDays) * 24 * time.Hour
	candidates, err := s.store.PruneCandidates(ctx, s.team, cfg.PruneThreshold, minAge)
	if err != nil {
		return nil, fmt.Errorf("consolidate prune: %w", err)
	}
	symbols := make([]string, len(candidates))
	for i, n := range candidates {
		symbols[i] = n.Symbol
	}

	res := &ConsolidationResult{
		NodesUpdated: updated,
		NodesBoosted: boosted,
		NodesPruned:  len(symbols),
		Candidates:   symbols,
		DurationMS:   time.Since(start).Milliseconds(),
	}
	s.logger.Info("consolidation complete",
		"updated", res.NodesUpdated, "boosted", res.NodesBoosted, "prune_candidates", res.NodesPruned)
	return res, nil
}
