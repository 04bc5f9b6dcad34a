package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/lazypower/orgmem/internal/memory"
)

// ReconcileOptions controls a reconciliation sweep.
type ReconcileOptions struct {
	// Repair re-mirrors missing nodes and purges orphaned index entries.
	Repair bool `json:"repair"`
}

// ReconcileReport lists the divergences found between the store and the index.
type ReconcileReport struct {
	StoreCount  int             `json:"store_count"`
	IndexCount  int             `json:"index_count"`
	Missing     []uuid.UUID     `json:"missing"`  // in store, not in index
	Orphaned    []uuid.UUID     `json:"orphaned"` // in index, not in store
	Repaired    int             `json:"repaired"`
	Divergences []*memory.Error `json:"divergences"`
}

// Consistent reports whether no divergence was found.
func (r *ReconcileReport) Consistent() bool { return len(r.Divergences) == 0 }

// Reconcile diffs the team's node ids against the index.
func (s *Scope) Reconcile(ctx context.Context, opts ReconcileOptions) (*ReconcileReport, error) {
	if s.idx == nil {
		return nil, memory.Validationf("similarity index is not configured")
	}
	stored, err := s.store.NodeIDs(ctx, s.team)
	if err != nil {
		return nil, err
	}
	indexed, err := s.idx.IDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list index ids: %w", err)
	}

	inStore := make(map[uuid.UUID]bool, len(stored))
	for _, id := range stored {
		inStore[id] = true
	}
	inIndex := make(map[uuid.UUID]bool, len(indexed))
	for _, id := range indexed {
		inIndex[id] = true
	}

	rep := &ReconcileReport{
		StoreCount:  len(stored),
		IndexCount:  len(indexed),
		Missing:     []uuid.UUID{},
		Orphaned:    []uuid.UUID{},
		Divergences: []*memory.Error{},
	}
	for _, id := range stored {
		if !inIndex[id] {
			rep.Missing = append(rep.Missing, id)
			rep.Divergences = append(rep.Divergences, memory.Divergence(id.String(), "node not indexed"))
		}
	}
	for _, id := range indexed {
		if !inStore[id] {
			rep.Orphaned = append(rep.Orphaned, id)
			rep.Divergences = append(rep.Divergences, memory.Divergence(id.String(), "index entry without node"))
		}
	}
	s.e.Metrics.Diverged(len(rep.Divergences))
	if len(rep.Divergences) > 0 {
		s.logger.Warn("store and index diverged", "missing", len(rep.Missing), "orphaned", len(rep.Orphaned))
	}

	if !opts.Repair {
		return rep, nil
	}

	if len(rep.Missing) > 0 {
		nodes, err := s.store.GetManyByIDs(ctx, rep.Missing, memory.ResolutionFull)
		if err != nil {
			return rep, err
		}
		for _, n := range nodes {
			if err := s.mirror(ctx, n); err != nil {
				continue
			}
			rep.Repaired++
		}
	}
	if len(rep.Orphaned) > 0 {
		if err := s.idx.DeleteMany(ctx, rep.Orphaned); err != nil {
			return rep, fmt.Errorf("purge orphaned: %w", err)
		}
		rep.Repaired += len(rep.Orphaned)
	}
	s.logger.Info("reconciliation repaired", "repaired", rep.Repaired)
	return rep, nil
}
