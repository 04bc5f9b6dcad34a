package engine

import (
	"context"
	"fmt"

	"github.com/lazypower/orgmem/internal/memory"
	"github.com/lazypower/orgmem/internal/store"
)

// CreateOptions tunes Create.
type CreateOptions struct {
	// Strict turns skipped relationships into a validation error. The node
	// is still written.
	Strict bool
}

// WriteResult reports a committed write and the state of its index mirror.
type WriteResult struct {
	Node        memory.Node           `json:"node"`
	Mirrored    bool                  `json:"mirrored"`
	MirrorErr   error                 `json:"-"`
	MirrorError string                `json:"mirror_error,omitempty"`
	Skipped     []memory.Relationship `json:"skipped,omitempty"`
}

// BatchResult reports a best-effort batch create.
type BatchResult struct {
	Created     []memory.Node         `json:"created"`
	Failed      []store.BatchFailure  `json:"failed,omitempty"`
	Skipped     []memory.Relationship `json:"skipped,omitempty"`
	MirrorErr   error                 `json:"-"`
	MirrorError string                `json:"mirror_error,omitempty"`
}

func (r *WriteResult) setMirrorErr(err error) {
	r.MirrorErr = err
	if err != nil {
		r.MirrorError = err.Error()
	}
}

// mirror copies n into its owning team's index. Failures are logged and
// returned, never rolled back: the store stays authoritative.
func (s *Scope) mirror(ctx context.Context, n memory.Node) error {
	idx, err := s.indexOf(n.TeamID)
	if err == nil && idx == nil {
		return nil
	}
	if err == nil {
		err = idx.Add(ctx, n)
	}
	if err != nil {
		s.e.Metrics.MirrorFailed()
		s.logger.Warn("index mirror failed", "symbol", n.Symbol, "id", n.ID.String(), "error", err)
		return err
	}
	return nil
}

// Create writes a node owned by the scope's team, then mirrors it into the
// similarity index.
func (s *Scope) Create(ctx context.Context, n memory.Node, opts CreateOptions) (*WriteResult, error) {
	n.TeamID = s.team
	skipped, err := s.store.CreateNode(ctx, &n)
	if err != nil {
		return nil, err
	}
	s.e.Metrics.NodeCreated(1)
	s.e.Metrics.EdgeCreated(len(n.Relationships))
	s.e.Metrics.Skipped(len(skipped))
	for _, rel := range skipped {
		s.logger.Debug("relationship skipped, target missing", "source", n.Symbol, "target", rel.TargetSymbol, "type", rel.Type)
	}

	res := &WriteResult{Node: n, Skipped: skipped}
	mErr := s.mirror(ctx, n)
	res.setMirrorErr(mErr)
	res.Mirrored = mErr == nil && s.idx != nil

	if opts.Strict && len(skipped) > 0 {
		return res, memory.Validationf("%s: %d relationship(s) skipped, first target %s missing",
			n.Symbol, len(skipped), skipped[0].TargetSymbol)
	}
	return res, nil
}

// CreateMany writes a batch best-effort and mirrors whatever was stored.
func (s *Scope) CreateMany(ctx context.Context, nodes []memory.Node) (*BatchResult, error) {
	for i := range nodes {
		nodes[i].TeamID = s.team
	}
	created, failed, skipped, err := s.store.CreateNodes(ctx, nodes)
	s.e.Metrics.NodeCreated(len(created))
	s.e.Metrics.Skipped(len(skipped))
	for _, n := range created {
		s.e.Metrics.EdgeCreated(len(n.Relationships))
	}
	res := &BatchResult{Created: created, Failed: failed, Skipped: skipped}
	if err != nil {
		return res, err
	}
	for _, f := range failed {
		s.logger.Warn("batch node rejected", "symbol", f.Symbol, "error", f.Err)
	}

	if s.idx != nil && len(created) > 0 {
		if err := s.idx.AddMany(ctx, created); err != nil {
			s.e.Metrics.MirrorFailed()
			s.logger.Warn("index batch mirror failed", "nodes", len(created), "error", err)
			res.MirrorErr = err
			res.MirrorError = err.Error()
		}
	}
	return res, nil
}

// Update applies patch to the node at symbol and re-mirrors it.
func (s *Scope) Update(ctx context.Context, symbol string, patch memory.Patch) (*WriteResult, error) {
	n, err := s.store.GetBySymbol(ctx, symbol, memory.ResolutionFull)
	if err != nil {
		return nil, err
	}
	patch.Apply(n)
	if err := s.store.UpdateNode(ctx, n); err != nil {
		return nil, err
	}
	n, err = s.store.GetBySymbol(ctx, symbol, memory.ResolutionFull)
	if err != nil {
		return nil, fmt.Errorf("reload %s: %w", symbol, err)
	}

	res := &WriteResult{Node: *n}
	mErr := s.mirror(ctx, *n)
	res.setMirrorErr(mErr)
	res.Mirrored = mErr == nil && s.idx != nil
	return res, nil
}

// DeleteResult reports a delete and the state of the index removal.
type DeleteResult struct {
	Symbol      string `json:"symbol"`
	Deleted     bool   `json:"deleted"`
	MirrorErr   error  `json:"-"`
	MirrorError string `json:"mirror_error,omitempty"`
}

// Delete removes the node and its edges, then drops it from its owning
// team's index. Deleted is false when the node did not exist.
func (s *Scope) Delete(ctx context.Context, symbol string) (*DeleteResult, error) {
	res := &DeleteResult{Symbol: symbol}
	n, err := s.store.GetBySymbol(ctx, symbol, memory.ResolutionMicro)
	if memory.IsNotFound(err) {
		return res, nil
	}
	if err != nil {
		return nil, err
	}
	id, found, err := s.store.DeleteNode(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if !found {
		return res, nil
	}
	res.Deleted = true
	s.e.Metrics.NodeDeleted()

	idx, err := s.indexOf(n.TeamID)
	if err == nil && idx != nil {
		err = idx.Delete(ctx, id)
	}
	if err != nil {
		s.e.Metrics.MirrorFailed()
		s.logger.Warn("index delete failed", "symbol", symbol, "id", id.String(), "error", err)
		res.MirrorErr = err
		res.MirrorError = err.Error()
	}
	return res, nil
}

// Relate adds or updates an edge. A missing endpoint is not an error; it
// returns false.
func (s *Scope) Relate(ctx context.Context, rel memory.Relationship) (bool, error) {
	if rel.Weight == 0 {
		rel.Weight = memory.DefaultWeight
	}
	ok, err := s.store.AddRelationship(ctx, rel)
	if err != nil {
		return false, err
	}
	if ok {
		s.e.Metrics.EdgeCreated(1)
	} else {
		s.e.Metrics.Skipped(1)
		s.logger.Debug("relationship skipped, endpoint missing", "source", rel.SourceSymbol, "target", rel.TargetSymbol)
	}
	return ok, nil
}
