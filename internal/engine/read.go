package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/lazypower/orgmem/internal/memory"
	"github.com/lazypower/orgmem/internal/similarity"
	"github.com/lazypower/orgmem/internal/store"
)

// Match is a semantic hit hydrated from the node store.
type Match struct {
	Node  memory.Node `json:"node"`
	Score float64     `json:"score"`
}

// SimilarOpts narrows FindSimilar.
type SimilarOpts struct {
	Limit       int
	Offset      int
	Layer       memory.Layer
	Type        string
	MinScore    float64
	MinSalience float64 // checked against the stored node, before paging
	Resolution  memory.Resolution
}

// Stats summarizes a scope.
type Stats struct {
	Tenant  string               `json:"tenant_id"`
	Team    string               `json:"team_id"`
	Layers  map[memory.Layer]int `json:"layers"`
	Total   int                  `json:"total"`
	Indexed int                  `json:"indexed"`
}

// boost raises salience of every symbol after a read. Failures are logged;
// a lost boost is acceptable.
func (s *Scope) boost(ctx context.Context, nodes []memory.Node) {
	delta := s.e.cfg.AccessBoost
	if delta <= 0 || len(nodes) == 0 {
		return
	}
	symbols := make([]string, len(nodes))
	for i, n := range nodes {
		symbols[i] = n.Symbol
	}
	if _, err := s.store.BoostMany(ctx, symbols, delta); err != nil {
		s.logger.Warn("access boost failed", "nodes", len(symbols), "error", err)
	}
}

// Get returns the node at symbol and counts the read as an access.
func (s *Scope) Get(ctx context.Context, symbol string, res memory.Resolution) (*memory.Node, error) {
	n, err := s.store.GetBySymbol(ctx, symbol, res)
	if err != nil {
		return nil, err
	}
	s.boost(ctx, []memory.Node{*n})
	return n, nil
}

// GetByID returns the node with id. Id lookups are bookkeeping, not access.
func (s *Scope) GetByID(ctx context.Context, id uuid.UUID, res memory.Resolution) (*memory.Node, error) {
	return s.store.GetByID(ctx, id, res)
}

// GetMany returns the nodes that exist among symbols, in request order.
func (s *Scope) GetMany(ctx context.Context, symbols []string, res memory.Resolution) ([]memory.Node, error) {
	return s.store.GetManyBySymbols(ctx, symbols, res)
}

// Related lists the neighbours of symbol.
func (s *Scope) Related(ctx context.Context, symbol string, types []memory.RelationType, dir memory.Direction, limit int, res memory.Resolution) ([]memory.Node, error) {
	return s.store.GetRelated(ctx, symbol, types, dir, limit, res)
}

// Traverse walks outgoing edges from start.
func (s *Scope) Traverse(ctx context.Context, start string, types []memory.RelationType, depth int, res memory.Resolution) ([]store.Visit, error) {
	return s.store.Traverse(ctx, start, types, depth, res)
}

// FindSimilar searches the index and hydrates each hit from the store.
// Hits whose node no longer exists or falls under MinSalience are dropped
// before paging, and the index is asked for more until the page fills or
// it runs out. Only returned nodes are boosted.
func (s *Scope) FindSimilar(ctx context.Context, text string, opts SimilarOpts) ([]Match, error) {
	if s.idx == nil {
		return nil, memory.Validationf("semantic search is not configured")
	}
	if text == "" {
		return nil, memory.Validationf("semantic search needs text")
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	offset := max(opts.Offset, 0)
	if opts.Resolution == "" {
		opts.Resolution = memory.ResolutionSummary
	}

	want := offset + limit
	var matches []Match
	for fetch := want; ; fetch *= 2 {
		hits, err := s.idx.FindSimilar(ctx, text, similarity.SearchOpts{
			Limit:    fetch,
			Layer:    opts.Layer,
			Type:     opts.Type,
			MinScore: opts.MinScore,
		})
		if err != nil {
			return nil, fmt.Errorf("find similar: %w", err)
		}
		matches, err = s.hydrate(ctx, hits, opts)
		if err != nil {
			return nil, err
		}
		if len(matches) >= want || len(hits) < fetch {
			break
		}
	}

	if offset >= len(matches) {
		return nil, nil
	}
	matches = matches[offset:]
	if len(matches) > limit {
		matches = matches[:limit]
	}

	found := make([]memory.Node, len(matches))
	for i, m := range matches {
		found[i] = m.Node
	}
	s.boost(ctx, found)
	return matches, nil
}

// hydrate loads the nodes behind hits, keeping index order.
func (s *Scope) hydrate(ctx context.Context, hits []similarity.Hit, opts SimilarOpts) ([]Match, error) {
	if len(hits) == 0 {
		return nil, nil
	}
	ids := make([]uuid.UUID, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	nodes, err := s.store.GetManyByIDs(ctx, ids, opts.Resolution)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]memory.Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	matches := make([]Match, 0, len(hits))
	for _, h := range hits {
		n, ok := byID[h.ID]
		if !ok {
			s.logger.Debug("index hit without backing node", "id", h.ID.String())
			continue
		}
		if n.Salience < opts.MinSalience {
			continue
		}
		matches = append(matches, Match{Node: n, Score: h.Score})
	}
	return matches, nil
}

// Stats counts nodes per layer for the team and the index size.
func (s *Scope) Stats(ctx context.Context) (*Stats, error) {
	counts, err := s.store.CountByLayer(ctx, s.team)
	if err != nil {
		return nil, err
	}
	st := &Stats{Tenant: s.Tenant().String(), Team: s.team, Layers: counts}
	for _, c := range counts {
		st.Total += c
	}
	if s.idx != nil {
		st.Indexed = s.idx.Count()
	}
	return st, nil
}
