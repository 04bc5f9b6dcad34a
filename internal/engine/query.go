package engine

import (
	"context"
	"time"

	"github.com/lazypower/orgmem/internal/memory"
	"github.com/lazypower/orgmem/internal/store"
)

// Strategy names the single execution path a query takes.
type Strategy string

const (
	StrategySymbols  Strategy = "symbols"
	StrategyTraverse Strategy = "traverse"
	StrategySemantic Strategy = "semantic"
	StrategyPattern  Strategy = "pattern"
	StrategyTags     Strategy = "tags"
	StrategyLayer    Strategy = "layer"
	StrategyNone     Strategy = "none"
)

// DefaultLimit applies when a query leaves Limit unset.
const DefaultLimit = 10

// TraverseSpec starts a graph walk.
type TraverseSpec struct {
	Start string                `json:"start"`
	Types []memory.RelationType `json:"types,omitempty"`
	Depth int                   `json:"depth"`
}

// Query is a declarative read. Exactly one selector is used, picked by
// Strategy; the others are ignored.
type Query struct {
	Symbols     []string          `json:"symbols,omitempty"`
	Pattern     string            `json:"pattern,omitempty"`
	Tags        []memory.Tag      `json:"tags,omitempty"`
	Layer       memory.Layer      `json:"layer,omitempty"`
	Type        string            `json:"type,omitempty"`
	Text        string            `json:"text,omitempty"`
	Traverse    *TraverseSpec     `json:"traverse,omitempty"`
	MinSalience float64           `json:"min_salience,omitempty"`
	Resolution  memory.Resolution `json:"resolution,omitempty"`
	Limit       int               `json:"limit,omitempty"`
	Offset      int               `json:"offset,omitempty"`
}

// Result is what Execute returns.
type Result struct {
	Nodes          []memory.Node     `json:"nodes"`
	TotalCount     int               `json:"total_count"`
	QueryTimeMS    float64           `json:"query_time_ms"`
	ResolutionUsed memory.Resolution `json:"resolution_used"`
	Strategy       Strategy          `json:"strategy"`
	// Depths maps symbol to hop count for traversal results.
	Depths map[string]int `json:"depths,omitempty"`
	// Scores maps symbol to similarity score for semantic results.
	Scores map[string]float64 `json:"scores,omitempty"`
	// Degraded is set when nodes were rebuilt from index metadata because
	// the node store failed. Such nodes carry no full tier or edges.
	Degraded bool `json:"degraded,omitempty"`
}

// Strategy returns the selector Execute will use. Precedence: symbols,
// traversal start, text, pattern, tags, layer.
func (q Query) Strategy() Strategy {
	switch {
	case len(q.Symbols) > 0:
		return StrategySymbols
	case q.Traverse != nil && q.Traverse.Start != "":
		return StrategyTraverse
	case q.Text != "":
		return StrategySemantic
	case q.Pattern != "":
		return StrategyPattern
	case len(q.Tags) > 0:
		return StrategyTags
	case q.Layer != "":
		return StrategyLayer
	}
	return StrategyNone
}

func (q Query) limit() int {
	if q.Limit <= 0 {
		return DefaultLimit
	}
	return q.Limit
}

func (q Query) filter(team string) store.Filter {
	f := store.Filter{TeamID: team, Type: q.Type, MinSalience: q.MinSalience}
	if q.Strategy() != StrategyLayer {
		f.Layer = q.Layer
	}
	return f
}

// pageOf slices an in-memory result by offset and limit.
func pageOf[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}

// Execute runs q against the scope.
func (s *Scope) Execute(ctx context.Context, q Query) (*Result, error) {
	start := time.Now()
	res, err := memory.ParseResolution(string(q.Resolution))
	if err != nil {
		return nil, err
	}
	if q.Layer != "" && !q.Layer.Valid() {
		return nil, memory.Validationf("unknown layer %q", q.Layer)
	}
	limit, offset := q.limit(), max(q.Offset, 0)
	strategy := q.Strategy()
	page := store.Page{Limit: limit, Offset: offset}
	out := &Result{ResolutionUsed: res, Strategy: strategy}

	var nodes []memory.Node
	switch strategy {
	case StrategySymbols:
		all, err := s.store.GetManyBySymbols(ctx, q.Symbols, res)
		if err != nil {
			return nil, err
		}
		nodes = pageOf(all, offset, limit)
		s.boost(ctx, nodes)

	case StrategyTraverse:
		visits, err := s.store.Traverse(ctx, q.Traverse.Start, q.Traverse.Types, q.Traverse.Depth, res)
		if err != nil {
			return nil, err
		}
		visits = pageOf(visits, offset, limit)
		out.Depths = make(map[string]int, len(visits))
		for _, v := range visits {
			nodes = append(nodes, v.Node)
			out.Depths[v.Node.Symbol] = v.Depth
		}

	case StrategySemantic:
		matches, err := s.FindSimilar(ctx, q.Text, SimilarOpts{
			Limit: limit, Offset: offset, Layer: q.Layer, Type: q.Type,
			MinSalience: q.MinSalience, Resolution: res,
		})
		if err != nil {
			return nil, err
		}
		out.Scores = make(map[string]float64, len(matches))
		for _, m := range matches {
			nodes = append(nodes, m.Node)
			out.Scores[m.Node.Symbol] = m.Score
		}

	case StrategyPattern:
		nodes, err = s.store.FindByPattern(ctx, q.Pattern, q.filter(s.team), res, page)

	case StrategyTags:
		nodes, err = s.store.FindByTags(ctx, q.Tags, q.filter(s.team), res, page)
		if err != nil && memory.KindOf(err) == "" && s.idx != nil {
			s.logger.Warn("node store read failed, serving tags from index", "error", err)
			nodes, err = s.tagsFromIndex(ctx, q, res, err)
			out.Degraded = err == nil
		}

	case StrategyLayer:
		nodes, err = s.store.FindByLayer(ctx, q.Layer, q.filter(s.team), res, page)

	default:
		return nil, memory.Validationf("query has no selector: set symbols, traverse, text, pattern, tags or layer")
	}
	if err != nil {
		return nil, err
	}

	if nodes == nil {
		nodes = []memory.Node{}
	}
	out.Nodes = nodes
	out.TotalCount = len(nodes)
	elapsed := time.Since(start)
	out.QueryTimeMS = float64(elapsed.Microseconds()) / 1000
	s.e.Metrics.ObserveQuery(string(strategy), elapsed)
	s.logger.Debug("query executed", "strategy", strategy, "nodes", len(nodes), "ms", out.QueryTimeMS)
	return out, nil
}

// tagsFromIndex answers a tag query from index metadata. storeErr is
// returned if the index cannot answer either.
func (s *Scope) tagsFromIndex(ctx context.Context, q Query, res memory.Resolution, storeErr error) ([]memory.Node, error) {
	hits, err := s.idx.FindByTags(ctx, q.Tags, 0)
	if err != nil {
		s.logger.Warn("index tag fallback failed", "error", err)
		return nil, storeErr
	}
	var nodes []memory.Node
	for _, h := range hits {
		n := h.Node()
		n.TeamID = s.team
		if q.Type != "" && n.Type() != q.Type {
			continue
		}
		if q.Layer != "" && n.Layer() != q.Layer {
			continue
		}
		if n.Salience < q.MinSalience {
			continue
		}
		nodes = append(nodes, n.Project(res))
	}
	return pageOf(nodes, max(q.Offset, 0), q.limit()), nil
}
