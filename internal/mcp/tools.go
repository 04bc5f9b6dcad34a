package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/lazypower/orgmem/internal/engine"
	"github.com/lazypower/orgmem/internal/memory"
)

// Handler provides the dependencies needed by tool handlers.
type Handler struct {
	Engine        *engine.Engine
	Logger        *slog.Logger
	DefaultTenant uuid.UUID
	DefaultTeam   string
}

func (h *Handler) scope(tenant, team string) (*engine.Scope, error) {
	id := h.DefaultTenant
	if tenant != "" {
		parsed, err := uuid.Parse(tenant)
		if err != nil {
			return nil, memory.Validationf("tenant_id must be a uuid")
		}
		id = parsed
	}
	if team == "" {
		team = h.DefaultTeam
	}
	return h.Engine.Scope(id, team)
}

// NodeOutput is a node as tools return it.
type NodeOutput struct {
	ID         string   `json:"id"`
	Symbol     string   `json:"symbol"`
	TeamID     string   `json:"team_id"`
	Micro      string   `json:"micro"`
	Summary    string   `json:"summary,omitempty"`
	Full       string   `json:"full,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Salience   float64  `json:"salience"`
	Confidence float64  `json:"confidence"`
	CreatedAt  string   `json:"created_at"`
	UpdatedAt  string   `json:"updated_at"`
}

func nodeOutput(n memory.Node) NodeOutput {
	return NodeOutput{
		ID:         n.ID.String(),
		Symbol:     n.Symbol,
		TeamID:     n.TeamID,
		Micro:      n.Micro,
		Summary:    n.Summary,
		Full:       n.Full,
		Tags:       memory.TagStrings(n.Tags),
		Salience:   n.Salience,
		Confidence: n.Confidence,
		CreatedAt:  n.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:  n.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func nodeOutputs(nodes []memory.Node) []NodeOutput {
	out := make([]NodeOutput, len(nodes))
	for i, n := range nodes {
		out[i] = nodeOutput(n)
	}
	return out
}

// RelationInput is a relationship carried on memory_store.
type RelationInput struct {
	Target string  `json:"target" jsonschema:"Symbol of the target node"`
	Type   string  `json:"type" jsonschema:"Relationship type, e.g. aligned_with, caused, involves"`
	Weight float64 `json:"weight,omitempty" jsonschema:"Edge weight in [0,1] (default 1.0)"`
}

// StoreInput defines the input for the memory_store tool.
type StoreInput struct {
	TenantID      string          `json:"tenant_id,omitempty" jsonschema:"Tenant UUID (defaults to the server's tenant)"`
	TeamID        string          `json:"team_id,omitempty" jsonschema:"Team that owns the node (defaults to the server's team)"`
	Symbol        string          `json:"symbol" jsonschema:"Hierarchical address layer.type.id, e.g. event.finding.pump-7"`
	Micro         string          `json:"micro" jsonschema:"One-line description, at most 100 characters"`
	Summary       string          `json:"summary" jsonschema:"Short summary, at most 500 characters"`
	Full          string          `json:"full,omitempty" jsonschema:"Full content"`
	Tags          []string        `json:"tags,omitempty" jsonschema:"Tags as key:value strings"`
	Salience      *float64        `json:"salience,omitempty" jsonschema:"Importance in [0,1] (default 0.5)"`
	Confidence    float64         `json:"confidence,omitempty" jsonschema:"Confidence in [0,1] (default 1.0)"`
	Relationships []RelationInput `json:"relationships,omitempty" jsonschema:"Outgoing relationships to create with the node"`
	Strict        bool            `json:"strict,omitempty" jsonschema:"Fail when a relationship target does not exist"`
}

// StoreOutput defines the output for the memory_store tool.
type StoreOutput struct {
	Node        NodeOutput `json:"node"`
	Mirrored    bool       `json:"mirrored"`
	MirrorError string     `json:"mirror_error,omitempty"`
	Skipped     []string   `json:"skipped,omitempty"`
}

func StoreTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "memory_store",
		Description: "Store a knowledge node under a hierarchical symbol layer.type.id, where layer is strategic, operational, entity or event. Optional relationships are created to existing targets; missing targets are skipped and listed. Returns the stored node and whether it was indexed for semantic search.",
	}
}

// HandleStore handles the memory_store tool call.
func (h *Handler) HandleStore(ctx context.Context, req *mcp.CallToolRequest, input StoreInput) (*mcp.CallToolResult, StoreOutput, error) {
	sc, err := h.scope(input.TenantID, input.TeamID)
	if err != nil {
		return nil, StoreOutput{}, err
	}
	tags, err := memory.ParseTags(input.Tags)
	if err != nil {
		return nil, StoreOutput{}, err
	}
	n := memory.Node{
		Symbol:     input.Symbol,
		Micro:      input.Micro,
		Summary:    input.Summary,
		Full:       input.Full,
		Tags:       tags,
		Confidence: input.Confidence,
	}
	if input.Salience != nil {
		n.SetSalience(*input.Salience)
	}
	for _, r := range input.Relationships {
		typ, err := memory.ParseRelationType(r.Type)
		if err != nil {
			return nil, StoreOutput{}, err
		}
		n.Relationships = append(n.Relationships, memory.Relationship{TargetSymbol: r.Target, Type: typ, Weight: r.Weight})
	}

	h.Logger.Info("memory_store", "symbol", input.Symbol, "team", sc.Team())
	res, err := sc.Create(ctx, n, engine.CreateOptions{Strict: input.Strict})
	if err != nil {
		h.Logger.Warn("memory_store failed", "symbol", input.Symbol, "error", err)
		return nil, StoreOutput{}, fmt.Errorf("store %s: %w", input.Symbol, err)
	}
	out := StoreOutput{Node: nodeOutput(res.Node), Mirrored: res.Mirrored, MirrorError: res.MirrorError}
	for _, rel := range res.Skipped {
		out.Skipped = append(out.Skipped, string(rel.Type)+"->"+rel.TargetSymbol)
	}
	return nil, out, nil
}

// GetInput defines the input for the memory_get tool.
type GetInput struct {
	TenantID   string `json:"tenant_id,omitempty" jsonschema:"Tenant UUID"`
	TeamID     string `json:"team_id,omitempty" jsonschema:"Team"`
	Symbol     string `json:"symbol" jsonschema:"Symbol of the node to read"`
	Resolution string `json:"resolution,omitempty" jsonschema:"micro, summary (default) or full"`
}

func GetTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "memory_get",
		Description: "Get one node by symbol at the requested resolution. Reading a node raises its salience.",
	}
}

// HandleGet handles the memory_get tool call.
func (h *Handler) HandleGet(ctx context.Context, req *mcp.CallToolRequest, input GetInput) (*mcp.CallToolResult, NodeOutput, error) {
	sc, err := h.scope(input.TenantID, input.TeamID)
	if err != nil {
		return nil, NodeOutput{}, err
	}
	res, err := memory.ParseResolution(input.Resolution)
	if err != nil {
		return nil, NodeOutput{}, err
	}
	n, err := sc.Get(ctx, input.Symbol, res)
	if err != nil {
		return nil, NodeOutput{}, err
	}
	return nil, nodeOutput(*n), nil
}

// QueryInput defines the input for the memory_query tool.
type QueryInput struct {
	TenantID      string   `json:"tenant_id,omitempty" jsonschema:"Tenant UUID"`
	TeamID        string   `json:"team_id,omitempty" jsonschema:"Team"`
	Symbols       []string `json:"symbols,omitempty" jsonschema:"Exact symbols to fetch"`
	TraverseStart string   `json:"traverse_start,omitempty" jsonschema:"Start symbol for a graph walk"`
	TraverseTypes []string `json:"traverse_types,omitempty" jsonschema:"Relationship types to follow"`
	Depth         int      `json:"depth,omitempty" jsonschema:"Maximum hops for a graph walk"`
	Text          string   `json:"text,omitempty" jsonschema:"Free text for semantic search"`
	Pattern       string   `json:"pattern,omitempty" jsonschema:"Symbol glob such as event.finding.*"`
	Tags          []string `json:"tags,omitempty" jsonschema:"key:value tags, all must match"`
	Layer         string   `json:"layer,omitempty" jsonschema:"strategic, operational, entity or event"`
	Type          string   `json:"type,omitempty" jsonschema:"Node type within the layer"`
	MinSalience   float64  `json:"min_salience,omitempty" jsonschema:"Drop nodes below this salience"`
	Resolution    string   `json:"resolution,omitempty" jsonschema:"micro, summary (default) or full"`
	Limit         int      `json:"limit,omitempty" jsonschema:"Maximum nodes (default 10)"`
	Offset        int      `json:"offset,omitempty" jsonschema:"Nodes to skip"`
	MaxTokens     int      `json:"max_tokens,omitempty" jsonschema:"Trim the result to this token budget, highest salience first"`
}

// QueryOutput defines the output for the memory_query tool.
type QueryOutput struct {
	Strategy   string       `json:"strategy"`
	Resolution string       `json:"resolution"`
	Count      int          `json:"count"`
	Nodes      []NodeOutput `json:"nodes"`
	Tokens     int          `json:"tokens,omitempty"`
	Dropped    int          `json:"dropped,omitempty"`
}

func QueryTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "memory_query",
		Description: "Run a declarative query. One selector is used, in order: symbols, traverse_start, text, pattern, tags, layer. Set max_tokens to fit the result into a context budget.",
	}
}

func (in QueryInput) query() (engine.Query, error) {
	q := engine.Query{
		Symbols:     in.Symbols,
		Pattern:     in.Pattern,
		Layer:       memory.Layer(in.Layer),
		Type:        in.Type,
		Text:        in.Text,
		MinSalience: in.MinSalience,
		Resolution:  memory.Resolution(in.Resolution),
		Limit:       in.Limit,
		Offset:      in.Offset,
	}
	tags, err := memory.ParseTags(in.Tags)
	if err != nil {
		return q, err
	}
	q.Tags = tags
	if in.TraverseStart != "" {
		types, err := memory.ParseRelationTypes(in.TraverseTypes)
		if err != nil {
			return q, err
		}
		q.Traverse = &engine.TraverseSpec{Start: in.TraverseStart, Types: types, Depth: in.Depth}
	}
	return q, nil
}

// HandleQuery handles the memory_query tool call.
func (h *Handler) HandleQuery(ctx context.Context, req *mcp.CallToolRequest, input QueryInput) (*mcp.CallToolResult, QueryOutput, error) {
	sc, err := h.scope(input.TenantID, input.TeamID)
	if err != nil {
		return nil, QueryOutput{}, err
	}
	q, err := input.query()
	if err != nil {
		return nil, QueryOutput{}, err
	}

	if input.MaxTokens > 0 {
		b, err := sc.Assemble(ctx, q, input.MaxTokens)
		if err != nil {
			return nil, QueryOutput{}, err
		}
		res, _ := memory.ParseResolution(string(q.Resolution))
		return nil, QueryOutput{
			Strategy:   string(b.Strategy),
			Resolution: string(res),
			Count:      len(b.Nodes),
			Nodes:      nodeOutputs(b.Nodes),
			Tokens:     b.Tokens,
			Dropped:    b.Dropped,
		}, nil
	}

	res, err := sc.Execute(ctx, q)
	if err != nil {
		return nil, QueryOutput{}, err
	}
	h.Logger.Debug("memory_query", "strategy", res.Strategy, "nodes", len(res.Nodes))
	return nil, QueryOutput{
		Strategy:   string(res.Strategy),
		Resolution: string(res.ResolutionUsed),
		Count:      len(res.Nodes),
		Nodes:      nodeOutputs(res.Nodes),
	}, nil
}

// SimilarInput defines the input for the memory_similar tool.
type SimilarInput struct {
	TenantID   string  `json:"tenant_id,omitempty" jsonschema:"Tenant UUID"`
	TeamID     string  `json:"team_id,omitempty" jsonschema:"Team"`
	Text       string  `json:"text" jsonschema:"Text to search for"`
	Limit      int     `json:"limit,omitempty" jsonschema:"Maximum results (default 10)"`
	Layer      string  `json:"layer,omitempty" jsonschema:"Restrict to one layer"`
	Type       string  `json:"type,omitempty" jsonschema:"Restrict to one node type"`
	MinScore   float64 `json:"min_score,omitempty" jsonschema:"Minimum similarity score in [0,1]"`
	Resolution string  `json:"resolution,omitempty" jsonschema:"micro, summary (default) or full"`
}

// MatchOutput is one semantic hit.
type MatchOutput struct {
	Node  NodeOutput `json:"node"`
	Score float64    `json:"score"`
}

// SimilarOutput defines the output for the memory_similar tool.
type SimilarOutput struct {
	Count   int           `json:"count"`
	Results []MatchOutput `json:"results"`
}

func SimilarTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "memory_similar",
		Description: "Semantic search over the team's nodes. Returns nodes with a similarity score, best first.",
	}
}

// HandleSimilar handles the memory_similar tool call.
func (h *Handler) HandleSimilar(ctx context.Context, req *mcp.CallToolRequest, input SimilarInput) (*mcp.CallToolResult, SimilarOutput, error) {
	sc, err := h.scope(input.TenantID, input.TeamID)
	if err != nil {
		return nil, SimilarOutput{}, err
	}
	res, err := memory.ParseResolution(input.Resolution)
	if err != nil {
		return nil, SimilarOutput{}, err
	}
	matches, err := sc.FindSimilar(ctx, input.Text, engine.SimilarOpts{
		Limit:      input.Limit,
		Layer:      memory.Layer(input.Layer),
		Type:       input.Type,
		MinScore:   input.MinScore,
		Resolution: res,
	})
	if err != nil {
		return nil, SimilarOutput{}, err
	}
	out := SimilarOutput{Count: len(matches), Results: make([]MatchOutput, len(matches))}
	for i, m := range matches {
		out.Results[i] = MatchOutput{Node: nodeOutput(m.Node), Score: m.Score}
	}
	return nil, out, nil
}

// RelateInput defines the input for the memory_relate tool.
type RelateInput struct {
	TenantID string  `json:"tenant_id,omitempty" jsonschema:"Tenant UUID"`
	TeamID   string  `json:"team_id,omitempty" jsonschema:"Team"`
	Source   string  `json:"source" jsonschema:"Source symbol"`
	Target   string  `json:"target" jsonschema:"Target symbol"`
	Type     string  `json:"type" jsonschema:"Relationship type"`
	Weight   float64 `json:"weight,omitempty" jsonschema:"Edge weight in [0,1] (default 1.0)"`
}

// RelateOutput defines the output for the memory_relate tool.
type RelateOutput struct {
	Created bool `json:"created"`
}

func RelateTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "memory_relate",
		Description: "Create or update a typed edge between two nodes. Returns created=false when either endpoint does not exist.",
	}
}

// HandleRelate handles the memory_relate tool call.
func (h *Handler) HandleRelate(ctx context.Context, req *mcp.CallToolRequest, input RelateInput) (*mcp.CallToolResult, RelateOutput, error) {
	sc, err := h.scope(input.TenantID, input.TeamID)
	if err != nil {
		return nil, RelateOutput{}, err
	}
	typ, err := memory.ParseRelationType(input.Type)
	if err != nil {
		return nil, RelateOutput{}, err
	}
	created, err := sc.Relate(ctx, memory.Relationship{
		SourceSymbol: input.Source, TargetSymbol: input.Target, Type: typ, Weight: input.Weight,
	})
	if err != nil {
		return nil, RelateOutput{}, err
	}
	return nil, RelateOutput{Created: created}, nil
}

// TraverseInput defines the input for the memory_traverse tool.
type TraverseInput struct {
	TenantID   string   `json:"tenant_id,omitempty" jsonschema:"Tenant UUID"`
	TeamID     string   `json:"team_id,omitempty" jsonschema:"Team"`
	Start      string   `json:"start" jsonschema:"Symbol to start from"`
	Types      []string `json:"types,omitempty" jsonschema:"Relationship types to follow (default all)"`
	Depth      int      `json:"depth,omitempty" jsonschema:"Maximum hops"`
	Resolution string   `json:"resolution,omitempty" jsonschema:"micro, summary (default) or full"`
}

// VisitOutput is a node reached by a walk.
type VisitOutput struct {
	Node  NodeOutput `json:"node"`
	Depth int        `json:"depth"`
}

// TraverseOutput defines the output for the memory_traverse tool.
type TraverseOutput struct {
	Count  int           `json:"count"`
	Visits []VisitOutput `json:"visits"`
}

func TraverseTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "memory_traverse",
		Description: "Walk outgoing relationships from a start node up to depth hops. Each node appears once with the hop count at which it was reached.",
	}
}

// HandleTraverse handles the memory_traverse tool call.
func (h *Handler) HandleTraverse(ctx context.Context, req *mcp.CallToolRequest, input TraverseInput) (*mcp.CallToolResult, TraverseOutput, error) {
	sc, err := h.scope(input.TenantID, input.TeamID)
	if err != nil {
		return nil, TraverseOutput{}, err
	}
	types, err := memory.ParseRelationTypes(input.Types)
	if err != nil {
		return nil, TraverseOutput{}, err
	}
	res, err := memory.ParseResolution(input.Resolution)
	if err != nil {
		return nil, TraverseOutput{}, err
	}
	visits, err := sc.Traverse(ctx, input.Start, types, input.Depth, res)
	if err != nil {
		return nil, TraverseOutput{}, err
	}
	out := TraverseOutput{Count: len(visits), Visits: make([]VisitOutput, len(visits))}
	for i, v := range visits {
		out.Visits[i] = VisitOutput{Node: nodeOutput(v.Node), Depth: v.Depth}
	}
	return nil, out, nil
}

// StatsInput defines the input for the memory_stats tool.
type StatsInput struct {
	TenantID string `json:"tenant_id,omitempty" jsonschema:"Tenant UUID"`
	TeamID   string `json:"team_id,omitempty" jsonschema:"Team"`
}

// StatsOutput defines the output for the memory_stats tool.
type StatsOutput struct {
	Layers  map[string]int `json:"layers"`
	Total   int            `json:"total"`
	Indexed int            `json:"indexed"`
}

func StatsTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "memory_stats",
		Description: "Count the team's nodes per layer and in the similarity index.",
	}
}

// HandleStats handles the memory_stats tool call.
func (h *Handler) HandleStats(ctx context.Context, req *mcp.CallToolRequest, input StatsInput) (*mcp.CallToolResult, StatsOutput, error) {
	sc, err := h.scope(input.TenantID, input.TeamID)
	if err != nil {
		return nil, StatsOutput{}, err
	}
	st, err := sc.Stats(ctx)
	if err != nil {
		return nil, StatsOutput{}, err
	}
	out := StatsOutput{Layers: make(map[string]int, len(st.Layers)), Total: st.Total, Indexed: st.Indexed}
	for l, n := range st.Layers {
		out.Layers[string(l)] = n
	}
	return nil, out, nil
}
