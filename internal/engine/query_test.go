package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/lazypower/orgmem/internal/memory"
)

func TestQueryStrategyPrecedence(t *testing.T) {
	tr := &TraverseSpec{Start: "event.decision.a", Depth: 1}
	tests := []struct {
		name string
		q    Query
		want Strategy
	}{
		{"symbols beat everything", Query{Symbols: []string{"x"}, Traverse: tr, Text: "t", Pattern: "p", Layer: memory.LayerEvent}, StrategySymbols},
		{"traverse beats text", Query{Traverse: tr, Text: "t", Pattern: "p"}, StrategyTraverse},
		{"empty traverse start is ignored", Query{Traverse: &TraverseSpec{}, Text: "t"}, StrategySemantic},
		{"text beats pattern", Query{Text: "t", Pattern: "p", Tags: []memory.Tag{memory.T("a", "1")}}, StrategySemantic},
		{"pattern beats tags", Query{Pattern: "p", Tags: []memory.Tag{memory.T("a", "1")}, Layer: memory.LayerEvent}, StrategyPattern},
		{"tags beat layer", Query{Tags: []memory.Tag{memory.T("a", "1")}, Layer: memory.LayerEvent}, StrategyTags},
		{"layer alone", Query{Layer: memory.LayerEvent}, StrategyLayer},
		{"nothing", Query{Type: "finding"}, StrategyNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.q.Strategy(); got != tt.want {
				t.Errorf("Strategy() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestExecutePatternScenario(t *testing.T) {
	s := testScope(t)
	create(t, s, node("event.finding.1", 0.4, "first", "first finding"))
	create(t, s, node("event.finding.2", 0.8, "second", "second finding"))
	create(t, s, node("event.policy.1", 0.9, "policy", "a policy"))

	res, err := s.Execute(context.Background(), Query{Pattern: "event.finding.*"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	got := symbolsOf(res.Nodes)
	if len(got) != 2 || got[0] != "event.finding.2" || got[1] != "event.finding.1" {
		t.Errorf("nodes = %v, want [event.finding.2 event.finding.1]", got)
	}
	if res.Strategy != StrategyPattern || res.ResolutionUsed != memory.ResolutionSummary || res.TotalCount != 2 {
		t.Errorf("result meta = %+v", res)
	}
	if res.Nodes[0].Full != "" {
		t.Error("summary resolution leaked full content")
	}
}

func TestExecuteTraverseScenario(t *testing.T) {
	s := testScope(t)
	ctx := context.Background()
	create(t, s, node("strategic.goal.retention", 0.5, "retention", "keep churn low"))
	create(t, s, node("event.decision.ref4721", 0.5, "discount", "renewal discount"))
	if _, err := s.Relate(ctx, memory.Relationship{
		SourceSymbol: "event.decision.ref4721", TargetSymbol: "strategic.goal.retention", Type: memory.RelAlignedWith,
	}); err != nil {
		t.Fatalf("Relate: %v", err)
	}

	q := Query{Traverse: &TraverseSpec{Start: "event.decision.ref4721", Types: []memory.RelationType{memory.RelAlignedWith}, Depth: 1}}
	res, err := s.Execute(ctx, q)
	if err != nil {
		t.Fatalf("Execute depth 1: %v", err)
	}
	if len(res.Nodes) != 2 || res.Depths["strategic.goal.retention"] != 1 {
		t.Errorf("depth 1 = %v depths %v", symbolsOf(res.Nodes), res.Depths)
	}

	q.Traverse.Depth = 0
	res, err = s.Execute(ctx, q)
	if err != nil {
		t.Fatalf("Execute depth 0: %v", err)
	}
	if got := symbolsOf(res.Nodes); len(got) != 1 || got[0] != "event.decision.ref4721" {
		t.Errorf("depth 0 = %v", got)
	}
}

func TestExecuteSymbolsBoostAndPage(t *testing.T) {
	s := testScope(t)
	ctx := context.Background()
	create(t, s, node("entity.customer.a", 0.5, "a", "a"))
	create(t, s, node("entity.customer.b", 0.5, "b", "b"))
	create(t, s, node("entity.customer.c", 0.5, "c", "c"))

	res, err := s.Execute(ctx, Query{
		Symbols: []string{"entity.customer.c", "entity.customer.a", "entity.customer.b"},
		Limit:   1, Offset: 1, Resolution: memory.ResolutionMicro,
		Pattern: "ignored.*",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := symbolsOf(res.Nodes); len(got) != 1 || got[0] != "entity.customer.a" {
		t.Errorf("page = %v, want [entity.customer.a]", got)
	}
	if res.Nodes[0].Summary != "" {
		t.Error("micro resolution returned summary")
	}

	after, _ := s.GetMany(ctx, []string{"entity.customer.a", "entity.customer.b"}, memory.ResolutionMicro)
	if after[0].Salience <= 0.5 || after[1].Salience != 0.5 {
		t.Errorf("boost applied to %v, want only the returned node", after)
	}
}

func TestExecuteTagsAndLayer(t *testing.T) {
	s := testScope(t)
	ctx := context.Background()
	create(t, s, node("event.finding.a", 0.5, "a", "a", memory.T("a", "1"), memory.T("b", "2")))
	create(t, s, node("event.finding.b", 0.6, "b", "b", memory.T("a", "1")))
	create(t, s, node("entity.site.c", 0.7, "c", "c", memory.T("a", "1"), memory.T("b", "2")))

	res, err := s.Execute(ctx, Query{Tags: []memory.Tag{memory.T("a", "1"), memory.T("b", "2")}})
	if err != nil {
		t.Fatalf("Execute tags: %v", err)
	}
	if got := symbolsOf(res.Nodes); len(got) != 2 || got[0] != "entity.site.c" || got[1] != "event.finding.a" {
		t.Errorf("tags = %v", got)
	}

	res, err = s.Execute(ctx, Query{Tags: []memory.Tag{memory.T("a", "1")}, Layer: memory.LayerEvent})
	if err != nil {
		t.Fatalf("Execute tags+layer: %v", err)
	}
	if len(res.Nodes) != 2 {
		t.Errorf("tags narrowed by layer = %v", symbolsOf(res.Nodes))
	}

	res, err = s.Execute(ctx, Query{Layer: memory.LayerEvent, Type: "finding", MinSalience: 0.55})
	if err != nil {
		t.Fatalf("Execute layer: %v", err)
	}
	if got := symbolsOf(res.Nodes); len(got) != 1 || got[0] != "event.finding.b" {
		t.Errorf("layer = %v", got)
	}
}

func TestExecuteSemantic(t *testing.T) {
	s := testScope(t)
	ctx := context.Background()
	pump := create(t, s, node("event.finding.pump", 0.5, "pump seal leaking", "hydraulic pump seal leaking oil"))
	create(t, s, node("strategic.goal.revenue", 0.5, "revenue growth", "grow quarterly revenue"))

	res, err := s.Execute(ctx, Query{Text: "leaking pump seal", Limit: 1})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(res.Nodes) != 1 || res.Nodes[0].ID != pump.ID {
		t.Fatalf("nodes = %v", symbolsOf(res.Nodes))
	}
	if res.Scores["event.finding.pump"] <= 0.5 {
		t.Errorf("score = %v", res.Scores)
	}
	after, _ := s.GetMany(ctx, []string{"event.finding.pump"}, memory.ResolutionMicro)
	if after[0].Salience <= 0.5 {
		t.Error("semantic hit was not boosted")
	}
}

func TestSemanticSkipsMissingNodes(t *testing.T) {
	s := testScope(t)
	ctx := context.Background()
	create(t, s, node("event.finding.gone", 0.5, "pump seal", "pump seal"))
	// remove from the store only, leaving an orphaned index entry
	if _, _, err := s.store.DeleteNode(ctx, "event.finding.gone"); err != nil {
		t.Fatalf("DeleteNode: %v", err)
	}
	matches, err := s.FindSimilar(ctx, "pump seal", SimilarOpts{})
	if err != nil {
		t.Fatalf("FindSimilar: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("matches = %+v, want none", matches)
	}
}

func TestSemanticMinSalienceFiltersBeforeBoost(t *testing.T) {
	s := testScope(t)
	ctx := context.Background()
	create(t, s, node("event.finding.faint", 0.2, "valve leak", "valve leak"))
	create(t, s, node("event.finding.loud", 0.9, "valve leak at gasket", "valve leak found at the gasket seat"))

	res, err := s.Execute(ctx, Query{Text: "valve leak", MinSalience: 0.5, Limit: 1})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := symbolsOf(res.Nodes); len(got) != 1 || got[0] != "event.finding.loud" {
		t.Fatalf("nodes = %v, want [event.finding.loud]", got)
	}

	after, err := s.GetMany(ctx, []string{"event.finding.faint", "event.finding.loud"}, memory.ResolutionMicro)
	if err != nil {
		t.Fatalf("GetMany: %v", err)
	}
	if after[0].Salience != 0.2 {
		t.Errorf("filtered node salience = %v, want 0.2 untouched", after[0].Salience)
	}
	if after[1].Salience <= 0.9 {
		t.Errorf("returned node salience = %v, want boosted", after[1].Salience)
	}

	res, err = s.Execute(ctx, Query{Text: "valve leak", MinSalience: 0.99})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(res.Nodes) != 0 {
		t.Errorf("nodes = %v, want none", symbolsOf(res.Nodes))
	}
	after, _ = s.GetMany(ctx, []string{"event.finding.faint"}, memory.ResolutionMicro)
	if after[0].Salience != 0.2 {
		t.Errorf("filtered node salience = %v after second query", after[0].Salience)
	}
}

func TestTagsFallBackToIndexWhenStoreFails(t *testing.T) {
	e := testEngine(t, nil)
	s, err := e.Scope(uuid.New(), "ops")
	if err != nil {
		t.Fatalf("Scope: %v", err)
	}
	ctx := context.Background()
	create(t, s, node("event.finding.f1", 0.7, "seal leak", "seal leak on pump 3",
		memory.T("facility", "042"), memory.T("status", "open")))
	create(t, s, node("event.finding.f2", 0.4, "guard missing", "machine guard missing",
		memory.T("facility", "042")))

	e.DB.Close()

	res, err := s.Execute(ctx, Query{Tags: []memory.Tag{memory.T("facility", "042")}})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Degraded {
		t.Error("result not marked degraded")
	}
	if got := symbolsOf(res.Nodes); len(got) != 2 || got[0] != "event.finding.f1" || got[1] != "event.finding.f2" {
		t.Fatalf("nodes = %v", got)
	}
	if n := res.Nodes[0]; n.Micro != "seal leak" || n.Summary != "seal leak on pump 3" || n.TeamID != "ops" {
		t.Errorf("rebuilt node = %+v", n)
	}

	res, err = s.Execute(ctx, Query{Tags: []memory.Tag{memory.T("status", "open")}, Resolution: memory.ResolutionMicro})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(res.Nodes) != 1 || res.Nodes[0].Summary != "" {
		t.Errorf("micro fallback nodes = %+v", res.Nodes)
	}
}

func TestExecuteErrors(t *testing.T) {
	s := testScope(t)
	ctx := context.Background()
	for _, q := range []Query{
		{},
		{Pattern: "x", Resolution: "huge"},
		{Layer: "tactical"},
	} {
		if _, err := s.Execute(ctx, q); memory.KindOf(err) != memory.KindValidation {
			t.Errorf("Execute(%+v) err = %v, want validation", q, err)
		}
	}
}

func TestTrimToBudget(t *testing.T) {
	mk := func(sym string, sal float64, chars int) memory.Node {
		return memory.Node{Symbol: sym, Salience: sal, Micro: strings.Repeat("x", chars)}
	}
	nodes := []memory.Node{
		mk("low", 0.1, 4),    // 1 token
		mk("high", 0.9, 40),  // 10 tokens
		mk("mid", 0.5, 80),   // 20 tokens
		mk("midlow", 0.3, 4), // 1 token
	}

	kept, used := TrimToBudget(nodes, 25)
	if got := symbolsOf(kept); len(got) != 1 || got[0] != "high" {
		t.Errorf("kept = %v, want [high] (stop at first misfit)", got)
	}
	if used != 10 {
		t.Errorf("used = %d, want 10", used)
	}

	kept, used = TrimToBudget(nodes, 100)
	if got := symbolsOf(kept); len(got) != 4 || got[0] != "high" || got[3] != "low" {
		t.Errorf("kept = %v", got)
	}
	if used != 32 {
		t.Errorf("used = %d, want 32", used)
	}

	kept, _ = TrimToBudget(nodes, 5)
	if len(kept) != 0 {
		t.Errorf("kept = %v, want none", symbolsOf(kept))
	}
	if nodes[0].Symbol != "low" {
		t.Error("input slice was reordered")
	}
}

func TestAssemble(t *testing.T) {
	s := testScope(t)
	create(t, s, node("operational.rule.a", 0.9, "rule a", strings.Repeat("a", 40)))
	create(t, s, node("operational.rule.b", 0.5, "rule b", strings.Repeat("b", 400)))

	b, err := s.Assemble(context.Background(), Query{Layer: memory.LayerOperational}, 20)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(b.Nodes) != 1 || b.Dropped != 1 || b.Tokens > 20 {
		t.Errorf("bundle = %+v", b)
	}
	if _, err := s.Assemble(context.Background(), Query{Layer: memory.LayerOperational}, 0); err == nil {
		t.Error("expected error for zero budget")
	}
}
