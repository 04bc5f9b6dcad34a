package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/lazypower/orgmem/internal/memory"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testTenant(t *testing.T) *Tenant {
	t.Helper()
	return testDB(t).Tenant(uuid.New())
}

func makeNode(symbol string, salience float64, tags ...memory.Tag) *memory.Node {
	return &memory.Node{
		Symbol:   symbol,
		TeamID:   "ops",
		Micro:    "micro " + symbol,
		Summary:  "summary of " + symbol,
		Salience: salience,
		Tags:     tags,
	}
}

func mustCreate(t *testing.T, ts *Tenant, n *memory.Node) {
	t.Helper()
	if _, err := ts.CreateNode(context.Background(), n); err != nil {
		t.Fatalf("CreateNode %s: %v", n.Symbol, err)
	}
}

func symbols(nodes []memory.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Symbol
	}
	return out
}

func TestCreateNodeRoundTrip(t *testing.T) {
	ts := testTenant(t)
	ctx := context.Background()

	n := makeNode("event.finding.ref-1", 0.7, memory.T("facility", "042"), memory.T("status", "open"))
	n.Full = "complete inspection record"
	n.Confidence = 0.9
	mustCreate(t, ts, n)

	if n.ID == uuid.Nil {
		t.Fatal("expected id to be assigned")
	}

	got, err := ts.GetBySymbol(ctx, n.Symbol, memory.ResolutionFull)
	if err != nil {
		t.Fatalf("GetBySymbol: %v", err)
	}
	if got.ID != n.ID || got.Symbol != n.Symbol || got.TeamID != n.TeamID || got.TenantID != ts.ID() {
		t.Errorf("identity mismatch: got %+v, want %+v", got, n)
	}
	if got.Micro != n.Micro || got.Summary != n.Summary || got.Full != n.Full {
		t.Errorf("content mismatch: got (%q, %q, %q)", got.Micro, got.Summary, got.Full)
	}
	if got.Salience != 0.7 || got.Confidence != 0.9 {
		t.Errorf("scores = (%v, %v), want (0.7, 0.9)", got.Salience, got.Confidence)
	}
	if !memory.HasAllTags(got.Tags, n.Tags) || len(got.Tags) != len(n.Tags) {
		t.Errorf("tags = %v, want %v", got.Tags, n.Tags)
	}
	if !got.CreatedAt.Equal(n.CreatedAt) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, n.CreatedAt)
	}
}

func TestCreateNodeDefaults(t *testing.T) {
	ts := testTenant(t)
	n := makeNode("entity.facility.042", 0)
	mustCreate(t, ts, n)

	if n.Salience != memory.DefaultSalience {
		t.Errorf("salience = %v, want %v", n.Salience, memory.DefaultSalience)
	}
	if n.Confidence != memory.DefaultConfidence {
		t.Errorf("confidence = %v, want %v", n.Confidence, memory.DefaultConfidence)
	}
}

func TestCreateNodeDuplicate(t *testing.T) {
	ts := testTenant(t)
	mustCreate(t, ts, makeNode("strategic.goal.retention", 0.5))

	_, err := ts.CreateNode(context.Background(), makeNode("strategic.goal.retention", 0.5))
	if !errors.Is(err, memory.ErrDuplicateSymbol) {
		t.Fatalf("err = %v, want DuplicateSymbol", err)
	}
}

func TestCreateNodeDuplicateConcurrent(t *testing.T) {
	db, err := Open(t.TempDir() + "/dup.db")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	ts := db.Tenant(uuid.New())

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ts.CreateNode(context.Background(), makeNode("event.decision.race", 0.5))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok, dup := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, memory.ErrDuplicateSymbol):
			dup++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || dup != writers-1 {
		t.Errorf("ok = %d, dup = %d, want 1 and %d", ok, dup, writers-1)
	}
}

func TestCreateNodeValidation(t *testing.T) {
	ts := testTenant(t)
	_, err := ts.CreateNode(context.Background(), makeNode("tactical.goal.x", 0.5))
	if memory.KindOf(err) != memory.KindValidation {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestTenantIsolation(t *testing.T) {
	db := testDB(t)
	a := db.Tenant(uuid.New())
	b := db.Tenant(uuid.New())

	mustCreate(t, a, makeNode("entity.customer.042", 0.5))
	mustCreate(t, b, makeNode("entity.customer.042", 0.5))

	if _, err := b.GetBySymbol(context.Background(), "entity.customer.042", memory.ResolutionMicro); err != nil {
		t.Fatalf("tenant b lookup: %v", err)
	}
	if err := a.UpdateNode(context.Background(), &memory.Node{Symbol: "entity.customer.404", TeamID: "ops", Micro: "m", Summary: "s"}); !memory.IsNotFound(err) {
		t.Errorf("update missing err = %v, want NotFound", err)
	}
}

func TestGetNotFound(t *testing.T) {
	ts := testTenant(t)
	ctx := context.Background()

	if _, err := ts.GetBySymbol(ctx, "event.finding.nope", memory.ResolutionFull); !memory.IsNotFound(err) {
		t.Errorf("GetBySymbol err = %v, want NotFound", err)
	}
	if _, err := ts.GetByID(ctx, uuid.New(), memory.ResolutionFull); !memory.IsNotFound(err) {
		t.Errorf("GetByID err = %v, want NotFound", err)
	}
}

func TestGetResolution(t *testing.T) {
	ts := testTenant(t)
	n := makeNode("operational.rule.lockout", 0.5)
	n.Full = "full procedure"
	mustCreate(t, ts, n)

	got, err := ts.GetByID(context.Background(), n.ID, memory.ResolutionMicro)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Micro == "" || got.Summary != "" || got.Full != "" {
		t.Errorf("micro projection = (%q, %q, %q)", got.Micro, got.Summary, got.Full)
	}
}

func TestGetManyBySymbols(t *testing.T) {
	ts := testTenant(t)
	mustCreate(t, ts, makeNode("entity.customer.a", 0.5))
	mustCreate(t, ts, makeNode("entity.customer.b", 0.5))

	got, err := ts.GetManyBySymbols(context.Background(),
		[]string{"entity.customer.b", "entity.customer.missing", "entity.customer.a"}, memory.ResolutionSummary)
	if err != nil {
		t.Fatalf("GetManyBySymbols: %v", err)
	}
	want := []string{"entity.customer.b", "entity.customer.a"}
	if s := symbols(got); len(s) != 2 || s[0] != want[0] || s[1] != want[1] {
		t.Errorf("symbols = %v, want %v", s, want)
	}
}

func TestUpdateNode(t *testing.T) {
	ts := testTenant(t)
	ctx := context.Background()
	n := makeNode("entity.customer.042", 0.5, memory.T("tier", "gold"))
	mustCreate(t, ts, n)

	got, err := ts.GetBySymbol(ctx, n.Symbol, memory.ResolutionFull)
	if err != nil {
		t.Fatalf("GetBySymbol: %v", err)
	}
	got.Micro = "renamed"
	got.Tags = []memory.Tag{memory.T("tier", "platinum")}
	got.Salience = 0.9
	if err := ts.UpdateNode(ctx, got); err != nil {
		t.Fatalf("UpdateNode: %v", err)
	}
	if got.UpdatedAt.Before(n.UpdatedAt) {
		t.Errorf("updated_at went backwards")
	}

	after, err := ts.GetBySymbol(ctx, n.Symbol, memory.ResolutionFull)
	if err != nil {
		t.Fatalf("GetBySymbol: %v", err)
	}
	if after.ID != n.ID || !after.CreatedAt.Equal(n.CreatedAt) {
		t.Errorf("identity changed on update")
	}
	if after.Micro != "renamed" || after.Salience != 0.9 {
		t.Errorf("after = (%q, %v)", after.Micro, after.Salience)
	}
	if len(after.Tags) != 1 || after.Tags[0] != memory.T("tier", "platinum") {
		t.Errorf("tags = %v", after.Tags)
	}
}

func TestDeleteNode(t *testing.T) {
	ts := testTenant(t)
	ctx := context.Background()
	n := makeNode("event.incident.7", 0.5, memory.T("sev", "1"))
	mustCreate(t, ts, n)

	id, found, err := ts.DeleteNode(ctx, n.Symbol)
	if err != nil {
		t.Fatalf("DeleteNode: %v", err)
	}
	if !found || id != n.ID {
		t.Errorf("DeleteNode = (%v, %v), want (%v, true)", id, found, n.ID)
	}

	_, found, err = ts.DeleteNode(ctx, n.Symbol)
	if err != nil || found {
		t.Errorf("second DeleteNode = (%v, %v), want (false, nil)", found, err)
	}

	var tags int
	ts.db.QueryRow("SELECT COUNT(*) FROM mem_tags").Scan(&tags)
	if tags != 0 {
		t.Errorf("tags left after delete = %d", tags)
	}
}

func TestFindByPattern(t *testing.T) {
	ts := testTenant(t)
	mustCreate(t, ts, makeNode("event.finding.1", 0.4))
	mustCreate(t, ts, makeNode("event.finding.2", 0.8))
	mustCreate(t, ts, makeNode("event.policy.1", 0.9))

	got, err := ts.FindByPattern(context.Background(), "event.finding.*", Filter{}, memory.ResolutionMicro, Page{Limit: 10})
	if err != nil {
		t.Fatalf("FindByPattern: %v", err)
	}
	s := symbols(got)
	if len(s) != 2 || s[0] != "event.finding.2" || s[1] != "event.finding.1" {
		t.Errorf("symbols = %v, want [event.finding.2 event.finding.1]", s)
	}

	got, err = ts.FindByPattern(context.Background(), "event.?????.1", Filter{}, memory.ResolutionMicro, Page{})
	if err != nil {
		t.Fatalf("FindByPattern: %v", err)
	}
	if s := symbols(got); len(s) != 1 || s[0] != "event.policy.1" {
		t.Errorf("? pattern symbols = %v, want [event.policy.1]", s)
	}
}

func TestFindByPatternUnderscoreIsLiteral(t *testing.T) {
	ts := testTenant(t)
	mustCreate(t, ts, makeNode("event.finding.ref_1", 0.5))
	mustCreate(t, ts, makeNode("event.finding.refx1", 0.5))

	got, err := ts.FindByPattern(context.Background(), "event.finding.ref_*", Filter{}, memory.ResolutionMicro, Page{})
	if err != nil {
		t.Fatalf("FindByPattern: %v", err)
	}
	if s := symbols(got); len(s) != 1 || s[0] != "event.finding.ref_1" {
		t.Errorf("symbols = %v, want [event.finding.ref_1]", s)
	}
}

func TestFindByTagsIsConjunctive(t *testing.T) {
	ts := testTenant(t)
	a1, b2, c3 := memory.T("a", "1"), memory.T("b", "2"), memory.T("c", "3")
	mustCreate(t, ts, makeNode("entity.x.both", 0.5, a1, b2))
	mustCreate(t, ts, makeNode("entity.x.all", 0.6, a1, b2, c3))
	mustCreate(t, ts, makeNode("entity.x.only-a", 0.9, a1))
	mustCreate(t, ts, makeNode("entity.x.only-b", 0.9, b2))

	got, err := ts.FindByTags(context.Background(), []memory.Tag{a1, b2}, Filter{}, memory.ResolutionSummary, Page{})
	if err != nil {
		t.Fatalf("FindByTags: %v", err)
	}
	s := symbols(got)
	if len(s) != 2 || s[0] != "entity.x.all" || s[1] != "entity.x.both" {
		t.Errorf("symbols = %v, want [entity.x.all entity.x.both]", s)
	}
	for _, n := range got {
		if !memory.HasAllTags(n.Tags, []memory.Tag{a1, b2}) {
			t.Errorf("%s missing a required tag: %v", n.Symbol, n.Tags)
		}
	}
}

func TestFindByLayer(t *testing.T) {
	ts := testTenant(t)
	mustCreate(t, ts, makeNode("operational.rule.a", 0.3))
	mustCreate(t, ts, makeNode("operational.standard.b", 0.6))
	mustCreate(t, ts, makeNode("entity.facility.c", 0.9))

	got, err := ts.FindByLayer(context.Background(), memory.LayerOperational, Filter{}, memory.ResolutionMicro, Page{})
	if err != nil {
		t.Fatalf("FindByLayer: %v", err)
	}
	if s := symbols(got); len(s) != 2 || s[0] != "operational.standard.b" {
		t.Errorf("symbols = %v", s)
	}

	got, err = ts.FindByLayer(context.Background(), memory.LayerOperational, Filter{Type: "rule"}, memory.ResolutionMicro, Page{})
	if err != nil {
		t.Fatalf("FindByLayer type: %v", err)
	}
	if s := symbols(got); len(s) != 1 || s[0] != "operational.rule.a" {
		t.Errorf("typed symbols = %v", s)
	}
}

func TestFindPagination(t *testing.T) {
	ts := testTenant(t)
	for i, s := range []string{"event.log.a", "event.log.b", "event.log.c", "event.log.d"} {
		mustCreate(t, ts, makeNode(s, 0.1*float64(i+1)))
	}
	got, err := ts.FindByLayer(context.Background(), memory.LayerEvent, Filter{}, memory.ResolutionMicro, Page{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("FindByLayer: %v", err)
	}
	if s := symbols(got); len(s) != 2 || s[0] != "event.log.c" || s[1] != "event.log.b" {
		t.Errorf("page = %v, want [event.log.c event.log.b]", s)
	}
}

func TestCountByLayer(t *testing.T) {
	ts := testTenant(t)
	mustCreate(t, ts, makeNode("event.log.a", 0.5))
	mustCreate(t, ts, makeNode("event.log.b", 0.5))
	other := makeNode("strategic.goal.c", 0.5)
	other.TeamID = "exec"
	mustCreate(t, ts, other)

	all, err := ts.CountByLayer(context.Background(), "")
	if err != nil {
		t.Fatalf("CountByLayer: %v", err)
	}
	if all[memory.LayerEvent] != 2 || all[memory.LayerStrategic] != 1 || all[memory.LayerEntity] != 0 {
		t.Errorf("counts = %v", all)
	}

	ops, err := ts.CountByLayer(context.Background(), "ops")
	if err != nil {
		t.Fatalf("CountByLayer ops: %v", err)
	}
	if ops[memory.LayerStrategic] != 0 || ops[memory.LayerEvent] != 2 {
		t.Errorf("ops counts = %v", ops)
	}

	ids, err := ts.NodeIDs(context.Background(), "exec")
	if err != nil {
		t.Fatalf("NodeIDs: %v", err)
	}
	if len(ids) != 1 || ids[0] != other.ID {
		t.Errorf("NodeIDs = %v, want [%v]", ids, other.ID)
	}
}

func TestCreateNodesBestEffort(t *testing.T) {
	ts := testTenant(t)
	mustCreate(t, ts, makeNode("entity.customer.taken", 0.5))

	batch := []memory.Node{
		{Symbol: "event.decision.a", TeamID: "ops", Micro: "a", Summary: "a",
			Relationships: []memory.Relationship{{TargetSymbol: "strategic.goal.later", Type: memory.RelAlignedWith}}},
		{Symbol: "entity.customer.taken", TeamID: "ops", Micro: "dup", Summary: "dup"},
		{Symbol: "bogus", TeamID: "ops", Micro: "x", Summary: "x"},
		{Symbol: "strategic.goal.later", TeamID: "ops", Micro: "g", Summary: "g",
			Relationships: []memory.Relationship{{TargetSymbol: "strategic.goal.never", Type: memory.RelRelatedTo}}},
	}
	stored, failed, skipped, err := ts.CreateNodes(context.Background(), batch)
	if err != nil {
		t.Fatalf("CreateNodes: %v", err)
	}
	if len(stored) != 2 || len(failed) != 2 {
		t.Fatalf("stored = %d, failed = %d, want 2 and 2", len(stored), len(failed))
	}
	if len(skipped) != 1 || skipped[0].TargetSymbol != "strategic.goal.never" {
		t.Errorf("skipped = %+v", skipped)
	}
	// the forward reference inside the batch resolved
	if len(stored[0].Relationships) != 1 {
		t.Errorf("forward edge not created: %+v", stored[0].Relationships)
	}
	failedSymbols := []string{failed[0].Symbol, failed[1].Symbol}
	sort.Strings(failedSymbols)
	if failedSymbols[0] != "bogus" || failedSymbols[1] != "entity.customer.taken" {
		t.Errorf("failed = %v", failedSymbols)
	}
}

func TestGetManyByIDs(t *testing.T) {
	ts := testTenant(t)
	a := makeNode("entity.customer.a", 0.5)
	b := makeNode("entity.customer.b", 0.5)
	mustCreate(t, ts, a)
	mustCreate(t, ts, b)

	got, err := ts.GetManyByIDs(context.Background(), []uuid.UUID{b.ID, uuid.New(), a.ID}, memory.ResolutionMicro)
	if err != nil {
		t.Fatalf("GetManyByIDs: %v", err)
	}
	if s := symbols(got); len(s) != 2 || s[0] != "entity.customer.b" || s[1] != "entity.customer.a" {
		t.Errorf("symbols = %v", s)
	}
}
