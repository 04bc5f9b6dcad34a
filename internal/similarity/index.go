package similarity

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"

	"github.com/lazypower/orgmem/internal/memory"
)

// listProbe is embedded to obtain a vector of the right size when every
// document of a collection is wanted.
const listProbe = "orgmem index listing"

// Metadata keys written alongside each document.
const (
	MetaSymbol    = "symbol"
	MetaLayer     = "layer"
	MetaType      = "node_type"
	MetaSalience  = "salience"
	MetaTags      = "tags"
	MetaCreatedAt = "created_at"
)

// Hit is one similarity result.
type Hit struct {
	ID       uuid.UUID         `json:"id"`
	Score    float64           `json:"score"`
	Content  string            `json:"content,omitempty"`
	Metadata map[string]string `json:"metadata"`
}

// Node rebuilds what the index knows of a node: micro and summary tiers,
// symbol, tags, salience as of the last mirror, and creation time.
func (h Hit) Node() memory.Node {
	micro, summary, _ := strings.Cut(h.Content, "\n")
	salience, _ := strconv.ParseFloat(h.Metadata[MetaSalience], 64)
	created, _ := time.Parse(time.RFC3339, h.Metadata[MetaCreatedAt])
	return memory.Node{
		ID:        h.ID,
		Symbol:    h.Metadata[MetaSymbol],
		Micro:     micro,
		Summary:   summary,
		Tags:      metaTags(h.Metadata),
		Salience:  salience,
		CreatedAt: created,
	}
}

// Store owns the vector database and hands out per-(tenant, team) indexes.
// It is created by the caller and injected; there is no package-level state.
type Store struct {
	db       *chromem.DB
	embedder Embedder
	logger   *slog.Logger

	mu      sync.RWMutex
	indexes map[string]*Index
}

// NewStore returns a Store backed by an in-memory database, or a persistent
// one when path is non-empty.
func NewStore(path string, embedder Embedder, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var db *chromem.DB
	if path == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("open vector db %s: %w", path, err)
		}
	}
	return &Store{
		db:       db,
		embedder: embedder,
		logger:   logger,
		indexes:  make(map[string]*Index),
	}, nil
}

// Embedder returns the embedder used for documents and queries.
func (s *Store) Embedder() Embedder { return s.embedder }

func collectionName(tenant uuid.UUID, team string) string {
	return "t_" + tenant.String() + "_" + team
}

// Index returns the index for a tenant and team, creating its collection on
// first use.
func (s *Store) Index(tenant uuid.UUID, team string) (*Index, error) {
	name := collectionName(tenant, team)

	s.mu.RLock()
	idx, ok := s.indexes[name]
	s.mu.RUnlock()
	if ok {
		return idx, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.indexes[name]; ok {
		return idx, nil
	}

	col, err := s.db.GetOrCreateCollection(name, map[string]string{
		"tenant_id": tenant.String(),
		"team_id":   team,
		"model":     s.embedder.Model(),
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection %s: %w", name, err)
	}
	idx = &Index{col: col, embedder: s.embedder, logger: s.logger.With("collection", name)}
	s.indexes[name] = idx
	return idx, nil
}

// Index is the similarity mirror for one tenant and team. It is never
// authoritative; the node store is.
type Index struct {
	col      *chromem.Collection
	embedder Embedder
	logger   *slog.Logger
}

func document(n memory.Node, emb []float32) chromem.Document {
	return chromem.Document{
		ID:        n.ID.String(),
		Content:   n.IndexText(),
		Embedding: emb,
		Metadata: map[string]string{
			MetaSymbol:    n.Symbol,
			MetaLayer:     string(n.Layer()),
			MetaType:      n.Type(),
			MetaSalience:  strconv.FormatFloat(n.Salience, 'f', -1, 64),
			MetaTags:      strings.Join(memory.TagStrings(n.Tags), ","),
			MetaCreatedAt: n.CreatedAt.UTC().Format(time.RFC3339),
		},
	}
}

// Add embeds and stores a node, replacing any document with the same id.
func (i *Index) Add(ctx context.Context, n memory.Node) error {
	emb, err := i.embedder.Embed(ctx, n.IndexText())
	if err != nil {
		return fmt.Errorf("embed %s: %w", n.Symbol, err)
	}
	if err := i.col.AddDocument(ctx, document(n, emb)); err != nil {
		return fmt.Errorf("index %s: %w", n.Symbol, err)
	}
	return nil
}

// AddMany embeds and stores nodes. It stops at the first embedding failure
// and reports it; nothing from the batch is written in that case.
func (i *Index) AddMany(ctx context.Context, nodes []memory.Node) error {
	if len(nodes) == 0 {
		return nil
	}
	docs := make([]chromem.Document, 0, len(nodes))
	for _, n := range nodes {
		emb, err := i.embedder.Embed(ctx, n.IndexText())
		if err != nil {
			return fmt.Errorf("embed %s: %w", n.Symbol, err)
		}
		docs = append(docs, document(n, emb))
	}
	if err := i.col.AddDocuments(ctx, docs, 4); err != nil {
		return fmt.Errorf("index batch: %w", err)
	}
	return nil
}

// Update re-embeds a node. Documents are keyed by id so this overwrites.
func (i *Index) Update(ctx context.Context, n memory.Node) error {
	return i.Add(ctx, n)
}

// Delete removes a node's document. Deleting an absent id is not an error.
func (i *Index) Delete(ctx context.Context, id uuid.UUID) error {
	return i.DeleteMany(ctx, []uuid.UUID{id})
}

// DeleteMany removes several documents.
func (i *Index) DeleteMany(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	strs := make([]string, len(ids))
	for k, id := range ids {
		strs[k] = id.String()
	}
	if err := i.col.Delete(ctx, nil, nil, strs...); err != nil {
		return fmt.Errorf("delete from index: %w", err)
	}
	return nil
}

// Count returns the number of indexed documents.
func (i *Index) Count() int { return i.col.Count() }

// all returns every document as a result, ordered by similarity to probe.
func (i *Index) all(ctx context.Context, probe []float32) ([]chromem.Result, error) {
	n := i.col.Count()
	if n == 0 {
		return nil, nil
	}
	results, err := i.col.QueryEmbedding(ctx, probe, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	return results, nil
}

// IDs lists every indexed node id.
func (i *Index) IDs(ctx context.Context) ([]uuid.UUID, error) {
	if i.col.Count() == 0 {
		return nil, nil
	}
	probe, err := i.embedder.Embed(ctx, listProbe)
	if err != nil {
		return nil, fmt.Errorf("embed probe: %w", err)
	}
	results, err := i.all(ctx, probe)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(results))
	for _, r := range results {
		id, err := uuid.Parse(r.ID)
		if err != nil {
			i.logger.Warn("skipping malformed index id", "id", r.ID)
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// SearchOpts narrows FindSimilar.
type SearchOpts struct {
	Limit    int
	Layer    memory.Layer
	Type     string
	MinScore float64
}

func (o SearchOpts) limit() int {
	if o.Limit <= 0 {
		return 10
	}
	return o.Limit
}

// FindSimilar embeds query and returns the closest documents by score
// descending. Layer and type filters are applied before the limit.
func (i *Index) FindSimilar(ctx context.Context, query string, opts SearchOpts) ([]Hit, error) {
	if i.col.Count() == 0 {
		return nil, nil
	}
	emb, err := i.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	results, err := i.all(ctx, emb)
	if err != nil {
		return nil, err
	}

	limit := opts.limit()
	hits := make([]Hit, 0, limit)
	for _, r := range results {
		if opts.Layer != "" && r.Metadata[MetaLayer] != string(opts.Layer) {
			continue
		}
		if opts.Type != "" && r.Metadata[MetaType] != opts.Type {
			continue
		}
		score := Score(float64(r.Similarity))
		if score < opts.MinScore {
			continue
		}
		id, err := uuid.Parse(r.ID)
		if err != nil {
			continue
		}
		hits = append(hits, Hit{ID: id, Score: score, Content: r.Content, Metadata: r.Metadata})
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].Score > hits[b].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// metaTags decodes the tags written by document. Tag values never contain
// commas, so the join is unambiguous.
func metaTags(meta map[string]string) []memory.Tag {
	raw := meta[MetaTags]
	if raw == "" {
		return nil
	}
	var tags []memory.Tag
	for _, s := range strings.Split(raw, ",") {
		if t, err := memory.ParseTag(s); err == nil {
			tags = append(tags, t)
		}
	}
	return tags
}

// FindByTags scans document metadata for nodes carrying every tag. The
// engine falls back to it when the node store cannot be read; order is by
// salience as of the last mirror.
func (i *Index) FindByTags(ctx context.Context, tags []memory.Tag, limit int) ([]Hit, error) {
	if i.col.Count() == 0 || len(tags) == 0 {
		return nil, nil
	}
	probe, err := i.embedder.Embed(ctx, listProbe)
	if err != nil {
		return nil, fmt.Errorf("embed probe: %w", err)
	}
	results, err := i.all(ctx, probe)
	if err != nil {
		return nil, err
	}

	var hits []Hit
	for _, r := range results {
		if !memory.HasAllTags(metaTags(r.Metadata), tags) {
			continue
		}
		id, err := uuid.Parse(r.ID)
		if err != nil {
			continue
		}
		hits = append(hits, Hit{ID: id, Content: r.Content, Metadata: r.Metadata})
	}
	sort.SliceStable(hits, func(a, b int) bool {
		sa, _ := strconv.ParseFloat(hits[a].Metadata[MetaSalience], 64)
		sb, _ := strconv.ParseFloat(hits[b].Metadata[MetaSalience], 64)
		return sa > sb
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}
