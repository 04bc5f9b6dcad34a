package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lazypower/orgmem/internal/config"
	"github.com/lazypower/orgmem/internal/engine"
	"github.com/lazypower/orgmem/internal/metrics"
	"github.com/lazypower/orgmem/internal/similarity"
	"github.com/lazypower/orgmem/internal/store"
)

// runtime is everything a command needs to work against the memory engine.
type runtime struct {
	db     *store.DB
	engine *engine.Engine
	cache  *similarity.CachedEmbedder
}

func (r *runtime) Close() {
	r.engine.Stop()
	if r.cache != nil {
		r.cache.Close()
	}
	r.db.Close()
}

// engineConfig maps the file configuration onto the engine's.
func engineConfig(c config.Config) engine.Config {
	ec := engine.DefaultConfig()
	ec.AccessBoost = c.Salience.AccessBoost
	ec.DecayRate = c.Salience.DecayRate
	ec.Floor = c.Salience.Floor
	ec.DecayInterval = c.DecayEvery()
	ec.Consolidation = engine.ConsolidationConfig{
		TimeDecayRate:   c.Consolidation.TimeDecayRate,
		CrossLayerBoost: c.Consolidation.CrossLayerBoost,
		PruneThreshold:  c.Consolidation.PruneThreshold,
		MinAgeDays:      c.Consolidation.MinAgeDays,
		Floor:           c.Salience.Floor,
	}
	return ec
}

// buildEmbedder picks the embedding provider. Ollama is wrapped in a circuit
// breaker and a query cache; when it is not reachable the deterministic hash
// embedder takes over so the index still works offline.
func buildEmbedder(ctx context.Context, c config.EmbeddingConfig, logger *slog.Logger) (similarity.Embedder, *similarity.CachedEmbedder, error) {
	dims := c.Dimensions
	if dims <= 0 {
		dims = 768
	}
	switch c.Provider {
	case "hash":
		return similarity.NewHashEmbedder(dims), nil, nil
	case "ollama", "":
	default:
		return nil, nil, fmt.Errorf("unknown embedding provider %q", c.Provider)
	}

	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if !similarity.ProbeOllama(probeCtx, c.URL, c.Model) {
		logger.Warn("ollama not reachable, using hash embedder", "url", c.URL, "model", c.Model)
		return similarity.NewHashEmbedder(dims), nil, nil
	}

	timeout := time.Duration(c.TimeoutSec) * time.Second
	var emb similarity.Embedder = similarity.NewOllamaEmbedder(c.URL, c.Model, dims, timeout)
	emb = similarity.NewBreakerEmbedder(emb, similarity.DefaultBreakerConfig("ollama"), logger)
	if c.CacheMB <= 0 {
		return emb, nil, nil
	}
	cached, err := similarity.NewCachedEmbedder(emb, int64(c.CacheMB)<<20)
	if err != nil {
		return nil, nil, fmt.Errorf("embedding cache: %w", err)
	}
	return cached, cached, nil
}

// openRuntime opens the database and index described by c.
func openRuntime(ctx context.Context, c config.Config, logger *slog.Logger, m *metrics.Collector) (*runtime, error) {
	dbPath := c.Database.Path
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("resolve db path: %w", err)
		}
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	emb, cache, err := buildEmbedder(ctx, c.Embedding, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	idx, err := similarity.NewStore(c.Index.Path, emb, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open similarity index: %w", err)
	}

	eng := engine.New(db, idx,
		engine.WithLogger(logger),
		engine.WithMetrics(m),
		engine.WithConfig(engineConfig(c)),
	)
	logger.Info("engine ready", "db", dbPath, "index", indexLabel(c.Index.Path), "embedder", emb.Model())
	return &runtime{db: db, engine: eng, cache: cache}, nil
}

func indexLabel(path string) string {
	if path == "" {
		return "memory"
	}
	return path
}

// scopeFlags are the --tenant/--team flags shared by maintenance commands.
type scopeFlags struct {
	tenant string
	team   string
}

func (f *scopeFlags) scope(e *engine.Engine) (*engine.Scope, error) {
	id, err := uuid.Parse(f.tenant)
	if err != nil {
		return nil, fmt.Errorf("--tenant must be a uuid: %w", err)
	}
	return e.Scope(id, f.team)
}
