package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lazypower/orgmem/internal/memory"
	"github.com/lazypower/orgmem/internal/metrics"
	"github.com/lazypower/orgmem/internal/similarity"
	"github.com/lazypower/orgmem/internal/store"
)

// Config holds the salience dynamics applied by the engine.
type Config struct {
	AccessBoost   float64       // added on every symbol or semantic read
	DecayRate     float64       // subtracted per decay tick
	Floor         float64       // decay never goes below this
	DecayInterval time.Duration // background decay period
	Consolidation ConsolidationConfig
}

// DefaultConfig returns the standard salience settings.
func DefaultConfig() Config {
	return Config{
		AccessBoost:   0.05,
		DecayRate:     0.01,
		Floor:         0.01,
		DecayInterval: 24 * time.Hour,
		Consolidation: DefaultConsolidationConfig(),
	}
}

// Engine ties the node store, the similarity index and salience scheduling
// together. Work is done through a Scope.
type Engine struct {
	DB      *store.DB
	Index   *similarity.Store
	Logger  *slog.Logger
	Metrics *metrics.Collector

	cfg      Config
	stopCh   chan struct{}
	stopOnce sync.Once
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.Logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(e *Engine) { e.Metrics = m }
}

// WithConfig replaces the salience settings.
func WithConfig(c Config) Option {
	return func(e *Engine) { e.cfg = c }
}

// New creates an Engine. index may be nil, in which case semantic reads fail
// with a validation error and writes are not mirrored.
func New(db *store.DB, index *similarity.Store, opts ...Option) *Engine {
	e := &Engine{
		DB:     db,
		Index:  index,
		Logger: slog.Default(),
		cfg:    DefaultConfig(),
		stopCh: make(chan struct{}),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Config returns the engine's salience settings.
func (e *Engine) Config() Config { return e.cfg }

// Scope returns a handle for one tenant and team.
func (e *Engine) Scope(tenant uuid.UUID, team string) (*Scope, error) {
	if tenant == uuid.Nil {
		return nil, memory.Validationf("scope: tenant id is required")
	}
	if team == "" {
		return nil, memory.Validationf("scope: team id is required")
	}
	s := &Scope{
		e:      e,
		store:  e.DB.Tenant(tenant),
		team:   team,
		logger: e.Logger.With("tenant", tenant.String(), "team", team),
	}
	if e.Index != nil {
		idx, err := e.Index.Index(tenant, team)
		if err != nil {
			return nil, err
		}
		s.idx = idx
	}
	return s, nil
}

// StartDecayTimer runs decay once on startup and then every DecayInterval
// until Stop is called.
func (e *Engine) StartDecayTimer(ctx context.Context) {
	e.DecayAll(ctx)

	interval := e.cfg.DecayInterval
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				e.DecayAll(ctx)
			case <-e.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// DecayAll applies one decay tick to every tenant and team.
func (e *Engine) DecayAll(ctx context.Context) (int, error) {
	updated, err := e.DB.DecayAll(ctx, e.cfg.DecayRate, e.cfg.Floor)
	if err != nil {
		e.Logger.Error("decay failed", "error", err)
		return 0, err
	}
	e.Metrics.Decayed(updated)
	if updated > 0 {
		e.Logger.Info("decay applied", "updated", updated, "rate", e.cfg.DecayRate)
	}
	return updated, nil
}

// Stop shuts down the engine's background goroutines. Safe to call twice.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}

// Scope is the engine bound to one tenant and team. Node reads by symbol or
// id and traversals span the whole tenant, since symbols are unique per
// tenant; listing queries, semantic search, stats and maintenance are
// restricted to the team.
type Scope struct {
	e      *Engine
	store  *store.Tenant
	idx    *similarity.Index
	team   string
	logger *slog.Logger
}

// Tenant returns the scope's tenant id.
func (s *Scope) Tenant() uuid.UUID { return s.store.ID() }

// Team returns the scope's team id.
func (s *Scope) Team() string { return s.team }

// indexOf returns the index holding nodes owned by team. Writes by symbol
// are tenant wide, so the owner may not be the scope's team.
func (s *Scope) indexOf(team string) (*similarity.Index, error) {
	if s.e.Index == nil {
		return nil, nil
	}
	if team == "" || team == s.team {
		return s.idx, nil
	}
	return s.e.Index.Index(s.Tenant(), team)
}
