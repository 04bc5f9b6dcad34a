package similarity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/sony/gobreaker"
)

// ErrProviderUnavailable is returned while the embedding circuit is open.
var ErrProviderUnavailable = errors.New("embedding provider unavailable")

// BreakerConfig tunes the circuit breaker around an embedding provider.
type BreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultBreakerConfig returns the breaker settings used by serve.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		MaxRequests:      1,
		Interval:         30 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 0.6,
		MinRequests:      3,
	}
}

// BreakerEmbedder stops calling a failing provider until it recovers, so a
// dead embedding service fails mirror writes fast instead of stalling them.
type BreakerEmbedder struct {
	next Embedder
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerEmbedder wraps next with a circuit breaker.
func NewBreakerEmbedder(next Embedder, cfg BreakerConfig, logger *slog.Logger) *BreakerEmbedder {
	if logger == nil {
		logger = slog.Default()
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("embedding breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			// caller cancellation says nothing about provider health
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return &BreakerEmbedder{next: next, cb: cb}
}

func (b *BreakerEmbedder) Model() string   { return b.next.Model() }
func (b *BreakerEmbedder) Dimensions() int { return b.next.Dimensions() }

// State reports the breaker state, e.g. "closed" or "open".
func (b *BreakerEmbedder) State() string { return b.cb.State().String() }

func (b *BreakerEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := b.cb.Execute(func() (any, error) {
		return b.next.Embed(ctx, text)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if err != nil {
		return nil, err
	}
	return out.([]float32), nil
}

// CachedEmbedder memoizes embeddings by text. Query texts repeat far more
// often than node texts, so this mostly saves provider round trips on reads.
type CachedEmbedder struct {
	next  Embedder
	cache *ristretto.Cache
}

// NewCachedEmbedder wraps next with a cache bounded to roughly maxBytes of vectors.
func NewCachedEmbedder(next Embedder, maxBytes int64) (*CachedEmbedder, error) {
	if maxBytes <= 0 {
		maxBytes = 64 << 20
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &CachedEmbedder{next: next, cache: cache}, nil
}

func (c *CachedEmbedder) Model() string   { return c.next.Model() }
func (c *CachedEmbedder) Dimensions() int { return c.next.Dimensions() }

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.next.Model() + "\x00" + text
	if v, ok := c.cache.Get(key); ok {
		return v.([]float32), nil
	}
	vec, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, vec, int64(len(vec)*4))
	return vec, nil
}

// Wait blocks until pending cache writes are applied.
func (c *CachedEmbedder) Wait() { c.cache.Wait() }

// Close releases the cache.
func (c *CachedEmbedder) Close() { c.cache.Close() }
