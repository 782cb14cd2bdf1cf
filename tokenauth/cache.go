package tokenauth

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const defaultStaleRetry = 30 * time.Second

// KeyProvider is what the Verifier needs from a key cache
type KeyProvider interface {
	// Keys returns a key set and whether it was served from cache
	Keys(ctx context.Context) (set *KeySet, cached bool, err error)

	// Refresh forces a re-fetch (subject to throttling) and reports whether
	// a new key set was actually fetched
	Refresh(ctx context.Context) (set *KeySet, refreshed bool, err error)
}

// KeySetStore is an optional second-level cache shared between replicas.
// Get returns (nil, nil) on a miss.
type KeySetStore interface {
	Get(ctx context.Context) ([]byte, error)
	Set(ctx context.Context, document []byte, ttl time.Duration) error
}

// CacheConfig configures CachingKeySource
type CacheConfig struct {
	TTL time.Duration

	// MinRefreshInterval throttles forced refreshes (unknown kid). It is
	// also how long a stale snapshot is served after a failed fetch.
	MinRefreshInterval time.Duration

	Store KeySetStore
}

// CachingKeySource keeps a time-bounded snapshot of a KeySource's key set.
// Reads take a shared lock; concurrent misses share one fetch.
type CachingKeySource struct {
	source     KeySource
	store      KeySetStore
	ttl        time.Duration
	staleRetry time.Duration
	limiter    *rate.Limiter
	logger     *zap.Logger
	metrics    Metrics
	group      singleflight.Group
	now        func() time.Time

	mu        sync.RWMutex
	snapshot  *KeySet
	expiresAt time.Time
}

// NewCachingKeySource wraps source with a TTL cache
func NewCachingKeySource(source KeySource, cfg CacheConfig, logger *zap.Logger, metrics Metrics) *CachingKeySource {
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}

	limit := rate.Inf
	staleRetry := defaultStaleRetry
	if cfg.MinRefreshInterval > 0 {
		limit = rate.Every(cfg.MinRefreshInterval)
		staleRetry = cfg.MinRefreshInterval
	}

	return &CachingKeySource{
		source:     source,
		store:      cfg.Store,
		ttl:        cfg.TTL,
		staleRetry: staleRetry,
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger,
		metrics:    metrics,
		now:        time.Now,
	}
}

// Keys returns the cached snapshot while it is fresh, otherwise loads a new one
func (c *CachingKeySource) Keys(ctx context.Context) (*KeySet, bool, error) {
	c.mu.RLock()
	if c.snapshot != nil && c.now().Before(c.expiresAt) {
		set := c.snapshot
		c.mu.RUnlock()
		return set, true, nil
	}
	c.mu.RUnlock()

	set, err := c.load(ctx, false)
	if err != nil {
		return nil, false, err
	}
	return set, false, nil
}

// Refresh bypasses the TTL and the shared store. When called more often than
// MinRefreshInterval it returns the current snapshot without network I/O.
func (c *CachingKeySource) Refresh(ctx context.Context) (*KeySet, bool, error) {
	if !c.limiter.Allow() {
		c.mu.RLock()
		set := c.snapshot
		c.mu.RUnlock()
		if set != nil {
			c.logger.Debug("key set refresh throttled")
			c.metrics.ObserveKeyRefresh("throttled")
			return set, false, nil
		}
	}

	c.metrics.ObserveKeyRefresh("forced")
	set, err := c.load(ctx, true)
	if err != nil {
		return nil, false, err
	}
	return set, true, nil
}

// Invalidate drops the cached snapshot
func (c *CachingKeySource) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot = nil
	c.expiresAt = time.Time{}
}

// Snapshot returns the current snapshot (possibly expired) without loading
func (c *CachingKeySource) Snapshot() (*KeySet, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot, c.expiresAt
}

func (c *CachingKeySource) load(ctx context.Context, force bool) (*KeySet, error) {
	key := "load"
	if force {
		key = "refresh"
	}

	// Detached from the caller: a cancelled waiter stops waiting, the fetch
	// keeps going for the rest. Attempts are bounded by the source timeout.
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		if !force {
			if set := c.loadFromStore(fetchCtx); set != nil {
				c.install(set)
				return set, nil
			}
		}

		set, err := c.source.FetchKeys(fetchCtx)
		if err != nil {
			if stale := c.holdStale(); stale != nil {
				c.logger.Warn("key fetch failed, serving stale key set",
					zap.String("source", stale.Source),
					zap.Time("fetched_at", stale.FetchedAt),
					zap.Duration("retry_in", c.staleRetry),
					zap.Error(err))
				return stale, nil
			}
			return nil, err
		}

		c.install(set)
		c.saveToStore(fetchCtx, set)
		return set, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*KeySet), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// holdStale keeps the current snapshot valid for another staleRetry
func (c *CachingKeySource) holdStale() *KeySet {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snapshot != nil {
		c.expiresAt = c.now().Add(c.staleRetry)
	}
	return c.snapshot
}

func (c *CachingKeySource) install(set *KeySet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot = set
	c.expiresAt = c.now().Add(c.ttl)
}

func (c *CachingKeySource) loadFromStore(ctx context.Context) *KeySet {
	if c.store == nil {
		return nil
	}
	data, err := c.store.Get(ctx)
	if err != nil {
		c.logger.Warn("shared key set store read failed", zap.Error(err))
		return nil
	}
	if data == nil {
		return nil
	}
	set, err := ParseKeySet(data)
	if err != nil {
		c.logger.Warn("shared key set store holds an invalid document", zap.Error(err))
		return nil
	}
	set.Source = "store"
	set.FetchedAt = c.now()
	return set
}

func (c *CachingKeySource) saveToStore(ctx context.Context, set *KeySet) {
	if c.store == nil {
		return
	}
	data, err := set.Marshal()
	if err != nil {
		c.logger.Warn("failed to encode key set for shared store", zap.Error(err))
		return
	}
	if err := c.store.Set(ctx, data, c.ttl); err != nil {
		c.logger.Warn("shared key set store write failed", zap.Error(err))
	}
}
