package host

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const defaultInfoTTL = 5 * time.Minute

// CachedInfo wraps a Prober to cache host info with a TTL. Probing spawns a
// bridge call, so /status and the tray read the cached value.
type CachedInfo struct {
	prober Prober
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	cached *Info
}

// NewCachedInfo creates a caching wrapper around host info probes.
func NewCachedInfo(prober Prober, logger *slog.Logger) *CachedInfo {
	return &CachedInfo{
		prober: prober,
		ttl:    defaultInfoTTL,
		logger: logger,
	}
}

// Get returns cached info if fresh, otherwise re-probes.
func (c *CachedInfo) Get(ctx context.Context) (*Info, error) {
	c.mu.RLock()
	if c.cached != nil && time.Since(c.cached.ProbedAt) < c.ttl {
		info := c.cached
		c.mu.RUnlock()
		return info, nil
	}
	c.mu.RUnlock()

	return c.Refresh(ctx)
}

// Peek returns the cached value without probing. It may be nil.
func (c *CachedInfo) Peek() *Info {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cached
}

// Refresh forces a new probe regardless of cache freshness.
func (c *CachedInfo) Refresh(ctx context.Context) (*Info, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	info, err := c.prober.Info(ctx)
	if err != nil {
		c.logger.Warn("host info probe failed", "error", err)
		// Return stale cache if available
		if c.cached != nil {
			c.logger.Info("returning stale host info")
			return c.cached, nil
		}
		return nil, err
	}

	if info.ProbedAt.IsZero() {
		info.ProbedAt = time.Now()
	}
	c.cached = info
	return info, nil
}

// Invalidate clears the cached info.
func (c *CachedInfo) Invalidate() {
	c.mu.Lock()
	c.cached = nil
	c.mu.Unlock()
}
