package geoip

import (
	"context"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge/cache"
)

// CachedResolver memoizes successful lookups per IP for a TTL.
// The wrapped resolver is called with a background context since the cache
// fetch function carries none; HTTPResolver applies its own timeout.
type CachedResolver struct {
	cache *cache.Cache[string, Location]
}

// NewCachedResolver wraps next. A non-positive ttl returns next unchanged.
func NewCachedResolver(next Resolver, ttl time.Duration, logger *slog.Logger) Resolver {
	if ttl <= 0 {
		return next
	}
	if logger == nil {
		logger = slog.Default()
	}
	fetch := func(ip string) (Location, error) {
		return next.Lookup(context.Background(), ip)
	}
	return &CachedResolver{cache: cache.NewCache[string, Location](logger, ttl, fetch)}
}

// Lookup returns the cached location for ip, fetching it on a miss.
func (c *CachedResolver) Lookup(ctx context.Context, ip string) (Location, error) {
	if err := ctx.Err(); err != nil {
		return Location{}, err
	}
	return c.cache.Get(ip)
}
