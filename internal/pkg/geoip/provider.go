package geoip

import (
	"log/slog"

	"visitly/internal/config"
)

// NewFromConfig builds the Client selected by cfg.GeoProvider. The MMDB resolver is
// returned separately so the GeoLite updater can reload it; it is nil for other providers.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) (*Client, *MMDBResolver) {
	switch cfg.GeoProvider {
	case config.GeoProviderMaxMind:
		mmdb := NewMMDBResolver(cfg.GeoDBPath, logger)
		return NewClient(mmdb, config.GeoProviderMaxMind, logger), mmdb
	case config.GeoProviderHTTP:
		remote := NewHTTPResolver(HTTPResolverConfig{
			BaseURL:           cfg.GeoLookupURL,
			Timeout:           cfg.GeoTimeout(),
			RequestsPerMinute: cfg.GeoRequestsPerMinute,
			Logger:            logger,
		})
		return NewClient(NewCachedResolver(remote, cfg.GeoCacheTTL(), logger), config.GeoProviderHTTP, logger), nil
	default:
		return NewClient(nil, config.GeoProviderNone, logger), nil
	}
}
