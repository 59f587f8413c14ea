// Package geoip resolves client IP addresses to approximate locations.
//
// Resolution never fails from the caller's point of view: Client.Locate
// returns Unknown() whenever a resolver cannot produce a location.
package geoip

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"visitly/internal/metrics"
)

// UnknownValue fills every descriptive field of an unresolved location.
const UnknownValue = "Unknown"

// ErrLookupFailed wraps every resolver failure.
var ErrLookupFailed = errors.New("geo lookup failed")

// Location is the enrichment attached to a visit.
type Location struct {
	Country     string   `json:"country"`
	CountryCode string   `json:"countryCode"`
	Region      string   `json:"region"`
	City        string   `json:"city"`
	Timezone    string   `json:"timezone"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
}

// Unknown is the location reported when lookup is impossible or fails.
func Unknown() Location {
	return Location{
		Country:  UnknownValue,
		Region:   UnknownValue,
		City:     UnknownValue,
		Timezone: UnknownValue,
	}
}

// IsUnknown reports whether the country could not be resolved.
func (l Location) IsUnknown() bool {
	return l.Country == UnknownValue
}

// Resolver looks up a single public IP address.
type Resolver interface {
	Lookup(ctx context.Context, ip string) (Location, error)
}

// Client fronts a Resolver and converts every failure into Unknown().
type Client struct {
	resolver Resolver
	provider string
	logger   *slog.Logger
}

// NewClient creates a Client. A nil resolver makes every lookup Unknown.
func NewClient(resolver Resolver, provider string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{resolver: resolver, provider: provider, logger: logger}
}

// Locate resolves ip. Empty, malformed, private and loopback addresses are not looked up.
func (c *Client) Locate(ctx context.Context, ip string) Location {
	if c == nil || c.resolver == nil || !IsPublicIP(ip) {
		metrics.GeoLookups.WithLabelValues(c.providerName(), "skipped").Inc()
		return Unknown()
	}

	loc, err := c.resolver.Lookup(ctx, ip)
	if err != nil {
		metrics.GeoLookups.WithLabelValues(c.provider, "miss").Inc()
		c.logger.Warn("Geo lookup failed, using Unknown location",
			slog.String("ip", ip),
			slog.String("provider", c.provider),
			slog.Any("error", err))
		return Unknown()
	}

	metrics.GeoLookups.WithLabelValues(c.provider, "hit").Inc()
	return normalize(loc)
}

func (c *Client) providerName() string {
	if c == nil || c.provider == "" {
		return "none"
	}
	return c.provider
}

// IsPublicIP reports whether ip parses and is routable on the public internet.
func IsPublicIP(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	return !(parsed.IsPrivate() || parsed.IsLoopback() || parsed.IsUnspecified() ||
		parsed.IsLinkLocalUnicast() || parsed.IsLinkLocalMulticast() || parsed.IsMulticast())
}

func normalize(loc Location) Location {
	loc.Country = orUnknown(loc.Country)
	loc.Region = orUnknown(loc.Region)
	loc.City = orUnknown(loc.City)
	loc.Timezone = orUnknown(loc.Timezone)
	return loc
}

func orUnknown(s string) string {
	if s == "" {
		return UnknownValue
	}
	return s
}

func float64Ptr(f float64) *float64 {
	return &f
}
