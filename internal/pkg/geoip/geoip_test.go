package geoip

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visitly/internal/config"
)

const publicIP = "203.0.113.7"

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestHTTPResolverSuccess(t *testing.T) {
	srv, calls := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/"+publicIP, r.URL.Path)
		fmt.Fprint(w, `{"status":"success","country":"Germany","countryCode":"DE","regionName":"Bavaria","city":"Munich","timezone":"Europe/Berlin","lat":48.13,"lon":11.57}`)
	})

	client := NewClient(NewHTTPResolver(HTTPResolverConfig{BaseURL: srv.URL, Timeout: time.Second}), "http", nil)
	loc := client.Locate(context.Background(), publicIP)

	assert.Equal(t, "Germany", loc.Country)
	assert.Equal(t, "DE", loc.CountryCode)
	assert.Equal(t, "Bavaria", loc.Region)
	assert.Equal(t, "Munich", loc.City)
	assert.Equal(t, "Europe/Berlin", loc.Timezone)
	require.NotNil(t, loc.Latitude)
	assert.InDelta(t, 48.13, *loc.Latitude, 0.001)
	require.NotNil(t, loc.Longitude)
	assert.InDelta(t, 11.57, *loc.Longitude, 0.001)
	assert.Equal(t, int32(1), calls.Load())
}

func TestLocateFallsBackToUnknown(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"fail status", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"status":"fail","message":"reserved range"}`)
		}},
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"malformed body", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"status":`)
		}},
		{"timeout", func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(300 * time.Millisecond)
			fmt.Fprint(w, `{"status":"success","country":"Late"}`)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, tt.handler)
			client := NewClient(NewHTTPResolver(HTTPResolverConfig{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}), "http", nil)

			loc := client.Locate(context.Background(), publicIP)
			assert.Equal(t, Unknown(), loc)
			assert.Nil(t, loc.Latitude)
			assert.Nil(t, loc.Longitude)
		})
	}
}

func TestLocateSkipsNonPublicAddresses(t *testing.T) {
	srv, calls := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"success","country":"Nowhere"}`)
	})
	client := NewClient(NewHTTPResolver(HTTPResolverConfig{BaseURL: srv.URL}), "http", nil)

	for _, ip := range []string{"", "not-an-ip", "127.0.0.1", "10.1.2.3", "192.168.0.5", "::1", "fe80::1"} {
		assert.Equal(t, Unknown(), client.Locate(context.Background(), ip), ip)
	}
	assert.Equal(t, int32(0), calls.Load())
}

func TestHTTPResolverCircuitBreakerOpens(t *testing.T) {
	srv, calls := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	resolver := NewHTTPResolver(HTTPResolverConfig{BaseURL: srv.URL, Timeout: time.Second})

	for i := 0; i < 8; i++ {
		_, err := resolver.Lookup(context.Background(), publicIP)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrLookupFailed))
	}

	assert.Equal(t, int32(5), calls.Load(), "open breaker must short-circuit outbound calls")
	assert.Equal(t, "open", resolver.State())
}

func TestHTTPResolverNoResultDoesNotTripBreaker(t *testing.T) {
	srv, calls := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"fail","message":"private range"}`)
	})
	resolver := NewHTTPResolver(HTTPResolverConfig{BaseURL: srv.URL, Timeout: time.Second})

	for i := 0; i < 8; i++ {
		_, err := resolver.Lookup(context.Background(), publicIP)
		require.Error(t, err)
	}

	assert.Equal(t, int32(8), calls.Load())
	assert.Equal(t, "closed", resolver.State())
}

func TestCachedResolverReusesLocation(t *testing.T) {
	srv, calls := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"success","country":"France","regionName":"Ile-de-France","city":"Paris","timezone":"Europe/Paris","lat":48.85,"lon":2.35}`)
	})
	resolver := NewCachedResolver(NewHTTPResolver(HTTPResolverConfig{BaseURL: srv.URL}), time.Minute, nil)

	for i := 0; i < 3; i++ {
		loc, err := resolver.Lookup(context.Background(), publicIP)
		require.NoError(t, err)
		assert.Equal(t, "Paris", loc.City)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestNewCachedResolverZeroTTLPassesThrough(t *testing.T) {
	static := StaticResolver{}
	assert.Equal(t, Resolver(static), NewCachedResolver(static, 0, nil))
}

func TestStaticResolver(t *testing.T) {
	static := StaticResolver{publicIP: {Country: "Japan", CountryCode: "JP"}}
	client := NewClient(static, "static", nil)

	loc := client.Locate(context.Background(), publicIP)
	assert.Equal(t, "Japan", loc.Country)
	assert.Equal(t, UnknownValue, loc.Region, "blank fields are normalized")
	assert.Equal(t, UnknownValue, loc.Timezone)

	assert.Equal(t, Unknown(), client.Locate(context.Background(), "198.51.100.1"))
}

func TestMMDBResolverMissingDatabase(t *testing.T) {
	resolver := NewMMDBResolver("/nonexistent/GeoLite2-City.mmdb", nil)
	assert.False(t, resolver.Available())

	_, err := resolver.Lookup(context.Background(), publicIP)
	assert.ErrorIs(t, err, ErrLookupFailed)

	resolver.Reload()
	assert.False(t, resolver.Available())
	assert.NoError(t, resolver.Close())

	client := NewClient(resolver, "maxmind", nil)
	assert.Equal(t, Unknown(), client.Locate(context.Background(), publicIP))
}

func TestNewFromConfig(t *testing.T) {
	cfg := &config.Config{GeoProvider: config.GeoProviderNone}
	client, mmdb := NewFromConfig(cfg, nil)
	assert.Nil(t, mmdb)
	assert.Equal(t, Unknown(), client.Locate(context.Background(), publicIP))

	cfg = &config.Config{GeoProvider: config.GeoProviderMaxMind, GeoDBPath: t.TempDir() + "/missing.mmdb"}
	_, mmdb = NewFromConfig(cfg, nil)
	require.NotNil(t, mmdb)
	assert.False(t, mmdb.Available())
}
