package geoip

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"visitly/internal/metrics"
)

// errNoResult marks a well-formed reply that carried no location.
// It does not count against the circuit breaker.
var errNoResult = errors.New("lookup returned no result")

// HTTPResolverConfig configures an ip-api compatible lookup service.
type HTTPResolverConfig struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerMinute int
	HTTPClient        *http.Client
	Logger            *slog.Logger
}

// HTTPResolver queries GET {BaseURL}/{ip} and reads the ip-api JSON shape.
type HTTPResolver struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker[Location]
}

type ipAPIResponse struct {
	Status      string  `json:"status"`
	Message     string  `json:"message"`
	Country     string  `json:"country"`
	CountryCode string  `json:"countryCode"`
	RegionName  string  `json:"regionName"`
	City        string  `json:"city"`
	Timezone    string  `json:"timezone"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
}

// NewHTTPResolver creates an HTTPResolver guarded by a rate limiter and a circuit breaker.
// The breaker opens after 5 consecutive transport failures and probes again after 30s.
func NewHTTPResolver(cfg HTTPResolverConfig) *HTTPResolver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(cfg.RequestsPerMinute) / 60.0)
		burst = cfg.RequestsPerMinute
	}

	const cbName = "geo-http"
	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0)
	logger := cfg.Logger

	cb := gobreaker.NewCircuitBreaker[Location](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errNoResult)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Geo circuit breaker state change",
				slog.String("name", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &HTTPResolver{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: cfg.Timeout,
		client:  cfg.HTTPClient,
		limiter: rate.NewLimiter(limit, burst),
		cb:      cb,
	}
}

// Lookup performs at most one outbound request for ip.
func (r *HTTPResolver) Lookup(ctx context.Context, ip string) (Location, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.limiter.Wait(ctx); err != nil {
		return Location{}, fmt.Errorf("%w: rate limited: %v", ErrLookupFailed, err)
	}

	loc, err := r.cb.Execute(func() (Location, error) {
		return r.fetch(ctx, ip)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.GeoLookups.WithLabelValues("http", "rejected").Inc()
		}
		if errors.Is(err, ErrLookupFailed) {
			return Location{}, err
		}
		return Location{}, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}
	return loc, nil
}

func (r *HTTPResolver) fetch(ctx context.Context, ip string) (Location, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/"+ip, nil)
	if err != nil {
		return Location{}, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return Location{}, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Location{}, fmt.Errorf("%w: unexpected status %d", ErrLookupFailed, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return Location{}, fmt.Errorf("%w: reading body: %v", ErrLookupFailed, err)
	}

	var payload ipAPIResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return Location{}, fmt.Errorf("%w: decoding body: %v", ErrLookupFailed, err)
	}
	if payload.Status != "success" {
		return Location{}, fmt.Errorf("%w: %w (%s)", ErrLookupFailed, errNoResult, payload.Message)
	}

	return Location{
		Country:     payload.Country,
		CountryCode: payload.CountryCode,
		Region:      payload.RegionName,
		City:        payload.City,
		Timezone:    payload.Timezone,
		Latitude:    float64Ptr(payload.Lat),
		Longitude:   float64Ptr(payload.Lon),
	}, nil
}

// State returns the breaker state, for health output.
func (r *HTTPResolver) State() string {
	return r.cb.State().String()
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
