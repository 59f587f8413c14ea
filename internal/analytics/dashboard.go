package analytics

import (
	"context"
	"fmt"
	"log/slog"

	"visitly/internal/pkg/async"
	"visitly/internal/timeframe"
)

// Dashboard periods.
const (
	DashboardTrendDays = 7
	DashboardTopDays   = 30
)

// Dashboard is the composed dashboard document. Slices are never nil.
type Dashboard struct {
	Today        Summary         `json:"today"`
	Yesterday    Summary         `json:"yesterday"`
	Trend        []TrendPoint    `json:"trend"`
	TopCountries []CountryRow    `json:"topCountries"`
	Devices      []DeviceRow     `json:"devices"`
	TopPages     []PageRow       `json:"topPages"`
	TopReferrers []ReferrerRow   `json:"topReferrers"`
	Conversions  []ConversionRow `json:"conversions"`
}

// Composer assembles the dashboard from concurrent engine queries.
type Composer struct {
	engine *Engine
	pool   *async.Pool
	logger *slog.Logger
}

func NewComposer(engine *Engine, logger *slog.Logger) *Composer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{engine: engine, pool: async.NewPool(8), logger: logger}
}

// Dashboard runs every dashboard query and fails as a whole if any of them fails.
func (c *Composer) Dashboard(ctx context.Context) (*Dashboard, error) {
	e := c.engine
	now := e.Now()
	trend := timeframe.LastDays(now, DashboardTrendDays)
	top := timeframe.LastDays(now, DashboardTopDays)

	tasks := []async.Task{
		{
			Name: "today",
			Execute: func() (any, error) {
				return e.DailyStats(ctx, now)
			},
		},
		{
			Name: "yesterday",
			Execute: func() (any, error) {
				return e.DailyStats(ctx, now.AddDate(0, 0, -1))
			},
		},
		{
			Name: "trend",
			Execute: func() (any, error) {
				return e.TrendStats(ctx, trend.From, trend.To)
			},
		},
		{
			Name: "topCountries",
			Execute: func() (any, error) {
				return e.TopCountries(ctx, top, DefaultLimit)
			},
		},
		{
			Name: "devices",
			Execute: func() (any, error) {
				rows, err := e.DeviceStats(ctx, &top)
				if err != nil {
					return nil, err
				}
				if len(rows) > DefaultLimit {
					rows = rows[:DefaultLimit]
				}
				return rows, nil
			},
		},
		{
			Name: "topPages",
			Execute: func() (any, error) {
				return e.TopPages(ctx, top, DefaultLimit)
			},
		},
		{
			Name: "topReferrers",
			Execute: func() (any, error) {
				return e.TopReferrers(ctx, top, DefaultLimit)
			},
		},
		{
			Name: "conversions",
			Execute: func() (any, error) {
				return e.ConversionStats(ctx, &top)
			},
		},
	}

	results := c.pool.Execute(ctx, tasks)
	for _, task := range tasks {
		if res := results[task.Name]; res.Err != nil {
			c.logger.Error("Dashboard query failed", slog.String("query", task.Name), slog.Any("error", res.Err))
			return nil, fmt.Errorf("error fetching %s: %w", task.Name, res.Err)
		}
	}

	return &Dashboard{
		Today:        results["today"].Data.(Summary),
		Yesterday:    results["yesterday"].Data.(Summary),
		Trend:        ensureNonNil(results["trend"].Data.([]TrendPoint)),
		TopCountries: ensureNonNil(results["topCountries"].Data.([]CountryRow)),
		Devices:      ensureNonNil(results["devices"].Data.([]DeviceRow)),
		TopPages:     ensureNonNil(results["topPages"].Data.([]PageRow)),
		TopReferrers: ensureNonNil(results["topReferrers"].Data.([]ReferrerRow)),
		Conversions:  ensureNonNil(results["conversions"].Data.([]ConversionRow)),
	}, nil
}

func ensureNonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
