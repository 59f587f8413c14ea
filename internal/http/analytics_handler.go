// Package http holds the dashboard-facing analytics endpoints.
package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"visitly/internal/analytics"
	"visitly/internal/timeframe"
	"visitly/internal/visitors"
	"visitly/internal/visits"
)

const (
	defaultDays  = 30
	maxDays      = 365
	maxLimit     = 100
	errAnalytics = "Failed to load analytics"
)

// AnalyticsHandlers serves the /analytics routes.
type AnalyticsHandlers struct {
	engine   *analytics.Engine
	composer *analytics.Composer
	reader   visits.Reader
	parser   *timeframe.Parser
}

func NewAnalyticsHandlers(engine *analytics.Engine, composer *analytics.Composer, reader visits.Reader) *AnalyticsHandlers {
	return &AnalyticsHandlers{
		engine:   engine,
		composer: composer,
		reader:   reader,
		parser:   timeframe.NewParser(engineClock{engine}),
	}
}

// engineClock lets request date defaults follow the engine's clock.
type engineClock struct {
	engine *analytics.Engine
}

func (c engineClock) Now() time.Time {
	return c.engine.Now()
}

// DashboardAction returns the composed dashboard.
func (h *AnalyticsHandlers) DashboardAction(ctx *cartridge.Context) error {
	d, err := h.composer.Dashboard(ctx.UserContext())
	if err != nil {
		return analyticsError(ctx, "dashboard", err)
	}
	return ctx.JSON(d)
}

// DailyAction returns the day trend over the last ?days days.
func (h *AnalyticsHandlers) DailyAction(ctx *cartridge.Context) error {
	days, err := intParam(ctx, "days", defaultDays, 1, maxDays)
	if err != nil {
		return badRequest(ctx, err)
	}

	r := timeframe.LastDays(h.engine.Now(), days)
	points, err := h.engine.TrendStats(ctx.UserContext(), r.From, r.To)
	if err != nil {
		return analyticsError(ctx, "daily", err)
	}
	return ctx.JSON(points)
}

// RealtimeAction returns hourly totals for the trailing hour.
func (h *AnalyticsHandlers) RealtimeAction(ctx *cartridge.Context) error {
	points, err := h.engine.RealtimeStats(ctx.UserContext())
	if err != nil {
		return analyticsError(ctx, "realtime", err)
	}
	return ctx.JSON(points)
}

func (h *AnalyticsHandlers) RegionsAction(ctx *cartridge.Context) error {
	r, err := h.parser.ParseOptionalRange(ctx.Query("startDate"), ctx.Query("endDate"))
	if err != nil {
		return badRequest(ctx, err)
	}
	rows, err := h.engine.RegionStats(ctx.UserContext(), r)
	if err != nil {
		return analyticsError(ctx, "regions", err)
	}
	return ctx.JSON(rows)
}

func (h *AnalyticsHandlers) DevicesAction(ctx *cartridge.Context) error {
	r, err := h.parser.ParseOptionalRange(ctx.Query("startDate"), ctx.Query("endDate"))
	if err != nil {
		return badRequest(ctx, err)
	}
	rows, err := h.engine.DeviceStats(ctx.UserContext(), r)
	if err != nil {
		return analyticsError(ctx, "devices", err)
	}
	return ctx.JSON(rows)
}

func (h *AnalyticsHandlers) PagesAction(ctx *cartridge.Context) error {
	r, limit, err := h.topParams(ctx)
	if err != nil {
		return badRequest(ctx, err)
	}
	rows, err := h.engine.TopPages(ctx.UserContext(), r, limit)
	if err != nil {
		return analyticsError(ctx, "pages", err)
	}
	return ctx.JSON(rows)
}

func (h *AnalyticsHandlers) CountriesAction(ctx *cartridge.Context) error {
	r, limit, err := h.topParams(ctx)
	if err != nil {
		return badRequest(ctx, err)
	}
	rows, err := h.engine.TopCountries(ctx.UserContext(), r, limit)
	if err != nil {
		return analyticsError(ctx, "countries", err)
	}
	return ctx.JSON(rows)
}

func (h *AnalyticsHandlers) ReferrersAction(ctx *cartridge.Context) error {
	r, limit, err := h.topParams(ctx)
	if err != nil {
		return badRequest(ctx, err)
	}
	rows, err := h.engine.TopReferrers(ctx.UserContext(), r, limit)
	if err != nil {
		return analyticsError(ctx, "referrers", err)
	}
	return ctx.JSON(rows)
}

func (h *AnalyticsHandlers) CampaignsAction(ctx *cartridge.Context) error {
	r, err := h.parser.ParseOptionalRange(ctx.Query("startDate"), ctx.Query("endDate"))
	if err != nil {
		return badRequest(ctx, err)
	}
	rows, err := h.engine.CampaignStats(ctx.UserContext(), r)
	if err != nil {
		return analyticsError(ctx, "campaigns", err)
	}
	return ctx.JSON(rows)
}

func (h *AnalyticsHandlers) ConversionsAction(ctx *cartridge.Context) error {
	r, err := h.parser.ParseOptionalRange(ctx.Query("startDate"), ctx.Query("endDate"))
	if err != nil {
		return badRequest(ctx, err)
	}
	rows, err := h.engine.ConversionStats(ctx.UserContext(), r)
	if err != nil {
		return analyticsError(ctx, "conversions", err)
	}
	return ctx.JSON(rows)
}

// visitorView is a raw record as listed to the dashboard.
type visitorView struct {
	visits.Visit
	Alias string `json:"alias"`
}

// VisitorsAction lists raw records, bots included, newest first.
func (h *AnalyticsHandlers) VisitorsAction(ctx *cartridge.Context) error {
	r, err := h.parser.ParseOptionalRange(ctx.Query("startDate"), ctx.Query("endDate"))
	if err != nil {
		return badRequest(ctx, err)
	}
	offset, err := intParam(ctx, "offset", 0, 0, -1)
	if err != nil {
		return badRequest(ctx, err)
	}

	page, err := h.reader.ListVisitors(ctx.UserContext(), visits.VisitorFilter{
		Range:   r,
		Country: ctx.Query("country"),
		Region:  ctx.Query("region"),
		Device:  ctx.Query("device"),
		Browser: ctx.Query("browser"),
		Offset:  offset,
		Limit:   visits.MaxVisitorsPage,
	})
	if err != nil {
		return analyticsError(ctx, "visitors", err)
	}

	views := make([]visitorView, 0, len(page.Visits))
	for _, v := range page.Visits {
		views = append(views, visitorView{Visit: v, Alias: visitors.Alias(v.SessionID)})
	}
	return ctx.JSON(fiber.Map{
		"visitors": views,
		"total":    page.Total,
		"hasMore":  page.HasMore,
	})
}

func (h *AnalyticsHandlers) topParams(ctx *cartridge.Context) (timeframe.Range, int, error) {
	r, err := h.parser.ParseRange(ctx.Query("startDate"), ctx.Query("endDate"), defaultDays)
	if err != nil {
		return timeframe.Range{}, 0, err
	}
	limit, err := intParam(ctx, "limit", analytics.DefaultLimit, 1, maxLimit)
	if err != nil {
		return timeframe.Range{}, 0, err
	}
	return r, limit, nil
}

// intParam reads an integer query parameter within [min, max]; max below 0 means unbounded.
func intParam(ctx *cartridge.Context, name string, def, min, max int) (int, error) {
	raw := ctx.Query(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < min || (max >= 0 && n > max) {
		if max >= 0 {
			return 0, fmt.Errorf("%s must be an integer between %d and %d", name, min, max)
		}
		return 0, fmt.Errorf("%s must be an integer of at least %d", name, min)
	}
	return n, nil
}

func badRequest(ctx *cartridge.Context, err error) error {
	return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
		"error": err.Error(),
		"code":  "INVALID_PARAMS",
	})
}

func analyticsError(ctx *cartridge.Context, query string, err error) error {
	ctx.Logger.Error("Failed to load analytics", slog.String("query", query), slog.Any("error", err))
	return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
		"error": errAnalytics,
		"code":  "ANALYTICS_ERROR",
	})
}
