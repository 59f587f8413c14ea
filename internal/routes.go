package internal

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/karloscodes/cartridge"
	cartridgemiddleware "github.com/karloscodes/cartridge/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	v1 "visitly/api/v1"
	"visitly/internal/config"
	"visitly/internal/http"
)

// publicCORSConfig is shared by the tracking endpoints instrumented pages call cross-origin.
func publicCORSConfig(cfg *config.Config) *cors.Config {
	return &cors.Config{
		AllowOrigins: cfg.CORSOrigins(),
		AllowMethods: "POST,GET,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Referrer, User-Agent, X-Forwarded-For",
	}
}

// MountAppRoutes mounts all application routes using cartridge's route API
func MountAppRoutes(srv *cartridge.Server, s *Services) {
	cfg := s.Config

	// Rate limiting interferes with tests and local load generation
	conditionalRateLimiter := func(limiter fiber.Handler) fiber.Handler {
		return func(c *fiber.Ctx) error {
			if cfg.IsProduction() {
				return limiter(c)
			}
			return c.Next()
		}
	}

	trackRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
		cartridgemiddleware.WithMax(cfg.TrackRateLimitPerMinute),
		cartridgemiddleware.WithDuration(time.Minute),
	))

	// Tracking config: rate limit, permissive CORS, no Sec-Fetch-Site
	// since beacons from instrumented pages are always cross-site.
	trackConfig := &cartridge.RouteConfig{
		EnableCORS:         true,
		CORSConfig:         publicCORSConfig(cfg),
		EnableSecFetchSite: cartridge.Bool(false),
		CustomMiddleware: []fiber.Handler{
			trackRateLimiter,
			v1.CompletionHook(s.Tracking),
		},
	}

	conversionConfig := &cartridge.RouteConfig{
		EnableCORS:         true,
		CORSConfig:         publicCORSConfig(cfg),
		EnableSecFetchSite: cartridge.Bool(false),
		CustomMiddleware:   []fiber.Handler{trackRateLimiter},
	}

	preflightConfig := &cartridge.RouteConfig{
		EnableCORS:         true,
		CORSConfig:         publicCORSConfig(cfg),
		EnableSecFetchSite: cartridge.Bool(false),
	}

	analyticsConfig := &cartridge.RouteConfig{
		EnableCORS:         true,
		CORSConfig:         publicCORSConfig(cfg),
		EnableSecFetchSite: cartridge.Bool(false),
	}

	internalConfig := &cartridge.RouteConfig{
		EnableSecFetchSite: cartridge.Bool(false),
	}

	// === HEALTH ===
	health := http.HealthIndexAction(s.Store)
	srv.Get("/_health", health, internalConfig)
	srv.Head("/_health", health, internalConfig)

	// === TRACKING ===
	srv.Post("/track", v1.TrackHandler(s.Tracking), trackConfig)
	srv.Options("/track", v1.PreflightHandler, preflightConfig)
	srv.Post("/track/conversion", v1.ConversionHandler(s.Tracking), conversionConfig)
	srv.Options("/track/conversion", v1.PreflightHandler, preflightConfig)

	// === ANALYTICS ===
	h := http.NewAnalyticsHandlers(s.Engine, s.Composer, s.Store)
	srv.Get("/analytics/dashboard", h.DashboardAction, analyticsConfig)
	srv.Get("/analytics/daily", h.DailyAction, analyticsConfig)
	srv.Get("/analytics/realtime", h.RealtimeAction, analyticsConfig)
	srv.Get("/analytics/regions", h.RegionsAction, analyticsConfig)
	srv.Get("/analytics/devices", h.DevicesAction, analyticsConfig)
	srv.Get("/analytics/pages", h.PagesAction, analyticsConfig)
	srv.Get("/analytics/countries", h.CountriesAction, analyticsConfig)
	srv.Get("/analytics/referrers", h.ReferrersAction, analyticsConfig)
	srv.Get("/analytics/campaigns", h.CampaignsAction, analyticsConfig)
	srv.Get("/analytics/conversions", h.ConversionsAction, analyticsConfig)
	srv.Get("/analytics/visitors", h.VisitorsAction, analyticsConfig)

	// === METRICS ===
	if cfg.MetricsEnabled {
		metricsHandler := adaptor.HTTPHandler(promhttp.Handler())
		srv.Get("/metrics", func(ctx *cartridge.Context) error {
			return metricsHandler(ctx.Ctx)
		}, internalConfig)
	}
}
