// Package apptest builds a fully routed test server on top of testsupport.
// It lives apart from testsupport because it imports the internal package.
package apptest

import (
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"visitly/internal"
	"visitly/internal/config"
	"visitly/internal/pkg/geoip"
	"visitly/internal/testsupport"
	"visitly/internal/timeframe"
	"visitly/internal/visits"
)

// TestApp bundles the routed fiber app with the pieces tests inspect.
type TestApp struct {
	App      *fiber.App
	DB       *gorm.DB
	Services *internal.Services
}

// Option tweaks the services before routes are mounted.
type Option func(*options)

type options struct {
	now      time.Time
	resolver geoip.Resolver
	tweak    func(*config.Config)
}

// WithNow pins the analytics clock.
func WithNow(t time.Time) Option {
	return func(o *options) { o.now = t }
}

// WithResolver replaces the geolocation backend.
func WithResolver(r geoip.Resolver) Option {
	return func(o *options) { o.resolver = r }
}

// WithConfig adjusts the configuration before routes are mounted.
func WithConfig(fn func(*config.Config)) Option {
	return func(o *options) { o.tweak = fn }
}

// CreateTestApp builds the application routes over a fresh test database,
// with a running write queue stopped at cleanup.
func CreateTestApp(t *testing.T, opts ...Option) *TestApp {
	t.Helper()

	o := options{resolver: geoip.StaticResolver{}}
	for _, opt := range opts {
		opt(&o)
	}

	dbManager, logger := testsupport.SetupTestDBManager(t)
	appConfig := testsupport.RequireTestEnv(t)
	appConfig.MetricsEnabled = true
	if o.tweak != nil {
		o.tweak(appConfig)
	}

	db := dbManager.GetConnection()
	store := visits.NewSQLStore(dbManager, logger)
	geo := geoip.NewClient(o.resolver, "static", logger)

	var clock timeframe.TimeProvider
	if !o.now.IsZero() {
		clock = &timeframe.FixedTimeProvider{T: o.now}
	}
	services := internal.NewServices(appConfig, logger, store, geo, clock)
	require.NoError(t, services.Queue.Start())
	t.Cleanup(services.Queue.Stop)

	cfg := cartridge.DefaultServerConfig()
	cfg.Config = appConfig
	cfg.Logger = logger
	cfg.DBManager = dbManager
	cfg.EnableSecFetchSite = false

	srv, err := cartridge.NewServer(cfg)
	require.NoError(t, err)

	internal.MountAppRoutes(srv, services)
	return &TestApp{App: srv.App(), DB: db, Services: services}
}
