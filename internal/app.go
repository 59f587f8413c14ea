// Package internal wires the visitly application: store, enrichment,
// tracking pipeline, analytics and background workers.
package internal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge"

	"visitly/internal/analytics"
	"visitly/internal/config"
	"visitly/internal/database"
	"visitly/internal/jobs"
	"visitly/internal/pkg/async"
	"visitly/internal/pkg/geoip"
	"visitly/internal/timeframe"
	"visitly/internal/tracking"
	"visitly/internal/visits"
	"visitly/internal/visits/mongostore"
)

const mongoConnectTimeout = 10 * time.Second

// Services holds the components routes and workers depend on.
type Services struct {
	Config   *config.Config
	Logger   *slog.Logger
	Store    visits.Store
	Queue    *async.Queue
	Tracking *tracking.Service
	Engine   *analytics.Engine
	Composer *analytics.Composer
	Geo      *geoip.Client
	GeoDB    *geoip.MMDBResolver
}

// NewServices builds the component graph on top of an open store.
func NewServices(cfg *config.Config, logger *slog.Logger, store visits.Store, geo *geoip.Client, clock timeframe.TimeProvider) *Services {
	queue := async.NewQueue(cfg.WriteQueueWorkers, cfg.WriteQueueSize, logger)
	engine := analytics.NewEngine(store, clock)
	return &Services{
		Config:   cfg,
		Logger:   logger,
		Store:    store,
		Queue:    queue,
		Tracking: tracking.NewService(store, geo, queue, cfg.ReturningVisitorWindow(), logger),
		Engine:   engine,
		Composer: analytics.NewComposer(engine, logger),
		Geo:      geo,
	}
}

// Application wraps cartridge.Application with visitly's services.
type Application struct {
	*cartridge.Application
	DBManager *database.DBManager
	Services  *Services
}

// NewApp creates a new application instance from the global configuration.
func NewApp() (*Application, error) {
	return NewAppWithConfig(config.GetConfig())
}

// NewAppWithConfig creates a new application with the provided config.
func NewAppWithConfig(cfg *config.Config) (*Application, error) {
	logger := cartridge.NewLogger(cfg, nil)

	// The SQLite manager backs cartridge even when visits live in MongoDB.
	dbManager := database.NewDBManager(cfg, logger)
	if err := dbManager.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	store, err := OpenStore(cfg, dbManager, logger)
	if err != nil {
		return nil, err
	}

	geo, geoDB := geoip.NewFromConfig(cfg, logger)
	services := NewServices(cfg, logger, store, geo, nil)
	services.GeoDB = geoDB

	app, err := cartridge.NewApplication(cartridge.ApplicationOptions{
		Config:    cfg,
		Logger:    logger,
		DBManager: dbManager,
		RouteMountFunc: func(srv *cartridge.Server) {
			MountAppRoutes(srv, services)
		},
		BackgroundWorkers: []cartridge.BackgroundWorker{services.Queue, NewScheduler(services)},
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create application: %w", err)
	}

	return &Application{
		Application: app,
		DBManager:   dbManager,
		Services:    services,
	}, nil
}

// OpenStore opens the visit store selected by cfg.StoreBackend.
func OpenStore(cfg *config.Config, dbManager cartridge.DBManager, logger *slog.Logger) (visits.Store, error) {
	switch cfg.StoreBackend {
	case config.MongoStore:
		ctx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
		defer cancel()
		store, err := mongostore.Connect(ctx, mongostore.Config{
			URI:        cfg.MongoURI,
			Database:   cfg.MongoDatabase,
			Collection: cfg.MongoCollection,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to mongo store: %w", err)
		}
		return store, nil
	default:
		return visits.NewSQLStore(dbManager, logger), nil
	}
}

// NewScheduler registers the periodic jobs enabled by the configuration.
func NewScheduler(s *Services) *jobs.Scheduler {
	scheduler := jobs.NewScheduler(s.Logger)
	if s.Config.MetricsEnabled {
		interval := time.Duration(s.Config.JobIntervalSeconds) * time.Second
		scheduler.Register(jobs.NewMetricsSnapshotJob(s.Engine), interval)
	}
	if s.GeoDB != nil && s.Config.MaxMindLicenseKey != "" {
		scheduler.Register(jobs.NewGeoLiteUpdaterJob(s.GeoDB, s.Config.MaxMindLicenseKey, s.Logger), jobs.GeoLiteCheckInterval)
	}
	return scheduler
}

// Migrate prepares the schema: tables for SQLite, indexes for MongoDB.
func (a *Application) Migrate(ctx context.Context) error {
	if err := a.DBManager.MigrateDatabase(); err != nil {
		return err
	}
	if m, ok := a.Services.Store.(*mongostore.Store); ok {
		if err := m.EnsureIndexes(ctx); err != nil {
			return fmt.Errorf("failed to create mongo indexes: %w", err)
		}
	}
	return nil
}

// Shutdown stops the server and workers, then releases the store and geo database.
func (a *Application) Shutdown(ctx context.Context) error {
	err := a.Application.Shutdown(ctx)
	if cerr := a.Services.Store.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("failed to close store: %w", cerr)
	}
	if a.Services.GeoDB != nil {
		a.Services.GeoDB.Close()
	}
	return err
}
