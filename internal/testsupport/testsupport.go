package testsupport

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/karloscodes/cartridge"
	ctestsupport "github.com/karloscodes/cartridge/testsupport"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"visitly/internal/config"
	"visitly/internal/database"
	"visitly/internal/visits"
)

// testDBCache caches test databases by root test name so subtests share one database
var testDBCache = make(map[string]*gorm.DB)
var testDBCacheMu sync.Mutex

// TestDBManager wraps cartridge's TestDBManager
type TestDBManager struct {
	*ctestsupport.TestDBManager
}

// NewTestDBManager creates a TestDBManager that implements cartridge.DBManager
func NewTestDBManager(db *gorm.DB) *TestDBManager {
	return &TestDBManager{
		TestDBManager: ctestsupport.NewTestDBManager(db),
	}
}

var _ cartridge.DBManager = (*TestDBManager)(nil)

// SetupTestDB creates a migrated named in-memory database shared by all
// connections within the root test.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	rootName := t.Name()
	if idx := strings.Index(rootName, "/"); idx > 0 {
		rootName = rootName[:idx]
	}

	testDBCacheMu.Lock()
	if db, exists := testDBCache[rootName]; exists {
		testDBCacheMu.Unlock()
		return db
	}
	testDBCacheMu.Unlock()

	dsn := fmt.Sprintf("file:test_%s_%d?mode=memory&cache=shared", rootName, time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("testsupport: failed to open test database: %v", err)
	}

	if err := db.AutoMigrate(database.Models()...); err != nil {
		t.Fatalf("testsupport: failed to migrate models: %v", err)
	}

	testDBCacheMu.Lock()
	testDBCache[rootName] = db
	testDBCacheMu.Unlock()

	t.Cleanup(func() {
		testDBCacheMu.Lock()
		delete(testDBCache, rootName)
		testDBCacheMu.Unlock()
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	return db
}

// SetupTestDBManager creates a test DB manager after checking the environment
func SetupTestDBManager(t *testing.T) (*TestDBManager, *slog.Logger) {
	t.Helper()
	RequireTestEnv(t)

	db := SetupTestDB(t)
	return NewTestDBManager(db), GetLogger()
}

// SetupTestStore returns a SQL visit store on a fresh test database.
func SetupTestStore(t *testing.T) (*visits.SQLStore, *gorm.DB) {
	t.Helper()
	dbManager, logger := SetupTestDBManager(t)
	return visits.NewSQLStore(dbManager, logger), dbManager.GetConnection()
}

// RequireTestEnv aborts unless VISITLY_ENV=test.
func RequireTestEnv(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load()
	require.NoError(t, err)
	if cfg.Environment != config.Test {
		t.Fatalf("CRITICAL: Tests must run in test environment! Current: %s. Set VISITLY_ENV=test", cfg.Environment)
	}
	return cfg
}

// CleanAllTables clears all non-system tables in the database
func CleanAllTables(db *gorm.DB) {
	var tableNames []string
	db.Raw("SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'").Scan(&tableNames)
	if len(tableNames) == 0 {
		return
	}

	db.Transaction(func(tx *gorm.DB) error {
		for _, table := range tableNames {
			tx.Exec("DELETE FROM " + table)
			tx.Exec("DELETE FROM sqlite_sequence WHERE name=?", table)
		}
		return nil
	})
}

// GetLogger returns a test logger
func GetLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}

// VisitOption customizes a visit built by NewVisit.
type VisitOption func(*visits.Visit)

// NewVisit builds a non-bot desktop visit at ts with sensible defaults.
func NewVisit(sessionID, page string, ts time.Time, opts ...VisitOption) *visits.Visit {
	ts = ts.UTC()
	v := &visits.Visit{
		SessionID:      sessionID,
		IP:             "203.0.113.10",
		Country:        "United States",
		CountryCode:    "US",
		Region:         "California",
		City:           "San Francisco",
		Timezone:       "America/Los_Angeles",
		Browser:        "Chrome",
		BrowserVersion: "120",
		OS:             "Windows",
		OSVersion:      "10",
		Device:         visits.DeviceDesktop,
		Page:           page,
		ReferrerSource: "Direct",
		IsNewVisitor:   true,
		FirstVisit:     ts,
		LastVisit:      ts,
		VisitDate:      ts,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// WithGeo sets country and region.
func WithGeo(country, region string) VisitOption {
	return func(v *visits.Visit) {
		v.Country = country
		v.Region = region
	}
}

// WithDevice sets device, browser and OS.
func WithDevice(device, browser, os string) VisitOption {
	return func(v *visits.Visit) {
		v.Device = device
		v.Browser = browser
		v.OS = os
	}
}

// WithStatus sets the visitor classification.
func WithStatus(isNew, isReturning bool) VisitOption {
	return func(v *visits.Visit) {
		v.IsNewVisitor = isNew
		v.IsReturningVisitor = isReturning
	}
}

// WithActivity sets page views and duration.
func WithActivity(pageViews, seconds int64) VisitOption {
	return func(v *visits.Visit) {
		v.PageViews = pageViews
		v.VisitDuration = seconds
	}
}

// AsBot flags the visit as a bot.
func AsBot() VisitOption {
	return func(v *visits.Visit) { v.IsBot = true }
}

// WithIP sets the client address.
func WithIP(ip string) VisitOption {
	return func(v *visits.Visit) { v.IP = ip }
}

// WithMutation applies an arbitrary change.
func WithMutation(fn func(*visits.Visit)) VisitOption {
	return fn
}

// InsertVisits writes visits directly, bypassing the tracking pipeline.
func InsertVisits(t *testing.T, db *gorm.DB, vs ...*visits.Visit) {
	t.Helper()
	for _, v := range vs {
		require.NoError(t, db.Create(v).Error)
	}
}
