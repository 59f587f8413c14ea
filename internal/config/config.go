// Package config provides configuration management using Viper
package config

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Environment types
const (
	Development = "development"
	Production  = "production"
	Test        = "test"
)

// LogLevel represents the logging level for the application
type LogLevel string

// Available log levels
const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Store backends
const (
	SQLiteStore = "sqlite"
	MongoStore  = "mongo"
)

// Geo providers
const (
	GeoProviderHTTP    = "http"
	GeoProviderMaxMind = "maxmind"
	GeoProviderNone    = "none"
)

// Config holds all configuration parameters for the application
type Config struct {
	// Application settings
	AppName     string   `mapstructure:"appname"`
	AppPort     string   `mapstructure:"appport"`
	Environment string   `mapstructure:"environment"`
	LogLevel    LogLevel `mapstructure:"loglevel"`
	PrivateKey  string   `mapstructure:"privatekey"`

	// File paths
	DatabasePath          string `mapstructure:"storagepath"`
	DatabaseName          string `mapstructure:"-"` // Derived from other settings
	PublicDirectory       string `mapstructure:"publicdir"`
	PublicAssetsUrlPrefix string `mapstructure:"publicassetsurlprefix"`

	// Logging settings
	LogsDirectory    string `mapstructure:"logsdir"`
	LogsMaxSizeInMb  int    `mapstructure:"logsmaxsizeinmb"`
	LogsMaxBackups   int    `mapstructure:"logsmaxbackups"`
	LogsMaxAgeInDays int    `mapstructure:"logsmaxageindays"`

	// Store settings
	StoreBackend         string `mapstructure:"storebackend"`
	DatabaseMaxOpenConns int    `mapstructure:"dbmaxopenconns"`
	DatabaseMaxIdleConns int    `mapstructure:"dbmaxidleconns"`
	MongoURI             string `mapstructure:"mongouri"`
	MongoDatabase        string `mapstructure:"mongodatabase"`
	MongoCollection      string `mapstructure:"mongocollection"`

	// Geo enrichment
	GeoProvider          string `mapstructure:"geoprovider"`
	GeoLookupURL         string `mapstructure:"geolookupurl"`
	GeoTimeoutMs         int    `mapstructure:"geotimeoutms"`
	GeoRequestsPerMinute int    `mapstructure:"georequestsperminute"`
	GeoCacheTTLSeconds   int    `mapstructure:"geocachettlseconds"`
	GeoDBPath            string `mapstructure:"geodbpath"`
	MaxMindLicenseKey    string `mapstructure:"maxmindlicensekey"`

	// Tracking
	AllowedOrigins              string `mapstructure:"allowedorigins"`
	TrackRateLimitPerMinute     int    `mapstructure:"trackratelimitperminute"`
	ReturningVisitorWindowHours int    `mapstructure:"returningvisitorwindowhours"`
	WriteQueueWorkers           int    `mapstructure:"writequeueworkers"`
	WriteQueueSize              int    `mapstructure:"writequeuesize"`

	// Job scheduling settings
	JobIntervalSeconds int `mapstructure:"jobintervalseconds"`

	MetricsEnabled bool `mapstructure:"metricsenabled"`
}

var (
	cfg  *Config
	once sync.Once
)

// GetConfig returns the process-wide configuration, loading it on first use.
func GetConfig() *Config {
	once.Do(func() {
		loaded, err := Load()
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		cfg = loaded
	})
	return cfg
}

// Load reads defaults and VISITLY_* environment variables into a new Config.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("appname", "visitly")
	v.SetDefault("appport", "3000")
	v.SetDefault("environment", Development)
	v.SetDefault("loglevel", string(LogLevelDebug))
	v.SetDefault("privatekey", "88888888888888888888888888888888")
	v.SetDefault("storagepath", "storage")
	v.SetDefault("publicdir", "public")
	v.SetDefault("publicassetsurlprefix", "/")
	v.SetDefault("logsdir", "logs")
	v.SetDefault("logsmaxsizeinmb", 20)
	v.SetDefault("logsmaxbackups", 10)
	v.SetDefault("logsmaxageindays", 30)
	v.SetDefault("storebackend", SQLiteStore)
	v.SetDefault("dbmaxopenconns", 0)
	v.SetDefault("dbmaxidleconns", 0)
	v.SetDefault("mongouri", "mongodb://localhost:27017")
	v.SetDefault("mongodatabase", "visitly")
	v.SetDefault("mongocollection", "visits")
	v.SetDefault("geoprovider", GeoProviderHTTP)
	v.SetDefault("geolookupurl", "http://ip-api.com/json")
	v.SetDefault("geotimeoutms", 2000)
	v.SetDefault("georequestsperminute", 45) // ip-api free tier
	v.SetDefault("geocachettlseconds", 3600)
	v.SetDefault("geodbpath", "storage/GeoLite2-City.mmdb")
	v.SetDefault("allowedorigins", "*")
	v.SetDefault("trackratelimitperminute", 70)
	v.SetDefault("returningvisitorwindowhours", 24)
	v.SetDefault("writequeueworkers", 8)
	v.SetDefault("writequeuesize", 1024)
	v.SetDefault("jobintervalseconds", 60)
	v.SetDefault("metricsenabled", true)

	v.BindEnv("appname", "VISITLY_APP_NAME")
	v.BindEnv("appport", "VISITLY_APP_PORT")
	v.BindEnv("environment", "VISITLY_ENV")
	v.BindEnv("loglevel", "VISITLY_LOG_LEVEL")
	v.BindEnv("privatekey", "VISITLY_PRIVATE_KEY")
	v.BindEnv("storagepath", "VISITLY_STORAGE_PATH")
	v.BindEnv("publicdir", "VISITLY_PUBLIC_DIR")
	v.BindEnv("publicassetsurlprefix", "VISITLY_PUBLIC_ASSETS_URL_PREFIX")
	v.BindEnv("logsdir", "VISITLY_LOGS_DIR")
	v.BindEnv("logsmaxsizeinmb", "VISITLY_LOGS_MAX_SIZE_IN_MB")
	v.BindEnv("logsmaxbackups", "VISITLY_LOGS_MAX_BACKUPS")
	v.BindEnv("logsmaxageindays", "VISITLY_LOGS_MAX_AGE_IN_DAYS")
	v.BindEnv("storebackend", "VISITLY_STORE_BACKEND")
	v.BindEnv("dbmaxopenconns", "VISITLY_DB_MAX_OPEN_CONNS")
	v.BindEnv("dbmaxidleconns", "VISITLY_DB_MAX_IDLE_CONNS")
	v.BindEnv("mongouri", "VISITLY_MONGO_URI")
	v.BindEnv("mongodatabase", "VISITLY_MONGO_DATABASE")
	v.BindEnv("mongocollection", "VISITLY_MONGO_COLLECTION")
	v.BindEnv("geoprovider", "VISITLY_GEO_PROVIDER")
	v.BindEnv("geolookupurl", "VISITLY_GEO_LOOKUP_URL")
	v.BindEnv("geotimeoutms", "VISITLY_GEO_TIMEOUT_MS")
	v.BindEnv("georequestsperminute", "VISITLY_GEO_REQUESTS_PER_MINUTE")
	v.BindEnv("geocachettlseconds", "VISITLY_GEO_CACHE_TTL_SECONDS")
	v.BindEnv("geodbpath", "VISITLY_GEO_DB_PATH")
	v.BindEnv("maxmindlicensekey", "VISITLY_MAXMIND_LICENSE_KEY")
	v.BindEnv("allowedorigins", "VISITLY_ALLOWED_ORIGINS")
	v.BindEnv("trackratelimitperminute", "VISITLY_TRACK_RATE_LIMIT_PER_MINUTE")
	v.BindEnv("returningvisitorwindowhours", "VISITLY_RETURNING_VISITOR_WINDOW_HOURS")
	v.BindEnv("writequeueworkers", "VISITLY_WRITE_QUEUE_WORKERS")
	v.BindEnv("writequeuesize", "VISITLY_WRITE_QUEUE_SIZE")
	v.BindEnv("jobintervalseconds", "VISITLY_JOB_INTERVAL_SECONDS")
	v.BindEnv("metricsenabled", "VISITLY_METRICS_ENABLED")

	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	c.DatabaseName = c.GetDatabasePath()

	defaultKey := "88888888888888888888888888888888"
	if c.PrivateKey == "" {
		return nil, fmt.Errorf("private key is required")
	}
	if c.IsProduction() && c.PrivateKey == defaultKey {
		return nil, fmt.Errorf("production requires a unique VISITLY_PRIVATE_KEY (cannot use default)")
	}

	return c, nil
}

// validate checks the configuration for errors
func (c *Config) validate() error {
	validEnvs := map[string]bool{
		Development: true,
		Production:  true,
		Test:        true,
	}
	if !validEnvs[c.Environment] {
		return fmt.Errorf("invalid environment: %s", c.Environment)
	}

	validStores := map[string]bool{
		SQLiteStore: true,
		MongoStore:  true,
	}
	if !validStores[c.StoreBackend] {
		return fmt.Errorf("invalid store backend: %s", c.StoreBackend)
	}

	validGeo := map[string]bool{
		GeoProviderHTTP:    true,
		GeoProviderMaxMind: true,
		GeoProviderNone:    true,
	}
	if !validGeo[c.GeoProvider] {
		return fmt.Errorf("invalid geo provider: %s", c.GeoProvider)
	}

	if c.ReturningVisitorWindowHours <= 0 {
		return fmt.Errorf("returning visitor window must be positive, got %d", c.ReturningVisitorWindowHours)
	}

	return nil
}

// GetDatabasePath returns the appropriate database path based on environment
func (c *Config) GetDatabasePath() string {
	if c.DatabaseName == "" {
		c.DatabaseName = filepath.Join(c.DatabasePath,
			fmt.Sprintf("%s-%s.db", c.AppName, c.Environment))
	}
	return c.DatabaseName
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

// IsTest returns true if the environment is test
func (c *Config) IsTest() bool {
	return c.Environment == Test
}

// GetPort returns the HTTP server port (implements cartridge.Config interface).
func (c *Config) GetPort() string {
	return c.AppPort
}

// GetPublicDirectory returns the path to public/static assets (implements cartridge.Config interface).
func (c *Config) GetPublicDirectory() string {
	return c.PublicDirectory
}

// GetAssetsPrefix returns the URL prefix for static assets (implements cartridge.Config interface).
func (c *Config) GetAssetsPrefix() string {
	return c.PublicAssetsUrlPrefix
}

// GetAppName returns the application name (implements cartridge.FactoryConfig interface).
func (c *Config) GetAppName() string {
	return c.AppName
}

// DatabaseDSN returns the database connection string (implements cartridge.FactoryConfig interface).
func (c *Config) DatabaseDSN() string {
	return c.GetDatabasePath()
}

// GetSessionSecret returns the session encryption key (implements cartridge.FactoryConfig interface).
func (c *Config) GetSessionSecret() string {
	return c.PrivateKey
}

// ReturningVisitorWindow is the inactivity gap after which a session counts as returning.
func (c *Config) ReturningVisitorWindow() time.Duration {
	return time.Duration(c.ReturningVisitorWindowHours) * time.Hour
}

// GeoTimeout bounds a single outbound geo lookup.
func (c *Config) GeoTimeout() time.Duration {
	return time.Duration(c.GeoTimeoutMs) * time.Millisecond
}

// GeoCacheTTL is how long a resolved location is reused for the same IP.
func (c *Config) GeoCacheTTL() time.Duration {
	return time.Duration(c.GeoCacheTTLSeconds) * time.Second
}

// CORSOrigins returns AllowedOrigins in the comma separated form fiber's CORS middleware expects.
func (c *Config) CORSOrigins() string {
	parts := strings.Split(c.AllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	if len(origins) == 0 {
		return "*"
	}
	return strings.Join(origins, ",")
}

// GetMaxOpenConns returns the appropriate MaxOpenConns value based on environment
// If explicitly set via env var, uses that value. Otherwise:
// - Test: 1
// - Development/Production: 10 (allows concurrent reads for parallel dashboard queries)
func (c *Config) GetMaxOpenConns() int {
	if c.DatabaseMaxOpenConns > 0 {
		return c.DatabaseMaxOpenConns
	}

	if c.Environment == Test {
		return 1
	}

	return 10
}

// GetMaxIdleConns returns the appropriate MaxIdleConns value based on environment
func (c *Config) GetMaxIdleConns() int {
	if c.DatabaseMaxIdleConns > 0 {
		return c.DatabaseMaxIdleConns
	}

	if c.Environment == Test {
		return 1
	}

	return 5
}

// GetLogLevel returns the log level as a string (implements cartridge.LogConfigProvider).
func (c *Config) GetLogLevel() string {
	return string(c.LogLevel)
}

// GetLogDirectory returns the logs directory (implements cartridge.LogConfigProvider).
func (c *Config) GetLogDirectory() string {
	return c.LogsDirectory
}

// GetLogMaxSizeMB returns the max log file size in MB (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxSizeMB() int {
	return c.LogsMaxSizeInMb
}

// GetLogMaxBackups returns the max number of log backups (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxBackups() int {
	return c.LogsMaxBackups
}

// GetLogMaxAgeDays returns the max age in days for log files (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxAgeDays() int {
	return c.LogsMaxAgeInDays
}

// Reset clears the cached configuration; intended for tests.
func Reset() {
	once = sync.Once{}
	cfg = nil
}
