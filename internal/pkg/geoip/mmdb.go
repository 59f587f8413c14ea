package geoip

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/oschwald/geoip2-golang"
)

// MMDBResolver reads a MaxMind GeoLite2-City database from disk.
// The database is optional: without it every lookup fails and callers fall back to Unknown.
type MMDBResolver struct {
	path   string
	logger *slog.Logger

	mu     sync.RWMutex
	reader *geoip2.Reader
}

// NewMMDBResolver opens the database at path if it exists.
func NewMMDBResolver(path string, logger *slog.Logger) *MMDBResolver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &MMDBResolver{path: path, logger: logger}
	r.reader = r.open()
	return r
}

func (r *MMDBResolver) open() *geoip2.Reader {
	if r.path == "" {
		r.logger.Debug("GeoIP database path not configured - GeoIP features disabled")
		return nil
	}

	fileInfo, err := os.Stat(r.path)
	if os.IsNotExist(err) {
		r.logger.Info("GeoLite2 database not found - GeoIP features disabled",
			slog.String("path", r.path),
			slog.String("hint", "Set VISITLY_MAXMIND_LICENSE_KEY to download it automatically"))
		return nil
	} else if err != nil {
		r.logger.Warn("Error checking GeoLite2 database file",
			slog.String("path", r.path),
			slog.Any("error", err))
		return nil
	}

	db, err := geoip2.Open(r.path)
	if err != nil {
		r.logger.Error("Failed to open GeoLite2 database",
			slog.String("path", r.path),
			slog.Any("error", err))
		return nil
	}

	r.logger.Info("GeoLite2 database initialized",
		slog.String("path", r.path),
		slog.Int64("size_bytes", fileInfo.Size()),
		slog.Time("mod_time", fileInfo.ModTime()))
	return db
}

// Path is the database file location.
func (r *MMDBResolver) Path() string {
	return r.path
}

// Available reports whether a database is loaded.
func (r *MMDBResolver) Available() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.reader != nil
}

// Lookup resolves ip against the loaded database.
func (r *MMDBResolver) Lookup(_ context.Context, ip string) (Location, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return Location{}, fmt.Errorf("%w: invalid ip %q", ErrLookupFailed, ip)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.reader == nil {
		return Location{}, fmt.Errorf("%w: geolite database not loaded", ErrLookupFailed)
	}

	record, err := r.reader.City(parsed)
	if err != nil {
		return Location{}, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}
	if record.Country.IsoCode == "" {
		return Location{}, fmt.Errorf("%w: no record for %s", ErrLookupFailed, ip)
	}

	loc := Location{
		Country:     record.Country.Names["en"],
		CountryCode: record.Country.IsoCode,
		City:        record.City.Names["en"],
		Timezone:    record.Location.TimeZone,
		Latitude:    float64Ptr(record.Location.Latitude),
		Longitude:   float64Ptr(record.Location.Longitude),
	}
	if len(record.Subdivisions) > 0 {
		loc.Region = record.Subdivisions[0].Names["en"]
	}
	return loc, nil
}

// Reload reopens the database from disk. Call it after downloading a new file.
func (r *MMDBResolver) Reload() {
	next := r.open()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.reader != nil {
		r.reader.Close()
	}
	r.reader = next

	if next != nil {
		r.logger.Info("GeoLite2 database reloaded")
	}
}

// Close releases the database.
func (r *MMDBResolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reader == nil {
		return nil
	}
	err := r.reader.Close()
	r.reader = nil
	return err
}
