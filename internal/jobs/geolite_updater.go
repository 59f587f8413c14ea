package jobs

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"visitly/internal/pkg/geoip"
)

const (
	// GeoLite database is updated weekly by MaxMind
	GeoLiteUpdateInterval = 7 * 24 * time.Hour
	// GeoLiteCheckInterval is how often the updater checks the file age.
	GeoLiteCheckInterval = 6 * time.Hour
	// MaxMind download URL template
	MaxMindDownloadURL = "https://download.maxmind.com/app/geoip_download?edition_id=GeoLite2-City&license_key=%s&suffix=tar.gz"
)

// GeoLiteUpdaterJob keeps the GeoLite2-City database fresh and reloads the resolver after a download.
type GeoLiteUpdaterJob struct {
	resolver    *geoip.MMDBResolver
	licenseKey  string
	downloadURL string
	client      *http.Client
	logger      *slog.Logger
	now         func() time.Time
}

// NewGeoLiteUpdaterJob creates the updater for resolver's database file.
func NewGeoLiteUpdaterJob(resolver *geoip.MMDBResolver, licenseKey string, logger *slog.Logger) *GeoLiteUpdaterJob {
	return &GeoLiteUpdaterJob{
		resolver:    resolver,
		licenseKey:  licenseKey,
		downloadURL: MaxMindDownloadURL,
		client:      &http.Client{Timeout: 5 * time.Minute},
		logger:      logger,
		now:         time.Now,
	}
}

func (j *GeoLiteUpdaterJob) Name() string {
	return "geolite_updater"
}

// Run downloads a new database when the current file is missing or older than a week.
func (j *GeoLiteUpdaterJob) Run(ctx context.Context) error {
	if j.licenseKey == "" {
		j.logger.Debug("GeoLite license key not configured, skipping update")
		return nil
	}

	lastUpdate := j.lastUpdateTime()
	if j.now().Sub(lastUpdate) < GeoLiteUpdateInterval {
		j.logger.Debug("GeoLite database is up to date",
			slog.Time("last_update", lastUpdate),
			slog.Duration("age", j.now().Sub(lastUpdate)))
		return nil
	}

	j.logger.Info("Starting GeoLite database update", slog.Time("last_update", lastUpdate))

	if err := j.downloadAndUpdate(ctx); err != nil {
		j.logger.Error("Failed to update GeoLite database", slog.Any("error", err))
		return err
	}

	j.resolver.Reload()
	j.logger.Info("GeoLite database updated successfully")
	return nil
}

// lastUpdateTime is the database file's modification time, zero when absent.
func (j *GeoLiteUpdaterJob) lastUpdateTime() time.Time {
	info, err := os.Stat(j.path())
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

func (j *GeoLiteUpdaterJob) path() string {
	if p := j.resolver.Path(); p != "" {
		return p
	}
	return filepath.Join("storage", "GeoLite2-City.mmdb")
}

// downloadAndUpdate downloads the archive and atomically replaces the database file.
func (j *GeoLiteUpdaterJob) downloadAndUpdate(ctx context.Context) error {
	dest := j.path()
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(j.downloadURL, j.licenseKey), nil)
	if err != nil {
		return fmt.Errorf("failed to build download request: %w", err)
	}
	resp, err := j.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download GeoLite database: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status: %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), "geolite-*.mmdb")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := extractMMDB(resp.Body, tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to extract database: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write database: %w", err)
	}

	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("failed to install database: %w", err)
	}
	return nil
}

// extractMMDB copies the first .mmdb entry of a tar.gz stream into dst.
func extractMMDB(src io.Reader, dst io.Writer) error {
	gzr, err := gzip.NewReader(src)
	if err != nil {
		return fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read tar: %w", err)
		}

		if strings.HasSuffix(header.Name, ".mmdb") {
			if _, err := io.Copy(dst, tr); err != nil {
				return fmt.Errorf("failed to extract file: %w", err)
			}
			return nil
		}
	}

	return fmt.Errorf("no .mmdb file found in archive")
}
