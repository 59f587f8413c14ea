package visits

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

// SQLStore keeps visits in the cartridge-managed SQLite database.
type SQLStore struct {
	dbManager cartridge.DBManager
	logger    *slog.Logger
}

// NewSQLStore creates a store on dbManager's connection.
func NewSQLStore(dbManager cartridge.DBManager, logger *slog.Logger) *SQLStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLStore{dbManager: dbManager, logger: logger}
}

func (s *SQLStore) db(ctx context.Context) *gorm.DB {
	return s.dbManager.GetConnection().WithContext(ctx)
}

var sqlDimensions = map[Dimension]string{
	DimDay:            "strftime('%Y-%m-%d', visit_date)",
	DimHour:           "strftime('%Y-%m-%d %H', visit_date)",
	DimCountry:        "country",
	DimRegion:         "region",
	DimDevice:         "device",
	DimBrowser:        "browser",
	DimOS:             "os",
	DimPage:           "page",
	DimReferrerSource: "referrer_source",
	DimUTMSource:      "utm_source",
	DimUTMMedium:      "utm_medium",
	DimUTMCampaign:    "utm_campaign",
	DimConversion:     "conversion",
}

// Create inserts v.
func (s *SQLStore) Create(ctx context.Context, v *Visit) error {
	err := sqlite.PerformWrite(s.logger, s.db(ctx), func(tx *gorm.DB) error {
		return tx.Create(v).Error
	})
	if err != nil {
		return fmt.Errorf("error creating visit: %w", err)
	}
	return nil
}

// RecordPageView updates the latest record of (sessionID, page).
func (s *SQLStore) RecordPageView(ctx context.Context, sessionID, page string, seconds int64, at time.Time) error {
	var affected int64
	err := sqlite.PerformWrite(s.logger, s.db(ctx), func(tx *gorm.DB) error {
		res := tx.Exec(`
			UPDATE visits
			SET page_views = page_views + 1,
				visit_duration = visit_duration + ?,
				last_visit = ?,
				updated_at = ?
			WHERE id = (
				SELECT id FROM visits
				WHERE session_id = ? AND page = ?
				ORDER BY visit_date DESC, id DESC
				LIMIT 1
			)`, seconds, at.UTC(), time.Now().UTC(), sessionID, page)
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return fmt.Errorf("error recording page view: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetConversion labels the latest record of sessionID.
func (s *SQLStore) SetConversion(ctx context.Context, sessionID, conversion, value string) error {
	var affected int64
	err := sqlite.PerformWrite(s.logger, s.db(ctx), func(tx *gorm.DB) error {
		res := tx.Exec(`
			UPDATE visits
			SET conversion = ?, conversion_value = ?, updated_at = ?
			WHERE id = (
				SELECT id FROM visits
				WHERE session_id = ?
				ORDER BY visit_date DESC, id DESC
				LIMIT 1
			)`, conversion, value, time.Now().UTC(), sessionID)
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return fmt.Errorf("error setting conversion: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// LatestForSession returns the newest record of (sessionID, ip).
func (s *SQLStore) LatestForSession(ctx context.Context, sessionID, ip string) (*Visit, error) {
	var found []Visit
	err := s.db(ctx).
		Where("session_id = ? AND ip = ?", sessionID, ip).
		Order("visit_date DESC, id DESC").
		Limit(1).
		Find(&found).Error
	if err != nil {
		return nil, fmt.Errorf("error fetching latest visit: %w", err)
	}
	if len(found) == 0 {
		return nil, ErrNotFound
	}
	return &found[0], nil
}

// ListVisitors returns raw records newest first. Bots are included.
func (s *SQLStore) ListVisitors(ctx context.Context, filter VisitorFilter) (VisitorPage, error) {
	query := s.db(ctx).Model(&Visit{})

	if filter.Range != nil {
		query = query.Where("visit_date BETWEEN ? AND ?", filter.Range.From.UTC(), filter.Range.To.UTC())
	}
	if filter.Country != "" {
		query = query.Where("country = ?", filter.Country)
	}
	if filter.Region != "" {
		query = query.Where("region = ?", filter.Region)
	}
	if filter.Device != "" {
		query = query.Where("device = ?", filter.Device)
	}
	if filter.Browser != "" {
		query = query.Where("browser = ?", filter.Browser)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return VisitorPage{}, fmt.Errorf("error counting visitors: %w", err)
	}

	limit := filter.PageLimit()
	var found []Visit
	if err := query.Order("visit_date DESC, id DESC").
		Limit(limit).
		Offset(filter.Offset).
		Find(&found).Error; err != nil {
		return VisitorPage{}, fmt.Errorf("error fetching visitors: %w", err)
	}

	return VisitorPage{
		Visits:  found,
		Total:   total,
		HasMore: int64(filter.Offset+len(found)) < total,
	}, nil
}

type groupScan struct {
	K0                string
	K1                string
	K2                string
	Visitors          int64
	UniqueVisitors    int64
	PageViews         int64
	AvgDuration       float64
	NewVisitors       int64
	ReturningVisitors int64
}

// Group aggregates non-bot visits.
func (s *SQLStore) Group(ctx context.Context, q GroupQuery) ([]GroupRow, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	selects := make([]string, 0, len(q.By)+6)
	groups := make([]string, 0, len(q.By))
	for i, d := range q.By {
		alias := fmt.Sprintf("k%d", i)
		selects = append(selects, fmt.Sprintf("COALESCE(%s, '') AS %s", sqlDimensions[d], alias))
		groups = append(groups, alias)
	}
	selects = append(selects,
		"COUNT(*) AS visitors",
		"COUNT(DISTINCT session_id) AS unique_visitors",
		"COALESCE(SUM(page_views), 0) AS page_views",
		"COALESCE(AVG(visit_duration), 0) AS avg_duration",
		"COALESCE(SUM(CASE WHEN is_new_visitor THEN 1 ELSE 0 END), 0) AS new_visitors",
		"COALESCE(SUM(CASE WHEN is_returning_visitor THEN 1 ELSE 0 END), 0) AS returning_visitors",
	)

	where := []string{"is_bot = 0"}
	args := []any{}
	if q.Range != nil {
		where = append(where, "visit_date BETWEEN ? AND ?")
		args = append(args, q.Range.From.UTC(), q.Range.To.UTC())
	}
	for _, d := range q.Require {
		where = append(where, fmt.Sprintf("COALESCE(%s, '') <> ''", sqlDimensions[d]))
	}

	sql := "SELECT " + strings.Join(selects, ", ") + " FROM visits WHERE " + strings.Join(where, " AND ")
	if len(groups) > 0 {
		sql += " GROUP BY " + strings.Join(groups, ", ")
	}

	var scanned []groupScan
	if err := s.db(ctx).Raw(sql, args...).Scan(&scanned).Error; err != nil {
		return nil, fmt.Errorf("error fetching grouped visits: %w", err)
	}

	rows := make([]GroupRow, 0, len(scanned))
	for _, r := range scanned {
		// An ungrouped aggregate over zero rows still yields one row.
		if len(q.By) == 0 && r.Visitors == 0 {
			continue
		}
		keys := []string{r.K0, r.K1, r.K2}[:len(q.By)]
		rows = append(rows, GroupRow{
			Keys:              keys,
			Visitors:          r.Visitors,
			UniqueVisitors:    r.UniqueVisitors,
			PageViews:         r.PageViews,
			AvgDuration:       r.AvgDuration,
			NewVisitors:       r.NewVisitors,
			ReturningVisitors: r.ReturningVisitors,
		})
	}
	return rows, nil
}

// Ping checks the database connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.dbManager.GetConnection().DB()
	if err != nil {
		return fmt.Errorf("error getting database handle: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Close is a no-op: the connection belongs to the cartridge DB manager.
func (s *SQLStore) Close() error {
	return nil
}
