package visits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"visitly/internal/timeframe"
)

// ErrNotFound is returned when no record matches a lookup or update.
var ErrNotFound = errors.New("visit not found")

// MaxVisitorsPage caps a raw visitor listing.
const MaxVisitorsPage = 100

// Dimension names a grouping key of the aggregation primitive.
type Dimension string

const (
	DimDay            Dimension = "day"
	DimHour           Dimension = "hour"
	DimCountry        Dimension = "country"
	DimRegion         Dimension = "region"
	DimDevice         Dimension = "device"
	DimBrowser        Dimension = "browser"
	DimOS             Dimension = "os"
	DimPage           Dimension = "page"
	DimReferrerSource Dimension = "referrer_source"
	DimUTMSource      Dimension = "utm_source"
	DimUTMMedium      Dimension = "utm_medium"
	DimUTMCampaign    Dimension = "utm_campaign"
	DimConversion     Dimension = "conversion"
)

// MaxGroupDimensions bounds GroupQuery.By.
const MaxGroupDimensions = 3

var dimensions = map[Dimension]bool{
	DimDay: true, DimHour: true, DimCountry: true, DimRegion: true, DimDevice: true,
	DimBrowser: true, DimOS: true, DimPage: true, DimReferrerSource: true,
	DimUTMSource: true, DimUTMMedium: true, DimUTMCampaign: true, DimConversion: true,
}

// Valid reports whether d is a known dimension.
func (d Dimension) Valid() bool {
	return dimensions[d]
}

// IsTime reports whether d buckets visit_date rather than reading a column.
func (d Dimension) IsTime() bool {
	return d == DimDay || d == DimHour
}

// Bucket is the timeframe bucket of a time dimension.
func (d Dimension) Bucket() timeframe.BucketSize {
	if d == DimHour {
		return timeframe.BucketSizeHour
	}
	return timeframe.BucketSizeDay
}

// GroupQuery selects non-bot visits in Range (nil means all history) and groups them by By.
// Rows whose Require dimensions are empty are skipped.
type GroupQuery struct {
	Range   *timeframe.Range
	By      []Dimension
	Require []Dimension
}

// Validate checks dimension names and count.
func (q GroupQuery) Validate() error {
	if len(q.By) > MaxGroupDimensions {
		return fmt.Errorf("at most %d group dimensions are supported, got %d", MaxGroupDimensions, len(q.By))
	}
	for _, d := range append(append([]Dimension{}, q.By...), q.Require...) {
		if !d.Valid() {
			return fmt.Errorf("unknown dimension %q", d)
		}
	}
	return nil
}

// GroupRow holds the measures of one group. Keys follow the order of GroupQuery.By.
type GroupRow struct {
	Keys              []string
	Visitors          int64
	UniqueVisitors    int64
	PageViews         int64
	AvgDuration       float64
	NewVisitors       int64
	ReturningVisitors int64
}

// VisitorFilter narrows a raw visitor listing.
type VisitorFilter struct {
	Range   *timeframe.Range
	Country string
	Region  string
	Device  string
	Browser string
	Offset  int
	Limit   int
}

// PageLimit returns Limit clamped to (0, MaxVisitorsPage].
func (f VisitorFilter) PageLimit() int {
	if f.Limit <= 0 || f.Limit > MaxVisitorsPage {
		return MaxVisitorsPage
	}
	return f.Limit
}

// VisitorPage is one page of raw records, newest first.
type VisitorPage struct {
	Visits  []Visit
	Total   int64
	HasMore bool
}

// Writer mutates visit records.
type Writer interface {
	// Create persists a new record.
	Create(ctx context.Context, v *Visit) error
	// RecordPageView adds one page view and seconds of duration to the latest
	// record of (sessionID, page) and moves its lastVisit to at.
	RecordPageView(ctx context.Context, sessionID, page string, seconds int64, at time.Time) error
	// SetConversion labels the latest record of sessionID.
	SetConversion(ctx context.Context, sessionID, conversion, value string) error
}

// Reader serves raw records.
type Reader interface {
	// LatestForSession returns the newest record of (sessionID, ip) by visitDate, or ErrNotFound.
	LatestForSession(ctx context.Context, sessionID, ip string) (*Visit, error)
	ListVisitors(ctx context.Context, filter VisitorFilter) (VisitorPage, error)
}

// Aggregator is the single aggregation primitive every statistic is built on.
type Aggregator interface {
	Group(ctx context.Context, q GroupQuery) ([]GroupRow, error)
}

// Store is a complete visit backend.
type Store interface {
	Writer
	Reader
	Aggregator
	Ping(ctx context.Context) error
	Close() error
}
