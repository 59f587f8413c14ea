package tracking_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"visitly/internal/pkg/async"
	"visitly/internal/pkg/geoip"
	"visitly/internal/testsupport"
	"visitly/internal/tracking"
	"visitly/internal/visits"
)

const (
	chromeWindows = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	clientIP      = "203.0.113.50"
)

func setup(t *testing.T) (*tracking.Service, *async.Queue, *gorm.DB) {
	t.Helper()
	store, db := testsupport.SetupTestStore(t)

	lat, lon := 52.52, 13.40
	geo := geoip.NewClient(geoip.StaticResolver{
		clientIP: {Country: "Germany", CountryCode: "DE", Region: "Berlin", City: "Berlin", Timezone: "Europe/Berlin", Latitude: &lat, Longitude: &lon},
	}, "static", testsupport.GetLogger())

	queue := async.NewQueue(2, 64, testsupport.GetLogger())
	require.NoError(t, queue.Start())
	t.Cleanup(queue.Stop)

	return tracking.NewService(store, geo, queue, 24*time.Hour, testsupport.GetLogger()), queue, db
}

func TestTrackEnrichesAndStores(t *testing.T) {
	svc, queue, db := setup(t)
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	ok := svc.Track(tracking.Event{
		SessionID:        "s1",
		UserAgent:        chromeWindows,
		Referrer:         "https://www.google.com/search?utm_source=google&utm_medium=cpc&utm_campaign=launch",
		Page:             "/articles/go",
		PageTitle:        "Go",
		ArticleID:        "42",
		ScreenResolution: "1920x1080",
		Language:         "de-DE",
	}, tracking.Meta{IP: clientIP, ReceivedAt: now})
	require.True(t, ok)
	queue.Wait()

	var v visits.Visit
	require.NoError(t, db.First(&v).Error)
	assert.Equal(t, "s1", v.SessionID)
	assert.Equal(t, clientIP, v.IP)
	assert.Equal(t, "Germany", v.Country)
	assert.Equal(t, "DE", v.CountryCode)
	assert.Equal(t, "Europe/Berlin", v.Timezone)
	require.NotNil(t, v.Latitude)
	assert.Equal(t, "Chrome", v.Browser)
	assert.Equal(t, "120", v.BrowserVersion)
	assert.Equal(t, "Windows", v.OS)
	assert.Equal(t, "10", v.OSVersion)
	assert.Equal(t, "desktop", v.Device)
	assert.Equal(t, "Google", v.ReferrerSource)
	assert.Equal(t, "google", v.UTMSource)
	assert.Equal(t, "cpc", v.UTMMedium)
	assert.Equal(t, "launch", v.UTMCampaign)
	assert.Equal(t, "42", v.ArticleID)
	assert.Equal(t, "1920x1080", v.ScreenResolution)
	assert.True(t, v.IsNewVisitor)
	assert.False(t, v.IsReturningVisitor)
	assert.False(t, v.IsBot)
	assert.Equal(t, int64(0), v.PageViews)
	assert.True(t, v.VisitDate.Equal(now))
	assert.True(t, v.FirstVisit.Equal(now))
}

func TestTrackClassifiesContinuingAndReturning(t *testing.T) {
	svc, queue, db := setup(t)
	t0 := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	ev := tracking.Event{SessionID: "s1", UserAgent: chromeWindows, Page: "/"}

	svc.Track(ev, tracking.Meta{IP: clientIP, ReceivedAt: t0})
	svc.Track(ev, tracking.Meta{IP: clientIP, ReceivedAt: t0.Add(2 * time.Hour)})
	svc.Track(ev, tracking.Meta{IP: clientIP, ReceivedAt: t0.Add(30 * time.Hour)})
	queue.Wait()

	var rows []visits.Visit
	require.NoError(t, db.Order("visit_date ASC").Find(&rows).Error)
	require.Len(t, rows, 3)

	assert.True(t, rows[0].IsNewVisitor)
	assert.False(t, rows[1].IsNewVisitor)
	assert.False(t, rows[1].IsReturningVisitor)
	assert.False(t, rows[2].IsNewVisitor)
	assert.True(t, rows[2].IsReturningVisitor)
	for _, r := range rows {
		assert.True(t, r.FirstVisit.Equal(t0), "first visit is carried forward")
	}
}

func TestTrackFlagsBotsAndFallsBack(t *testing.T) {
	svc, queue, db := setup(t)
	now := time.Now().UTC()

	svc.Track(tracking.Event{SessionID: "bot", Page: "/"}, tracking.Meta{
		IP: clientIP, UserAgent: "Mozilla/5.0 (compatible; Googlebot/2.1)", ReceivedAt: now,
	})
	svc.Track(tracking.Event{SessionID: "local", Page: "/", Timezone: "Asia/Tokyo", Referrer: "::not a url::"}, tracking.Meta{
		IP: "127.0.0.1", UserAgent: chromeWindows, ReceivedAt: now,
	})
	queue.Wait()

	var bot visits.Visit
	require.NoError(t, db.Where("session_id = ?", "bot").First(&bot).Error)
	assert.True(t, bot.IsBot)
	assert.Equal(t, "Unknown", bot.Country)

	var local visits.Visit
	require.NoError(t, db.Where("session_id = ?", "local").First(&local).Error)
	assert.False(t, local.IsBot)
	assert.Equal(t, "Chrome", local.Browser, "header user agent is used when payload has none")
	assert.Equal(t, "Unknown", local.Country)
	assert.Equal(t, "Unknown", local.City)
	assert.Nil(t, local.Latitude)
	assert.Equal(t, "Asia/Tokyo", local.Timezone, "client timezone fills an unknown one")
	assert.Empty(t, local.UTMSource)
	assert.Equal(t, "Other", local.ReferrerSource)
}

func TestCompleteAndConvert(t *testing.T) {
	svc, queue, db := setup(t)
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	svc.Track(tracking.Event{SessionID: "s1", Page: "/a"}, tracking.Meta{IP: clientIP, ReceivedAt: now})
	svc.Complete("s1", "/a", 45, now.Add(time.Second))
	svc.Convert(tracking.ConversionEvent{SessionID: "s1", Conversion: "outbound_click", ConversionValue: "https://example.org/docs"})
	queue.Wait()

	var v visits.Visit
	require.NoError(t, db.First(&v).Error)
	assert.Equal(t, int64(1), v.PageViews)
	assert.Equal(t, int64(45), v.VisitDuration)
	assert.True(t, v.LastVisit.Equal(now.Add(time.Second)))
	assert.Equal(t, "outbound_click", v.Conversion)
	assert.Equal(t, "https://example.org/docs", v.ConversionValue)
}

func TestRecordSynchronously(t *testing.T) {
	svc, _, _ := setup(t)
	v, err := svc.Record(context.Background(), tracking.Event{SessionID: "sync", Page: "/x"}, tracking.Meta{IP: clientIP})
	require.NoError(t, err)
	assert.Equal(t, "Germany", v.Country)
	assert.False(t, v.VisitDate.IsZero())
}

func TestCompletionSeconds(t *testing.T) {
	tests := []struct {
		name    string
		client  float64
		elapsed time.Duration
		want    int64
	}{
		{"client report wins", 11.6, 3 * time.Second, 12},
		{"elapsed when client is zero", 0, 2600 * time.Millisecond, 3},
		{"negative client falls back to elapsed", -5, 100 * time.Millisecond, 0},
		{"client report is capped", 90000, time.Second, tracking.MaxPageSeconds},
		{"huge client report does not overflow", 1e300, time.Second, tracking.MaxPageSeconds},
		{"infinite client report is capped", math.Inf(1), time.Second, tracking.MaxPageSeconds},
		{"long exchange is capped", 0, 48 * time.Hour, tracking.MaxPageSeconds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tracking.CompletionSeconds(tt.client, tt.elapsed)
			assert.Equal(t, tt.want, got)
			assert.GreaterOrEqual(t, got, int64(0))
		})
	}
}
