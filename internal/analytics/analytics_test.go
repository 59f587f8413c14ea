package analytics_test

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"visitly/internal/analytics"
	"visitly/internal/testsupport"
	"visitly/internal/timeframe"
	"visitly/internal/visits"
)

var day = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func setupEngine(t *testing.T, now time.Time) (*analytics.Engine, *gorm.DB) {
	t.Helper()
	store, db := testsupport.SetupTestStore(t)
	return analytics.NewEngine(store, &timeframe.FixedTimeProvider{T: now}), db
}

func TestDailyStats(t *testing.T) {
	ctx := context.Background()

	t.Run("counts rows and distinct sessions", func(t *testing.T) {
		engine, db := setupEngine(t, day)
		testsupport.CleanAllTables(db)
		testsupport.InsertVisits(t, db,
			testsupport.NewVisit("s1", "/", day.Add(9*time.Hour), testsupport.WithActivity(1, 10)),
			testsupport.NewVisit("s1", "/about", day.Add(10*time.Hour), testsupport.WithStatus(false, false), testsupport.WithActivity(2, 20)),
			testsupport.NewVisit("s2", "/", day.Add(11*time.Hour), testsupport.WithStatus(false, true), testsupport.WithActivity(1, 5)),
		)

		s, err := engine.DailyStats(ctx, day)
		require.NoError(t, err)
		assert.Equal(t, int64(3), s.TotalVisitors)
		assert.Equal(t, int64(2), s.UniqueVisitors)
		assert.Equal(t, int64(4), s.TotalPageViews)
		assert.Equal(t, 11.67, s.AvgVisitDuration)
		assert.Equal(t, int64(1), s.NewVisitors)
		assert.Equal(t, int64(1), s.ReturningVisitors)
	})

	t.Run("excludes bots", func(t *testing.T) {
		engine, db := setupEngine(t, day)
		testsupport.CleanAllTables(db)
		testsupport.InsertVisits(t, db,
			testsupport.NewVisit("human", "/", day.Add(time.Hour)),
			testsupport.NewVisit("crawler", "/", day.Add(time.Hour), testsupport.AsBot()),
		)

		s, err := engine.DailyStats(ctx, day)
		require.NoError(t, err)
		assert.Equal(t, int64(1), s.TotalVisitors)
		assert.Equal(t, int64(1), s.UniqueVisitors)
	})

	t.Run("day boundaries are inclusive", func(t *testing.T) {
		engine, db := setupEngine(t, day)
		testsupport.CleanAllTables(db)
		testsupport.InsertVisits(t, db,
			testsupport.NewVisit("first", "/", day),
			testsupport.NewVisit("last", "/", day.Add(timeframe.EndOfDayOffset)),
			testsupport.NewVisit("next", "/", day.AddDate(0, 0, 1)),
			testsupport.NewVisit("before", "/", day.Add(-time.Millisecond)),
		)

		s, err := engine.DailyStats(ctx, day)
		require.NoError(t, err)
		assert.Equal(t, int64(2), s.TotalVisitors)
	})

	t.Run("empty day is zero", func(t *testing.T) {
		engine, db := setupEngine(t, day)
		testsupport.CleanAllTables(db)

		s, err := engine.DailyStats(ctx, day)
		require.NoError(t, err)
		assert.Equal(t, analytics.Summary{}, s)
	})
}

func TestUniqueVisitorsMatchDistinctSessions(t *testing.T) {
	engine, db := setupEngine(t, day)
	rng := rand.New(rand.NewSource(7))

	for round := 0; round < 5; round++ {
		testsupport.CleanAllTables(db)
		sessions := map[string]bool{}
		n := 5 + rng.Intn(40)
		for i := 0; i < n; i++ {
			id := fmt.Sprintf("s%d", rng.Intn(8))
			bot := rng.Intn(5) == 0
			opts := []testsupport.VisitOption{}
			if bot {
				opts = append(opts, testsupport.AsBot())
			} else {
				sessions[id] = true
			}
			testsupport.InsertVisits(t, db, testsupport.NewVisit(id, "/", day.Add(time.Duration(rng.Intn(86400))*time.Second), opts...))
		}

		s, err := engine.DailyStats(context.Background(), day)
		require.NoError(t, err)
		assert.Equal(t, int64(len(sessions)), s.UniqueVisitors, "round %d", round)
	}
}

func TestTrendStats(t *testing.T) {
	engine, db := setupEngine(t, day)
	testsupport.InsertVisits(t, db,
		testsupport.NewVisit("a", "/", day.Add(time.Hour)),
		testsupport.NewVisit("b", "/", day.AddDate(0, 0, 2).Add(time.Hour)),
		testsupport.NewVisit("b", "/x", day.AddDate(0, 0, 2).Add(2*time.Hour)),
	)

	points, err := engine.TrendStats(context.Background(), day, day.AddDate(0, 0, 2))
	require.NoError(t, err)
	require.Len(t, points, 3)

	assert.Equal(t, "2024-01-01", points[0].Date)
	assert.Equal(t, int64(1), points[0].TotalVisitors)
	assert.Equal(t, "2024-01-02", points[1].Date)
	assert.Equal(t, int64(0), points[1].TotalVisitors)
	assert.Equal(t, "2024-01-03", points[2].Date)
	assert.Equal(t, int64(2), points[2].TotalVisitors)
	assert.Equal(t, int64(1), points[2].UniqueVisitors)
}

func TestRealtimeStats(t *testing.T) {
	now := day.Add(10*time.Hour + 20*time.Minute)
	engine, db := setupEngine(t, now)
	testsupport.InsertVisits(t, db,
		testsupport.NewVisit("a", "/", now.Add(-5*time.Minute)),
		testsupport.NewVisit("b", "/", now.Add(-40*time.Minute)),
		testsupport.NewVisit("old", "/", now.Add(-2*time.Hour)),
	)

	points, err := engine.RealtimeStats(context.Background())
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, "2024-01-01 09", points[0].Date)
	assert.Equal(t, int64(1), points[0].TotalVisitors)
	assert.Equal(t, "2024-01-01 10", points[1].Date)
	assert.Equal(t, int64(1), points[1].TotalVisitors)
}

func TestRegionStats(t *testing.T) {
	engine, db := setupEngine(t, day)
	testsupport.InsertVisits(t, db,
		testsupport.NewVisit("a", "/", day.Add(time.Hour), testsupport.WithGeo("Germany", "Berlin"), testsupport.WithActivity(1, 30)),
		testsupport.NewVisit("b", "/", day.Add(time.Hour), testsupport.WithGeo("Germany", "Berlin"), testsupport.WithActivity(1, 10)),
		testsupport.NewVisit("c", "/", day.Add(time.Hour), testsupport.WithGeo("France", "Paris")),
		testsupport.NewVisit("d", "/", day.Add(time.Hour), testsupport.WithGeo("Austria", "Vienna")),
		testsupport.NewVisit("e", "/", day.AddDate(0, 0, -10), testsupport.WithGeo("Spain", "Madrid")),
	)

	t.Run("nil range covers all history", func(t *testing.T) {
		rows, err := engine.RegionStats(context.Background(), nil)
		require.NoError(t, err)
		require.Len(t, rows, 4)
		assert.Equal(t, analytics.RegionRow{Country: "Germany", Region: "Berlin", Visitors: 2, UniqueVisitors: 2, PageViews: 2, AvgDuration: 20}, rows[0])
		// ties are ordered by key
		assert.Equal(t, "Austria", rows[1].Country)
		assert.Equal(t, "France", rows[2].Country)
		assert.Equal(t, "Spain", rows[3].Country)
	})

	t.Run("range without records is empty", func(t *testing.T) {
		r := timeframe.DayRange(day.AddDate(1, 0, 0))
		rows, err := engine.RegionStats(context.Background(), &r)
		require.NoError(t, err)
		assert.NotNil(t, rows)
		assert.Empty(t, rows)
	})
}

func TestDeviceStats(t *testing.T) {
	engine, db := setupEngine(t, day)
	testsupport.InsertVisits(t, db,
		testsupport.NewVisit("a", "/", day, testsupport.WithDevice(visits.DeviceMobile, "Safari", "iOS")),
		testsupport.NewVisit("a", "/x", day, testsupport.WithDevice(visits.DeviceMobile, "Safari", "iOS")),
		testsupport.NewVisit("b", "/", day),
	)

	rows, err := engine.DeviceStats(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, analytics.DeviceRow{Device: "mobile", DeviceLabel: "Mobile", Browser: "Safari", OS: "iOS", Visitors: 2, UniqueVisitors: 1}, rows[0])
	assert.Equal(t, "desktop", rows[1].Device)
}

func TestTopPagesAndCountries(t *testing.T) {
	engine, db := setupEngine(t, day)
	for i := 0; i < 12; i++ {
		page := fmt.Sprintf("/p%02d", i)
		for j := 0; j <= i; j++ {
			testsupport.InsertVisits(t, db, testsupport.NewVisit(fmt.Sprintf("s%d", j), page, day.Add(time.Hour), testsupport.WithActivity(1, 0)))
		}
	}
	testsupport.InsertVisits(t, db, testsupport.NewVisit("de", "/p00", day.Add(time.Hour), testsupport.WithGeo("Germany", "Bavaria")))
	r := timeframe.DayRange(day)

	pages, err := engine.TopPages(context.Background(), r, 0)
	require.NoError(t, err)
	require.Len(t, pages, analytics.DefaultLimit)
	assert.Equal(t, analytics.PageRow{Page: "/p11", Visitors: 12, UniqueVisitors: 12, PageViews: 12}, pages[0])

	limited, err := engine.TopPages(context.Background(), r, 3)
	require.NoError(t, err)
	assert.Len(t, limited, 3)

	countries, err := engine.TopCountries(context.Background(), r, 10)
	require.NoError(t, err)
	require.Len(t, countries, 2)
	assert.Equal(t, "United States", countries[0].Country)
	assert.Equal(t, "US", countries[0].Code)
	assert.Equal(t, "Germany", countries[1].Country)
	assert.Equal(t, "DE", countries[1].Code)
	assert.Equal(t, "", analytics.CountryCode("Unknown"))
}

func TestReferrersCampaignsConversions(t *testing.T) {
	engine, db := setupEngine(t, day)
	testsupport.InsertVisits(t, db,
		testsupport.NewVisit("a", "/", day, testsupport.WithMutation(func(v *visits.Visit) {
			v.ReferrerSource = "Google"
			v.UTMSource, v.UTMMedium, v.UTMCampaign = "google", "cpc", "spring"
			v.Conversion = "scroll_75"
		})),
		testsupport.NewVisit("b", "/", day, testsupport.WithMutation(func(v *visits.Visit) {
			v.ReferrerSource = "Google"
			v.UTMSource, v.UTMMedium, v.UTMCampaign = "google", "cpc", "spring"
			v.IsNewVisitor = false
			v.Conversion = "scroll_75"
			v.ConversionValue = "42"
		})),
		testsupport.NewVisit("c", "/", day),
	)
	r := timeframe.DayRange(day)

	refs, err := engine.TopReferrers(context.Background(), r, 10)
	require.NoError(t, err)
	assert.Equal(t, []analytics.ReferrerRow{
		{Source: "Google", Visitors: 2, UniqueVisitors: 2},
		{Source: "Direct", Visitors: 1, UniqueVisitors: 1},
	}, refs)

	campaigns, err := engine.CampaignStats(context.Background(), &r)
	require.NoError(t, err)
	assert.Equal(t, []analytics.CampaignRow{
		{Source: "google", Medium: "cpc", Campaign: "spring", Visitors: 2, UniqueVisitors: 2, NewVisitors: 1},
	}, campaigns)

	conversions, err := engine.ConversionStats(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []analytics.ConversionRow{{Conversion: "scroll_75", Visitors: 2, UniqueVisitors: 2}}, conversions)
}
