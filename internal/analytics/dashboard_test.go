package analytics_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visitly/internal/analytics"
	"visitly/internal/testsupport"
	"visitly/internal/timeframe"
	"visitly/internal/visits"
)

type failingAggregator struct {
	failOn visits.Dimension
}

func (f failingAggregator) Group(_ context.Context, q visits.GroupQuery) ([]visits.GroupRow, error) {
	for _, d := range q.By {
		if d == f.failOn {
			return nil, errors.New("connection reset")
		}
	}
	return nil, nil
}

func TestDashboard(t *testing.T) {
	now := time.Date(2024, 5, 20, 15, 0, 0, 0, time.UTC)

	t.Run("composes every section", func(t *testing.T) {
		store, db := testsupport.SetupTestStore(t)
		testsupport.CleanAllTables(db)
		testsupport.InsertVisits(t, db,
			testsupport.NewVisit("a", "/", now.Add(-time.Hour)),
			testsupport.NewVisit("b", "/", now.Add(-time.Hour)),
			testsupport.NewVisit("c", "/old", now.AddDate(0, 0, -1)),
			testsupport.NewVisit("d", "/ancient", now.AddDate(0, 0, -40)),
		)
		engine := analytics.NewEngine(store, &timeframe.FixedTimeProvider{T: now})

		d, err := analytics.NewComposer(engine, testsupport.GetLogger()).Dashboard(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(2), d.Today.TotalVisitors)
		assert.Equal(t, int64(1), d.Yesterday.TotalVisitors)
		require.Len(t, d.Trend, analytics.DashboardTrendDays)
		assert.Equal(t, "2024-05-14", d.Trend[0].Date)
		assert.Equal(t, "2024-05-20", d.Trend[6].Date)
		require.Len(t, d.TopPages, 2)
		assert.Equal(t, "/", d.TopPages[0].Page)
		require.Len(t, d.TopCountries, 1)
		assert.Equal(t, int64(3), d.TopCountries[0].Visitors)
		assert.Len(t, d.Devices, 1)
		assert.Empty(t, d.Conversions)
	})

	t.Run("empty store yields zero values and empty arrays", func(t *testing.T) {
		engine := analytics.NewEngine(failingAggregator{}, &timeframe.FixedTimeProvider{T: now})

		d, err := analytics.NewComposer(engine, nil).Dashboard(context.Background())
		require.NoError(t, err)

		body, err := json.Marshal(d)
		require.NoError(t, err)
		assert.NotContains(t, string(body), "null")
		assert.Equal(t, analytics.Summary{}, d.Today)
		assert.Len(t, d.Trend, analytics.DashboardTrendDays)
	})

	t.Run("any failing query fails the dashboard", func(t *testing.T) {
		engine := analytics.NewEngine(failingAggregator{failOn: visits.DimPage}, &timeframe.FixedTimeProvider{T: now})

		d, err := analytics.NewComposer(engine, testsupport.GetLogger()).Dashboard(context.Background())
		require.Error(t, err)
		assert.Nil(t, d)
		assert.Contains(t, err.Error(), "top pages")
	})
}

func TestEngineWrapsStoreErrors(t *testing.T) {
	engine := analytics.NewEngine(failingAggregator{failOn: visits.DimCountry}, nil)
	_, err := engine.RegionStats(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, "error fetching region stats: connection reset", err.Error())
}
