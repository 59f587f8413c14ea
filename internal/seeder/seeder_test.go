package seeder_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visitly/internal/seeder"
	"visitly/internal/testsupport"
	"visitly/internal/timeframe"
	"visitly/internal/visits"
)

func TestSeed(t *testing.T) {
	store, db := testsupport.SetupTestStore(t)
	now := time.Date(2024, 6, 10, 15, 0, 0, 0, time.UTC)

	res, err := seeder.NewSeeder(store, testsupport.GetLogger()).Seed(context.Background(), seeder.Options{
		Visits: 60,
		Days:   7,
		Now:    now,
		Seed:   42,
	})
	require.NoError(t, err)
	assert.Equal(t, 60, res.Visits)
	assert.Greater(t, res.Sessions, 0)
	assert.LessOrEqual(t, res.Sessions, 60)

	var vs []visits.Visit
	require.NoError(t, db.Find(&vs).Error)
	require.Len(t, vs, 60)

	from := timeframe.StartOfDay(now).AddDate(0, 0, -6)
	var pageViews, seconds int64
	for _, v := range vs {
		pageViews += v.PageViews
		seconds += v.VisitDuration
		assert.False(t, v.VisitDate.Before(from), "visit before range: %s", v.VisitDate)
		assert.False(t, v.VisitDate.After(now), "visit after now: %s", v.VisitDate)
		if !v.IsBot {
			assert.NotEqual(t, "Unknown", v.Country)
			assert.Len(t, v.CountryCode, 2)
		}
	}
	assert.Equal(t, int64(60), pageViews)
	assert.GreaterOrEqual(t, seconds, int64(60*5))
}

func TestResolverCountryCodes(t *testing.T) {
	table, ips := seeder.Resolver()
	require.NotEmpty(t, ips)
	for _, ip := range ips {
		loc, err := table.Lookup(context.Background(), ip)
		require.NoError(t, err)
		assert.NotEmpty(t, loc.CountryCode, loc.Country)
	}
}

func TestSeedHonorsCancellation(t *testing.T) {
	store, _ := testsupport.SetupTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := seeder.NewSeeder(store, nil).Seed(ctx, seeder.Options{Visits: 10})
	assert.ErrorIs(t, err, context.Canceled)
}
