package mongostore

import (
	"context"
	"fmt"
	"os"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"visitly/internal/timeframe"
	"visitly/internal/visits"
)

func TestGroupPipelineShape(t *testing.T) {
	r := timeframe.DayRange(time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC))
	pipeline, err := groupPipeline(visits.GroupQuery{
		Range:   &r,
		By:      []visits.Dimension{visits.DimDay, visits.DimUTMSource},
		Require: []visits.Dimension{visits.DimUTMSource},
	})
	require.NoError(t, err)
	require.Len(t, pipeline, 3)

	match := pipeline[0][0].Value.(bson.M)
	assert.Equal(t, false, match["isBot"])
	assert.Equal(t, bson.M{"$gte": r.From, "$lte": r.To}, match["visitDate"])
	assert.Equal(t, bson.M{"$nin": bson.A{"", nil}}, match["utmSource"])

	group := pipeline[1][0].Value.(bson.D)
	id := group[0].Value.(bson.D)
	require.Len(t, id, 2)
	assert.Equal(t, "k0", id[0].Key)
	assert.Equal(t, bson.M{"$dateToString": bson.M{"format": "%Y-%m-%d", "date": "$visitDate", "timezone": "UTC"}}, id[0].Value)
	assert.Equal(t, bson.M{"$ifNull": bson.A{"$utmSource", ""}}, id[1].Value)
}

func TestGroupPipelineUngrouped(t *testing.T) {
	pipeline, err := groupPipeline(visits.GroupQuery{})
	require.NoError(t, err)

	match := pipeline[0][0].Value.(bson.M)
	assert.Equal(t, bson.M{"isBot": false}, match)

	group := pipeline[1][0].Value.(bson.D)
	assert.Nil(t, group[0].Value)

	_, err = groupPipeline(visits.GroupQuery{By: []visits.Dimension{"ip"}})
	assert.Error(t, err)
}

func TestVisitorMatch(t *testing.T) {
	r := timeframe.DayRange(time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC))
	match := visitorMatch(visits.VisitorFilter{Range: &r, Country: "Germany", Device: "mobile"})

	assert.Equal(t, "Germany", match["country"])
	assert.Equal(t, "mobile", match["device"])
	assert.NotContains(t, match, "region")
	assert.NotContains(t, match, "isBot")
	assert.Contains(t, match, "visitDate")
}

// Integration tests need a running server: VISITLY_TEST_MONGO_URI=mongodb://localhost:27017
func setupMongo(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("VISITLY_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("VISITLY_TEST_MONGO_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := Connect(ctx, Config{
		URI:        uri,
		Database:   "visitly_test",
		Collection: fmt.Sprintf("visits_%d", time.Now().UnixNano()),
	}, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.coll.Drop(context.Background())
		store.Close()
	})
	return store
}

func newVisit(session, page string, ts time.Time) *visits.Visit {
	return &visits.Visit{
		SessionID: session, IP: "203.0.113.10", Page: page,
		Country: "Germany", Region: "Bavaria", City: "Munich", Timezone: "Europe/Berlin",
		Browser: "Firefox", OS: "Linux", Device: visits.DeviceDesktop,
		IsNewVisitor: true, FirstVisit: ts, LastVisit: ts, VisitDate: ts,
	}
}

func TestMongoStoreLifecycle(t *testing.T) {
	store := setupMongo(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.Create(ctx, newVisit("s1", "/a", base)))
	require.NoError(t, store.Create(ctx, newVisit("s1", "/b", base.Add(time.Hour))))
	bot := newVisit("bot", "/a", base)
	bot.IsBot = true
	require.NoError(t, store.Create(ctx, bot))

	latest, err := store.LatestForSession(ctx, "s1", "203.0.113.10")
	require.NoError(t, err)
	assert.Equal(t, "/b", latest.Page)

	require.NoError(t, store.RecordPageView(ctx, "s1", "/b", 12, base.Add(2*time.Hour)))
	assert.ErrorIs(t, store.RecordPageView(ctx, "s1", "/zzz", 1, base), visits.ErrNotFound)

	require.NoError(t, store.SetConversion(ctx, "s1", "signup", "/pricing"))
	assert.ErrorIs(t, store.SetConversion(ctx, "ghost", "signup", ""), visits.ErrNotFound)

	r := timeframe.DayRange(base)
	rows, err := store.Group(ctx, visits.GroupQuery{Range: &r, By: []visits.Dimension{visits.DimPage}})
	require.NoError(t, err)
	sort.Slice(rows, func(i, j int) bool { return rows[i].Keys[0] < rows[j].Keys[0] })
	require.Len(t, rows, 2)
	assert.Equal(t, "/b", rows[1].Keys[0])
	assert.Equal(t, int64(1), rows[1].PageViews)
	assert.Equal(t, 12.0, rows[1].AvgDuration)

	conv, err := store.Group(ctx, visits.GroupQuery{By: []visits.Dimension{visits.DimConversion}, Require: []visits.Dimension{visits.DimConversion}})
	require.NoError(t, err)
	require.Len(t, conv, 1)
	assert.Equal(t, "signup", conv[0].Keys[0])

	page, err := store.ListVisitors(ctx, visits.VisitorFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	assert.NoError(t, store.Ping(ctx))
}
