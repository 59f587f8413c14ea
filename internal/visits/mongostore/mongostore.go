// Package mongostore keeps visits in a MongoDB collection.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"visitly/internal/visits"
)

// Config locates the visits collection.
type Config struct {
	URI        string
	Database   string
	Collection string
}

// Store implements visits.Store on MongoDB.
type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
	logger *slog.Logger
}

var _ visits.Store = (*Store)(nil)

var mongoFields = map[visits.Dimension]string{
	visits.DimCountry:        "country",
	visits.DimRegion:         "region",
	visits.DimDevice:         "device",
	visits.DimBrowser:        "browser",
	visits.DimOS:             "os",
	visits.DimPage:           "page",
	visits.DimReferrerSource: "referrerSource",
	visits.DimUTMSource:      "utmSource",
	visits.DimUTMMedium:      "utmMedium",
	visits.DimUTMCampaign:    "utmCampaign",
	visits.DimConversion:     "conversion",
}

// Connect dials MongoDB, verifies the connection and ensures indexes.
func Connect(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("error connecting to mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("error pinging mongo: %w", err)
	}

	s := &Store{
		client: client,
		coll:   client.Database(cfg.Database).Collection(cfg.Collection),
		logger: logger,
	}
	if err := s.EnsureIndexes(ctx); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}

	logger.Info("Connected to mongo visit store",
		slog.String("database", cfg.Database),
		slog.String("collection", cfg.Collection))
	return s, nil
}

// EnsureIndexes creates the lookup and reporting indexes.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "visitDate", Value: 1}, {Key: "country", Value: 1}}},
		{Keys: bson.D{{Key: "visitDate", Value: 1}, {Key: "region", Value: 1}}},
		{Keys: bson.D{{Key: "visitDate", Value: 1}, {Key: "device", Value: 1}}},
		{Keys: bson.D{{Key: "visitDate", Value: 1}, {Key: "browser", Value: 1}}},
		{Keys: bson.D{{Key: "visitDate", Value: 1}, {Key: "os", Value: 1}}},
		{Keys: bson.D{{Key: "sessionId", Value: 1}, {Key: "visitDate", Value: -1}}},
		{Keys: bson.D{{Key: "ip", Value: 1}, {Key: "visitDate", Value: -1}}},
		{Keys: bson.D{{Key: "sessionId", Value: 1}, {Key: "page", Value: 1}}},
		{Keys: bson.D{{Key: "isBot", Value: 1}}},
		{Keys: bson.D{{Key: "articleId", Value: 1}}},
		{Keys: bson.D{{Key: "utmSource", Value: 1}}},
	}
	if _, err := s.coll.Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("error creating visit indexes: %w", err)
	}
	return nil
}

func latestFirst() bson.D {
	return bson.D{{Key: "visitDate", Value: -1}, {Key: "_id", Value: -1}}
}

// Create inserts v.
func (s *Store) Create(ctx context.Context, v *visits.Visit) error {
	now := time.Now().UTC()
	if v.CreatedAt.IsZero() {
		v.CreatedAt = now
	}
	v.UpdatedAt = now
	if _, err := s.coll.InsertOne(ctx, v); err != nil {
		return fmt.Errorf("error creating visit: %w", err)
	}
	return nil
}

// RecordPageView updates the latest record of (sessionID, page).
func (s *Store) RecordPageView(ctx context.Context, sessionID, page string, seconds int64, at time.Time) error {
	filter := bson.M{"sessionId": sessionID, "page": page}
	update := bson.M{
		"$inc": bson.M{"pageViews": int64(1), "visitDuration": seconds},
		"$set": bson.M{"lastVisit": at.UTC(), "updatedAt": time.Now().UTC()},
	}
	return s.updateLatest(ctx, filter, update, "error recording page view")
}

// SetConversion labels the latest record of sessionID.
func (s *Store) SetConversion(ctx context.Context, sessionID, conversion, value string) error {
	update := bson.M{"$set": bson.M{
		"conversion":      conversion,
		"conversionValue": value,
		"updatedAt":       time.Now().UTC(),
	}}
	return s.updateLatest(ctx, bson.M{"sessionId": sessionID}, update, "error setting conversion")
}

func (s *Store) updateLatest(ctx context.Context, filter, update bson.M, msg string) error {
	opts := options.FindOneAndUpdate().SetSort(latestFirst())
	err := s.coll.FindOneAndUpdate(ctx, filter, update, opts).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return visits.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%s: %w", msg, err)
	}
	return nil
}

// LatestForSession returns the newest record of (sessionID, ip).
func (s *Store) LatestForSession(ctx context.Context, sessionID, ip string) (*visits.Visit, error) {
	var v visits.Visit
	opts := options.FindOne().SetSort(latestFirst())
	err := s.coll.FindOne(ctx, bson.M{"sessionId": sessionID, "ip": ip}, opts).Decode(&v)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, visits.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error fetching latest visit: %w", err)
	}
	return &v, nil
}

// ListVisitors returns raw records newest first. Bots are included.
func (s *Store) ListVisitors(ctx context.Context, filter visits.VisitorFilter) (visits.VisitorPage, error) {
	match := visitorMatch(filter)

	total, err := s.coll.CountDocuments(ctx, match)
	if err != nil {
		return visits.VisitorPage{}, fmt.Errorf("error counting visitors: %w", err)
	}

	opts := options.Find().
		SetSort(latestFirst()).
		SetSkip(int64(filter.Offset)).
		SetLimit(int64(filter.PageLimit()))
	cursor, err := s.coll.Find(ctx, match, opts)
	if err != nil {
		return visits.VisitorPage{}, fmt.Errorf("error fetching visitors: %w", err)
	}
	found := []visits.Visit{}
	if err := cursor.All(ctx, &found); err != nil {
		return visits.VisitorPage{}, fmt.Errorf("error decoding visitors: %w", err)
	}

	return visits.VisitorPage{
		Visits:  found,
		Total:   total,
		HasMore: int64(filter.Offset+len(found)) < total,
	}, nil
}

func visitorMatch(filter visits.VisitorFilter) bson.M {
	match := bson.M{}
	if filter.Range != nil {
		match["visitDate"] = bson.M{"$gte": filter.Range.From.UTC(), "$lte": filter.Range.To.UTC()}
	}
	for field, value := range map[string]string{
		"country": filter.Country,
		"region":  filter.Region,
		"device":  filter.Device,
		"browser": filter.Browser,
	} {
		if value != "" {
			match[field] = value
		}
	}
	return match
}

type groupResult struct {
	ID                map[string]string `bson:"_id"`
	Visitors          int64             `bson:"visitors"`
	UniqueVisitors    int64             `bson:"uniqueVisitors"`
	PageViews         int64             `bson:"pageViews"`
	AvgDuration       float64           `bson:"avgDuration"`
	NewVisitors       int64             `bson:"newVisitors"`
	ReturningVisitors int64             `bson:"returningVisitors"`
}

// Group aggregates non-bot visits with a $match/$group/$project pipeline.
func (s *Store) Group(ctx context.Context, q visits.GroupQuery) ([]visits.GroupRow, error) {
	pipeline, err := groupPipeline(q)
	if err != nil {
		return nil, err
	}

	cursor, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("error fetching grouped visits: %w", err)
	}
	var results []groupResult
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("error decoding grouped visits: %w", err)
	}

	rows := make([]visits.GroupRow, 0, len(results))
	for _, r := range results {
		keys := make([]string, len(q.By))
		for i := range q.By {
			keys[i] = r.ID[groupKey(i)]
		}
		rows = append(rows, visits.GroupRow{
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

func groupKey(i int) string {
	return fmt.Sprintf("k%d", i)
}

func dimensionExpr(d visits.Dimension) any {
	if d.IsTime() {
		return bson.M{"$dateToString": bson.M{
			"format":   d.Bucket().MongoFormat(),
			"date":     "$visitDate",
			"timezone": "UTC",
		}}
	}
	return bson.M{"$ifNull": bson.A{"$" + mongoFields[d], ""}}
}

func groupPipeline(q visits.GroupQuery) (mongo.Pipeline, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	match := bson.M{"isBot": false}
	if q.Range != nil {
		match["visitDate"] = bson.M{"$gte": q.Range.From.UTC(), "$lte": q.Range.To.UTC()}
	}
	for _, d := range q.Require {
		if d.IsTime() {
			continue
		}
		match[mongoFields[d]] = bson.M{"$nin": bson.A{"", nil}}
	}

	var id any
	if len(q.By) > 0 {
		keys := bson.D{}
		for i, d := range q.By {
			keys = append(keys, bson.E{Key: groupKey(i), Value: dimensionExpr(d)})
		}
		id = keys
	}

	return mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: id},
			{Key: "visitors", Value: bson.M{"$sum": 1}},
			{Key: "sessions", Value: bson.M{"$addToSet": "$sessionId"}},
			{Key: "pageViews", Value: bson.M{"$sum": "$pageViews"}},
			{Key: "avgDuration", Value: bson.M{"$avg": "$visitDuration"}},
			{Key: "newVisitors", Value: bson.M{"$sum": bson.M{"$cond": bson.A{"$isNewVisitor", 1, 0}}}},
			{Key: "returningVisitors", Value: bson.M{"$sum": bson.M{"$cond": bson.A{"$isReturningVisitor", 1, 0}}}},
		}}},
		{{Key: "$project", Value: bson.D{
			{Key: "visitors", Value: 1},
			{Key: "uniqueVisitors", Value: bson.M{"$size": "$sessions"}},
			{Key: "pageViews", Value: 1},
			{Key: "avgDuration", Value: bson.M{"$ifNull": bson.A{"$avgDuration", 0}}},
			{Key: "newVisitors", Value: 1},
			{Key: "returningVisitors", Value: 1},
		}}},
	}, nil
}

// Ping checks the server connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
