package analytics

import (
	"context"
	"time"

	"visitly/internal/timeframe"
	"visitly/internal/visits"
)

// RealtimeWindow is the trailing period covered by RealtimeStats.
const RealtimeWindow = time.Hour

// DailyStats summarizes the UTC calendar day of date, both ends inclusive.
// A day without visits yields a zero Summary.
func (e *Engine) DailyStats(ctx context.Context, date time.Time) (Summary, error) {
	r := timeframe.DayRange(date)
	rows, err := e.group(ctx, "daily stats", visits.GroupQuery{Range: &r})
	if err != nil {
		return Summary{}, err
	}
	if len(rows) == 0 {
		return Summary{}, nil
	}
	return summaryOf(rows[0]), nil
}

// TrendStats returns one summary per calendar day from start to end, ascending.
// Days without visits are present with zero values.
func (e *Engine) TrendStats(ctx context.Context, start, end time.Time) ([]TrendPoint, error) {
	return e.series(ctx, "trend stats", timeframe.DaysRange(start, end), visits.DimDay)
}

// RealtimeStats returns hourly summaries over the trailing hour.
func (e *Engine) RealtimeStats(ctx context.Context) ([]TrendPoint, error) {
	now := e.Now()
	return e.series(ctx, "realtime stats", timeframe.Range{From: now.Add(-RealtimeWindow), To: now}, visits.DimHour)
}

func (e *Engine) series(ctx context.Context, name string, r timeframe.Range, dim visits.Dimension) ([]TrendPoint, error) {
	rows, err := e.group(ctx, name, visits.GroupQuery{Range: &r, By: []visits.Dimension{dim}})
	if err != nil {
		return nil, err
	}

	byKey := make(map[string]visits.GroupRow, len(rows))
	for _, row := range rows {
		byKey[row.Keys[0]] = row
	}

	bucket := dim.Bucket()
	buckets := timeframe.Buckets(r, bucket)
	points := make([]TrendPoint, 0, len(buckets))
	for _, b := range buckets {
		key := bucket.Key(b)
		point := TrendPoint{Date: key}
		if row, ok := byKey[key]; ok {
			point.Summary = summaryOf(row)
		}
		points = append(points, point)
	}
	return points, nil
}
