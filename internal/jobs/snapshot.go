package jobs

import (
	"context"
	"fmt"

	"visitly/internal/analytics"
	"visitly/internal/metrics"
)

// MetricsSnapshotJob copies today's totals into the visitly_visitors_today gauges.
type MetricsSnapshotJob struct {
	engine *analytics.Engine
}

func NewMetricsSnapshotJob(engine *analytics.Engine) *MetricsSnapshotJob {
	return &MetricsSnapshotJob{engine: engine}
}

func (j *MetricsSnapshotJob) Name() string {
	return "metrics_snapshot"
}

func (j *MetricsSnapshotJob) Run(ctx context.Context) error {
	s, err := j.engine.DailyStats(ctx, j.engine.Now())
	if err != nil {
		return fmt.Errorf("snapshot of today's stats: %w", err)
	}

	metrics.VisitorsToday.WithLabelValues("total").Set(float64(s.TotalVisitors))
	metrics.VisitorsToday.WithLabelValues("unique").Set(float64(s.UniqueVisitors))
	metrics.VisitorsToday.WithLabelValues("page_views").Set(float64(s.TotalPageViews))
	metrics.VisitorsToday.WithLabelValues("new").Set(float64(s.NewVisitors))
	metrics.VisitorsToday.WithLabelValues("returning").Set(float64(s.ReturningVisitors))
	return nil
}
