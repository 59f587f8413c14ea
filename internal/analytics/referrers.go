package analytics

import (
	"context"

	"visitly/internal/timeframe"
	"visitly/internal/visits"
)

// TopReferrers returns the limit referrer sources with most visits in r. Direct traffic is a source.
func (e *Engine) TopReferrers(ctx context.Context, r timeframe.Range, limit int) ([]ReferrerRow, error) {
	rows, err := e.group(ctx, "top referrers", visits.GroupQuery{
		Range:   &r,
		By:      []visits.Dimension{visits.DimReferrerSource},
		Require: []visits.Dimension{visits.DimReferrerSource},
	})
	if err != nil {
		return nil, err
	}

	rows = ranked(rows, normalizeLimit(limit))
	out := make([]ReferrerRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, ReferrerRow{
			Source:         row.Keys[0],
			Visitors:       row.Visitors,
			UniqueVisitors: row.UniqueVisitors,
		})
	}
	return out, nil
}
