package analytics

import (
	"context"

	"visitly/internal/timeframe"
	"visitly/internal/visits"
)

// CampaignStats groups visits carrying a utm_source by (source, medium, campaign).
func (e *Engine) CampaignStats(ctx context.Context, r *timeframe.Range) ([]CampaignRow, error) {
	rows, err := e.group(ctx, "campaign stats", visits.GroupQuery{
		Range:   r,
		By:      []visits.Dimension{visits.DimUTMSource, visits.DimUTMMedium, visits.DimUTMCampaign},
		Require: []visits.Dimension{visits.DimUTMSource},
	})
	if err != nil {
		return nil, err
	}

	out := make([]CampaignRow, 0, len(rows))
	for _, row := range ranked(rows, 0) {
		out = append(out, CampaignRow{
			Source:         row.Keys[0],
			Medium:         row.Keys[1],
			Campaign:       row.Keys[2],
			Visitors:       row.Visitors,
			UniqueVisitors: row.UniqueVisitors,
			NewVisitors:    row.NewVisitors,
		})
	}
	return out, nil
}
