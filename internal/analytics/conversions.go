package analytics

import (
	"context"

	"visitly/internal/timeframe"
	"visitly/internal/visits"
)

// ConversionStats counts converted visits per conversion label.
func (e *Engine) ConversionStats(ctx context.Context, r *timeframe.Range) ([]ConversionRow, error) {
	rows, err := e.group(ctx, "conversion stats", visits.GroupQuery{
		Range:   r,
		By:      []visits.Dimension{visits.DimConversion},
		Require: []visits.Dimension{visits.DimConversion},
	})
	if err != nil {
		return nil, err
	}

	out := make([]ConversionRow, 0, len(rows))
	for _, row := range ranked(rows, 0) {
		out = append(out, ConversionRow{
			Conversion:     row.Keys[0],
			Visitors:       row.Visitors,
			UniqueVisitors: row.UniqueVisitors,
		})
	}
	return out, nil
}
