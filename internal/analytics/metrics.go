package analytics

import (
	"context"

	"github.com/pariz/gountries"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"visitly/internal/timeframe"
	"visitly/internal/visits"
)

var countries = gountries.New()

// RegionStats groups visits by (country, region). A nil range covers all history.
func (e *Engine) RegionStats(ctx context.Context, r *timeframe.Range) ([]RegionRow, error) {
	rows, err := e.group(ctx, "region stats", visits.GroupQuery{
		Range: r,
		By:    []visits.Dimension{visits.DimCountry, visits.DimRegion},
	})
	if err != nil {
		return nil, err
	}

	out := make([]RegionRow, 0, len(rows))
	for _, row := range ranked(rows, 0) {
		out = append(out, RegionRow{
			Country:        row.Keys[0],
			Region:         row.Keys[1],
			Visitors:       row.Visitors,
			UniqueVisitors: row.UniqueVisitors,
			PageViews:      row.PageViews,
			AvgDuration:    round2(row.AvgDuration),
		})
	}
	return out, nil
}

// DeviceStats groups visits by (device, browser, os). A nil range covers all history.
func (e *Engine) DeviceStats(ctx context.Context, r *timeframe.Range) ([]DeviceRow, error) {
	rows, err := e.group(ctx, "device stats", visits.GroupQuery{
		Range: r,
		By:    []visits.Dimension{visits.DimDevice, visits.DimBrowser, visits.DimOS},
	})
	if err != nil {
		return nil, err
	}

	caser := cases.Title(language.AmericanEnglish)
	out := make([]DeviceRow, 0, len(rows))
	for _, row := range ranked(rows, 0) {
		out = append(out, DeviceRow{
			Device:         row.Keys[0],
			DeviceLabel:    caser.String(row.Keys[0]),
			Browser:        row.Keys[1],
			OS:             row.Keys[2],
			Visitors:       row.Visitors,
			UniqueVisitors: row.UniqueVisitors,
		})
	}
	return out, nil
}

// TopPages returns the limit most visited pages in r.
func (e *Engine) TopPages(ctx context.Context, r timeframe.Range, limit int) ([]PageRow, error) {
	rows, err := e.group(ctx, "top pages", visits.GroupQuery{
		Range: &r,
		By:    []visits.Dimension{visits.DimPage},
	})
	if err != nil {
		return nil, err
	}

	rows = ranked(rows, normalizeLimit(limit))
	out := make([]PageRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, PageRow{
			Page:           row.Keys[0],
			Visitors:       row.Visitors,
			UniqueVisitors: row.UniqueVisitors,
			PageViews:      row.PageViews,
		})
	}
	return out, nil
}

// TopCountries returns the limit countries with most visits in r, with their ISO alpha-2 code.
func (e *Engine) TopCountries(ctx context.Context, r timeframe.Range, limit int) ([]CountryRow, error) {
	rows, err := e.group(ctx, "top countries", visits.GroupQuery{
		Range: &r,
		By:    []visits.Dimension{visits.DimCountry},
	})
	if err != nil {
		return nil, err
	}

	rows = ranked(rows, normalizeLimit(limit))
	out := make([]CountryRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, CountryRow{
			Country:        row.Keys[0],
			Code:           CountryCode(row.Keys[0]),
			Visitors:       row.Visitors,
			UniqueVisitors: row.UniqueVisitors,
			PageViews:      row.PageViews,
		})
	}
	return out, nil
}

// CountryCode resolves a country name to its ISO alpha-2 code, or "" when unknown.
func CountryCode(name string) string {
	c, err := countries.FindCountryByName(name)
	if err != nil {
		return ""
	}
	return c.Codes.Alpha2
}
