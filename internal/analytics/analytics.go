// Package analytics computes visitor statistics on top of the visit store's
// grouping primitive and composes them into the dashboard.
//
// The package is organized into focused files:
//   - analytics.go: Engine and result models
//   - totals.go: daily, trend and realtime summaries
//   - metrics.go: region, device, page and country breakdowns
//   - referrers.go: referrer sources
//   - utm.go: campaign attribution
//   - conversions.go: conversion labels
//   - dashboard.go: the composed dashboard
package analytics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"visitly/internal/metrics"
	"visitly/internal/timeframe"
	"visitly/internal/visits"
)

// DefaultLimit is the row count of top-N queries when none is given.
const DefaultLimit = 10

// Engine answers statistics queries. Bot traffic is excluded by the store.
type Engine struct {
	agg   visits.Aggregator
	clock timeframe.TimeProvider
}

// NewEngine builds an Engine reading from agg. A nil clock uses the system clock.
func NewEngine(agg visits.Aggregator, clock timeframe.TimeProvider) *Engine {
	if clock == nil {
		clock = &timeframe.DefaultTimeProvider{}
	}
	return &Engine{agg: agg, clock: clock}
}

// Now returns the engine clock's current time.
func (e *Engine) Now() time.Time {
	return e.clock.Now().UTC()
}

// Summary holds the totals of a set of visits.
type Summary struct {
	TotalVisitors     int64   `json:"totalVisitors"`
	UniqueVisitors    int64   `json:"uniqueVisitors"`
	TotalPageViews    int64   `json:"totalPageViews"`
	AvgVisitDuration  float64 `json:"avgVisitDuration"`
	NewVisitors       int64   `json:"newVisitors"`
	ReturningVisitors int64   `json:"returningVisitors"`
}

// TrendPoint is the summary of one day or hour bucket.
type TrendPoint struct {
	Date string `json:"date"`
	Summary
}

// RegionRow aggregates visits per (country, region).
type RegionRow struct {
	Country        string  `json:"country"`
	Region         string  `json:"region"`
	Visitors       int64   `json:"visitors"`
	UniqueVisitors int64   `json:"uniqueVisitors"`
	PageViews      int64   `json:"pageViews"`
	AvgDuration    float64 `json:"avgDuration"`
}

// DeviceRow aggregates visits per device class, browser and OS.
type DeviceRow struct {
	Device         string `json:"device"`
	DeviceLabel    string `json:"deviceLabel"`
	Browser        string `json:"browser"`
	OS             string `json:"os"`
	Visitors       int64  `json:"visitors"`
	UniqueVisitors int64  `json:"uniqueVisitors"`
}

// PageRow aggregates visits per page path.
type PageRow struct {
	Page           string `json:"page"`
	Visitors       int64  `json:"visitors"`
	UniqueVisitors int64  `json:"uniqueVisitors"`
	PageViews      int64  `json:"pageViews"`
}

// CountryRow aggregates visits per country.
type CountryRow struct {
	Country        string `json:"country"`
	Code           string `json:"code"`
	Visitors       int64  `json:"visitors"`
	UniqueVisitors int64  `json:"uniqueVisitors"`
	PageViews      int64  `json:"pageViews"`
}

// ReferrerRow counts visits per referrer source.
type ReferrerRow struct {
	Source         string `json:"source"`
	Visitors       int64  `json:"visitors"`
	UniqueVisitors int64  `json:"uniqueVisitors"`
}

// CampaignRow counts visits per UTM source, medium and campaign.
type CampaignRow struct {
	Source         string `json:"source"`
	Medium         string `json:"medium"`
	Campaign       string `json:"campaign"`
	Visitors       int64  `json:"visitors"`
	UniqueVisitors int64  `json:"uniqueVisitors"`
	NewVisitors    int64  `json:"newVisitors"`
}

// ConversionRow counts converted visits per conversion label.
type ConversionRow struct {
	Conversion     string `json:"conversion"`
	Visitors       int64  `json:"visitors"`
	UniqueVisitors int64  `json:"uniqueVisitors"`
}

// group runs q on the store, recording its latency under name.
func (e *Engine) group(ctx context.Context, name string, q visits.GroupQuery) ([]visits.GroupRow, error) {
	start := time.Now()
	rows, err := e.agg.Group(ctx, q)
	metrics.AnalyticsQueryDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("error fetching %s: %w", name, err)
	}
	return rows, nil
}

// ranked sorts rows by visitors descending, then by keys ascending, and keeps at most limit (0 keeps all).
func ranked(rows []visits.GroupRow, limit int) []visits.GroupRow {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Visitors != rows[j].Visitors {
			return rows[i].Visitors > rows[j].Visitors
		}
		for k := range rows[i].Keys {
			if rows[i].Keys[k] != rows[j].Keys[k] {
				return rows[i].Keys[k] < rows[j].Keys[k]
			}
		}
		return false
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}

func summaryOf(r visits.GroupRow) Summary {
	return Summary{
		TotalVisitors:     r.Visitors,
		UniqueVisitors:    r.UniqueVisitors,
		TotalPageViews:    r.PageViews,
		AvgVisitDuration:  round2(r.AvgDuration),
		NewVisitors:       r.NewVisitors,
		ReturningVisitors: r.ReturningVisitors,
	}
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return limit
}
