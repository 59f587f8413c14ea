package main

import (
	"bytes"
	"context"
	"io"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visitly/internal/tracking"
)

func TestStatsPercentiles(t *testing.T) {
	s := newStats(time.Unix(0, 0))
	for i := 1; i <= 100; i++ {
		s.Add(Result{StatusCode: 200, Duration: time.Duration(i) * time.Millisecond})
	}
	s.End = time.Unix(1, 0)
	r := s.Report()

	tests := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"p50", r.P50, 50 * time.Millisecond},
		{"p95", r.P95, 95 * time.Millisecond},
		{"p99", r.P99, 99 * time.Millisecond},
		{"max", r.Max, 100 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, float64(tt.want), float64(tt.got), float64(200*time.Microsecond))
		})
	}
}

func TestStatsReportEmpty(t *testing.T) {
	s := newStats(time.Unix(0, 0))
	s.Add(Result{Error: io.EOF})
	s.End = time.Unix(1, 0)
	r := s.Report()
	assert.Zero(t, r.P50)
	assert.Zero(t, r.Max)
	assert.Equal(t, int64(1), r.Failed)
}

func TestStatsClampsSlowRequests(t *testing.T) {
	s := newStats(time.Unix(0, 0))
	s.Add(Result{StatusCode: 200, Duration: 5 * time.Minute})
	s.End = time.Unix(1, 0)
	assert.InDelta(t, float64(maxTrackedLatency), float64(s.Report().Max), float64(100*time.Millisecond))
}

func TestStatsReport(t *testing.T) {
	s := newStats(time.Unix(0, 0))
	s.Add(Result{StatusCode: 200, Duration: 10 * time.Millisecond})
	s.Add(Result{StatusCode: 200, Duration: 30 * time.Millisecond})
	s.Add(Result{StatusCode: 429, Duration: 5 * time.Millisecond})
	s.Add(Result{Error: io.EOF})
	s.End = time.Unix(2, 0)

	r := s.Report()
	assert.Equal(t, int64(4), r.Total)
	assert.Equal(t, int64(2), r.Successful)
	assert.Equal(t, int64(2), r.Failed)
	assert.Equal(t, 2.0, r.RequestsPerS)
	assert.InDelta(t, float64(30*time.Millisecond), float64(r.Max), float64(50*time.Microsecond))
	assert.Equal(t, int64(1), r.StatusCodes[429])

	var buf bytes.Buffer
	printReport(&buf, r)
	assert.Contains(t, buf.String(), "Status 429")
}

func TestRunSendsValidEvents(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/track", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("X-Forwarded-For"))
		var ev tracking.Event
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&ev))
		assert.NotEmpty(t, ev.SessionID)
		assert.NotEmpty(t, ev.Page)
		hits.Add(1)
		w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	stats := newStats(time.Now())
	for res := range run(ctx, LoadConfig{BaseURL: srv.URL, Concurrency: 2, Rate: 50, Timeout: time.Second}, newSessionPool(3)) {
		stats.Add(res)
	}
	require.Positive(t, stats.Total)
	assert.Equal(t, stats.Total, stats.Successful)
	assert.GreaterOrEqual(t, int64(hits.Load()), stats.Total)
}

func TestSessionPoolReusesIdentities(t *testing.T) {
	pool := newSessionPool(2)
	rng := rand.New(rand.NewPCG(1, 2))
	seen := map[string]string{}
	for i := 0; i < 50; i++ {
		id, ip := pool.pick(rng)
		if prev, ok := seen[id]; ok {
			assert.Equal(t, prev, ip)
		}
		seen[id] = ip
	}
	assert.Len(t, seen, 2)
}
