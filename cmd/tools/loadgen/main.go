// main.go - Load generator for the visitly tracking endpoint
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"visitly/internal/tracking"
)

// LoadConfig holds the configuration for a load run
type LoadConfig struct {
	BaseURL     string
	Concurrency int
	Duration    time.Duration
	Rate        int
	Sessions    int
	Timeout     time.Duration
	Output      string
}

// Result captures the outcome of a single request
type Result struct {
	Duration   time.Duration
	StatusCode int
	Error      error
}

// Stats aggregates results. It is only touched by the collector goroutine.
type Stats struct {
	Total       int64
	Successful  int64
	Failed      int64
	StatusCodes map[int]int64
	Latencies   *hdrhistogram.Histogram // microseconds
	Start       time.Time
	End         time.Time
}

// maxTrackedLatency is the largest latency the histogram resolves.
const maxTrackedLatency = time.Minute

func newStats(start time.Time) *Stats {
	return &Stats{
		StatusCodes: make(map[int]int64),
		Latencies:   hdrhistogram.New(1, maxTrackedLatency.Microseconds(), 3),
		Start:       start,
	}
}

// Report is the JSON summary written with -out.
type Report struct {
	Total         int64         `json:"total"`
	Successful    int64         `json:"successful"`
	Failed        int64         `json:"failed"`
	RequestsPerS  float64       `json:"requestsPerSecond"`
	P50           time.Duration `json:"p50"`
	P95           time.Duration `json:"p95"`
	P99           time.Duration `json:"p99"`
	Max           time.Duration `json:"max"`
	StatusCodes   map[int]int64 `json:"statusCodes"`
	DurationTotal time.Duration `json:"duration"`
}

var paths = []string{"/", "/pricing", "/blog", "/blog/launch", "/docs", "/docs/api", "/about", "/signup"}

var referrers = []string{
	"",
	"https://www.google.com/search?q=visitly",
	"https://news.ycombinator.com/",
	"https://t.co/abc",
	"https://newsletter.example.com/?utm_source=newsletter&utm_medium=email&utm_campaign=weekly",
}

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36",
	"Mozilla/5.0 (compatible; bingbot/2.0; +http://www.bing.com/bingbot.htm)",
}

func main() {
	cfg := LoadConfig{}
	flag.StringVar(&cfg.BaseURL, "url", "http://localhost:3000", "Base URL of the visitly server")
	flag.IntVar(&cfg.Concurrency, "c", 10, "Number of concurrent clients")
	flag.DurationVar(&cfg.Duration, "d", 30*time.Second, "Duration of the run")
	flag.IntVar(&cfg.Rate, "rate", 0, "Target events per second across all clients (0 = unlimited)")
	flag.IntVar(&cfg.Sessions, "sessions", 200, "Number of distinct sessions to simulate")
	flag.DurationVar(&cfg.Timeout, "timeout", 10*time.Second, "Request timeout")
	flag.StringVar(&cfg.Output, "out", "", "Write a JSON report to this file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, cancelRun := context.WithTimeout(ctx, cfg.Duration)
	defer cancelRun()

	logger.Info("Starting load run",
		slog.String("target", cfg.BaseURL+"/track"),
		slog.Int("concurrency", cfg.Concurrency),
		slog.Duration("duration", cfg.Duration),
		slog.Int("rate", cfg.Rate))

	stats := newStats(time.Now())
	for res := range run(ctx, cfg, newSessionPool(cfg.Sessions)) {
		stats.Add(res)
	}
	stats.End = time.Now()

	report := stats.Report()
	printReport(os.Stdout, report)
	if cfg.Output != "" {
		if err := writeReport(cfg.Output, report); err != nil {
			logger.Error("Failed to write report", slog.Any("error", err))
			os.Exit(1)
		}
	}
}

// sessionPool hands out a fixed set of session identities so repeated
// events exercise continuing and returning classification.
type sessionPool struct {
	ids []string
	ips []string
}

func newSessionPool(n int) *sessionPool {
	if n <= 0 {
		n = 1
	}
	p := &sessionPool{ids: make([]string, n), ips: make([]string, n)}
	for i := range p.ids {
		p.ids[i] = uuid.NewString()
		p.ips[i] = fmt.Sprintf("203.0.%d.%d", 113+i/250%2, 1+i%250)
	}
	return p
}

func (p *sessionPool) pick(rng *rand.Rand) (string, string) {
	i := rng.IntN(len(p.ids))
	return p.ids[i], p.ips[i]
}

func run(ctx context.Context, cfg LoadConfig, pool *sessionPool) <-chan Result {
	results := make(chan Result, cfg.Concurrency*10)

	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	limiter := rate.NewLimiter(limit, max(1, cfg.Concurrency))

	var wg sync.WaitGroup
	for i := 0; i < cfg.Concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			client := &http.Client{Timeout: cfg.Timeout}
			rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(worker)))
			for {
				if err := limiter.Wait(ctx); err != nil {
					return
				}
				sessionID, ip := pool.pick(rng)
				res := send(ctx, client, cfg.BaseURL, buildEvent(rng, sessionID), ip, userAgents[rng.IntN(len(userAgents))])
				if ctx.Err() != nil {
					return
				}
				results <- res
			}
		}(i)
	}

	go func() {
		wg.Wait()
		close(results)
	}()
	return results
}

func buildEvent(rng *rand.Rand, sessionID string) tracking.Event {
	return tracking.Event{
		SessionID:        sessionID,
		Page:             paths[rng.IntN(len(paths))],
		Referrer:         referrers[rng.IntN(len(referrers))],
		Duration:         float64(rng.IntN(120)) + rng.Float64(),
		ScreenResolution: "1920x1080",
		Language:         "en-US",
	}
}

func send(ctx context.Context, client *http.Client, baseURL string, ev tracking.Event, ip, ua string) Result {
	body, err := json.Marshal(ev)
	if err != nil {
		return Result{Error: fmt.Errorf("failed to marshal event: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/track", bytes.NewReader(body))
	if err != nil {
		return Result{Error: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", ua)
	req.Header.Set("X-Forwarded-For", ip)

	start := time.Now()
	resp, err := client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return Result{Duration: elapsed, Error: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return Result{Duration: elapsed, StatusCode: resp.StatusCode}
}

// Add folds one result into the totals.
func (s *Stats) Add(r Result) {
	s.Total++
	if r.Error != nil {
		s.Failed++
		return
	}
	s.StatusCodes[r.StatusCode]++
	// Values above the histogram range are recorded at its ceiling.
	_ = s.Latencies.RecordValue(min(max(r.Duration.Microseconds(), 1), maxTrackedLatency.Microseconds()))
	if r.StatusCode == http.StatusOK {
		s.Successful++
	} else {
		s.Failed++
	}
}

// Report computes throughput and latency percentiles.
func (s *Stats) Report() Report {
	elapsed := s.End.Sub(s.Start)
	r := Report{
		Total:         s.Total,
		Successful:    s.Successful,
		Failed:        s.Failed,
		StatusCodes:   s.StatusCodes,
		DurationTotal: elapsed,
	}
	if s.Latencies.TotalCount() > 0 {
		r.P50 = latencyAt(s.Latencies, 50)
		r.P95 = latencyAt(s.Latencies, 95)
		r.P99 = latencyAt(s.Latencies, 99)
		r.Max = time.Duration(s.Latencies.Max()) * time.Microsecond
	}
	if elapsed > 0 {
		r.RequestsPerS = float64(s.Total) / elapsed.Seconds()
	}
	return r
}

func latencyAt(h *hdrhistogram.Histogram, q float64) time.Duration {
	return time.Duration(h.ValueAtQuantile(q)) * time.Microsecond
}

func printReport(w io.Writer, r Report) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "\n%s\t%s\n", "METRIC", "VALUE")
	fmt.Fprintf(tw, "%s\t%s\n", "------", "-----")
	fmt.Fprintf(tw, "Total Requests\t%d\n", r.Total)
	fmt.Fprintf(tw, "Successful\t%d\n", r.Successful)
	fmt.Fprintf(tw, "Failed\t%d\n", r.Failed)
	fmt.Fprintf(tw, "Requests/sec\t%.2f\n", r.RequestsPerS)
	fmt.Fprintf(tw, "p50\t%v\n", r.P50)
	fmt.Fprintf(tw, "p95\t%v\n", r.P95)
	fmt.Fprintf(tw, "p99\t%v\n", r.P99)
	fmt.Fprintf(tw, "Max\t%v\n", r.Max)

	codes := make([]int, 0, len(r.StatusCodes))
	for code := range r.StatusCodes {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		fmt.Fprintf(tw, "Status %d\t%d\n", code, r.StatusCodes[code])
	}
	tw.Flush()
}

func writeReport(path string, r Report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
