// Package seeder fills a visit store with realistic demo traffic by replaying
// synthetic tracking events through the enrichment pipeline.
package seeder

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pariz/gountries"

	"visitly/internal/pkg/geoip"
	"visitly/internal/timeframe"
	"visitly/internal/tracking"
	"visitly/internal/visits"
)

type place struct {
	country  string
	region   string
	city     string
	timezone string
	weight   int
}

var places = []place{
	{"United States", "California", "San Francisco", "America/Los_Angeles", 30},
	{"United States", "New York", "New York", "America/New_York", 20},
	{"Germany", "Berlin", "Berlin", "Europe/Berlin", 12},
	{"United Kingdom", "England", "London", "Europe/London", 10},
	{"France", "Ile-de-France", "Paris", "Europe/Paris", 8},
	{"Spain", "Madrid", "Madrid", "Europe/Madrid", 6},
	{"Japan", "Tokyo", "Tokyo", "Asia/Tokyo", 6},
	{"Brazil", "Sao Paulo", "Sao Paulo", "America/Sao_Paulo", 5},
	{"India", "Karnataka", "Bengaluru", "Asia/Kolkata", 5},
	{"Canada", "Ontario", "Toronto", "America/Toronto", 4},
}

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36",
	"Mozilla/5.0 (iPad; CPU OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)",
}

var pages = []struct{ path, title string }{
	{"/", "Home"},
	{"/pricing", "Pricing"},
	{"/blog/launch", "We launched"},
	{"/blog/scaling-sqlite", "Scaling SQLite"},
	{"/docs/getting-started", "Getting started"},
	{"/docs/api", "API reference"},
	{"/about", "About"},
	{"/signup", "Sign up"},
}

var referrerURLs = []string{
	"",
	"",
	"https://www.google.com/search?q=visitly",
	"https://news.ycombinator.com/item?id=1",
	"https://twitter.com/someone/status/1",
	"https://www.reddit.com/r/golang/",
	"https://duckduckgo.com/?q=analytics",
	"https://blog.example.org/?utm_source=newsletter&utm_medium=email&utm_campaign=spring_launch",
	"https://ads.example.net/click?utm_source=google&utm_medium=cpc&utm_campaign=brand",
}

var conversions = []string{"scroll_75", "time_total", "outbound_click"}

// Options controls how much traffic is generated.
type Options struct {
	Visits int
	Days   int
	Now    time.Time
	Seed   uint64
}

// Result summarizes a seeding run.
type Result struct {
	Sessions    int
	Visits      int
	Conversions int
}

// Seeder writes synthetic visits through the tracking pipeline.
type Seeder struct {
	store  visits.Store
	logger *slog.Logger
}

func NewSeeder(store visits.Store, logger *slog.Logger) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Seeder{store: store, logger: logger}
}

// Resolver returns the static geolocation table seeded visits resolve against,
// one documentation-range address per place.
func Resolver() (geoip.StaticResolver, []string) {
	query := gountries.New()
	table := make(geoip.StaticResolver, len(places))
	ips := make([]string, 0, len(places))
	for i, p := range places {
		ip := fmt.Sprintf("198.51.100.%d", i+1)
		loc := geoip.Location{
			Country:  p.country,
			Region:   p.region,
			City:     p.city,
			Timezone: p.timezone,
		}
		if c, err := query.FindCountryByName(p.country); err == nil {
			loc.CountryCode = c.Codes.Alpha2
		}
		table[ip] = loc
		ips = append(ips, ip)
	}
	return table, ips
}

// Seed generates opts.Visits page views spread over the last opts.Days days.
func (s *Seeder) Seed(ctx context.Context, opts Options) (Result, error) {
	if opts.Visits <= 0 {
		opts.Visits = 500
	}
	if opts.Days <= 0 {
		opts.Days = 30
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now().UTC()
	}
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))

	table, ips := Resolver()
	geo := geoip.NewClient(table, "static", s.logger)
	// The pipeline is driven synchronously, so no queue is needed.
	svc := tracking.NewService(s.store, geo, nil, 0, s.logger)

	start := timeframe.StartOfDay(opts.Now).AddDate(0, 0, -(opts.Days - 1))
	span := opts.Now.Sub(start)
	if span <= 0 {
		span = time.Second
	}

	var res Result
	for res.Visits < opts.Visits {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		sessionID := uuid.NewString()
		ip := ips[weightedPlace(rng)]
		ua := userAgents[rng.IntN(len(userAgents))]
		referrer := referrerURLs[rng.IntN(len(referrerURLs))]
		at := start.Add(time.Duration(rng.Int64N(int64(span))))
		res.Sessions++

		depth := 1 + rng.IntN(4)
		for i := 0; i < depth && res.Visits < opts.Visits; i++ {
			page := pages[rng.IntN(len(pages))]
			ev := tracking.Event{
				SessionID:        sessionID,
				Page:             page.path,
				PageTitle:        page.title,
				Referrer:         referrer,
				UserAgent:        ua,
				ScreenResolution: "1920x1080",
				Language:         "en-US",
			}
			if _, err := svc.Record(ctx, ev, tracking.Meta{IP: ip, UserAgent: ua, ReceivedAt: at}); err != nil {
				return res, fmt.Errorf("failed to record visit: %w", err)
			}
			seconds := int64(5 + rng.IntN(240))
			if err := s.store.RecordPageView(ctx, sessionID, page.path, seconds, at.Add(time.Duration(seconds)*time.Second)); err != nil {
				return res, fmt.Errorf("failed to record page view: %w", err)
			}
			res.Visits++
			referrer = ""
			at = at.Add(time.Duration(seconds+int64(rng.IntN(30))) * time.Second)
			if at.After(opts.Now) {
				at = opts.Now
			}
		}

		if rng.IntN(10) == 0 {
			label := conversions[rng.IntN(len(conversions))]
			var value string
			if label == "time_total" {
				value = strconv.Itoa(10 + rng.IntN(300))
			}
			if err := s.store.SetConversion(ctx, sessionID, label, value); err != nil {
				return res, fmt.Errorf("failed to record conversion: %w", err)
			}
			res.Conversions++
		}
	}

	s.logger.Info("Seeding completed",
		slog.Int("sessions", res.Sessions),
		slog.Int("visits", res.Visits),
		slog.Int("conversions", res.Conversions))
	return res, nil
}

func weightedPlace(rng *rand.Rand) int {
	total := 0
	for _, p := range places {
		total += p.weight
	}
	n := rng.IntN(total)
	for i, p := range places {
		if n < p.weight {
			return i
		}
		n -= p.weight
	}
	return len(places) - 1
}
