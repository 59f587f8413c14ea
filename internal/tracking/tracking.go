// Package tracking turns accepted tracking events into enriched visit records.
// Work is dispatched on the session-keyed write queue so the HTTP response never
// waits on enrichment or persistence.
package tracking

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"visitly/internal/metrics"
	"visitly/internal/pkg/async"
	"visitly/internal/pkg/bots"
	"visitly/internal/pkg/geoip"
	"visitly/internal/pkg/referrers"
	"visitly/internal/pkg/user_agent"
	"visitly/internal/visits"
)

// MaxPageSeconds caps the duration credited to a single page view.
const MaxPageSeconds = 24 * 60 * 60

// Event is the payload of POST /track.
type Event struct {
	SessionID        string  `json:"sessionId" validate:"required,max=256"`
	UserAgent        string  `json:"userAgent"`
	Referrer         string  `json:"referrer"`
	Page             string  `json:"page" validate:"required,max=2048"`
	PageTitle        string  `json:"pageTitle"`
	ArticleID        string  `json:"articleId"`
	Duration         float64 `json:"duration" validate:"gte=0,lte=86400"`
	PageViews        int     `json:"pageViews"`
	ScreenResolution string  `json:"screenResolution"`
	Language         string  `json:"language"`
	Timezone         string  `json:"timezone"`
}

// ConversionEvent is the payload of POST /track/conversion.
type ConversionEvent struct {
	SessionID       string `json:"sessionId" validate:"required,max=256"`
	Conversion      string `json:"conversion" validate:"required,max=256"`
	ConversionValue string `json:"conversionValue" validate:"max=2048"`
}

// Meta is what the server observed about the request carrying an event.
type Meta struct {
	IP         string
	UserAgent  string
	ReceivedAt time.Time
}

// Service enriches and persists tracking events in the background.
type Service struct {
	store  visits.Store
	geo    *geoip.Client
	queue  *async.Queue
	window time.Duration
	logger *slog.Logger
}

// NewService wires the pipeline. window is the returning-visitor inactivity gap.
func NewService(store visits.Store, geo *geoip.Client, queue *async.Queue, window time.Duration, logger *slog.Logger) *Service {
	if window <= 0 {
		window = visits.DefaultReturningWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, geo: geo, queue: queue, window: window, logger: logger}
}

// Track dispatches the enrichment and write of ev. It reports whether the job was queued.
func (s *Service) Track(ev Event, meta Meta) bool {
	ok := s.queue.Submit(async.Job{
		Key:  ev.SessionID,
		Name: "track",
		Run: func(ctx context.Context) error {
			_, err := s.Record(ctx, ev, meta)
			return err
		},
	})
	if ok {
		metrics.TrackEvents.WithLabelValues("accepted").Inc()
	} else {
		metrics.TrackEvents.WithLabelValues("dropped").Inc()
	}
	return ok
}

// Record runs the enrichment pipeline synchronously and stores the visit.
func (s *Service) Record(ctx context.Context, ev Event, meta Meta) (*visits.Visit, error) {
	v := s.Enrich(ctx, ev, meta)

	if err := s.store.Create(ctx, v); err != nil {
		metrics.TrackEvents.WithLabelValues("failed").Inc()
		metrics.StoreWriteFailures.WithLabelValues("create").Inc()
		s.logger.Error("Failed to store visit",
			slog.String("session_id", ev.SessionID),
			slog.String("page", ev.Page),
			slog.Any("error", err))
		return nil, err
	}

	metrics.TrackEvents.WithLabelValues("stored").Inc()
	return v, nil
}

// Enrich builds the visit record for ev without persisting it.
func (s *Service) Enrich(ctx context.Context, ev Event, meta Meta) *visits.Visit {
	at := meta.ReceivedAt.UTC().Truncate(time.Millisecond)
	if meta.ReceivedAt.IsZero() {
		at = time.Now().UTC().Truncate(time.Millisecond)
	}

	ua := ev.UserAgent
	if ua == "" {
		ua = meta.UserAgent
	}

	sig, isBot := bots.Match(ua)
	parsed := user_agent.Parse(ua)
	campaign := referrers.ParseCampaign(ev.Referrer)

	loc := geoip.Unknown()
	if isBot {
		metrics.TrackEvents.WithLabelValues("bot").Inc()
		s.logger.Debug("Bot visit, skipping geo lookup",
			slog.String("signature", sig),
			slog.String("session_id", ev.SessionID))
	} else {
		loc = s.geo.Locate(ctx, meta.IP)
	}
	if loc.Timezone == geoip.UnknownValue && ev.Timezone != "" {
		loc.Timezone = ev.Timezone
	}

	prior, err := s.store.LatestForSession(ctx, ev.SessionID, meta.IP)
	if err != nil {
		if !errors.Is(err, visits.ErrNotFound) {
			s.logger.Warn("Failed to read prior visit, classifying as new",
				slog.String("session_id", ev.SessionID),
				slog.Any("error", err))
		}
		prior = nil
	}

	v := &visits.Visit{
		SessionID:        ev.SessionID,
		IP:               meta.IP,
		Country:          loc.Country,
		CountryCode:      loc.CountryCode,
		Region:           loc.Region,
		City:             loc.City,
		Timezone:         loc.Timezone,
		Latitude:         loc.Latitude,
		Longitude:        loc.Longitude,
		Browser:          parsed.Browser,
		BrowserVersion:   parsed.BrowserVersion,
		OS:               parsed.OS,
		OSVersion:        parsed.OSVersion,
		Device:           parsed.Device,
		UserAgent:        ua,
		ScreenResolution: ev.ScreenResolution,
		Language:         ev.Language,
		Referrer:         ev.Referrer,
		ReferrerSource:   referrers.Source(ev.Referrer),
		UTMSource:        campaign.Source,
		UTMMedium:        campaign.Medium,
		UTMCampaign:      campaign.Campaign,
		UTMTerm:          campaign.Term,
		UTMContent:       campaign.Content,
		Page:             ev.Page,
		PageTitle:        ev.PageTitle,
		ArticleID:        ev.ArticleID,
		IsBot:            isBot,
		LastVisit:        at,
		VisitDate:        at,
	}
	visits.Classify(prior, at, s.window).Apply(v)
	return v
}

// Complete dispatches the page view completion of (sessionID, page).
func (s *Service) Complete(sessionID, page string, seconds int64, at time.Time) bool {
	at = at.UTC().Truncate(time.Millisecond)
	return s.queue.Submit(async.Job{
		Key:  sessionID,
		Name: "complete",
		Run: func(ctx context.Context) error {
			err := s.store.RecordPageView(ctx, sessionID, page, seconds, at)
			if err != nil {
				metrics.StoreWriteFailures.WithLabelValues("page_view").Inc()
			}
			return err
		},
	})
}

// Convert dispatches a conversion update for the latest visit of the session.
func (s *Service) Convert(ev ConversionEvent) bool {
	return s.queue.Submit(async.Job{
		Key:  ev.SessionID,
		Name: "conversion",
		Run: func(ctx context.Context) error {
			err := s.store.SetConversion(ctx, ev.SessionID, ev.Conversion, ev.ConversionValue)
			if err != nil {
				metrics.StoreWriteFailures.WithLabelValues("conversion").Inc()
			}
			return err
		},
	})
}

// CompletionSeconds picks the duration credited to a page view: the client's
// positive report, else the elapsed exchange time. The result is rounded to
// whole seconds and clamped to [0, MaxPageSeconds].
func CompletionSeconds(clientSeconds float64, elapsed time.Duration) int64 {
	seconds := elapsed.Seconds()
	if clientSeconds > 0 {
		seconds = clientSeconds
	}
	if math.IsNaN(seconds) || seconds <= 0 {
		return 0
	}
	return int64(math.Round(math.Min(seconds, MaxPageSeconds)))
}
