package timeframe

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidRange is returned when a start date falls after its end date.
var ErrInvalidRange = errors.New("start date is after end date")

type Parser struct {
	timeProvider TimeProvider
}

func NewParser(timeProvider ...TimeProvider) *Parser {
	var provider TimeProvider = &DefaultTimeProvider{}
	if len(timeProvider) > 0 && timeProvider[0] != nil {
		provider = timeProvider[0]
	}
	return &Parser{timeProvider: provider}
}

// Now returns the provider's current time.
func (p *Parser) Now() time.Time {
	return p.timeProvider.Now()
}

// ParseDate accepts YYYY-MM-DD or RFC3339. A date-only end value expands to 23:59:59.999 UTC.
func ParseDate(value string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(DayKeyLayout, value); err == nil {
		if endOfDay {
			return t.Add(EndOfDayOffset), nil
		}
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected YYYY-MM-DD or RFC3339, got %q", value)
	}
	return t.UTC(), nil
}

// ParseOptionalRange returns nil when both bounds are empty, meaning all history.
// A missing start is open (zero time); a missing end is now.
func (p *Parser) ParseOptionalRange(start, end string) (*Range, error) {
	if start == "" && end == "" {
		return nil, nil
	}
	r, err := p.parse(start, end, time.Time{})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ParseRange returns the requested range, defaulting to the last defaultDays days.
func (p *Parser) ParseRange(start, end string, defaultDays int) (Range, error) {
	if start == "" && end == "" {
		return LastDays(p.Now(), defaultDays), nil
	}
	return p.parse(start, end, LastDays(p.Now(), defaultDays).From)
}

func (p *Parser) parse(start, end string, defaultFrom time.Time) (Range, error) {
	r := Range{From: defaultFrom, To: p.Now()}

	if start != "" {
		from, err := ParseDate(start, false)
		if err != nil {
			return Range{}, fmt.Errorf("invalid startDate: %w", err)
		}
		r.From = from
	}
	if end != "" {
		to, err := ParseDate(end, true)
		if err != nil {
			return Range{}, fmt.Errorf("invalid endDate: %w", err)
		}
		r.To = to
	}
	if !r.Valid() {
		return Range{}, ErrInvalidRange
	}
	return r, nil
}
