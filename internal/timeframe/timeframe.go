// Package timeframe holds the UTC date arithmetic shared by queries and handlers:
// inclusive ranges, hour/day buckets and their zero-filled key sequences.
package timeframe

import (
	"time"
)

type BucketSize string

const (
	BucketSizeDay  BucketSize = "day"
	BucketSizeHour BucketSize = "hour"
)

// DayKeyLayout is the Go layout of a day bucket key.
const DayKeyLayout = "2006-01-02"

// HourKeyLayout is the Go layout of an hour bucket key.
const HourKeyLayout = "2006-01-02 15"

// EndOfDayOffset is added to midnight to reach the last instant of a day at millisecond precision.
const EndOfDayOffset = 24*time.Hour - time.Millisecond

type TimeProvider interface {
	Now() time.Time
}

// DefaultTimeProvider reads the system clock in UTC.
type DefaultTimeProvider struct{}

func (p *DefaultTimeProvider) Now() time.Time {
	return time.Now().UTC()
}

// FixedTimeProvider always returns T. Used by tests and the seeder.
type FixedTimeProvider struct {
	T time.Time
}

func (p *FixedTimeProvider) Now() time.Time {
	return p.T.UTC()
}

// Range is a closed interval [From, To].
type Range struct {
	From time.Time
	To   time.Time
}

// DayRange covers the UTC calendar day containing t, from 00:00:00.000 to 23:59:59.999.
func DayRange(t time.Time) Range {
	start := StartOfDay(t)
	return Range{From: start, To: start.Add(EndOfDayOffset)}
}

// DaysRange covers whole UTC days from the day of start to the day of end.
func DaysRange(start, end time.Time) Range {
	return Range{From: StartOfDay(start), To: StartOfDay(end).Add(EndOfDayOffset)}
}

// LastDays covers n whole days ending with the day of now. n below 1 is treated as 1.
func LastDays(now time.Time, n int) Range {
	if n < 1 {
		n = 1
	}
	return DaysRange(StartOfDay(now).AddDate(0, 0, -(n - 1)), now)
}

// StartOfDay truncates t to midnight UTC.
func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Contains reports whether t lies inside the closed interval.
func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.From) && !t.After(r.To)
}

// Valid reports whether From does not come after To.
func (r Range) Valid() bool {
	return !r.From.After(r.To)
}

// SQLiteFormat is the strftime pattern producing this bucket's keys.
func (b BucketSize) SQLiteFormat() string {
	if b == BucketSizeHour {
		return "%Y-%m-%d %H"
	}
	return "%Y-%m-%d"
}

// MongoFormat is the $dateToString pattern producing this bucket's keys.
func (b BucketSize) MongoFormat() string {
	return b.SQLiteFormat()
}

// Truncate moves t to the start of its bucket in UTC.
func (b BucketSize) Truncate(t time.Time) time.Time {
	t = t.UTC()
	if b == BucketSizeHour {
		return t.Truncate(time.Hour)
	}
	return StartOfDay(t)
}

// Key formats the bucket containing t.
func (b BucketSize) Key(t time.Time) string {
	if b == BucketSizeHour {
		return t.UTC().Format(HourKeyLayout)
	}
	return t.UTC().Format(DayKeyLayout)
}

func (b BucketSize) step(t time.Time) time.Time {
	if b == BucketSizeHour {
		return t.Add(time.Hour)
	}
	return t.AddDate(0, 0, 1)
}

// Buckets lists every bucket start touched by r, in ascending order.
func Buckets(r Range, b BucketSize) []time.Time {
	if !r.Valid() {
		return nil
	}
	var out []time.Time
	for cur := b.Truncate(r.From); !cur.After(r.To); cur = b.step(cur) {
		out = append(out, cur)
	}
	return out
}
