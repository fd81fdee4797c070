// Package timerange holds the interval primitives used by scheduling: clock
// times within a single calendar day, half-open overlap and containment tests,
// and inclusive calendar-date ranges.
package timerange

import (
	"cmp"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidRange is returned when an interval does not end after it starts.
var ErrInvalidRange = errors.New("invalid range")

const (
	// DateLayout is the wire format for calendar dates.
	DateLayout = "2006-01-02"

	secondsPerDay = 24 * 60 * 60
)

// Clock is a time of day with second precision, stored as seconds since
// midnight. Valid values are in [0, 86400).
type Clock int

// NewClock builds a Clock from its components. It does not validate ranges.
func NewClock(hour, minute, second int) Clock {
	return Clock(hour*3600 + minute*60 + second)
}

// ParseClock accepts "HH:MM" or "HH:MM:SS".
func ParseClock(s string) (Clock, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, fmt.Errorf("invalid clock time %q: expected HH:MM or HH:MM:SS", s)
	}
	limits := []int{23, 59, 59}
	vals := make([]int, 3)
	for i, p := range parts {
		if len(p) != 2 {
			return 0, fmt.Errorf("invalid clock time %q", s)
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > limits[i] {
			return 0, fmt.Errorf("invalid clock time %q", s)
		}
		vals[i] = n
	}
	return NewClock(vals[0], vals[1], vals[2]), nil
}

// MustParseClock is ParseClock for constants and tests.
func MustParseClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

// ClockOf returns the time-of-day part of t in t's location.
func ClockOf(t time.Time) Clock {
	return NewClock(t.Hour(), t.Minute(), t.Second())
}

func (c Clock) Hour() int   { return int(c) / 3600 }
func (c Clock) Minute() int { return int(c) % 3600 / 60 }
func (c Clock) Second() int { return int(c) % 60 }

// Valid reports whether c is a time of day.
func (c Clock) Valid() bool { return c >= 0 && c < secondsPerDay }

// Add shifts the clock by d. The result is not wrapped past midnight.
func (c Clock) Add(d time.Duration) Clock {
	return c + Clock(d/time.Second)
}

// Duration returns c as an offset from midnight.
func (c Clock) Duration() time.Duration {
	return time.Duration(c) * time.Second
}

// String formats as HH:MM:SS.
func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", c.Hour(), c.Minute(), c.Second())
}

// HHMM formats as HH:MM.
func (c Clock) HHMM() string {
	return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute())
}

func (c Clock) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Clock) UnmarshalText(b []byte) error {
	parsed, err := ParseClock(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Overlaps reports whether the half-open intervals [aStart, aEnd) and
// [bStart, bEnd) intersect. Touching endpoints do not overlap.
func Overlaps[T cmp.Ordered](aStart, aEnd, bStart, bEnd T) bool {
	return aStart < bEnd && bStart < aEnd
}

// Contains reports whether [innerStart, innerEnd] lies within [outerStart, outerEnd].
func Contains[T cmp.Ordered](outerStart, outerEnd, innerStart, innerEnd T) bool {
	return outerStart <= innerStart && innerEnd <= outerEnd
}

// DurationMinutes returns end - start in whole minutes.
func DurationMinutes(start, end Clock) (int, error) {
	if end <= start {
		return 0, fmt.Errorf("%w: end %s is not after start %s", ErrInvalidRange, end, start)
	}
	return int(end-start) / 60, nil
}

// QuarterHourSlotCount returns how many whole 15-minute slots fit in [start, end).
func QuarterHourSlotCount(start, end Clock) (int, error) {
	m, err := DurationMinutes(start, end)
	if err != nil {
		return 0, err
	}
	return m / 15, nil
}

// ---------- Dates ----------

// ParseDate parses a YYYY-MM-DD date at midnight in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	d, err := time.ParseInLocation(DateLayout, strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return d, nil
}

// DateOf truncates t to midnight in t's location.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// On combines the calendar date of date with the clock time c in loc.
func On(date time.Time, c Clock, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := date.Date()
	return time.Date(y, m, d, c.Hour(), c.Minute(), c.Second(), 0, loc)
}

// SameDate compares calendar dates, ignoring clock and location.
func SameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// DateWithin reports whether the calendar date of d is in [start, end], inclusive.
func DateWithin(d, start, end time.Time) bool {
	k := dateKey(d)
	return dateKey(start) <= k && k <= dateKey(end)
}

// DatesIntersect reports whether the inclusive date ranges [aStart, aEnd] and
// [bStart, bEnd] share at least one day.
func DatesIntersect(aStart, aEnd, bStart, bEnd time.Time) bool {
	return dateKey(aStart) <= dateKey(bEnd) && dateKey(bStart) <= dateKey(aEnd)
}

// WeekStart returns the Monday of the week containing d, at midnight.
func WeekStart(d time.Time) time.Time {
	d = DateOf(d)
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDate(0, 0, -offset)
}

func dateKey(t time.Time) int {
	y, m, d := t.Date()
	return y*10000 + int(m)*100 + d
}
