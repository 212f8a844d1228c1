package core

import (
	"time"

	"github.com/pkg/errors"
)

const DateLayout = "2006-01-02"

var ErrFutureDate = errors.New("date cannot be in the future")

// Clock tells the current time. Injected so that "is this date in the future" checks are testable.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always returns the same instant.
type FixedClock time.Time

func (c FixedClock) Now() time.Time { return time.Time(c) }

// Date returns the civil date y-m-d as midnight UTC.
// Session dates are civil dates; keeping them in UTC makes them comparable and map-keyable.
func Date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// StartOfDay drops the time of day of t, keeping the calendar date as seen in t's location.
func StartOfDay(t time.Time) time.Time {
	return Date(t.Year(), t.Month(), t.Day())
}

// ParseDate parses a date string in YYYY-MM-DD format.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, CleanString(s))
	if err != nil {
		return time.Time{}, err
	}
	return StartOfDay(t), nil
}

// FormatDate is the inverse of ParseDate.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// Today returns the current civil date in loc.
func Today(clock Clock, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return StartOfDay(clock.Now().In(loc))
}

// ValidateNotFutureDate compares only the DATE (not time of day); today is allowed.
func ValidateNotFutureDate(d, today time.Time) error {
	if StartOfDay(d).After(StartOfDay(today)) {
		return ErrFutureDate
	}
	return nil
}
