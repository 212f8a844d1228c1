// Package schedule turns a class's recurring weekly pattern into concrete session dates.
package schedule

import (
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/classledger/core"
)

// DefaultMaxDays bounds how far a schedule may be walked when no limit is configured.
const DefaultMaxDays = 2 * 366

var (
	ErrNoWeekdays      = errors.New("schedule has no training days")
	ErrNoStartDate     = errors.New("schedule has no start date")
	ErrNoEndDate       = errors.New("schedule has no end date")
	ErrEndBeforeStart  = errors.New("schedule end date is before its start date")
	ErrNoHours         = errors.New("schedule has no hours per session")
	ErrTooLong         = errors.New("schedule spans more days than allowed")
	ErrInvalidInterval = errors.New("stop/restart interval restarts before it stops")
)

// Interval is a stop/restart pair. The class does not run from Stop (inclusive)
// until Restart (exclusive). A zero Restart means the class has not restarted yet.
type Interval struct {
	Stop    time.Time `json:"stop_date"`
	Restart time.Time `json:"restart_date"`
}

// Contains reports whether d falls inside the paused period.
func (iv Interval) Contains(d time.Time) bool {
	if d.Before(iv.Stop) {
		return false
	}
	return iv.Restart.IsZero() || d.Before(iv.Restart)
}

// Schedule describes when a class meets.
type Schedule struct {
	Weekdays        []time.Weekday           `json:"weekdays"`
	StartDate       time.Time                `json:"start_date"`
	EndDate         time.Time                `json:"end_date"`
	HoursPerSession float64                  `json:"hours_per_session"`
	WeekdayHours    map[time.Weekday]float64 `json:"weekday_hours,omitempty"`
	DateOverrides   map[string]float64       `json:"date_overrides,omitempty"` // YYYY-MM-DD -> hours
	StopRestart     []Interval               `json:"stop_restart,omitempty"`
	Holidays        []time.Time              `json:"holidays,omitempty"`
}

// Slot is one expected session.
type Slot struct {
	Date           time.Time
	ScheduledHours float64
}

// Validate checks the schedule is usable for walking (an end date is not required).
func (s Schedule) Validate() error {
	if len(s.Weekdays) == 0 {
		return ErrNoWeekdays
	}
	if s.StartDate.IsZero() {
		return ErrNoStartDate
	}
	if !s.EndDate.IsZero() && s.EndDate.Before(s.StartDate) {
		return ErrEndBeforeStart
	}
	if s.HoursPerSession <= 0 && len(s.WeekdayHours) == 0 {
		return ErrNoHours
	}
	for _, iv := range s.StopRestart {
		if !iv.Restart.IsZero() && iv.Restart.Before(iv.Stop) {
			return ErrInvalidInterval
		}
	}
	return nil
}

func (s Schedule) trainsOn(wd time.Weekday) bool {
	for _, d := range s.Weekdays {
		if d == wd {
			return true
		}
	}
	return false
}

func (s Schedule) paused(d time.Time) bool {
	for _, iv := range s.StopRestart {
		if iv.Contains(d) {
			return true
		}
	}
	return false
}

func (s Schedule) holiday(d time.Time) bool {
	for _, h := range s.Holidays {
		if core.StartOfDay(h).Equal(d) {
			return true
		}
	}
	return false
}

// hoursFor resolves the scheduled hours of d, ignoring range checks.
// A per-date override wins over the weekday hours, which win over the per-session constant.
func (s Schedule) hoursFor(d time.Time) (float64, bool) {
	if h, ok := s.DateOverrides[core.FormatDate(d)]; ok {
		return h, true
	}
	if h, ok := s.WeekdayHours[d.Weekday()]; ok {
		return h, false
	}
	return s.HoursPerSession, false
}

// slotOn returns the session held on d (a civil date), if any, ignoring the start/end bounds.
func (s Schedule) slotOn(d time.Time) (Slot, bool) {
	if !s.trainsOn(d.Weekday()) || s.paused(d) {
		return Slot{}, false
	}
	hours, overridden := s.hoursFor(d)
	if s.holiday(d) && !overridden {
		return Slot{}, false
	}
	if hours <= 0 || math.IsNaN(hours) || math.IsInf(hours, 0) {
		return Slot{}, false
	}
	return Slot{Date: d, ScheduledHours: hours}, true
}

// HoursOn returns the scheduled hours of the session held on date.
// ok is false when date does not belong to the schedule.
func (s Schedule) HoursOn(date time.Time) (hours float64, ok bool) {
	if s.Validate() != nil || s.EndDate.IsZero() {
		return 0, false
	}
	d := core.StartOfDay(date)
	if d.Before(core.StartOfDay(s.StartDate)) || d.After(core.StartOfDay(s.EndDate)) {
		return 0, false
	}
	slot, ok := s.slotOn(d)
	return slot.ScheduledHours, ok
}

// Sessions enumerates, in ascending order, every session between the start and end dates.
// It is deterministic: the same schedule always yields the same slots.
func (s Schedule) Sessions(maxDays int) ([]Slot, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if s.EndDate.IsZero() {
		return nil, ErrNoEndDate
	}
	if maxDays <= 0 {
		maxDays = DefaultMaxDays
	}

	start, end := core.StartOfDay(s.StartDate), core.StartOfDay(s.EndDate)
	if end.Sub(start) > time.Duration(maxDays)*24*time.Hour {
		return nil, ErrTooLong
	}

	var slots []Slot
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if slot, ok := s.slotOn(d); ok {
			slots = append(slots, slot)
		}
	}
	return slots, nil
}

// ComputeEndDate walks the schedule forward from the start date until the accumulated
// scheduled hours reach totalHours, and returns the date of the last session needed.
func ComputeEndDate(s Schedule, totalHours float64, maxDays int) (time.Time, error) {
	if err := s.Validate(); err != nil {
		return time.Time{}, err
	}
	if totalHours <= 0 {
		return time.Time{}, errors.New("total hours must be positive")
	}
	if maxDays <= 0 {
		maxDays = DefaultMaxDays
	}

	start := core.StartOfDay(s.StartDate)
	var acc float64
	for i := 0; i <= maxDays; i++ {
		d := start.AddDate(0, 0, i)
		if slot, ok := s.slotOn(d); ok {
			acc += slot.ScheduledHours
			if acc >= totalHours {
				return d, nil
			}
		}
	}
	return time.Time{}, ErrTooLong
}
