package class

import (
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/classledger/core/schedule"
)

// Status is the effective lifecycle state of a class.
type Status string

const (
	StatusDraft   Status = "draft"
	StatusActive  Status = "active"
	StatusStopped Status = "stopped"
)

var Statuses = []Status{StatusDraft, StatusActive, StatusStopped}

// ParseStatus converts s into a Status. ok is false for anything outside the closed set.
func ParseStatus(s string) (st Status, ok bool) {
	switch Status(s) {
	case StatusDraft, StatusActive, StatusStopped:
		return Status(s), true
	}
	return "", false
}

// StopReason explains why an active class was stopped.
type StopReason string

const (
	ReasonProgrammeEnded StopReason = "programme_ended"
	ReasonTemporaryHold  StopReason = "temporary_hold"
	ReasonAnnualStop     StopReason = "annual_stop"
)

var StopReasons = []StopReason{ReasonProgrammeEnded, ReasonTemporaryHold, ReasonAnnualStop}

func ParseStopReason(s string) (StopReason, bool) {
	for _, r := range StopReasons {
		if string(r) == s {
			return r, true
		}
	}
	return "", false
}

type (
	// OrderNrMetadata records who completed the activation of a class and when.
	OrderNrMetadata struct {
		CompletedBy     int       `json:"completed_by"`
		CompletedByName string    `json:"completed_by_name,omitempty"`
		CompletedAt     time.Time `json:"completed_at"` // UTC
	}

	// ClassRecord is the stored class row, as far as this core is concerned.
	// StatusFlag is the raw stored status; use Resolve to get the effective one.
	ClassRecord struct {
		ID              int
		Name            string
		StatusFlag      string
		OrderNr         string
		OrderNrMetadata *OrderNrMetadata
		Schedule        schedule.Schedule
		TotalHours      float64 // class duration, used when no end date is stored
	}

	// TransitionRecord is one append-only row of a class's status history.
	TransitionRecord struct {
		ID        uuid.UUID  `json:"id"`
		ClassID   int        `json:"class_id"`
		OldStatus Status     `json:"old_status"`
		NewStatus Status     `json:"new_status"`
		Reason    StopReason `json:"reason,omitempty"`
		Notes     string     `json:"notes"`
		ChangedBy int        `json:"changed_by"`
		ChangedAt time.Time  `json:"changed_at"` // UTC
	}

	// HistoryEntry is a TransitionRecord enriched with the name of whoever made the change.
	HistoryEntry struct {
		TransitionRecord
		ChangedByName string `json:"changed_by_name"`
	}

	// TransitionRequest asks for a class to be moved to Target.
	TransitionRequest struct {
		ClassID    int
		Target     Status
		OrderNr    string
		StopReason StopReason
		Notes      string
	}

	// StatusUpdate is the column-scoped write applied on an accepted transition.
	// Nil fields are left untouched.
	StatusUpdate struct {
		ClassID         int
		Status          Status
		OrderNr         *string
		OrderNrMetadata *OrderNrMetadata
	}

	// Summary is the read model of a class.
	Summary struct {
		ID              int               `json:"id"`
		Name            string            `json:"name"`
		Status          Status            `json:"status"`
		OrderNr         string            `json:"order_nr"`
		OrderNrMetadata *OrderNrMetadata  `json:"order_nr_metadata,omitempty"`
		Schedule        schedule.Schedule `json:"schedule"`
	}
)

// EffectiveSchedule returns the schedule with its end date computed from the class duration
// when none is stored.
func (rec ClassRecord) EffectiveSchedule(maxDays int) (schedule.Schedule, error) {
	sched := rec.Schedule
	if sched.EndDate.IsZero() && rec.TotalHours > 0 {
		end, err := schedule.ComputeEndDate(sched, rec.TotalHours, maxDays)
		if err != nil {
			return sched, err
		}
		sched.EndDate = end
	}
	return sched, nil
}

func (rec ClassRecord) Summary() Summary {
	return Summary{
		ID:              rec.ID,
		Name:            rec.Name,
		Status:          Resolve(rec),
		OrderNr:         rec.OrderNr,
		OrderNrMetadata: rec.OrderNrMetadata,
		Schedule:        rec.Schedule,
	}
}
