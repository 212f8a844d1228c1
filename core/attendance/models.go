package attendance

import (
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/classledger/core"
)

// ExceptionType says why a session could not be trained.
type ExceptionType string

const (
	ExceptionClientCancelled ExceptionType = "client_cancelled"
	ExceptionAgentAbsent     ExceptionType = "agent_absent"
)

var ExceptionTypes = []ExceptionType{ExceptionClientCancelled, ExceptionAgentAbsent}

func ParseExceptionType(s string) (ExceptionType, bool) {
	for _, t := range ExceptionTypes {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

// SessionState is exactly one of expected, captured or exception.
type SessionState string

const (
	StateExpected  SessionState = "expected"
	StateCaptured  SessionState = "captured"
	StateException SessionState = "exception"
)

type (
	// ExceptionRecord marks a session as non-trainable.
	ExceptionRecord struct {
		Type     ExceptionType `json:"exception_type"`
		Notes    string        `json:"notes,omitempty"`
		MarkedBy int           `json:"marked_by"`
		MarkedAt time.Time     `json:"marked_at"` // UTC
	}

	// Session is a recorded session: one that was captured or marked as an exception at least once.
	// Sessions only expected by the schedule are never stored.
	Session struct {
		ID             uuid.UUID
		ClassID        int
		Date           time.Time // civil date, midnight UTC
		ScheduledHours float64
		Exception      *ExceptionRecord
		LearnerCount   int // read only
		CreatedAt      time.Time
		UpdatedAt      time.Time
	}

	// LearnerHoursEntry holds the hours one learner attended in one session.
	LearnerHoursEntry struct {
		SessionID    uuid.UUID `json:"session_id"`
		LearnerID    int       `json:"learner_id"`
		HoursPresent float64   `json:"hours_present"`
		CapturedBy   int       `json:"captured_by"`
		CapturedAt   time.Time `json:"captured_at"` // UTC
	}

	// LearnerHours is one line of a capture submission.
	LearnerHours struct {
		LearnerID    int     `json:"learner_id"`
		HoursPresent float64 `json:"hours_present"`
	}

	CaptureRequest struct {
		ClassID      int
		SessionDate  string // YYYY-MM-DD
		LearnerHours []LearnerHours
	}

	ExceptionRequest struct {
		ClassID     int
		SessionDate string // YYYY-MM-DD
		Type        ExceptionType
		Notes       string
	}

	// SessionView is one line of the session list.
	SessionView struct {
		ID             *uuid.UUID    `json:"session_id,omitempty"`
		Date           string        `json:"date"`
		ScheduledHours float64       `json:"scheduled_hours"`
		Status         SessionState  `json:"status"`
		ExceptionType  ExceptionType `json:"exception_type,omitempty"`
		Notes          string        `json:"notes,omitempty"`
		LearnerCount   int           `json:"learner_count"`
		OffSchedule    bool          `json:"off_schedule,omitempty"` // recorded, but no longer in the schedule
	}

	SessionDetail struct {
		ID             uuid.UUID           `json:"session_id"`
		ClassID        int                 `json:"class_id"`
		Date           string              `json:"date"`
		ScheduledHours float64             `json:"scheduled_hours"`
		Status         SessionState        `json:"status"`
		Exception      *ExceptionRecord    `json:"exception,omitempty"`
		Learners       []LearnerHoursEntry `json:"learners"`
	}

	DeleteResult struct {
		SessionID uuid.UUID `json:"session_id"`
		Reversed  int       `json:"reversed"`
	}
)

// State derives the session state. An exception supersedes captured hours.
func (s Session) State() SessionState {
	switch {
	case s.Exception != nil:
		return StateException
	case s.LearnerCount > 0:
		return StateCaptured
	default:
		return StateExpected
	}
}

func (s Session) View(offSchedule bool) SessionView {
	id := s.ID
	v := SessionView{
		ID:             &id,
		Date:           core.FormatDate(s.Date),
		ScheduledHours: s.ScheduledHours,
		Status:         s.State(),
		LearnerCount:   s.LearnerCount,
		OffSchedule:    offSchedule,
	}
	if s.Exception != nil {
		v.ExceptionType = s.Exception.Type
		v.Notes = s.Exception.Notes
	}
	return v
}
