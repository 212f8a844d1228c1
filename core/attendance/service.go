package attendance

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/classledger/core"
	"github.com/trezcool/classledger/core/class"
	"github.com/trezcool/classledger/core/schedule"
)

var (
	// errors
	ErrSessionNotFound = errors.New("session not found")

	errInvalidDate       = "must be a valid date (YYYY-MM-DD)"
	errNotScheduled      = "%s is not a session of this class"
	errNoLearnerEntries  = "at least one learner with a valid id is required"
	errHoursOutOfRange   = "learner %d: hours_present must be between 0 and %g"
	errInvalidException  = "must be one of client_cancelled or agent_absent"
	errInvalidSessionID  = "must be a valid session id"
	errInvalidSchedule   = "class schedule cannot be walked"
	errClassNotActiveFmt = "class is not active (status: %s)"
)

type (
	// Repository is the attendance store. Sessions are unique per (class, date) and
	// learner entries are unique per (session, learner).
	Repository interface {
		GetSessionByID(ctx context.Context, id uuid.UUID) (Session, error)
		// LockSession returns the stored session of sess's class and date, inserting sess when there
		// is none. The row stays locked until the surrounding transaction ends.
		LockSession(ctx context.Context, sess Session) (Session, error)
		// LockSessionByID reads a session and locks its row until the surrounding transaction ends.
		LockSessionByID(ctx context.Context, id uuid.UUID) (Session, error)
		QuerySessions(ctx context.Context, classID int) ([]Session, error)
		// UpsertSession inserts the session, or updates the stored one of the same class and date.
		// It returns the stored session.
		UpsertSession(ctx context.Context, sess Session) (Session, error)
		UpsertEntries(ctx context.Context, entries []LearnerHoursEntry) error
		// QueryEntries returns the entries of a session ordered by learner id.
		QueryEntries(ctx context.Context, sessionID uuid.UUID) ([]LearnerHoursEntry, error)
		SaveException(ctx context.Context, sessionID uuid.UUID, exc ExceptionRecord) error
		// DeleteSession removes the session with its learner entries and exception.
		DeleteSession(ctx context.Context, id uuid.UUID) error
	}

	// ClassSource reads class rows. It is always read fresh: the class status is never cached.
	ClassSource interface {
		GetClass(ctx context.Context, id int) (class.ClassRecord, error)
	}

	Service struct {
		repo          Repository
		classes       ClassSource
		ledger        HoursLedger
		ledgerJoinsTx bool
		tx            core.Transactor
		clock         core.Clock
		loc           *time.Location
		maxDays       int
		source        string
		logger        core.Logger
	}
)

func NewService(
	repo Repository,
	classes ClassSource,
	ledger HoursLedger,
	tx core.Transactor,
	clock core.Clock,
	conf core.AttendanceConfig,
	logger core.Logger,
) *Service {
	svc := &Service{
		repo:    repo,
		classes: classes,
		ledger:  ledger,
		tx:      tx,
		clock:   clock,
		loc:     conf.Location(),
		maxDays: conf.MaxScheduleDays,
		source:  conf.LedgerSource,
		logger:  logger,
	}
	if txl, ok := ledger.(TxLedger); ok {
		svc.ledgerJoinsTx = txl.JoinsTx()
	}
	if svc.maxDays <= 0 {
		svc.maxDays = schedule.DefaultMaxDays
	}
	return svc
}

// ListSessions returns every session of the class in date order: the sessions expected by its
// schedule merged with the captured and exception-marked ones.
func (svc *Service) ListSessions(ctx context.Context, classID int) ([]SessionView, error) {
	rec, err := svc.classes.GetClass(ctx, classID)
	if err != nil {
		return nil, err
	}
	sched, err := rec.EffectiveSchedule(svc.maxDays)
	if err != nil {
		return nil, core.NewValidationError(errors.Wrap(err, errInvalidSchedule))
	}
	slots, err := sched.Sessions(svc.maxDays)
	if err != nil {
		return nil, core.NewValidationError(errors.Wrap(err, errInvalidSchedule))
	}

	recorded, err := svc.repo.QuerySessions(ctx, classID)
	if err != nil {
		return nil, errors.Wrap(err, "querying sessions")
	}
	return mergeSessions(slots, recorded), nil
}

// trainableSession runs the checks shared by capture and exception marking, against the
// current class row. It returns the session date and its scheduled hours.
func (svc *Service) trainableSession(ctx context.Context, classID int, sessionDate string) (time.Time, float64, error) {
	rec, err := svc.classes.GetClass(ctx, classID)
	if err != nil {
		return time.Time{}, 0, err
	}
	if st := class.Resolve(rec); st != class.StatusActive {
		return time.Time{}, 0, core.NewStateError(core.StateClassNotActive, fmt.Sprintf(errClassNotActiveFmt, st))
	}

	date, err := core.ParseDate(sessionDate)
	if err != nil {
		return time.Time{}, 0, core.NewValidationError(nil, core.FieldError{Field: "session_date", Error: errInvalidDate})
	}
	if err = core.ValidateNotFutureDate(date, core.Today(svc.clock, svc.loc)); err != nil {
		return time.Time{}, 0, core.NewValidationError(nil, core.FieldError{Field: "session_date", Error: err.Error()})
	}

	notScheduled := core.NewValidationError(nil, core.FieldError{
		Field: "session_date",
		Error: fmt.Sprintf(errNotScheduled, core.FormatDate(date)),
	})
	sched, err := rec.EffectiveSchedule(svc.maxDays)
	if err != nil {
		return time.Time{}, 0, notScheduled
	}
	hours, ok := sched.HoursOn(date)
	if !ok {
		return time.Time{}, 0, notScheduled
	}
	return date, hours, nil
}

// cleanLearnerHours drops entries without a positive learner id and keeps the last line of
// every learner. Any hours outside [0, scheduled] rejects the whole submission.
func cleanLearnerHours(lines []LearnerHours, scheduled float64) ([]LearnerHours, error) {
	order := make([]int, 0, len(lines))
	byLearner := make(map[int]float64, len(lines))
	for _, lh := range lines {
		if lh.LearnerID <= 0 {
			continue
		}
		if _, seen := byLearner[lh.LearnerID]; !seen {
			order = append(order, lh.LearnerID)
		}
		byLearner[lh.LearnerID] = lh.HoursPresent
	}

	cleaned := make([]LearnerHours, 0, len(order))
	for _, id := range order {
		h := byLearner[id]
		if math.IsNaN(h) || math.IsInf(h, 0) || h < 0 || h > scheduled {
			msg := fmt.Sprintf(errHoursOutOfRange, id, scheduled)
			return nil, core.NewValidationError(errors.New(msg), core.FieldError{Field: "learner_hours", Error: msg})
		}
		cleaned = append(cleaned, LearnerHours{LearnerID: id, HoursPresent: h})
	}
	if len(cleaned) == 0 {
		return nil, core.NewValidationError(nil, core.FieldError{Field: "learner_hours", Error: errNoLearnerEntries})
	}
	return cleaned, nil
}

// lockSession returns the session of the class on date, recorded with hours when it is new,
// and keeps it locked until the unit of work ends.
func (svc *Service) lockSession(ctx context.Context, classID int, date time.Time, hours float64) (Session, error) {
	sess, err := svc.repo.LockSession(ctx, Session{ID: uuid.New(), ClassID: classID, Date: date, ScheduledHours: hours})
	if err != nil {
		return Session{}, errors.Wrap(err, "locking session")
	}
	return sess, nil
}

func (svc *Service) ledgerEntry(sess Session, e LearnerHoursEntry) LedgerEntry {
	return LedgerEntry{
		LearnerID:    e.LearnerID,
		HoursTrained: sess.ScheduledHours,
		HoursPresent: e.HoursPresent,
		Source:       svc.source,
		Notes:        fmt.Sprintf("class %d session %s", sess.ClassID, core.FormatDate(sess.Date)),
		Reference:    ledgerReference(sess, e.LearnerID),
	}
}

// runWithLedger runs fn as one unit of work. When it fails, ledger operations fn applied are
// undone unless the ledger was part of the rolled back unit of work.
// A failed undo leaves the ledger out of sync with the sessions: a shutdown error is returned.
func (svc *Service) runWithLedger(ctx context.Context, actor core.Actor, fn func(ctx context.Context, j *ledgerJournal) error) error {
	j := &ledgerJournal{ledger: svc.ledger}
	err := svc.tx.RunInTx(ctx, func(ctx context.Context) error {
		return fn(ctx, j)
	})
	if err == nil || svc.ledgerJoinsTx || len(j.applied) == 0 {
		return err
	}

	n := len(j.applied)
	if errs := j.undo(ctx); len(errs) > 0 {
		msg := fmt.Sprintf("hours ledger out of sync: could not undo %d of %d ledger operations", len(errs), n)
		svc.logger.Error(msg, errs[0], actor)
		return core.NewShutdownError(msg)
	}
	svc.logger.Warn(fmt.Sprintf("undid %d ledger operations", n), errors.Wrap(err, "unit of work failed"), actor)
	return err
}

// Capture records the hours of every learner present in a session and forwards them to the
// hours ledger. Capturing a session again overwrites the learners' previous hours: their previous
// ledger contribution is reversed before the new one is added.
func (svc *Service) Capture(ctx context.Context, req CaptureRequest, actor core.Actor) ([]LearnerHoursEntry, error) {
	date, hours, err := svc.trainableSession(ctx, req.ClassID, req.SessionDate)
	if err != nil {
		return nil, err
	}
	lines, err := cleanLearnerHours(req.LearnerHours, hours)
	if err != nil {
		return nil, err
	}

	var persisted []LearnerHoursEntry
	err = svc.runWithLedger(ctx, actor, func(ctx context.Context, j *ledgerJournal) error {
		// the lock is taken before the previous entries are read: concurrent captures of one
		// session see each other's entries and reverse them
		sess, err := svc.lockSession(ctx, req.ClassID, date, hours)
		if err != nil {
			return err
		}
		if sess.Exception != nil {
			return core.NewStateError(
				core.StateSessionException,
				fmt.Sprintf("session of %s is marked %s", core.FormatDate(date), sess.Exception.Type),
			)
		}

		prevSess := sess
		prev := make(map[int]LearnerHoursEntry)
		stored, err := svc.repo.QueryEntries(ctx, sess.ID)
		if err != nil {
			return errors.Wrap(err, "querying previous entries")
		}
		for _, e := range stored {
			prev[e.LearnerID] = e
		}

		sess.ScheduledHours = hours
		if sess, err = svc.repo.UpsertSession(ctx, sess); err != nil {
			return errors.Wrap(err, "saving session")
		}

		now := svc.clock.Now().UTC()
		entries := make([]LearnerHoursEntry, 0, len(lines))
		for _, lh := range lines {
			entries = append(entries, LearnerHoursEntry{
				SessionID:    sess.ID,
				LearnerID:    lh.LearnerID,
				HoursPresent: lh.HoursPresent,
				CapturedBy:   actor.ID,
				CapturedAt:   now,
			})
		}
		if err = svc.repo.UpsertEntries(ctx, entries); err != nil {
			return errors.Wrap(err, "saving learner entries")
		}

		for _, e := range entries {
			if old, ok := prev[e.LearnerID]; ok {
				if err = j.reverse(ctx, svc.ledgerEntry(prevSess, old)); err != nil {
					return err
				}
			}
			if err = j.add(ctx, svc.ledgerEntry(sess, e)); err != nil {
				return err
			}
		}

		persisted, err = svc.repo.QueryEntries(ctx, sess.ID)
		return errors.Wrap(err, "querying saved entries")
	})
	if err != nil {
		return nil, err
	}
	return persisted, nil
}

// MarkException records a session as non-trainable. Hours captured before are kept.
func (svc *Service) MarkException(ctx context.Context, req ExceptionRequest, actor core.Actor) (SessionView, error) {
	date, hours, err := svc.trainableSession(ctx, req.ClassID, req.SessionDate)
	if err != nil {
		return SessionView{}, err
	}
	excType, ok := ParseExceptionType(string(req.Type))
	if !ok {
		return SessionView{}, core.NewValidationError(nil, core.FieldError{Field: "exception_type", Error: errInvalidException})
	}

	var view SessionView
	err = svc.tx.RunInTx(ctx, func(ctx context.Context) error {
		sess, err := svc.lockSession(ctx, req.ClassID, date, hours)
		if err != nil {
			return err
		}
		sess.ScheduledHours = hours
		if sess, err = svc.repo.UpsertSession(ctx, sess); err != nil {
			return errors.Wrap(err, "saving session")
		}

		exc := ExceptionRecord{
			Type:     excType,
			Notes:    core.CleanString(req.Notes),
			MarkedBy: actor.ID,
			MarkedAt: svc.clock.Now().UTC(),
		}
		if err = svc.repo.SaveException(ctx, sess.ID, exc); err != nil {
			return errors.Wrap(err, "saving exception")
		}

		if sess, err = svc.repo.GetSessionByID(ctx, sess.ID); err != nil {
			return errors.Wrap(err, "getting saved session")
		}
		view = sess.View(false)
		return nil
	})
	if err != nil {
		return SessionView{}, err
	}
	return view, nil
}

func parseSessionID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(core.CleanString(s))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, core.NewValidationError(nil, core.FieldError{Field: "session_id", Error: errInvalidSessionID})
	}
	return id, nil
}

// GetSessionDetail returns a recorded session with the hours of every learner.
func (svc *Service) GetSessionDetail(ctx context.Context, sessionID string) (SessionDetail, error) {
	id, err := parseSessionID(sessionID)
	if err != nil {
		return SessionDetail{}, err
	}
	sess, err := svc.repo.GetSessionByID(ctx, id)
	if err != nil {
		return SessionDetail{}, err
	}
	entries, err := svc.repo.QueryEntries(ctx, id)
	if err != nil {
		return SessionDetail{}, errors.Wrap(err, "querying learner entries")
	}
	if entries == nil {
		entries = []LearnerHoursEntry{}
	}
	return SessionDetail{
		ID:             sess.ID,
		ClassID:        sess.ClassID,
		Date:           core.FormatDate(sess.Date),
		ScheduledHours: sess.ScheduledHours,
		Status:         sess.State(),
		Exception:      sess.Exception,
		Learners:       entries,
	}, nil
}

// DeleteAndReverse removes a recorded session and reverses every ledger contribution its
// learner entries made. Nothing is removed unless every reversal succeeded.
// The class status is not checked: deletion stays possible after a class was stopped.
func (svc *Service) DeleteAndReverse(ctx context.Context, sessionID string, actor core.Actor) (DeleteResult, error) {
	if !actor.Elevated {
		return DeleteResult{}, core.ErrPermissionDenied
	}
	id, err := parseSessionID(sessionID)
	if err != nil {
		return DeleteResult{}, err
	}

	var reversed int
	err = svc.runWithLedger(ctx, actor, func(ctx context.Context, j *ledgerJournal) error {
		sess, err := svc.repo.LockSessionByID(ctx, id)
		if err != nil {
			return err
		}
		entries, err := svc.repo.QueryEntries(ctx, id)
		if err != nil {
			return errors.Wrap(err, "querying learner entries")
		}
		for _, e := range entries {
			if err = j.reverse(ctx, svc.ledgerEntry(sess, e)); err != nil {
				return err
			}
		}
		reversed = len(entries)
		return errors.Wrap(svc.repo.DeleteSession(ctx, id), "deleting session")
	})
	if err != nil {
		return DeleteResult{}, err
	}

	svc.logger.Info(
		fmt.Sprintf("session %s deleted, %d ledger contributions reversed", id, reversed),
		map[string]interface{}{"session_id": id.String(), "reversed": reversed},
		actor,
	)
	return DeleteResult{SessionID: id, Reversed: reversed}, nil
}
