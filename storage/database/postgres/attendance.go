package pgrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/classledger/core"
	"github.com/trezcool/classledger/core/attendance"
	"github.com/trezcool/classledger/storage/database"
)

const sessionColumns = `s.id, s.class_id, s.session_date, s.scheduled_hours, s.exception_type, s.exception_notes,
	s.marked_by, s.marked_at, s.created_at, s.updated_at,
	(SELECT COUNT(*) FROM learner_hours lh WHERE lh.session_id = s.id) AS learner_count`

type (
	sessionRow struct {
		ID             uuid.UUID   `db:"id"`
		ClassID        int         `db:"class_id"`
		SessionDate    time.Time   `db:"session_date"`
		ScheduledHours float64     `db:"scheduled_hours"`
		ExceptionType  null.String `db:"exception_type"`
		ExceptionNotes null.String `db:"exception_notes"`
		MarkedBy       null.Int    `db:"marked_by"`
		MarkedAt       null.Time   `db:"marked_at"`
		LearnerCount   int         `db:"learner_count"`
		CreatedAt      time.Time   `db:"created_at"`
		UpdatedAt      time.Time   `db:"updated_at"`
	}

	entryRow struct {
		SessionID    uuid.UUID `db:"session_id"`
		LearnerID    int       `db:"learner_id"`
		HoursPresent float64   `db:"hours_present"`
		CapturedBy   int       `db:"captured_by"`
		CapturedAt   time.Time `db:"captured_at"`
	}
)

func (row sessionRow) session() attendance.Session {
	sess := attendance.Session{
		ID:             row.ID,
		ClassID:        row.ClassID,
		Date:           core.StartOfDay(row.SessionDate),
		ScheduledHours: row.ScheduledHours,
		LearnerCount:   row.LearnerCount,
		CreatedAt:      row.CreatedAt.UTC(),
		UpdatedAt:      row.UpdatedAt.UTC(),
	}
	if row.ExceptionType.Valid {
		sess.Exception = &attendance.ExceptionRecord{
			Type:     attendance.ExceptionType(row.ExceptionType.String),
			Notes:    row.ExceptionNotes.String,
			MarkedBy: row.MarkedBy.Int,
			MarkedAt: row.MarkedAt.Time.UTC(),
		}
	}
	return sess
}

func toEntryRow(e attendance.LearnerHoursEntry) entryRow {
	return entryRow{
		SessionID:    e.SessionID,
		LearnerID:    e.LearnerID,
		HoursPresent: e.HoursPresent,
		CapturedBy:   e.CapturedBy,
		CapturedAt:   e.CapturedAt.UTC(),
	}
}

func (row entryRow) entry() attendance.LearnerHoursEntry {
	return attendance.LearnerHoursEntry{
		SessionID:    row.SessionID,
		LearnerID:    row.LearnerID,
		HoursPresent: row.HoursPresent,
		CapturedBy:   row.CapturedBy,
		CapturedAt:   row.CapturedAt.UTC(),
	}
}

type attendanceRepository struct {
	db *sqlx.DB
}

var _ attendance.Repository = (*attendanceRepository)(nil) // interface compliance check

func NewAttendanceRepository(db *sqlx.DB) attendance.Repository {
	return &attendanceRepository{db: db}
}

func (repo *attendanceRepository) getSession(ctx context.Context, where string, args ...interface{}) (attendance.Session, error) {
	var row sessionRow
	q := `SELECT ` + sessionColumns + ` FROM attendance_session s WHERE ` + where
	if err := sqlx.GetContext(ctx, database.Executor(ctx, repo.db), &row, q, args...); err != nil {
		return attendance.Session{}, trapNoRowsErr(err, attendance.ErrSessionNotFound, "finding session")
	}
	return row.session(), nil
}

func (repo *attendanceRepository) GetSessionByID(ctx context.Context, id uuid.UUID) (attendance.Session, error) {
	return repo.getSession(ctx, "s.id = $1", id)
}

// LockSession inserts sess unless its class already has a session on that date, then reads the
// stored row with SELECT ... FOR UPDATE. It must run inside a transaction.
func (repo *attendanceRepository) LockSession(ctx context.Context, sess attendance.Session) (attendance.Session, error) {
	if !database.InTx(ctx) {
		return attendance.Session{}, errors.New("locking a session outside of a transaction")
	}
	if sess.ID == uuid.Nil {
		sess.ID = uuid.New()
	}

	q := `INSERT INTO attendance_session (id, class_id, session_date, scheduled_hours, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		ON CONFLICT (class_id, session_date) DO NOTHING`
	_, err := database.Executor(ctx, repo.db).ExecContext(
		ctx, q, sess.ID, sess.ClassID, core.FormatDate(sess.Date), sess.ScheduledHours,
	)
	if err != nil {
		return attendance.Session{}, trapPgErr(err, "inserting session")
	}
	return repo.getSession(ctx, "s.class_id = $1 AND s.session_date = $2 FOR UPDATE OF s", sess.ClassID, core.FormatDate(sess.Date))
}

// LockSessionByID reads the session row with SELECT ... FOR UPDATE. It must run inside a transaction.
func (repo *attendanceRepository) LockSessionByID(ctx context.Context, id uuid.UUID) (attendance.Session, error) {
	if !database.InTx(ctx) {
		return attendance.Session{}, errors.New("locking a session outside of a transaction")
	}
	return repo.getSession(ctx, "s.id = $1 FOR UPDATE OF s", id)
}

func (repo *attendanceRepository) QuerySessions(ctx context.Context, classID int) ([]attendance.Session, error) {
	var rows []sessionRow
	q := `SELECT ` + sessionColumns + ` FROM attendance_session s WHERE s.class_id = $1 ORDER BY s.session_date`
	if err := sqlx.SelectContext(ctx, database.Executor(ctx, repo.db), &rows, q, classID); err != nil {
		return nil, errors.Wrap(err, "querying sessions")
	}

	sessions := make([]attendance.Session, 0, len(rows))
	for _, row := range rows {
		sessions = append(sessions, row.session())
	}
	return sessions, nil
}

// UpsertSession creates the (class, date) session or refreshes its scheduled hours.
// The exception columns are written by SaveException only.
func (repo *attendanceRepository) UpsertSession(ctx context.Context, sess attendance.Session) (attendance.Session, error) {
	if sess.ID == uuid.Nil {
		sess.ID = uuid.New()
	}

	var id uuid.UUID
	q := `INSERT INTO attendance_session (id, class_id, session_date, scheduled_hours, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		ON CONFLICT (class_id, session_date)
		DO UPDATE SET scheduled_hours = EXCLUDED.scheduled_hours, updated_at = now()
		RETURNING id`
	err := sqlx.GetContext(
		ctx, database.Executor(ctx, repo.db), &id, q,
		sess.ID, sess.ClassID, core.FormatDate(sess.Date), sess.ScheduledHours,
	)
	if err != nil {
		return attendance.Session{}, trapPgErr(err, "upserting session")
	}
	return repo.GetSessionByID(ctx, id)
}

func (repo *attendanceRepository) UpsertEntries(ctx context.Context, entries []attendance.LearnerHoursEntry) error {
	exec := database.Executor(ctx, repo.db)
	q := `INSERT INTO learner_hours (session_id, learner_id, hours_present, captured_by, captured_at)
		VALUES (:session_id, :learner_id, :hours_present, :captured_by, :captured_at)
		ON CONFLICT (session_id, learner_id)
		DO UPDATE SET hours_present = EXCLUDED.hours_present, captured_by = EXCLUDED.captured_by,
			captured_at = EXCLUDED.captured_at`
	for _, e := range entries {
		if _, err := sqlx.NamedExecContext(ctx, exec, q, toEntryRow(e)); err != nil {
			if pgCode(err) == foreignKeyViolation {
				return attendance.ErrSessionNotFound
			}
			return trapPgErr(err, "upserting learner hours")
		}
	}
	return nil
}

func (repo *attendanceRepository) QueryEntries(ctx context.Context, sessionID uuid.UUID) ([]attendance.LearnerHoursEntry, error) {
	var rows []entryRow
	q := `SELECT session_id, learner_id, hours_present, captured_by, captured_at
		FROM learner_hours WHERE session_id = $1 ORDER BY learner_id`
	if err := sqlx.SelectContext(ctx, database.Executor(ctx, repo.db), &rows, q, sessionID); err != nil {
		return nil, errors.Wrap(err, "querying learner hours")
	}

	entries := make([]attendance.LearnerHoursEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, row.entry())
	}
	return entries, nil
}

func (repo *attendanceRepository) SaveException(ctx context.Context, sessionID uuid.UUID, exc attendance.ExceptionRecord) error {
	q := `UPDATE attendance_session
		SET exception_type = $2, exception_notes = $3, marked_by = $4, marked_at = $5, updated_at = now()
		WHERE id = $1`
	res, err := database.Executor(ctx, repo.db).ExecContext(
		ctx, q, sessionID, string(exc.Type), null.NewString(exc.Notes, exc.Notes != ""), exc.MarkedBy, exc.MarkedAt.UTC(),
	)
	if err != nil {
		return trapPgErr(err, "saving session exception")
	}
	return checkAffected(res, attendance.ErrSessionNotFound)
}

// DeleteSession removes the session row; its learner hours go with it (ON DELETE CASCADE).
func (repo *attendanceRepository) DeleteSession(ctx context.Context, id uuid.UUID) error {
	res, err := database.Executor(ctx, repo.db).ExecContext(ctx, `DELETE FROM attendance_session WHERE id = $1`, id)
	if err != nil {
		return trapPgErr(err, "deleting session")
	}
	return checkAffected(res, attendance.ErrSessionNotFound)
}
