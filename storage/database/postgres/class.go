// Package pgrepos implements the storage ports on PostgreSQL with sqlx.
package pgrepos

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/classledger/core"
	"github.com/trezcool/classledger/core/class"
	"github.com/trezcool/classledger/core/schedule"
	"github.com/trezcool/classledger/storage/database"
)

const classColumns = `id, name, class_status, order_nr, order_nr_metadata, training_days, start_date, end_date,
	hours_per_session, weekday_hours, total_hours`

type (
	classRow struct {
		ID              int            `db:"id"`
		Name            string         `db:"name"`
		ClassStatus     null.String    `db:"class_status"`
		OrderNr         null.String    `db:"order_nr"`
		OrderNrMetadata null.JSON      `db:"order_nr_metadata"`
		TrainingDays    pq.Int64Array  `db:"training_days"`
		StartDate       null.Time      `db:"start_date"`
		EndDate         null.Time      `db:"end_date"`
		HoursPerSession float64        `db:"hours_per_session"`
		WeekdayHours    types.JSONText `db:"weekday_hours"`
		TotalHours      float64        `db:"total_hours"`
	}

	intervalRow struct {
		StopDate    time.Time `db:"stop_date"`
		RestartDate null.Time `db:"restart_date"`
	}

	overrideRow struct {
		Date  time.Time `db:"date"`
		Hours float64   `db:"hours"`
	}

	transitionRow struct {
		ID        uuid.UUID   `db:"id"`
		ClassID   int         `db:"class_id"`
		OldStatus string      `db:"old_status"`
		NewStatus string      `db:"new_status"`
		Reason    null.String `db:"reason"`
		Notes     string      `db:"notes"`
		ChangedBy int         `db:"changed_by"`
		ChangedAt time.Time   `db:"changed_at"`
	}
)

func nullDate(t null.Time) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return core.StartOfDay(t.Time)
}

func (row classRow) record() (class.ClassRecord, error) {
	rec := class.ClassRecord{
		ID:         row.ID,
		Name:       row.Name,
		StatusFlag: row.ClassStatus.String,
		OrderNr:    row.OrderNr.String,
		TotalHours: row.TotalHours,
		Schedule: schedule.Schedule{
			StartDate:       nullDate(row.StartDate),
			EndDate:         nullDate(row.EndDate),
			HoursPerSession: row.HoursPerSession,
		},
	}

	for _, d := range row.TrainingDays {
		rec.Schedule.Weekdays = append(rec.Schedule.Weekdays, time.Weekday(d))
	}

	if len(row.WeekdayHours) > 0 {
		var raw map[string]float64
		if err := row.WeekdayHours.Unmarshal(&raw); err != nil {
			return rec, errors.Wrapf(err, "decoding weekday hours of class %d", row.ID)
		}
		for k, hours := range raw {
			day, err := strconv.Atoi(k)
			if err != nil || day < 0 || day > 6 {
				return rec, errors.Errorf("class %d: invalid weekday %q in weekday hours", row.ID, k)
			}
			if rec.Schedule.WeekdayHours == nil {
				rec.Schedule.WeekdayHours = make(map[time.Weekday]float64, len(raw))
			}
			rec.Schedule.WeekdayHours[time.Weekday(day)] = hours
		}
	}

	if row.OrderNrMetadata.Valid {
		var meta class.OrderNrMetadata
		if err := row.OrderNrMetadata.Unmarshal(&meta); err != nil {
			return rec, errors.Wrapf(err, "decoding order number metadata of class %d", row.ID)
		}
		rec.OrderNrMetadata = &meta
	}
	return rec, nil
}

func (row transitionRow) record() class.TransitionRecord {
	return class.TransitionRecord{
		ID:        row.ID,
		ClassID:   row.ClassID,
		OldStatus: class.Status(row.OldStatus),
		NewStatus: class.Status(row.NewStatus),
		Reason:    class.StopReason(row.Reason.String),
		Notes:     row.Notes,
		ChangedBy: row.ChangedBy,
		ChangedAt: row.ChangedAt.UTC(),
	}
}

type classRepository struct {
	db *sqlx.DB
}

var _ class.Repository = (*classRepository)(nil) // interface compliance check

func NewClassRepository(db *sqlx.DB) *classRepository {
	return &classRepository{db: db}
}

// CreateClass inserts the class row with its schedule. Class rows are owned by the back office;
// this is used by the admin CLI and the integration tests.
func (repo *classRepository) CreateClass(ctx context.Context, rec class.ClassRecord) (class.ClassRecord, error) {
	err := database.RunInTx(ctx, repo.db, func(ctx context.Context) error {
		exec := database.Executor(ctx, repo.db)

		days := make(pq.Int64Array, 0, len(rec.Schedule.Weekdays))
		for _, d := range rec.Schedule.Weekdays {
			days = append(days, int64(d))
		}
		weekdayHours := make(map[string]float64, len(rec.Schedule.WeekdayHours))
		for d, hours := range rec.Schedule.WeekdayHours {
			weekdayHours[strconv.Itoa(int(d))] = hours
		}
		wh, err := json.Marshal(weekdayHours)
		if err != nil {
			return errors.Wrap(err, "encoding weekday hours")
		}
		meta, err := metadataJSON(rec.OrderNrMetadata)
		if err != nil {
			return err
		}

		q := `INSERT INTO class (name, class_status, order_nr, order_nr_metadata, training_days, start_date, end_date,
			hours_per_session, weekday_hours, total_hours)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`
		err = sqlx.GetContext(
			ctx, exec, &rec.ID, q,
			rec.Name,
			null.NewString(rec.StatusFlag, rec.StatusFlag != ""),
			null.NewString(rec.OrderNr, rec.OrderNr != ""),
			meta,
			days,
			dateParam(rec.Schedule.StartDate),
			dateParam(rec.Schedule.EndDate),
			rec.Schedule.HoursPerSession,
			types.JSONText(wh),
			rec.TotalHours,
		)
		if err != nil {
			return trapPgErr(err, "inserting class")
		}

		for _, iv := range rec.Schedule.StopRestart {
			_, err = exec.ExecContext(
				ctx, `INSERT INTO class_stop_restart (class_id, stop_date, restart_date) VALUES ($1, $2, $3)`,
				rec.ID, dateParam(iv.Stop), dateParam(iv.Restart),
			)
			if err != nil {
				return trapPgErr(err, "inserting stop/restart interval")
			}
		}
		for date, hours := range rec.Schedule.DateOverrides {
			_, err = exec.ExecContext(
				ctx, `INSERT INTO class_date_override (class_id, date, hours) VALUES ($1, $2, $3)`,
				rec.ID, date, hours,
			)
			if err != nil {
				return trapPgErr(err, "inserting date override")
			}
		}
		return nil
	})
	return rec, err
}

func (repo *classRepository) GetClass(ctx context.Context, id int) (class.ClassRecord, error) {
	return repo.getClass(ctx, id, false)
}

// LockClass reads the class row with SELECT ... FOR UPDATE. It must run inside a transaction.
func (repo *classRepository) LockClass(ctx context.Context, id int) (class.ClassRecord, error) {
	if !database.InTx(ctx) {
		return class.ClassRecord{}, errors.New("locking a class outside of a transaction")
	}
	return repo.getClass(ctx, id, true)
}

func (repo *classRepository) getClass(ctx context.Context, id int, forUpdate bool) (class.ClassRecord, error) {
	exec := database.Executor(ctx, repo.db)

	q := `SELECT ` + classColumns + ` FROM class WHERE id = $1`
	if forUpdate {
		q += ` FOR UPDATE`
	}
	var row classRow
	if err := sqlx.GetContext(ctx, exec, &row, q, id); err != nil {
		return class.ClassRecord{}, trapNoRowsErr(err, class.ErrNotFound, "finding class by ID")
	}
	rec, err := row.record()
	if err != nil {
		return rec, err
	}

	var intervals []intervalRow
	q = `SELECT stop_date, restart_date FROM class_stop_restart WHERE class_id = $1 ORDER BY stop_date`
	if err = sqlx.SelectContext(ctx, exec, &intervals, q, id); err != nil {
		return rec, errors.Wrap(err, "querying stop/restart intervals")
	}
	for _, iv := range intervals {
		rec.Schedule.StopRestart = append(rec.Schedule.StopRestart, schedule.Interval{
			Stop:    core.StartOfDay(iv.StopDate),
			Restart: nullDate(iv.RestartDate),
		})
	}

	var overrides []overrideRow
	q = `SELECT date, hours FROM class_date_override WHERE class_id = $1`
	if err = sqlx.SelectContext(ctx, exec, &overrides, q, id); err != nil {
		return rec, errors.Wrap(err, "querying date overrides")
	}
	if len(overrides) > 0 {
		rec.Schedule.DateOverrides = make(map[string]float64, len(overrides))
		for _, o := range overrides {
			rec.Schedule.DateOverrides[core.FormatDate(o.Date)] = o.Hours
		}
	}

	var holidays []time.Time
	q = `SELECT date FROM public_holiday ORDER BY date`
	if err = sqlx.SelectContext(ctx, exec, &holidays, q); err != nil {
		return rec, errors.Wrap(err, "querying public holidays")
	}
	for _, h := range holidays {
		rec.Schedule.Holidays = append(rec.Schedule.Holidays, core.StartOfDay(h))
	}
	return rec, nil
}

// UpdateStatus writes the status column, and the order number columns only when they are given.
func (repo *classRepository) UpdateStatus(ctx context.Context, upd class.StatusUpdate) error {
	sets := []string{"class_status = $1"}
	args := []interface{}{null.NewString(string(upd.Status), upd.Status != "")}
	if upd.OrderNr != nil {
		args = append(args, *upd.OrderNr)
		sets = append(sets, fmt.Sprintf("order_nr = $%d", len(args)))
	}
	if upd.OrderNrMetadata != nil {
		meta, err := metadataJSON(upd.OrderNrMetadata)
		if err != nil {
			return err
		}
		args = append(args, meta)
		sets = append(sets, fmt.Sprintf("order_nr_metadata = $%d", len(args)))
	}
	args = append(args, upd.ClassID)

	q := fmt.Sprintf("UPDATE class SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))
	res, err := database.Executor(ctx, repo.db).ExecContext(ctx, q, args...)
	if err != nil {
		return trapPgErr(err, "updating class status")
	}
	return checkAffected(res, class.ErrNotFound)
}

func (repo *classRepository) AppendTransition(ctx context.Context, rec class.TransitionRecord) error {
	q := `INSERT INTO class_status_history (id, class_id, old_status, new_status, reason, notes, changed_by, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := database.Executor(ctx, repo.db).ExecContext(
		ctx, q,
		rec.ID, rec.ClassID, string(rec.OldStatus), string(rec.NewStatus),
		null.NewString(string(rec.Reason), rec.Reason != ""), rec.Notes, rec.ChangedBy, rec.ChangedAt.UTC(),
	)
	return trapPgErr(err, "inserting status transition")
}

func (repo *classRepository) QueryTransitions(ctx context.Context, classID int) ([]class.TransitionRecord, error) {
	var rows []transitionRow
	q := `SELECT id, class_id, old_status, new_status, reason, notes, changed_by, changed_at
		FROM class_status_history WHERE class_id = $1 ORDER BY changed_at DESC`
	if err := sqlx.SelectContext(ctx, database.Executor(ctx, repo.db), &rows, q, classID); err != nil {
		return nil, errors.Wrap(err, "querying status transitions")
	}

	recs := make([]class.TransitionRecord, 0, len(rows))
	for _, row := range rows {
		recs = append(recs, row.record())
	}
	return recs, nil
}

func metadataJSON(meta *class.OrderNrMetadata) (null.JSON, error) {
	if meta == nil {
		return null.JSON{}, nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return null.JSON{}, errors.Wrap(err, "encoding order number metadata")
	}
	return null.JSONFrom(b), nil
}

// dateParam binds a civil date, NULL when zero.
func dateParam(t time.Time) null.String {
	if t.IsZero() {
		return null.String{}
	}
	return null.StringFrom(core.FormatDate(t))
}
