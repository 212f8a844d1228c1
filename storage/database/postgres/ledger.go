package pgrepos

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/classledger/core/attendance"
	"github.com/trezcool/classledger/storage/database"
)

// HoursLedger appends to learner_hours_log. A reversal is a new row carrying negated hours.
type HoursLedger struct {
	db *sqlx.DB
}

var _ attendance.TxLedger = (*HoursLedger)(nil) // interface compliance check

func NewHoursLedger(db *sqlx.DB) *HoursLedger {
	return &HoursLedger{db: db}
}

// JoinsTx is true: the log rows are written in the transaction carried by the context.
func (l *HoursLedger) JoinsTx() bool { return true }

func (l *HoursLedger) AddHours(ctx context.Context, e attendance.LedgerEntry) error {
	return l.insert(ctx, e, false)
}

func (l *HoursLedger) ReverseHours(ctx context.Context, e attendance.LedgerEntry) error {
	var balance int
	q := `SELECT COALESCE(SUM(CASE WHEN reversal THEN -1 ELSE 1 END), 0) FROM learner_hours_log WHERE reference = $1`
	if err := sqlx.GetContext(ctx, database.Executor(ctx, l.db), &balance, q, e.Reference); err != nil {
		return errors.Wrap(err, "reading ledger balance")
	}
	if balance <= 0 {
		return errors.Errorf("nothing to reverse for %s", e.Reference)
	}

	e.HoursTrained = -e.HoursTrained
	e.HoursPresent = -e.HoursPresent
	return l.insert(ctx, e, true)
}

func (l *HoursLedger) insert(ctx context.Context, e attendance.LedgerEntry, reversal bool) error {
	q := `INSERT INTO learner_hours_log (learner_id, hours_trained, hours_present, source, notes, reference, reversal)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := database.Executor(ctx, l.db).ExecContext(
		ctx, q, e.LearnerID, e.HoursTrained, e.HoursPresent, e.Source, e.Notes, e.Reference, reversal,
	)
	return trapPgErr(err, "appending to hours ledger")
}

// Totals returns the cumulative hours of a learner.
func (l *HoursLedger) Totals(ctx context.Context, learnerID int) (trained, present float64, err error) {
	var totals struct {
		Trained float64 `db:"trained"`
		Present float64 `db:"present"`
	}
	q := `SELECT COALESCE(SUM(hours_trained), 0) AS trained, COALESCE(SUM(hours_present), 0) AS present
		FROM learner_hours_log WHERE learner_id = $1`
	if err = sqlx.GetContext(ctx, database.Executor(ctx, l.db), &totals, q, learnerID); err != nil {
		return 0, 0, errors.Wrap(err, "summing learner hours")
	}
	return totals.Trained, totals.Present, nil
}
