package inmemdb

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/classledger/core/attendance"
)

// HoursLogRow is one signed row of the learner hours log. A reversal carries negated hours.
type HoursLogRow struct {
	LearnerID    int
	HoursTrained float64
	HoursPresent float64
	Source       string
	Notes        string
	Reference    string
	Reversal     bool
	CreatedAt    time.Time
}

type HoursLedger struct {
	store *DB
	db    *hoursLogTable
}

var _ attendance.TxLedger = (*HoursLedger)(nil)

func NewHoursLedger(db *DB) *HoursLedger {
	return &HoursLedger{store: db, db: db.hoursLog}
}

// JoinsTx is true: the hours log is restored along with the other tables.
func (l *HoursLedger) JoinsTx() bool { return true }

func (l *HoursLedger) AddHours(ctx context.Context, e attendance.LedgerEntry) error {
	defer l.store.autoTx(ctx)()
	l.db.mutex.Lock()
	defer l.db.mutex.Unlock()

	l.db.rows = append(l.db.rows, HoursLogRow{
		LearnerID:    e.LearnerID,
		HoursTrained: e.HoursTrained,
		HoursPresent: e.HoursPresent,
		Source:       e.Source,
		Notes:        e.Notes,
		Reference:    e.Reference,
		CreatedAt:    time.Now().UTC(),
	})
	return nil
}

func (l *HoursLedger) ReverseHours(ctx context.Context, e attendance.LedgerEntry) error {
	defer l.store.autoTx(ctx)()
	l.db.mutex.Lock()
	defer l.db.mutex.Unlock()

	if l.balance(e.Reference) <= 0 {
		return errors.Errorf("nothing to reverse for %s", e.Reference)
	}
	l.db.rows = append(l.db.rows, HoursLogRow{
		LearnerID:    e.LearnerID,
		HoursTrained: -e.HoursTrained,
		HoursPresent: -e.HoursPresent,
		Source:       e.Source,
		Notes:        e.Notes,
		Reference:    e.Reference,
		Reversal:     true,
		CreatedAt:    time.Now().UTC(),
	})
	return nil
}

// balance counts the contributions of reference that were not reversed yet.
func (l *HoursLedger) balance(reference string) int {
	var n int
	for _, row := range l.db.rows {
		if row.Reference != reference {
			continue
		}
		if row.Reversal {
			n--
		} else {
			n++
		}
	}
	return n
}

// Totals returns the cumulative hours of a learner.
func (l *HoursLedger) Totals(learnerID int) (trained, present float64) {
	l.db.mutex.RLock()
	defer l.db.mutex.RUnlock()

	for _, row := range l.db.rows {
		if row.LearnerID == learnerID {
			trained += row.HoursTrained
			present += row.HoursPresent
		}
	}
	return trained, present
}

// Rows returns a copy of the hours log.
func (l *HoursLedger) Rows() []HoursLogRow {
	l.db.mutex.RLock()
	defer l.db.mutex.RUnlock()
	return append([]HoursLogRow(nil), l.db.rows...)
}
