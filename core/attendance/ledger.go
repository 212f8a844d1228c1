package attendance

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

type (
	// LedgerEntry is one contribution to a learner's cumulative training hours.
	LedgerEntry struct {
		LearnerID    int
		HoursTrained float64 // scheduled hours of the session
		HoursPresent float64
		Source       string
		Notes        string
		Reference    string // identifies the contribution so that it can be reversed
	}

	// HoursLedger is the learner training-hours ledger.
	HoursLedger interface {
		AddHours(ctx context.Context, e LedgerEntry) error
		// ReverseHours undoes a contribution previously made with AddHours.
		ReverseHours(ctx context.Context, e LedgerEntry) error
	}

	// TxLedger is implemented by ledgers whose writes join the unit of work carried by ctx,
	// and are therefore rolled back along with it.
	TxLedger interface {
		HoursLedger
		JoinsTx() bool
	}
)

func ledgerReference(sess Session, learnerID int) string {
	return fmt.Sprintf("session:%s:learner:%d", sess.ID, learnerID)
}

type ledgerOp struct {
	reverse bool
	entry   LedgerEntry
}

// ledgerJournal applies ledger operations and remembers them so they can be undone.
type ledgerJournal struct {
	ledger  HoursLedger
	applied []ledgerOp
}

func (j *ledgerJournal) add(ctx context.Context, e LedgerEntry) error {
	if err := j.ledger.AddHours(ctx, e); err != nil {
		return errors.Wrapf(err, "adding hours of learner %d", e.LearnerID)
	}
	j.applied = append(j.applied, ledgerOp{entry: e})
	return nil
}

func (j *ledgerJournal) reverse(ctx context.Context, e LedgerEntry) error {
	if err := j.ledger.ReverseHours(ctx, e); err != nil {
		return errors.Wrapf(err, "reversing hours of learner %d", e.LearnerID)
	}
	j.applied = append(j.applied, ledgerOp{reverse: true, entry: e})
	return nil
}

// undo applies the inverse of every applied operation, latest first.
// It keeps going on failure and returns the operations it could not undo.
func (j *ledgerJournal) undo(ctx context.Context) []error {
	var errs []error
	for i := len(j.applied) - 1; i >= 0; i-- {
		op := j.applied[i]
		var err error
		if op.reverse {
			err = j.ledger.AddHours(ctx, op.entry)
		} else {
			err = j.ledger.ReverseHours(ctx, op.entry)
		}
		if err != nil {
			errs = append(errs, errors.Wrapf(err, "undoing %s", op.entry.Reference))
		}
	}
	j.applied = nil
	return errs
}
