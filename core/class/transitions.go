package class

import (
	"time"

	"github.com/trezcool/classledger/core"
)

var (
	errOrderNrRequired    = "an order number is required to activate a class"
	errStopReasonRequired = "a stop reason is required (programme_ended, temporary_hold or annual_stop)"
)

// planFunc checks the preconditions of a transition and builds the status write it performs.
type planFunc func(rec ClassRecord, req TransitionRequest, actor core.Actor, now time.Time) (StatusUpdate, error)

// transition is a single allowed edge of the class lifecycle.
type transition struct {
	From Status
	To   Status
	plan planFunc
}

// Same-state requests are never in the table: they are rejected before it is consulted.
var transitionsTable = []transition{
	{From: StatusDraft, To: StatusActive, plan: planActivation},
	{From: StatusActive, To: StatusStopped, plan: planStop},
	{From: StatusStopped, To: StatusActive, plan: planResume},
}

func transitionFor(from, to Status) (transition, bool) {
	for _, tr := range transitionsTable {
		if tr.From == from && tr.To == to {
			return tr, true
		}
	}
	return transition{}, false
}

// CanTransition reports whether a class in status from may be moved to status to.
func CanTransition(from, to Status) bool {
	_, ok := transitionFor(from, to)
	return ok
}

// AllowedTargets lists the statuses reachable from status from.
func AllowedTargets(from Status) []Status {
	var targets []Status
	for _, tr := range transitionsTable {
		if tr.From == from {
			targets = append(targets, tr.To)
		}
	}
	return targets
}

// draft -> active: the first activation needs an order number, stored along with who completed it.
func planActivation(_ ClassRecord, req TransitionRequest, actor core.Actor, now time.Time) (StatusUpdate, error) {
	orderNr := NormalizeOrderNr(req.OrderNr)
	if orderNr == "" {
		return StatusUpdate{}, core.NewValidationError(nil, core.FieldError{Field: "order_nr", Error: errOrderNrRequired})
	}
	return StatusUpdate{
		ClassID: req.ClassID,
		Status:  StatusActive,
		OrderNr: &orderNr,
		OrderNrMetadata: &OrderNrMetadata{
			CompletedBy:     actor.ID,
			CompletedByName: actor.Name,
			CompletedAt:     now,
		},
	}, nil
}

// active -> stopped
func planStop(_ ClassRecord, req TransitionRequest, _ core.Actor, _ time.Time) (StatusUpdate, error) {
	if _, ok := ParseStopReason(string(req.StopReason)); !ok {
		return StatusUpdate{}, core.NewValidationError(nil, core.FieldError{Field: "stop_reason", Error: errStopReasonRequired})
	}
	return StatusUpdate{ClassID: req.ClassID, Status: StatusStopped}, nil
}

// stopped -> active: the class keeps its order number. Rows that lost it (legacy data) must be given one.
func planResume(rec ClassRecord, req TransitionRequest, _ core.Actor, _ time.Time) (StatusUpdate, error) {
	upd := StatusUpdate{ClassID: req.ClassID, Status: StatusActive}
	if NormalizeOrderNr(rec.OrderNr) != "" {
		return upd, nil
	}
	orderNr := NormalizeOrderNr(req.OrderNr)
	if orderNr == "" {
		return StatusUpdate{}, core.NewValidationError(nil, core.FieldError{Field: "order_nr", Error: errOrderNrRequired})
	}
	upd.OrderNr = &orderNr
	return upd, nil
}
