package class

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/trezcool/classledger/core"
)

var (
	// errors
	ErrNotFound = errors.New("class not found")

	errInvalidTarget = "must be one of draft, active or stopped"
)

type (
	// Repository is the class record store.
	// LockClass must hold an exclusive lock on the row until the surrounding transaction ends.
	Repository interface {
		GetClass(ctx context.Context, id int) (ClassRecord, error)
		LockClass(ctx context.Context, id int) (ClassRecord, error)
		UpdateStatus(ctx context.Context, upd StatusUpdate) error
		AppendTransition(ctx context.Context, rec TransitionRecord) error
		QueryTransitions(ctx context.Context, classID int) ([]TransitionRecord, error)
	}

	// NameResolver looks up the display name of an actor id.
	NameResolver interface {
		DisplayName(ctx context.Context, id int) (string, error)
	}

	Service struct {
		repo   Repository
		tx     core.Transactor
		names  NameResolver
		clock  core.Clock
		logger core.Logger
	}
)

func NewService(repo Repository, tx core.Transactor, names NameResolver, clock core.Clock, logger core.Logger) *Service {
	return &Service{
		repo:   repo,
		tx:     tx,
		names:  names,
		clock:  clock,
		logger: logger,
	}
}

// GetClass returns the class with its resolved status.
func (svc *Service) GetClass(ctx context.Context, id int) (Summary, error) {
	rec, err := svc.repo.GetClass(ctx, id)
	if err != nil {
		return Summary{}, err
	}
	return rec.Summary(), nil
}

// RequestTransition moves a class to req.Target.
// The class row stays locked from the status check until the status write and its history row
// are committed, so of two concurrent identical requests the second one fails the same-state guard.
func (svc *Service) RequestTransition(ctx context.Context, req TransitionRequest, actor core.Actor) (Status, error) {
	if !actor.Elevated {
		return "", core.ErrPermissionDenied
	}
	if _, ok := ParseStatus(string(req.Target)); !ok {
		return "", core.NewValidationError(nil, core.FieldError{Field: "new_status", Error: errInvalidTarget})
	}

	var from Status
	err := svc.tx.RunInTx(ctx, func(ctx context.Context) error {
		rec, err := svc.repo.LockClass(ctx, req.ClassID)
		if err != nil {
			return errors.Wrap(err, "locking class")
		}

		from = Resolve(rec)
		if from == req.Target {
			return core.NewStateError(core.StateNoOpTransition, fmt.Sprintf("class is already %s", from))
		}
		tr, ok := transitionFor(from, req.Target)
		if !ok {
			return core.NewStateError(
				core.StateInvalidTransition,
				fmt.Sprintf("class cannot go from %s to %s", from, req.Target),
			)
		}

		now := svc.clock.Now().UTC()
		upd, err := tr.plan(rec, req, actor, now)
		if err != nil {
			return err
		}
		if err = svc.repo.UpdateStatus(ctx, upd); err != nil {
			return errors.Wrap(err, "updating class status")
		}

		hist := TransitionRecord{
			ID:        uuid.New(),
			ClassID:   req.ClassID,
			OldStatus: from,
			NewStatus: tr.To,
			Notes:     core.CleanString(req.Notes),
			ChangedBy: actor.ID,
			ChangedAt: now,
		}
		if tr.To == StatusStopped {
			hist.Reason = req.StopReason
		}
		return errors.Wrap(svc.repo.AppendTransition(ctx, hist), "appending status history")
	})
	if err != nil {
		return "", err
	}

	svc.logger.Info(
		fmt.Sprintf("class %d: %s -> %s", req.ClassID, from, req.Target),
		map[string]interface{}{"class_id": req.ClassID, "from": from, "to": req.Target},
		actor,
	)
	return req.Target, nil
}

// History returns every status change of a class, newest first, with the actors' names resolved.
func (svc *Service) History(ctx context.Context, classID int) ([]HistoryEntry, error) {
	if _, err := svc.repo.GetClass(ctx, classID); err != nil {
		return nil, err
	}
	recs, err := svc.repo.QueryTransitions(ctx, classID)
	if err != nil {
		return nil, errors.Wrap(err, "querying status history")
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].ChangedAt.After(recs[j].ChangedAt) })

	ids := make([]int, 0, len(recs))
	seen := make(map[int]bool, len(recs))
	for _, rec := range recs {
		if !seen[rec.ChangedBy] {
			seen[rec.ChangedBy] = true
			ids = append(ids, rec.ChangedBy)
		}
	}
	names, err := svc.resolveNames(ctx, ids)
	if err != nil {
		return nil, err
	}

	entries := make([]HistoryEntry, 0, len(recs))
	for _, rec := range recs {
		entries = append(entries, HistoryEntry{TransitionRecord: rec, ChangedByName: names[rec.ChangedBy]})
	}
	return entries, nil
}

// resolveNames looks up every id concurrently against the identity store.
func (svc *Service) resolveNames(ctx context.Context, ids []int) (map[int]string, error) {
	var mu sync.Mutex
	names := make(map[int]string, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			name, err := svc.names.DisplayName(gctx, id)
			if err != nil {
				return errors.Wrapf(err, "resolving name of user %d", id)
			}
			mu.Lock()
			names[id] = name
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return names, nil
}
