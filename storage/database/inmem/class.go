package inmemdb

import (
	"context"
	"sort"

	"github.com/trezcool/classledger/core/class"
)

type classRepository struct {
	store *DB
	db    *classTable
}

var _ class.Repository = (*classRepository)(nil)

func NewClassRepository(db *DB) *classRepository {
	return &classRepository{store: db, db: db.class}
}

// CreateClass stores a new class row. Class rows are owned by the back office; this is for fixtures.
func (repo *classRepository) CreateClass(ctx context.Context, rec class.ClassRecord) (class.ClassRecord, error) {
	defer repo.store.autoTx(ctx)()
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	repo.db.seq++
	rec.ID = repo.db.seq
	repo.db.table[rec.ID] = rec
	return rec, nil
}

func (repo *classRepository) GetClass(_ context.Context, id int) (class.ClassRecord, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if rec, ok := repo.db.table[id]; ok {
		return rec, nil
	}
	return class.ClassRecord{}, class.ErrNotFound
}

// LockClass reads the class row. Units of work are serialized by DB.RunInTx,
// which already gives the caller exclusive access to the row.
func (repo *classRepository) LockClass(ctx context.Context, id int) (class.ClassRecord, error) {
	return repo.GetClass(ctx, id)
}

func (repo *classRepository) UpdateStatus(ctx context.Context, upd class.StatusUpdate) error {
	defer repo.store.autoTx(ctx)()
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	rec, ok := repo.db.table[upd.ClassID]
	if !ok {
		return class.ErrNotFound
	}
	rec.StatusFlag = string(upd.Status)
	if upd.OrderNr != nil {
		rec.OrderNr = *upd.OrderNr
	}
	if upd.OrderNrMetadata != nil {
		meta := *upd.OrderNrMetadata
		rec.OrderNrMetadata = &meta
	}
	repo.db.table[upd.ClassID] = rec
	return nil
}

func (repo *classRepository) AppendTransition(ctx context.Context, rec class.TransitionRecord) error {
	defer repo.store.autoTx(ctx)()
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	repo.db.history = append(repo.db.history, rec)
	return nil
}

func (repo *classRepository) QueryTransitions(_ context.Context, classID int) ([]class.TransitionRecord, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var recs []class.TransitionRecord
	for i := len(repo.db.history) - 1; i >= 0; i-- { // newest first
		if rec := repo.db.history[i]; rec.ClassID == classID {
			recs = append(recs, rec)
		}
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].ChangedAt.After(recs[j].ChangedAt) })
	return recs, nil
}
