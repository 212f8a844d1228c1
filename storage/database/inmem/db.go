// Package inmemdb implements the storage ports in memory. It backs the tests and debug runs
// without a database.
package inmemdb

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/trezcool/classledger/core"
	"github.com/trezcool/classledger/core/attendance"
	"github.com/trezcool/classledger/core/class"
	"github.com/trezcool/classledger/core/user"
)

type (
	DB struct {
		txMutex sync.Mutex // one unit of work at a time; holding it is the class row lock

		user     *userTable
		class    *classTable
		session  *sessionTable
		hoursLog *hoursLogTable
	}

	userTable struct {
		table map[int]*user.User
		seq   int
		mutex sync.RWMutex
	}

	classTable struct {
		table   map[int]class.ClassRecord
		history []class.TransitionRecord
		seq     int
		mutex   sync.RWMutex
	}

	sessionTable struct {
		table   map[uuid.UUID]attendance.Session
		entries map[uuid.UUID]map[int]attendance.LearnerHoursEntry // session -> learner -> entry
		mutex   sync.RWMutex
	}

	hoursLogTable struct {
		rows  []HoursLogRow
		mutex sync.RWMutex
	}

	// snapshot holds copies of every table, taken when a unit of work starts.
	snapshot struct {
		classes  map[int]class.ClassRecord
		history  []class.TransitionRecord
		sessions map[uuid.UUID]attendance.Session
		entries  map[uuid.UUID]map[int]attendance.LearnerHoursEntry
		hoursLog []HoursLogRow
	}

	txKey struct{}
)

var _ core.Transactor = (*DB)(nil)

func Open() *DB {
	return &DB{
		user:     &userTable{table: make(map[int]*user.User)},
		class:    &classTable{table: make(map[int]class.ClassRecord)},
		session:  &sessionTable{table: make(map[uuid.UUID]attendance.Session), entries: make(map[uuid.UUID]map[int]attendance.LearnerHoursEntry)},
		hoursLog: &hoursLogTable{},
	}
}

func inTx(ctx context.Context) bool {
	ok, _ := ctx.Value(txKey{}).(bool)
	return ok
}

// RunInTx runs fn as one unit of work: when fn fails, every table is restored as it was before.
// Writes outside of a unit of work wait for it to end (see autoTx).
// A unit of work started inside another one joins it.
func (db *DB) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}

	db.txMutex.Lock()
	defer db.txMutex.Unlock()

	snap := db.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		db.restore(snap)
		return err
	}
	return nil
}

// autoTx makes a write done outside of a unit of work wait for the running one,
// so that a rollback never drops it. The returned func releases the lock.
func (db *DB) autoTx(ctx context.Context) func() {
	if inTx(ctx) {
		return func() {}
	}
	db.txMutex.Lock()
	return db.txMutex.Unlock
}

func (db *DB) snapshot() snapshot {
	db.class.mutex.RLock()
	classes := make(map[int]class.ClassRecord, len(db.class.table))
	for id, rec := range db.class.table {
		classes[id] = rec
	}
	history := append([]class.TransitionRecord(nil), db.class.history...)
	db.class.mutex.RUnlock()

	db.session.mutex.RLock()
	sessions := make(map[uuid.UUID]attendance.Session, len(db.session.table))
	for id, sess := range db.session.table {
		sessions[id] = sess
	}
	entries := make(map[uuid.UUID]map[int]attendance.LearnerHoursEntry, len(db.session.entries))
	for id, byLearner := range db.session.entries {
		cp := make(map[int]attendance.LearnerHoursEntry, len(byLearner))
		for lid, e := range byLearner {
			cp[lid] = e
		}
		entries[id] = cp
	}
	db.session.mutex.RUnlock()

	db.hoursLog.mutex.RLock()
	hoursLog := append([]HoursLogRow(nil), db.hoursLog.rows...)
	db.hoursLog.mutex.RUnlock()

	return snapshot{
		classes:  classes,
		history:  history,
		sessions: sessions,
		entries:  entries,
		hoursLog: hoursLog,
	}
}

func (db *DB) restore(snap snapshot) {
	db.class.mutex.Lock()
	db.class.table = snap.classes
	db.class.history = snap.history
	db.class.mutex.Unlock()

	db.session.mutex.Lock()
	db.session.table = snap.sessions
	db.session.entries = snap.entries
	db.session.mutex.Unlock()

	db.hoursLog.mutex.Lock()
	db.hoursLog.rows = snap.hoursLog
	db.hoursLog.mutex.Unlock()
}
