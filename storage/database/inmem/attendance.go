package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/classledger/core"
	"github.com/trezcool/classledger/core/attendance"
)

type attendanceRepository struct {
	store *DB
	db    *sessionTable
}

var _ attendance.Repository = (*attendanceRepository)(nil)

func NewAttendanceRepository(db *DB) attendance.Repository {
	return &attendanceRepository{store: db, db: db.session}
}

// withCount fills the read-only learner count. Callers hold the table lock.
func (repo *attendanceRepository) withCount(sess attendance.Session) attendance.Session {
	sess.LearnerCount = len(repo.db.entries[sess.ID])
	return sess
}

func (repo *attendanceRepository) find(classID int, date time.Time) (attendance.Session, bool) {
	date = core.StartOfDay(date)
	for _, sess := range repo.db.table {
		if sess.ClassID == classID && sess.Date.Equal(date) {
			return sess, true
		}
	}
	return attendance.Session{}, false
}

func (repo *attendanceRepository) GetSessionByID(_ context.Context, id uuid.UUID) (attendance.Session, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if sess, ok := repo.db.table[id]; ok {
		return repo.withCount(sess), nil
	}
	return attendance.Session{}, attendance.ErrSessionNotFound
}

// LockSession returns the stored session of sess's class and date, inserting sess when there is
// none. Units of work are serialized by DB.RunInTx, which already gives the caller exclusive
// access to the row.
func (repo *attendanceRepository) LockSession(ctx context.Context, sess attendance.Session) (attendance.Session, error) {
	defer repo.store.autoTx(ctx)()
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if stored, ok := repo.find(sess.ClassID, sess.Date); ok {
		return repo.withCount(stored), nil
	}
	return repo.insert(sess), nil
}

func (repo *attendanceRepository) LockSessionByID(ctx context.Context, id uuid.UUID) (attendance.Session, error) {
	return repo.GetSessionByID(ctx, id)
}

func (repo *attendanceRepository) QuerySessions(_ context.Context, classID int) ([]attendance.Session, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var sessions []attendance.Session
	for _, sess := range repo.db.table {
		if sess.ClassID == classID {
			sessions = append(sessions, repo.withCount(sess))
		}
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].Date.Before(sessions[j].Date) })
	return sessions, nil
}

func (repo *attendanceRepository) UpsertSession(ctx context.Context, sess attendance.Session) (attendance.Session, error) {
	defer repo.store.autoTx(ctx)()
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	now := time.Now().UTC()
	sess.Date = core.StartOfDay(sess.Date)
	if stored, ok := repo.find(sess.ClassID, sess.Date); ok {
		stored.ScheduledHours = sess.ScheduledHours
		stored.UpdatedAt = now
		repo.db.table[stored.ID] = stored
		return repo.withCount(stored), nil
	}

	return repo.insert(sess), nil
}

// insert stores a new session. Callers hold the table lock.
func (repo *attendanceRepository) insert(sess attendance.Session) attendance.Session {
	now := time.Now().UTC()
	if sess.ID == uuid.Nil {
		sess.ID = uuid.New()
	}
	sess.Date = core.StartOfDay(sess.Date)
	sess.Exception = nil // saved with SaveException only
	sess.CreatedAt = now
	sess.UpdatedAt = now
	repo.db.table[sess.ID] = sess
	return repo.withCount(sess)
}

func (repo *attendanceRepository) UpsertEntries(ctx context.Context, entries []attendance.LearnerHoursEntry) error {
	defer repo.store.autoTx(ctx)()
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	for _, e := range entries {
		if _, ok := repo.db.table[e.SessionID]; !ok {
			return attendance.ErrSessionNotFound
		}
	}
	for _, e := range entries {
		byLearner, ok := repo.db.entries[e.SessionID]
		if !ok {
			byLearner = make(map[int]attendance.LearnerHoursEntry)
			repo.db.entries[e.SessionID] = byLearner
		}
		byLearner[e.LearnerID] = e
	}
	return nil
}

func (repo *attendanceRepository) QueryEntries(_ context.Context, sessionID uuid.UUID) ([]attendance.LearnerHoursEntry, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	byLearner := repo.db.entries[sessionID]
	entries := make([]attendance.LearnerHoursEntry, 0, len(byLearner))
	for _, e := range byLearner {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].LearnerID < entries[j].LearnerID })
	return entries, nil
}

func (repo *attendanceRepository) SaveException(ctx context.Context, sessionID uuid.UUID, exc attendance.ExceptionRecord) error {
	defer repo.store.autoTx(ctx)()
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	sess, ok := repo.db.table[sessionID]
	if !ok {
		return attendance.ErrSessionNotFound
	}
	sess.Exception = &exc
	sess.UpdatedAt = time.Now().UTC()
	repo.db.table[sessionID] = sess
	return nil
}

func (repo *attendanceRepository) DeleteSession(ctx context.Context, id uuid.UUID) error {
	defer repo.store.autoTx(ctx)()
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.table[id]; !ok {
		return attendance.ErrSessionNotFound
	}
	delete(repo.db.table, id)
	delete(repo.db.entries, id)
	return nil
}
