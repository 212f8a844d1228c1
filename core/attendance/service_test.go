package attendance_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/classledger/core"
	"github.com/trezcool/classledger/core/attendance"
	"github.com/trezcool/classledger/core/class"
	logsvc "github.com/trezcool/classledger/services/logger"
	testutil "github.com/trezcool/classledger/tests"
)

var (
	agent = core.Actor{ID: 2, Name: "agent"}
	admin = core.Actor{ID: 1, Name: "admin", Elevated: true}
)

// flakyLedger is an external ledger: it does not join the unit of work.
type flakyLedger struct {
	mu            sync.Mutex
	adds          []attendance.LedgerEntry
	reverses      []attendance.LedgerEntry
	failAddAt     int // fails the nth AddHours call (1-based); 0 never fails
	failReverseAt int
}

func (l *flakyLedger) AddHours(_ context.Context, e attendance.LedgerEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failAddAt == len(l.adds)+1 {
		l.failAddAt = 0
		return errors.New("ledger unavailable")
	}
	l.adds = append(l.adds, e)
	return nil
}

func (l *flakyLedger) ReverseHours(_ context.Context, e attendance.LedgerEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failReverseAt == len(l.reverses)+1 {
		l.failReverseAt = 0
		return errors.New("ledger unavailable")
	}
	l.reverses = append(l.reverses, e)
	return nil
}

func newService(store *testutil.Store, ledger attendance.HoursLedger) *attendance.Service {
	return attendance.NewService(
		store.Attendance,
		store.Classes,
		ledger,
		store.DB,
		testutil.Clock(),
		testutil.AttendanceConfig(),
		logsvc.NewDiscardLogger(),
	)
}

func setup(t *testing.T) (*attendance.Service, *testutil.Store, class.ClassRecord) {
	store := testutil.NewStore()
	cls := testutil.CreateClass(t, store.Classes, "active", class.StatusActive)
	return newService(store, store.Ledger), store, cls
}

func capture(classID int, date string, lines ...attendance.LearnerHours) attendance.CaptureRequest {
	return attendance.CaptureRequest{ClassID: classID, SessionDate: date, LearnerHours: lines}
}

func lh(learnerID int, hours float64) attendance.LearnerHours {
	return attendance.LearnerHours{LearnerID: learnerID, HoursPresent: hours}
}

func fieldOf(t *testing.T, err error) string {
	vErr, ok := errors.Cause(err).(*core.ValidationError)
	require.True(t, ok, "want a *core.ValidationError, got %v", err)
	require.NotEmpty(t, vErr.Fields)
	return vErr.Fields[0].Field
}

func sessionOn(t *testing.T, store *testutil.Store, classID int, date string) (attendance.Session, bool) {
	sessions, err := store.Attendance.QuerySessions(context.Background(), classID)
	require.NoError(t, err)
	for _, sess := range sessions {
		if core.FormatDate(sess.Date) == date {
			return sess, true
		}
	}
	return attendance.Session{}, false
}

func TestService_endToEnd(t *testing.T) {
	svc, store, cls := setup(t)
	ctx := context.Background()

	views, err := svc.ListSessions(ctx, cls.ID)
	require.NoError(t, err)
	dates := make([]string, 0, len(views))
	for _, v := range views {
		dates = append(dates, v.Date)
		assert.Equal(t, attendance.StateExpected, v.Status)
		assert.Equal(t, 4.0, v.ScheduledHours)
	}
	assert.Equal(t, []string{
		"2024-01-01", "2024-01-03", "2024-01-08", "2024-01-10", "2024-01-15",
		"2024-01-17", "2024-01-22", "2024-01-24", "2024-01-29", "2024-01-31",
	}, dates)

	entries, err := svc.Capture(ctx, capture(cls.ID, "2024-01-03", lh(10, 3)), agent)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 10, entries[0].LearnerID)
	assert.Equal(t, 3.0, entries[0].HoursPresent)
	assert.Equal(t, agent.ID, entries[0].CapturedBy)

	_, err = svc.Capture(ctx, capture(cls.ID, "2024-01-03", lh(10, 5)), agent)
	assert.Equal(t, "learner_hours", fieldOf(t, err))
	assert.Contains(t, err.Error(), "learner 10")

	detail, err := svc.GetSessionDetail(ctx, entries[0].SessionID.String())
	require.NoError(t, err)
	require.Len(t, detail.Learners, 1)
	assert.Equal(t, 3.0, detail.Learners[0].HoursPresent)
	assert.Equal(t, "2024-01-03", detail.Date)
	assert.Equal(t, 4.0, detail.ScheduledHours)
	assert.Equal(t, attendance.StateCaptured, detail.Status)

	views, err = svc.ListSessions(ctx, cls.ID)
	require.NoError(t, err)
	assert.Equal(t, attendance.StateCaptured, views[1].Status)
	assert.Equal(t, 1, views[1].LearnerCount)

	trained, present := store.Ledger.Totals(10)
	assert.Equal(t, 4.0, trained)
	assert.Equal(t, 3.0, present)
}

func TestService_Capture_rejections(t *testing.T) {
	svc, store, cls := setup(t)
	ctx := context.Background()
	stopped := testutil.CreateClass(t, store.Classes, "stopped", class.StatusStopped)
	draft := testutil.CreateClass(t, store.Classes, "draft", class.StatusDraft)

	tests := []struct {
		name      string
		req       attendance.CaptureRequest
		wantState string
		wantField string
		wantErr   error
	}{
		{name: "stopped class", req: capture(stopped.ID, "2024-01-03", lh(1, 2)), wantState: core.StateClassNotActive},
		{name: "draft class", req: capture(draft.ID, "2024-01-03", lh(1, 2)), wantState: core.StateClassNotActive},
		{name: "unknown class", req: capture(404, "2024-01-03", lh(1, 2)), wantErr: class.ErrNotFound},
		{name: "malformed date", req: capture(cls.ID, "03/01/2024", lh(1, 2)), wantField: "session_date"},
		{name: "impossible date", req: capture(cls.ID, "2024-02-30", lh(1, 2)), wantField: "session_date"},
		{name: "future date", req: capture(cls.ID, "2024-02-05", lh(1, 2)), wantField: "session_date"},
		{name: "not a training day", req: capture(cls.ID, "2024-01-02", lh(1, 2)), wantField: "session_date"},
		{name: "one learner out of range", req: capture(cls.ID, "2024-01-08", lh(1, 2), lh(2, 4.01)), wantField: "learner_hours"},
		{name: "negative hours", req: capture(cls.ID, "2024-01-08", lh(1, -0.5)), wantField: "learner_hours"},
		{name: "only invalid learners", req: capture(cls.ID, "2024-01-08", lh(0, 2), lh(-1, 2)), wantField: "learner_hours"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Capture(ctx, tt.req, agent)
			require.Error(t, err)
			switch {
			case tt.wantErr != nil:
				assert.Equal(t, tt.wantErr, errors.Cause(err))
			case tt.wantState != "":
				assert.Equal(t, tt.wantState, core.StateErrorCode(err))
			default:
				assert.Equal(t, tt.wantField, fieldOf(t, err))
			}

			_, found := sessionOn(t, store, tt.req.ClassID, tt.req.SessionDate)
			assert.False(t, found, "no session should be written")
		})
	}
	assert.Empty(t, store.Ledger.Rows())
}

func TestService_Capture_futureDateMessage(t *testing.T) {
	svc, _, cls := setup(t)
	_, err := svc.Capture(context.Background(), capture(cls.ID, "2024-02-02", lh(1, 1)), agent)
	require.Error(t, err)
	assert.Equal(t, "session_date: "+core.ErrFutureDate.Error(), err.Error())
}

func TestService_Capture_boundsAreInclusive(t *testing.T) {
	svc, _, cls := setup(t)
	entries, err := svc.Capture(context.Background(), capture(cls.ID, "2024-01-01", lh(1, 0), lh(2, 4)), agent)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 0.0, entries[0].HoursPresent)
	assert.Equal(t, 4.0, entries[1].HoursPresent)
}

func TestService_Capture_dropsNoisyEntries(t *testing.T) {
	svc, _, cls := setup(t)
	entries, err := svc.Capture(context.Background(), capture(cls.ID, "2024-01-01", lh(0, 99), lh(3, 2), lh(-7, 1)), agent)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 3, entries[0].LearnerID)
}

func TestService_Capture_resubmission(t *testing.T) {
	svc, store, cls := setup(t)
	ctx := context.Background()

	_, err := svc.Capture(ctx, capture(cls.ID, "2024-01-10", lh(1, 3), lh(2, 4)), agent)
	require.NoError(t, err)
	entries, err := svc.Capture(ctx, capture(cls.ID, "2024-01-10", lh(1, 1.5)), agent)
	require.NoError(t, err)

	require.Len(t, entries, 2)
	assert.Equal(t, 1, entries[0].LearnerID)
	assert.Equal(t, 1.5, entries[0].HoursPresent)
	assert.Equal(t, 4.0, entries[1].HoursPresent)

	// the previous contribution of learner 1 was reversed before the new one was added
	trained, present := store.Ledger.Totals(1)
	assert.Equal(t, 4.0, trained)
	assert.Equal(t, 1.5, present)
	trained, present = store.Ledger.Totals(2)
	assert.Equal(t, 4.0, trained)
	assert.Equal(t, 4.0, present)
}

func TestService_Capture_classStoppedMidway(t *testing.T) {
	svc, store, cls := setup(t)
	ctx := context.Background()

	_, err := svc.Capture(ctx, capture(cls.ID, "2024-01-15", lh(1, 2)), agent)
	require.NoError(t, err)

	require.NoError(t, store.Classes.UpdateStatus(ctx, class.StatusUpdate{ClassID: cls.ID, Status: class.StatusStopped}))

	_, err = svc.Capture(ctx, capture(cls.ID, "2024-01-15", lh(1, 3)), agent)
	assert.Equal(t, core.StateClassNotActive, core.StateErrorCode(err))
}

func TestService_Capture_ledgerFailure(t *testing.T) {
	store := testutil.NewStore()
	cls := testutil.CreateClass(t, store.Classes, "active", class.StatusActive)
	ledger := &flakyLedger{failAddAt: 2}
	svc := newService(store, ledger)

	_, err := svc.Capture(context.Background(), capture(cls.ID, "2024-01-17", lh(1, 2), lh(2, 3)), agent)
	require.Error(t, err)

	_, found := sessionOn(t, store, cls.ID, "2024-01-17")
	assert.False(t, found)

	// the contribution of learner 1 went through and was undone
	require.Len(t, ledger.adds, 1)
	require.Len(t, ledger.reverses, 1)
	assert.Equal(t, ledger.adds[0], ledger.reverses[0])
}

func TestService_MarkException(t *testing.T) {
	svc, store, cls := setup(t)
	ctx := context.Background()

	entries, err := svc.Capture(ctx, capture(cls.ID, "2024-01-22", lh(1, 2), lh(2, 2)), agent)
	require.NoError(t, err)

	view, err := svc.MarkException(ctx, attendance.ExceptionRequest{
		ClassID:     cls.ID,
		SessionDate: "2024-01-22",
		Type:        attendance.ExceptionClientCancelled,
		Notes:       "  client closed  ",
	}, agent)
	require.NoError(t, err)
	assert.Equal(t, attendance.StateException, view.Status)
	assert.Equal(t, attendance.ExceptionClientCancelled, view.ExceptionType)
	assert.Equal(t, "client closed", view.Notes)
	assert.Equal(t, entries[0].SessionID, *view.ID)

	// the capture survives the exception
	detail, err := svc.GetSessionDetail(ctx, view.ID.String())
	require.NoError(t, err)
	assert.Len(t, detail.Learners, 2)
	require.NotNil(t, detail.Exception)
	assert.Equal(t, agent.ID, detail.Exception.MarkedBy)

	// but the session cannot be captured anymore
	_, err = svc.Capture(ctx, capture(cls.ID, "2024-01-22", lh(1, 1)), agent)
	assert.Equal(t, core.StateSessionException, core.StateErrorCode(err))

	// marking again overwrites
	view, err = svc.MarkException(ctx, attendance.ExceptionRequest{
		ClassID: cls.ID, SessionDate: "2024-01-22", Type: attendance.ExceptionAgentAbsent,
	}, agent)
	require.NoError(t, err)
	assert.Equal(t, attendance.ExceptionAgentAbsent, view.ExceptionType)

	views, err := svc.ListSessions(ctx, cls.ID)
	require.NoError(t, err)
	assert.Equal(t, attendance.StateException, views[6].Status)
	assert.Len(t, store.Ledger.Rows(), 2)
}

func TestService_MarkException_rejections(t *testing.T) {
	svc, store, cls := setup(t)
	ctx := context.Background()
	stopped := testutil.CreateClass(t, store.Classes, "stopped", class.StatusStopped)

	tests := []struct {
		name      string
		req       attendance.ExceptionRequest
		wantState string
		wantField string
	}{
		{name: "stopped class", req: attendance.ExceptionRequest{ClassID: stopped.ID, SessionDate: "2024-01-03", Type: attendance.ExceptionAgentAbsent}, wantState: core.StateClassNotActive},
		{name: "bad date", req: attendance.ExceptionRequest{ClassID: cls.ID, SessionDate: "lol", Type: attendance.ExceptionAgentAbsent}, wantField: "session_date"},
		{name: "future date", req: attendance.ExceptionRequest{ClassID: cls.ID, SessionDate: "2025-01-01", Type: attendance.ExceptionAgentAbsent}, wantField: "session_date"},
		{name: "invalid type", req: attendance.ExceptionRequest{ClassID: cls.ID, SessionDate: "2024-01-03", Type: "weather"}, wantField: "exception_type"},
		{name: "empty type", req: attendance.ExceptionRequest{ClassID: cls.ID, SessionDate: "2024-01-03"}, wantField: "exception_type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.MarkException(ctx, tt.req, agent)
			require.Error(t, err)
			if tt.wantState != "" {
				assert.Equal(t, tt.wantState, core.StateErrorCode(err))
			} else {
				assert.Equal(t, tt.wantField, fieldOf(t, err))
			}
		})
	}
}

func TestService_DeleteAndReverse(t *testing.T) {
	svc, store, cls := setup(t)
	ctx := context.Background()

	entries, err := svc.Capture(ctx, capture(cls.ID, "2024-01-24", lh(1, 1), lh(2, 2), lh(3, 3)), agent)
	require.NoError(t, err)
	sessionID := entries[0].SessionID.String()

	_, err = svc.DeleteAndReverse(ctx, sessionID, agent)
	assert.Equal(t, core.ErrPermissionDenied, errors.Cause(err))

	// deletion is allowed on a stopped class
	require.NoError(t, store.Classes.UpdateStatus(ctx, class.StatusUpdate{ClassID: cls.ID, Status: class.StatusStopped}))

	res, err := svc.DeleteAndReverse(ctx, sessionID, admin)
	require.NoError(t, err)
	assert.Equal(t, entries[0].SessionID, res.SessionID)
	assert.Equal(t, 3, res.Reversed)

	var reversals int
	for _, row := range store.Ledger.Rows() {
		if row.Reversal {
			reversals++
		}
	}
	assert.Equal(t, 3, reversals)
	for _, learnerID := range []int{1, 2, 3} {
		trained, present := store.Ledger.Totals(learnerID)
		assert.Zero(t, trained)
		assert.Zero(t, present)
	}

	left, err := store.Attendance.QueryEntries(ctx, entries[0].SessionID)
	require.NoError(t, err)
	assert.Empty(t, left)

	_, err = svc.GetSessionDetail(ctx, sessionID)
	assert.Equal(t, attendance.ErrSessionNotFound, errors.Cause(err))
	_, err = svc.DeleteAndReverse(ctx, sessionID, admin)
	assert.Equal(t, attendance.ErrSessionNotFound, errors.Cause(err))
}

func TestService_DeleteAndReverse_exceptionOnly(t *testing.T) {
	svc, store, cls := setup(t)
	ctx := context.Background()

	view, err := svc.MarkException(ctx, attendance.ExceptionRequest{ClassID: cls.ID, SessionDate: "2024-01-29", Type: attendance.ExceptionAgentAbsent}, agent)
	require.NoError(t, err)

	res, err := svc.DeleteAndReverse(ctx, view.ID.String(), admin)
	require.NoError(t, err)
	assert.Zero(t, res.Reversed)

	_, found := sessionOn(t, store, cls.ID, "2024-01-29")
	assert.False(t, found)
}

func TestService_DeleteAndReverse_reversalFailure(t *testing.T) {
	store := testutil.NewStore()
	cls := testutil.CreateClass(t, store.Classes, "active", class.StatusActive)
	ledger := &flakyLedger{}
	svc := newService(store, ledger)
	ctx := context.Background()

	entries, err := svc.Capture(ctx, capture(cls.ID, "2024-01-31", lh(1, 1), lh(2, 2)), agent)
	require.NoError(t, err)
	require.Len(t, ledger.adds, 2)

	ledger.failReverseAt = 2
	_, err = svc.DeleteAndReverse(ctx, entries[0].SessionID.String(), admin)
	require.Error(t, err)

	// nothing was removed and the one reversal that went through was undone
	left, err := store.Attendance.QueryEntries(ctx, entries[0].SessionID)
	require.NoError(t, err)
	assert.Len(t, left, 2)
	require.Len(t, ledger.reverses, 1)
	require.Len(t, ledger.adds, 3)
	assert.Equal(t, ledger.reverses[0], ledger.adds[2])
}

func TestService_invalidSessionID(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := context.Background()

	for _, id := range []string{"", "lol", "00000000-0000-0000-0000-000000000000"} {
		_, err := svc.GetSessionDetail(ctx, id)
		assert.Equal(t, "session_id", fieldOf(t, err))

		_, err = svc.DeleteAndReverse(ctx, id, admin)
		assert.Equal(t, "session_id", fieldOf(t, err))
	}
}

// rowLockStore runs units of work concurrently, as a database does: only the session rows read
// with LockSession are exclusive, until the unit of work that locked them ends.
type rowLockStore struct {
	attendance.Repository
	mu   sync.Mutex
	rows map[string]*sync.Mutex
}

type heldLocksKey struct{}

func (s *rowLockStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	var held []*sync.Mutex
	err := fn(context.WithValue(ctx, heldLocksKey{}, &held))
	for _, m := range held {
		m.Unlock()
	}
	return err
}

func (s *rowLockStore) LockSession(ctx context.Context, sess attendance.Session) (attendance.Session, error) {
	key := fmt.Sprintf("%d/%s", sess.ClassID, core.FormatDate(sess.Date))
	s.mu.Lock()
	m, ok := s.rows[key]
	if !ok {
		m = &sync.Mutex{}
		s.rows[key] = m
	}
	s.mu.Unlock()

	m.Lock()
	held := ctx.Value(heldLocksKey{}).(*[]*sync.Mutex)
	*held = append(*held, m)
	return s.Repository.LockSession(ctx, sess)
}

func TestService_Capture_concurrentDuplicates(t *testing.T) {
	store := testutil.NewStore()
	cls := testutil.CreateClass(t, store.Classes, "active", class.StatusActive)
	repo := &rowLockStore{Repository: store.Attendance, rows: make(map[string]*sync.Mutex)}
	svc := attendance.NewService(
		repo, store.Classes, store.Ledger, repo,
		testutil.Clock(), testutil.AttendanceConfig(), logsvc.NewDiscardLogger(),
	)

	const n = 8
	errs := make([]error, n)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = svc.Capture(context.Background(), capture(cls.ID, "2024-01-03", lh(10, 3)), agent)
		}(i)
	}
	close(start)
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	sess, found := sessionOn(t, store, cls.ID, "2024-01-03")
	require.True(t, found)
	assert.Equal(t, 1, sess.LearnerCount)

	// a single contribution, whatever the number of submissions
	trained, present := store.Ledger.Totals(10)
	assert.Equal(t, 4.0, trained)
	assert.Equal(t, 3.0, present)

	res, err := svc.DeleteAndReverse(context.Background(), sess.ID.String(), admin)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Reversed)
	trained, present = store.Ledger.Totals(10)
	assert.Zero(t, trained)
	assert.Zero(t, present)
}

func TestService_Capture_undoFailureShutsDown(t *testing.T) {
	store := testutil.NewStore()
	cls := testutil.CreateClass(t, store.Classes, "active", class.StatusActive)
	ledger := &flakyLedger{failAddAt: 2, failReverseAt: 1}
	svc := newService(store, ledger)

	_, err := svc.Capture(context.Background(), capture(cls.ID, "2024-01-17", lh(1, 2), lh(2, 3)), agent)
	require.Error(t, err)
	assert.True(t, core.IsShutdown(err), "%v", err)
	assert.Contains(t, err.Error(), "could not undo 1 of 1 ledger operations")

	_, found := sessionOn(t, store, cls.ID, "2024-01-17")
	assert.False(t, found)
}
