package attendance

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/classledger/core"
	"github.com/trezcool/classledger/core/schedule"
)

func TestMergeSessions(t *testing.T) {
	sched := schedule.Schedule{
		Weekdays:        []time.Weekday{time.Monday, time.Wednesday},
		StartDate:       core.Date(2024, 1, 1),
		EndDate:         core.Date(2024, 1, 10),
		HoursPerSession: 4,
	}
	slots, err := sched.Sessions(0)
	require.NoError(t, err)

	captured := Session{ID: uuid.New(), ClassID: 1, Date: core.Date(2024, 1, 3), ScheduledHours: 3, LearnerCount: 2}
	excepted := Session{
		ID: uuid.New(), ClassID: 1, Date: core.Date(2024, 1, 8), ScheduledHours: 4, LearnerCount: 1,
		Exception: &ExceptionRecord{Type: ExceptionAgentAbsent, Notes: "sick"},
	}
	offSchedule := Session{ID: uuid.New(), ClassID: 1, Date: core.Date(2024, 1, 5), ScheduledHours: 2, LearnerCount: 1}

	views := mergeSessions(slots, []Session{excepted, offSchedule, captured})

	got := make([][3]interface{}, 0, len(views))
	for _, v := range views {
		got = append(got, [3]interface{}{v.Date, v.Status, v.OffSchedule})
	}
	assert.Equal(t, [][3]interface{}{
		{"2024-01-01", StateExpected, false},
		{"2024-01-03", StateCaptured, false},
		{"2024-01-05", StateCaptured, true},
		{"2024-01-08", StateException, false},
		{"2024-01-10", StateExpected, false},
	}, got)

	assert.Nil(t, views[0].ID)
	assert.Equal(t, captured.ID, *views[1].ID)
	assert.Equal(t, 4.0, views[1].ScheduledHours, "hours follow the current schedule")
	assert.Equal(t, 2, views[1].LearnerCount)
	assert.Equal(t, 2.0, views[2].ScheduledHours)
	assert.Equal(t, ExceptionAgentAbsent, views[3].ExceptionType)
	assert.Equal(t, "sick", views[3].Notes)

	assert.Equal(t, views, mergeSessions(slots, []Session{captured, offSchedule, excepted}))
}

func TestSession_State(t *testing.T) {
	assert.Equal(t, StateExpected, Session{}.State())
	assert.Equal(t, StateCaptured, Session{LearnerCount: 1}.State())
	assert.Equal(t, StateException, Session{Exception: &ExceptionRecord{}}.State())
	assert.Equal(t, StateException, Session{LearnerCount: 3, Exception: &ExceptionRecord{}}.State())
}

func TestParseExceptionType(t *testing.T) {
	for _, typ := range ExceptionTypes {
		got, ok := ParseExceptionType(string(typ))
		assert.True(t, ok)
		assert.Equal(t, typ, got)
	}
	for _, s := range []string{"", "cancelled", "AGENT_ABSENT"} {
		_, ok := ParseExceptionType(s)
		assert.False(t, ok, s)
	}
}
