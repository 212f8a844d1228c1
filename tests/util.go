package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/trezcool/classledger/core"
	"github.com/trezcool/classledger/core/attendance"
	"github.com/trezcool/classledger/core/class"
	"github.com/trezcool/classledger/core/schedule"
	"github.com/trezcool/classledger/core/user"
	"github.com/trezcool/classledger/storage/database"
	inmemdb "github.com/trezcool/classledger/storage/database/inmem"
)

// Today is the date the fixed test clock is set to.
var Today = core.Date(2024, time.February, 1)

type (
	ClassRepository interface {
		class.Repository
		CreateClass(ctx context.Context, rec class.ClassRecord) (class.ClassRecord, error)
	}

	// Store gathers the in-memory repositories of one test.
	Store struct {
		DB         *inmemdb.DB
		Users      user.Repository
		Classes    ClassRepository
		Attendance attendance.Repository
		Ledger     *inmemdb.HoursLedger
	}
)

func NewStore() *Store {
	db := inmemdb.Open()
	return &Store{
		DB:         db,
		Users:      inmemdb.NewUserRepository(db),
		Classes:    inmemdb.NewClassRepository(db),
		Attendance: inmemdb.NewAttendanceRepository(db),
		Ledger:     inmemdb.NewHoursLedger(db),
	}
}

// PrepareDB connects to the test database and migrates it. Tests using it are skipped
// unless DB_TESTS=1, as they need a running PostgreSQL.
func PrepareDB(t *testing.T) *sqlx.DB {
	if os.Getenv("DB_TESTS") != "1" {
		t.Skip("set DB_TESTS=1 to run the PostgreSQL tests")
	}

	conf := core.NewConfig()
	if err := database.CreateIfNotExist(conf); err != nil {
		t.Fatalf("prepareDB() failed: %v", err)
	}
	db, err := database.Open(conf)
	if err != nil {
		t.Fatalf("prepareDB() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err = database.Migrate(db, "up"); err != nil {
		t.Fatalf("prepareDB() failed: %v", err)
	}
	ResetDB(t, db)
	return db
}

// ResetDB empties every table.
func ResetDB(t *testing.T, db *sqlx.DB) {
	q := `TRUNCATE learner_hours_log, learner_hours, attendance_session, class_status_history,
		class_date_override, class_stop_restart, public_holiday, class, "user" RESTART IDENTITY CASCADE`
	if _, err := db.Exec(q); err != nil {
		t.Fatalf("resetDB() failed: %v", err)
	}
}

// Clock returns a clock stopped at noon of Today.
func Clock() core.FixedClock {
	return core.FixedClock(Today.Add(12 * time.Hour))
}

func AttendanceConfig() core.AttendanceConfig {
	return core.AttendanceConfig{
		Timezone:        "UTC",
		MaxScheduleDays: 2 * 366,
		LedgerSource:    "class_attendance",
	}
}

// MonWedJanuary is a 4 hours per session schedule on Mondays and Wednesdays of January 2024.
func MonWedJanuary() schedule.Schedule {
	return schedule.Schedule{
		Weekdays:        []time.Weekday{time.Monday, time.Wednesday},
		StartDate:       core.Date(2024, time.January, 1),
		EndDate:         core.Date(2024, time.January, 31),
		HoursPerSession: 4,
	}
}

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Roles:     roles,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("createUser() failed: %v", err)
	}
	return usr
}

func CreateAdmin(t *testing.T, repo user.Repository, name string) user.User {
	return CreateUser(t, repo, name, name, name+"@test.cd", user.AdminRoles, true)
}

func CreateAgent(t *testing.T, repo user.Repository, name string) user.User {
	return CreateUser(t, repo, name, name, name+"@test.cd", user.AgentRoles, true)
}

// CreateClass stores a class on the MonWedJanuary schedule in the given status.
// Active and stopped classes get an order number.
func CreateClass(t *testing.T, repo ClassRepository, name string, status class.Status) class.ClassRecord {
	rec := class.ClassRecord{
		Name:       name,
		StatusFlag: string(status),
		Schedule:   MonWedJanuary(),
	}
	if status != class.StatusDraft {
		rec.OrderNr = "PO-" + name
	}
	rec, err := repo.CreateClass(context.Background(), rec)
	if err != nil {
		t.Fatalf("createClass() failed: %v", err)
	}
	return rec
}
