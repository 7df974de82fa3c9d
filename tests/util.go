// Package testutil holds the fixtures shared by the service, API and CLI tests.
package testutil

import (
	"math/rand"
	"testing"
	"time"

	"github.com/trezcool/tahadhari/core"
	"github.com/trezcool/tahadhari/core/alert"
	emailsvc "github.com/trezcool/tahadhari/services/email"
	logsvc "github.com/trezcool/tahadhari/services/logger"
	dummydb "github.com/trezcool/tahadhari/storage/database/dummy"
)

// Config returns the default configuration in test mode.
func Config() *core.Config {
	conf := core.NewConfig()
	conf.Debug = false
	conf.TestMode = true
	conf.FromEmail = "Tahadhari <noreply@tahadhari.test>"
	return conf
}

// Options are the default alert options without the motivational lottery, so tests are deterministic.
func Options() alert.Options {
	opts := alert.DefaultOptions()
	opts.MotivationalChance = 0
	return opts
}

// PinClock freezes core.NowFunc at tm for the duration of the test.
func PinClock(t *testing.T, tm time.Time) func(time.Time) {
	t.Helper()
	orig := core.NowFunc
	now := tm.UTC()
	core.NowFunc = func() time.Time { return now }
	t.Cleanup(func() { core.NowFunc = orig })

	// set moves the pinned clock
	return func(tm time.Time) { now = tm.UTC() }
}

type Env struct {
	DB   *dummydb.DB
	Repo alert.Repository
	Dir  alert.Directory
	Svc  *alert.Service
}

// NewEnv wires an alert.Service on a fresh in-memory DB, with synchronous emails (see emailsvc.Sent).
func NewEnv(t *testing.T, opts alert.Options, options ...alert.ServiceOption) *Env {
	t.Helper()
	db, err := dummydb.Open()
	if err != nil {
		t.Fatalf("dummydb.Open() failed: %v", err)
	}
	emailsvc.ResetSentMessages()

	logger := logsvc.NewNopLogger()
	notifier := alert.NewNotifier(emailsvc.NewConsoleServiceMock(Config(), logger), logger)
	env := &Env{
		DB:   db,
		Repo: dummydb.NewAlertRepository(db),
		Dir:  dummydb.NewDirectory(db),
	}
	options = append([]alert.ServiceOption{alert.WithRand(rand.New(rand.NewSource(1)))}, options...)
	env.Svc = alert.NewService(env.Repo, env.Dir, notifier, logger, opts, options...)
	return env
}

// Enrollment is a student enrolled in a course taught by a lecturer.
type Enrollment struct {
	Student  alert.Person
	Lecturer alert.Person
	CourseID int
}

// Enroll seeds one student in a new course; withLecturer assigns a lecturer to it.
func (env *Env) Enroll(withLecturer bool) Enrollment {
	e := Enrollment{
		Student:  env.DB.AddUser("Alice Mwangi", "alice@tahadhari.test", core.RoleStudent),
		CourseID: env.DB.AddCourse("CS201", "Algorithms"),
	}
	if withLecturer {
		e.Lecturer = env.DB.AddUser("Grace Wanjiru", "grace@tahadhari.test", core.RoleLecturer)
		env.DB.AssignLecturer(e.CourseID, e.Lecturer.ID)
	}
	env.DB.Enroll(e.Student.ID, e.CourseID)
	return e
}

// AlertsFor returns the stored alerts of one recipient, oldest first.
func (env *Env) AlertsFor(rt alert.RecipientType, id int) []alert.Alert {
	var res []alert.Alert
	for _, a := range env.DB.Alerts() {
		if a.RecipientType == rt && a.RecipientID == id {
			res = append(res, a)
		}
	}
	return res
}
