package alert_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/tahadhari/core"
	"github.com/trezcool/tahadhari/core/alert"
	testutil "github.com/trezcool/tahadhari/tests"
)

func TestService_alertStore(t *testing.T) {
	ctx := context.Background()
	setClock := testutil.PinClock(t, monday)
	env := testutil.NewEnv(t, testutil.Options())
	e := env.Enroll(true)
	other := env.DB.AddUser("Brian Otieno", "brian@tahadhari.test", core.RoleStudent)
	env.DB.Enroll(other.ID, e.CourseID)

	failed, err := env.Svc.GenerateQuiz(ctx, e.Student.ID, e.CourseID, 1, null.Float64From(30))
	require.NoError(t, err)
	setClock(monday.Add(time.Hour))
	excellent, err := env.Svc.GenerateQuiz(ctx, e.Student.ID, e.CourseID, 2, null.Float64From(95))
	require.NoError(t, err)
	_, err = env.Svc.GenerateQuiz(ctx, other.ID, e.CourseID, 1, null.Float64From(30))
	require.NoError(t, err)

	res, err := env.Svc.ListAlerts(ctx, alert.RecipientStudent, e.Student.ID, alert.Filter{})
	require.NoError(t, err)
	require.Len(t, res.Alerts, 2)
	assert.Equal(t, excellent.ID, res.Alerts[0].ID, "newest first")
	assert.Equal(t, "Algorithms", res.Alerts[0].CourseName)
	assert.Equal(t, 2, res.UnreadCount)

	// someone else's alert is silently ignored
	require.NoError(t, env.Svc.MarkRead(ctx, failed.ID, alert.RecipientStudent, other.ID))
	require.NoError(t, env.Svc.MarkRead(ctx, failed.ID, alert.RecipientStudent, e.Student.ID))
	require.NoError(t, env.Svc.MarkResolved(ctx, failed.ID, alert.RecipientStudent, e.Student.ID))
	require.NoError(t, env.Svc.Dismiss(ctx, excellent.ID, alert.RecipientStudent, e.Student.ID))

	res, err = env.Svc.ListAlerts(ctx, alert.RecipientStudent, e.Student.ID, alert.Filter{})
	require.NoError(t, err)
	require.Len(t, res.Alerts, 1, "dismissed alerts are hidden")
	assert.True(t, res.Alerts[0].IsRead)
	assert.True(t, res.Alerts[0].IsResolved)
	assert.Zero(t, res.UnreadCount)

	res, err = env.Svc.ListAlerts(ctx, alert.RecipientStudent, other.ID, alert.Filter{UnreadOnly: true})
	require.NoError(t, err)
	assert.Len(t, res.Alerts, 1, "other student's alert untouched")

	st, err := env.Svc.GetStatistics(ctx, alert.RecipientStudent, e.Student.ID)
	require.NoError(t, err)
	assert.Equal(t, alert.Statistics{Total: 2, Unread: 1, Critical: 1, AtRisk: 1, Excellent: 1}, st)

	st, err = env.Svc.GetStatistics(ctx, alert.RecipientLecturer, e.Lecturer.ID)
	require.NoError(t, err)
	assert.Zero(t, st.Total)

	setClock(monday.Add(31 * 24 * time.Hour))
	st, err = env.Svc.GetStatistics(ctx, alert.RecipientStudent, e.Student.ID)
	require.NoError(t, err)
	assert.Zero(t, st.Total, "outside the statistics window")

	_, err = env.Svc.ListAlerts(ctx, alert.RecipientType("admin"), 1, alert.Filter{})
	assert.True(t, core.IsValidationError(err))
}

func TestService_GetStatistics_lecturer(t *testing.T) {
	ctx := context.Background()
	testutil.PinClock(t, monday)
	env := testutil.NewEnv(t, testutil.Options())
	e := env.Enroll(true)

	_, err := env.Svc.GeneratePrediction(ctx, e.Student.ID, e.CourseID, null.Float64From(35))
	require.NoError(t, err)
	_, err = env.Svc.GenerateAttendance(ctx, e.Student.ID, e.CourseID, null.Float64From(70))
	require.NoError(t, err)

	st, err := env.Svc.GetStatistics(ctx, alert.RecipientLecturer, e.Lecturer.ID)
	require.NoError(t, err)
	assert.Equal(t, alert.Statistics{Total: 2, Unread: 2, Critical: 1, ActionRequired: 1, AtRisk: 1}, st)
}

func TestService_AtRiskStudents(t *testing.T) {
	ctx := context.Background()
	setClock := testutil.PinClock(t, monday)
	env := testutil.NewEnv(t, testutil.Options())
	e := env.Enroll(true)
	brian := env.DB.AddUser("Brian Otieno", "brian@tahadhari.test", core.RoleStudent)
	env.DB.Enroll(brian.ID, e.CourseID)
	databases := env.DB.AddCourse("CS301", "Databases")
	env.DB.AssignLecturer(databases, e.Lecturer.ID)
	env.DB.Enroll(e.Student.ID, databases)
	env.DB.Enroll(brian.ID, databases)

	steps := []func() error{
		func() error {
			_, err := env.Svc.GeneratePrediction(ctx, e.Student.ID, e.CourseID, null.Float64From(55))
			return err
		},
		func() error {
			_, err := env.Svc.GeneratePrediction(ctx, brian.ID, e.CourseID, null.Float64From(40))
			return err
		},
		func() error {
			_, err := env.Svc.GenerateAttendance(ctx, e.Student.ID, e.CourseID, null.Float64From(60))
			return err
		},
		func() error {
			_, err := env.Svc.GeneratePrediction(ctx, e.Student.ID, databases, null.Float64From(30))
			return err
		},
		func() error {
			_, err := env.Svc.GeneratePrediction(ctx, brian.ID, databases, null.Float64From(62))
			return err
		},
	}
	for i, step := range steps {
		setClock(monday.Add(time.Duration(i) * time.Hour))
		require.NoError(t, step())
	}
	for _, a := range env.AlertsFor(alert.RecipientLecturer, e.Lecturer.ID) {
		if a.StudentID == brian.ID && a.CourseID == databases {
			require.NoError(t, env.Svc.Dismiss(ctx, a.ID, alert.RecipientLecturer, e.Lecturer.ID))
		}
	}

	report, err := env.Svc.AtRiskStudents(ctx, e.Lecturer.ID, null.Int{})
	require.NoError(t, err)
	assert.Equal(t, 4, report.TotalAtRisk, "dismissed alerts are left out")
	require.Len(t, report.Courses, 2)

	algorithms := report.Courses[0]
	assert.Equal(t, "Algorithms", algorithms.CourseName)
	assert.Equal(t, 2, algorithms.Students)
	require.Len(t, algorithms.Alerts, 3)
	assert.Equal(t, null.Float64From(40), algorithms.Alerts[0].PredictedPercentage)
	assert.Equal(t, "Brian Otieno", algorithms.Alerts[0].StudentName)
	assert.Equal(t, null.Float64From(55), algorithms.Alerts[1].PredictedPercentage)
	assert.Equal(t, alert.TypeLowClassAttendance, algorithms.Alerts[2].Type, "no prediction sorts last")

	db := report.Courses[1]
	assert.Equal(t, databases, db.CourseID)
	assert.Equal(t, 1, db.Students)
	require.Len(t, db.Alerts, 1)
	assert.Equal(t, alert.SeverityCritical, db.Alerts[0].Severity)

	report, err = env.Svc.AtRiskStudents(ctx, e.Lecturer.ID, null.IntFrom(databases))
	require.NoError(t, err)
	assert.Equal(t, 1, report.TotalAtRisk)
	require.Len(t, report.Courses, 1)
	assert.Equal(t, "Databases", report.Courses[0].CourseName)

	report, err = env.Svc.AtRiskStudents(ctx, brian.ID, null.Int{})
	require.NoError(t, err)
	assert.Zero(t, report.TotalAtRisk)
	assert.NotNil(t, report.Courses)
	assert.Empty(t, report.Courses)
}

func TestService_GetAnalytics(t *testing.T) {
	ctx := context.Background()
	setClock := testutil.PinClock(t, monday)
	env := testutil.NewEnv(t, testutil.Options())
	e := env.Enroll(true)

	_, err := env.Svc.GenerateQuiz(ctx, e.Student.ID, e.CourseID, 1, null.Float64From(30))
	require.NoError(t, err)
	setClock(monday.Add(25 * time.Hour))
	_, err = env.Svc.GenerateQuiz(ctx, e.Student.ID, e.CourseID, 2, null.Float64From(45))
	require.NoError(t, err)
	_, err = env.Svc.GeneratePrediction(ctx, e.Student.ID, e.CourseID, null.Float64From(90))
	require.NoError(t, err)

	an, err := env.Svc.GetAnalytics(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 7, an.PeriodDays)
	require.Len(t, an.Types, 2)
	assert.Equal(t, alert.TypeCount{Type: alert.TypePoorQuiz, Count: 2, AvgSeverity: 3.5}, an.Types[0])
	assert.Equal(t, alert.TypeCount{Type: alert.TypeExcellent, Count: 1, AvgSeverity: 1}, an.Types[1])
	require.Len(t, an.Courses, 1)
	assert.Equal(t, alert.CourseCount{CourseID: e.CourseID, CourseName: "Algorithms", Count: 3, CriticalCount: 1}, an.Courses[0])
	require.Len(t, an.Trends, 3)
	assert.Equal(t, "2024-03-05", an.Trends[0].Date, "newest day first")
	assert.Equal(t, "2024-03-04", an.Trends[2].Date)

	an, err = env.Svc.GetAnalytics(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, an.Courses, 1)
	assert.Equal(t, 2, an.Courses[0].Count)
}

func TestService_preferences(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewEnv(t, testutil.Options())

	p, err := env.Svc.GetPreferences(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, alert.DefaultPreferences(42), p)

	off := false
	p, err = env.Svc.UpdatePreferences(ctx, 42, alert.UpdatePreferences{PushNotifications: &off, Frequency: " Weekly "})
	require.NoError(t, err)
	assert.False(t, p.PushNotifications)
	assert.True(t, p.EmailNotifications)
	assert.Equal(t, alert.FrequencyWeekly, p.Frequency)

	got, err := env.Svc.GetPreferences(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, p, got)

	_, err = env.Svc.UpdatePreferences(ctx, 42, alert.UpdatePreferences{Frequency: "hourly"})
	require.True(t, core.IsValidationError(err))
	vErr := errors.Cause(err).(*core.ValidationError)
	assert.Equal(t, "alert_frequency", vErr.Fields[0].Field)
}

func TestService_Record(t *testing.T) {
	ctx := context.Background()
	testutil.PinClock(t, monday)
	env := testutil.NewEnv(t, testutil.Options(), alert.WithPredictor(fixedPredictor(52)))
	e := env.Enroll(true)

	err := env.Svc.RecordMarks(ctx, e.Student.ID, e.CourseID, "quizz1", null.Float64From(30))
	require.True(t, core.IsValidationError(err))
	vErr := errors.Cause(err).(*core.ValidationError)
	assert.Equal(t, "assessment", vErr.Fields[0].Field)
	assert.Contains(t, vErr.Fields[0].Error, "did you mean quiz1?")

	require.NoError(t, env.Svc.RecordMarks(ctx, e.Student.ID, e.CourseID, "Assignment2", null.Float64From(30)))
	require.NoError(t, env.Svc.RecordAttendance(ctx, e.Student.ID, e.CourseID, null.Float64From(55)))
	env.Svc.RecordPrediction(ctx, e.Student.ID, e.CourseID, null.Float64{})

	marks, err := env.Dir.Marks(ctx, e.Student.ID, e.CourseID)
	require.NoError(t, err)
	assert.Equal(t, null.Float64From(30), marks.Assignment2)

	var types []alert.Type
	for _, a := range env.AlertsFor(alert.RecipientStudent, e.Student.ID) {
		types = append(types, a.Type)
	}
	assert.Equal(t, []alert.Type{alert.TypePoorAssignment, alert.TypeLowAttendance, alert.TypeWarning}, types)

	pred := env.AlertsFor(alert.RecipientStudent, e.Student.ID)[2]
	assert.Equal(t, null.Float64From(52), pred.PredictedPercentage, "null prediction asks the predictor")
}

func TestService_HandleTask(t *testing.T) {
	ctx := context.Background()
	testutil.PinClock(t, monday)
	env := testutil.NewEnv(t, testutil.Options())
	e := env.Enroll(false)
	require.NoError(t, env.Dir.UpsertMarks(ctx, e.Student.ID, e.CourseID, "midterm", null.Float64From(20)))

	task := alert.NewTask(alert.TaskMarksUpdated, e.Student.ID, e.CourseID)
	task.Assessment = "midterm"
	require.NoError(t, env.Svc.HandleTask(ctx, task), "reads the stored mark")
	got := env.AlertsFor(alert.RecipientStudent, e.Student.ID)
	require.Len(t, got, 1)
	assert.Equal(t, alert.TypePoorMidterm, got[0].Type)

	task.Assessment = "final"
	err := env.Svc.HandleTask(ctx, task)
	assert.Equal(t, alert.ErrUnknownAssessment, errors.Cause(err))

	err = env.Svc.HandleTask(ctx, alert.NewTask("grades_exported", e.Student.ID, e.CourseID))
	assert.Equal(t, alert.ErrUnknownTask, errors.Cause(err))

	// no predictor configured
	require.NoError(t, env.Svc.HandleTask(ctx, alert.NewTask(alert.TaskPredictionGenerated, e.Student.ID, e.CourseID)))
	assert.Len(t, env.DB.Alerts(), 1)
}

func TestLoadThresholds(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		file := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(file, []byte(content), 0o600))
		return file
	}

	th, err := alert.LoadThresholds(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, alert.DefaultThresholds(), th)

	th, err = alert.LoadThresholds(write("quiz.yaml", `
thresholds:
  quiz:
    - min: 0
    - min: 90
      type: excellent
      severity: low
      title: "Top score in {{.Label}}"
      message: "{{.Percent}}% in {{.Course}}"
`))
	require.NoError(t, err)
	require.Len(t, th.Quiz, 2)
	assert.Equal(t, float64(90), th.Quiz[0].Min, "bands are sorted high to low")
	assert.False(t, th.Quiz[1].Emits())
	assert.Equal(t, alert.DefaultThresholds().Prediction, th.Prediction, "absent tables keep their defaults")

	_, err = alert.LoadThresholds(write("bad.yaml", `
thresholds:
  midterm:
    - min: 0
      type: poor_midterm
      severity: low
      title: "{{.Nope"
      message: "x"
`))
	assert.Error(t, err)
}

func TestLocalLocker(t *testing.T) {
	l := alert.NewLocalLocker()
	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "k")
	assert.Equal(t, context.DeadlineExceeded, err)

	other, err := l.Lock(context.Background(), "other")
	require.NoError(t, err, "keys are independent")
	other()

	unlock()
	unlock() // idempotent
	again, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)
	again()
}
