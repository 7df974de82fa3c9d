package tests

import (
	"context"
	"net/http"
	"strconv"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/tahadhari/core"
	"github.com/trezcool/tahadhari/core/alert"
	dummydb "github.com/trezcool/tahadhari/storage/database/dummy"
)

type actors struct {
	student, lecturer, other, admin core.Identity
	courseID                        int
}

func seedActors(t *testing.T, app *testApp) actors {
	e := app.Enroll(true)
	other := app.DB.AddUser("Brian Otieno", "brian@tahadhari.test", core.RoleStudent)
	app.DB.Enroll(other.ID, e.CourseID)
	admin := app.DB.AddUser("Admin", "admin@tahadhari.test", core.RoleAdmin)

	return actors{
		student:  core.Identity{UserID: e.Student.ID, Role: core.RoleStudent, Email: e.Student.Email},
		lecturer: core.Identity{UserID: e.Lecturer.ID, Role: core.RoleLecturer, Email: e.Lecturer.Email},
		other:    core.Identity{UserID: other.ID, Role: core.RoleStudent, Email: other.Email},
		admin:    core.Identity{UserID: admin.ID, Role: core.RoleAdmin, Email: admin.Email},
		courseID: e.CourseID,
	}
}

func Test_home(t *testing.T) {
	app := setup(t)
	req, rec := newRequest(http.MethodGet, "/")
	app.serve(req, rec)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Welcome to Tahadhari API!", rec.Body.String())
}

func Test_alertApi_list(t *testing.T) {
	app := setup(t)
	ctx := context.Background()
	a := seedActors(t, app)

	// student: critical quiz + high attendance; lecturer: low class attendance
	_, err := app.Svc.GenerateQuiz(ctx, a.student.UserID, a.courseID, 1, null.Float64From(30))
	require.NoError(t, err)
	_, err = app.Svc.GenerateAttendance(ctx, a.student.UserID, a.courseID, null.Float64From(60))
	require.NoError(t, err)
	_, err = app.Svc.GenerateQuiz(ctx, a.other.UserID, a.courseID, 1, null.Float64From(90))
	require.NoError(t, err)
	read := app.AlertsFor(alert.RecipientStudent, a.student.UserID)[0]
	require.NoError(t, app.Svc.MarkRead(ctx, read.ID, alert.RecipientStudent, a.student.UserID))

	list := func(rt alert.RecipientType, uid int, f alert.Filter) []byte {
		res, err := app.Svc.ListAlerts(ctx, rt, uid, f)
		require.NoError(t, err)
		return marchallObj(t, res)
	}
	studentToken := getToken(t, app.conf, a.student)
	adminToken := getToken(t, app.conf, a.admin)
	sid := strconv.Itoa(a.student.UserID)

	runHTTPTests(t, app, []httpTest{
		{name: "Auth required", path: "/v1/alerts", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "student: own alerts", path: "/v1/alerts", token: studentToken, wantCode: http.StatusOK,
			wantData: list(alert.RecipientStudent, a.student.UserID, alert.Filter{}),
		},
		{
			name: "student: unread", path: "/v1/alerts?unread=true", token: studentToken, wantCode: http.StatusOK,
			wantData: list(alert.RecipientStudent, a.student.UserID, alert.Filter{UnreadOnly: true}),
		},
		{
			name: "student: by severity", path: "/v1/alerts?ordering=-severity&limit=1", token: studentToken, wantCode: http.StatusOK,
			wantData: list(alert.RecipientStudent, a.student.UserID, alert.Filter{
				Ordering: []core.DBOrdering{{Field: "severity"}}, Limit: 1,
			}),
		},
		{
			name: "student: other course", path: "/v1/alerts?course_id=999", token: studentToken, wantCode: http.StatusOK,
			wantData: list(alert.RecipientStudent, a.student.UserID, alert.Filter{CourseID: null.IntFrom(999)}),
		},
		{
			name: "invalid ordering", path: "/v1/alerts?ordering=-severty", token: studentToken, wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"ordering": "must be one of: created_at, severity (did you mean severity?)"}),
		},
		{
			name: "invalid course_id", path: "/v1/alerts?course_id=abc", token: studentToken, wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"course_id": "must be a positive integer"}),
		},
		{
			name: "invalid unread", path: "/v1/alerts?unread=maybe", token: studentToken, wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"unread": "must be a boolean"}),
		},
		{
			name: "lecturer: own alerts", path: "/v1/alerts", token: getToken(t, app.conf, a.lecturer), wantCode: http.StatusOK,
			wantData: list(alert.RecipientLecturer, a.lecturer.UserID, alert.Filter{}),
		},
		{
			name: "admin: user_id required", path: "/v1/alerts", token: adminToken, wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"user_id": "this field is required"}),
		},
		{
			name: "admin: invalid user_type", path: "/v1/alerts?user_id=" + sid + "&user_type=lectrer", token: adminToken,
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"user_type": "must be one of: student, lecturer (did you mean lecturer?)"}),
		},
		{
			name: "admin: acts as student", path: "/v1/alerts?user_id=" + sid + "&user_type=student", token: adminToken,
			wantCode: http.StatusOK, wantData: list(alert.RecipientStudent, a.student.UserID, alert.Filter{}),
		},
	})
}

func Test_alertApi_flags(t *testing.T) {
	app := setup(t)
	ctx := context.Background()
	a := seedActors(t, app)

	created, err := app.Svc.GenerateQuiz(ctx, a.student.UserID, a.courseID, 1, null.Float64From(30))
	require.NoError(t, err)
	require.NotNil(t, created)
	path := func(action string) string { return "/v1/alerts/" + strconv.Itoa(created.ID) + "/" + action }

	studentToken := getToken(t, app.conf, a.student)
	otherToken := getToken(t, app.conf, a.other)

	tests := []httpTest{
		{name: "Auth required", method: http.MethodPost, path: path("read"), wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "unknown id", method: http.MethodPost, path: "/v1/alerts/abc/read", token: studentToken, wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "not found"})},
		{name: "other student: ignored", method: http.MethodPost, path: path("dismiss"), token: otherToken, wantCode: http.StatusNoContent, extra: alert.Alert{}},
		{name: "read", method: http.MethodPost, path: path("read"), token: studentToken, wantCode: http.StatusNoContent, extra: alert.Alert{IsRead: true}},
		{name: "resolve", method: http.MethodPost, path: path("resolve"), token: studentToken, wantCode: http.StatusNoContent, extra: alert.Alert{IsRead: true, IsResolved: true}},
		{name: "dismiss", method: http.MethodPost, path: path("dismiss"), token: studentToken, wantCode: http.StatusNoContent, extra: alert.Alert{IsRead: true, IsResolved: true, IsDismissed: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token)
			app.serve(req, rec)
			checkCodeAndData(t, tt, rec)

			if want, ok := tt.extra.(alert.Alert); ok {
				got, err := app.Repo.GetAlert(ctx, created.ID)
				require.NoError(t, err)
				assert.Equal(t, want.IsRead, got.IsRead)
				assert.Equal(t, want.IsResolved, got.IsResolved)
				assert.Equal(t, want.IsDismissed, got.IsDismissed)
			}
		})
	}

	// dismissed alerts are no longer listed
	res, err := app.Svc.ListAlerts(ctx, alert.RecipientStudent, a.student.UserID, alert.Filter{})
	require.NoError(t, err)
	assert.Empty(t, res.Alerts)
}

func Test_alertApi_statistics(t *testing.T) {
	app := setup(t)
	ctx := context.Background()
	a := seedActors(t, app)

	_, err := app.Svc.GeneratePrediction(ctx, a.student.UserID, a.courseID, null.Float64From(35))
	require.NoError(t, err)
	_, err = app.Svc.GenerateMidterm(ctx, a.student.UserID, a.courseID, null.Float64From(92))
	require.NoError(t, err)

	stats := func(rt alert.RecipientType, uid int) []byte {
		st, err := app.Svc.GetStatistics(ctx, rt, uid)
		require.NoError(t, err)
		return marchallObj(t, st)
	}

	runHTTPTests(t, app, []httpTest{
		{name: "Auth required", path: "/v1/alerts/statistics", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "student", path: "/v1/alerts/statistics", token: getToken(t, app.conf, a.student), wantCode: http.StatusOK,
			wantData: marchallObj(t, alert.Statistics{Total: 2, Unread: 2, Critical: 1, AtRisk: 1, Excellent: 1}),
		},
		{
			name: "lecturer", path: "/v1/alerts/statistics", token: getToken(t, app.conf, a.lecturer), wantCode: http.StatusOK,
			wantData: stats(alert.RecipientLecturer, a.lecturer.UserID),
		},
	})
}

func Test_alertApi_atRisk(t *testing.T) {
	app := setup(t)
	ctx := context.Background()
	a := seedActors(t, app)
	databases := app.DB.AddCourse("CS301", "Databases")
	app.DB.AssignLecturer(databases, a.lecturer.UserID)
	app.DB.Enroll(a.other.UserID, databases)

	_, err := app.Svc.GeneratePrediction(ctx, a.student.UserID, a.courseID, null.Float64From(45))
	require.NoError(t, err)
	_, err = app.Svc.GeneratePrediction(ctx, a.other.UserID, databases, null.Float64From(30))
	require.NoError(t, err)

	atRisk := func(courseID null.Int) []byte {
		report, err := app.Svc.AtRiskStudents(ctx, a.lecturer.UserID, courseID)
		require.NoError(t, err)
		return marchallObj(t, report)
	}
	lecturerToken := getToken(t, app.conf, a.lecturer)
	forbidden := marchallObj(t, httpErr{Error: "permission denied"})

	runHTTPTests(t, app, []httpTest{
		{name: "Auth required", path: "/v1/alerts/at-risk", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "Lecturer required: student", path: "/v1/alerts/at-risk", token: getToken(t, app.conf, a.student), wantCode: http.StatusForbidden, wantData: forbidden},
		{name: "Lecturer required: admin", path: "/v1/alerts/at-risk", token: getToken(t, app.conf, a.admin), wantCode: http.StatusForbidden, wantData: forbidden},
		{
			name: "invalid course_id", path: "/v1/alerts/at-risk?course_id=-1", token: lecturerToken, wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"course_id": "must be a positive integer"}),
		},
		{name: "all courses", path: "/v1/alerts/at-risk", token: lecturerToken, wantCode: http.StatusOK, wantData: atRisk(null.Int{})},
		{
			name: "one course", path: "/v1/alerts/at-risk?course_id=" + strconv.Itoa(databases), token: lecturerToken,
			wantCode: http.StatusOK, wantData: atRisk(null.IntFrom(databases)),
		},
	})

	report, err := app.Svc.AtRiskStudents(ctx, a.lecturer.UserID, null.Int{})
	require.NoError(t, err)
	assert.Equal(t, 2, report.TotalAtRisk)
	require.Len(t, report.Courses, 2)
	assert.Equal(t, "Algorithms", report.Courses[0].CourseName)
	assert.Equal(t, "Databases", report.Courses[1].CourseName)
}

func Test_alertApi_preferences(t *testing.T) {
	app := setup(t)
	a := seedActors(t, app)
	token := getToken(t, app.conf, a.student)

	updated := alert.DefaultPreferences(a.student.UserID)
	updated.EmailNotifications = false
	updated.Frequency = alert.FrequencyWeekly

	runHTTPTests(t, app, []httpTest{
		{name: "Auth required", path: "/v1/alerts/preferences", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "defaults", path: "/v1/alerts/preferences", token: token, wantCode: http.StatusOK,
			wantData: marchallObj(t, alert.DefaultPreferences(a.student.UserID)),
		},
		{
			name: "update", method: http.MethodPut, path: "/v1/alerts/preferences", token: token,
			body:     []byte(`{"email_notifications": false, "alert_frequency": "weekly"}`),
			wantCode: http.StatusOK, wantData: marchallObj(t, updated),
		},
		{
			name: "stored", path: "/v1/alerts/preferences", token: token, wantCode: http.StatusOK,
			wantData: marchallObj(t, updated),
		},
	})

	t.Run("invalid frequency", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPut, "/v1/alerts/preferences", token, []byte(`{"alert_frequency": "hourly"}`))
		app.serve(req, rec)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), `"alert_frequency"`)
	})

	t.Run("repository failure", func(t *testing.T) {
		app.DB.SetFaults(dummydb.Faults{GetPreferences: errors.New("connection reset")})
		defer app.DB.SetFaults(dummydb.Faults{})

		req, rec := newAuthRequest(http.MethodGet, "/v1/alerts/preferences", token)
		app.serve(req, rec)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusInternalServerError,
			wantData: marchallObj(t, httpErr{Error: http.StatusText(http.StatusInternalServerError)}),
		}, rec)
	})
}

func Test_alertApi_writes(t *testing.T) {
	app := setup(t)
	a := seedActors(t, app)
	lecturerToken := getToken(t, app.conf, a.lecturer)
	forbidden := marchallObj(t, httpErr{Error: "permission denied"})

	body := func(s string) []byte { return []byte(s) }
	marks := func(assessment string, v string) []byte {
		return body(`{"student_id": ` + strconv.Itoa(a.student.UserID) + `, "course_id": ` + strconv.Itoa(a.courseID) +
			`, "assessment": "` + assessment + `", "marks": ` + v + `}`)
	}
	enrollment := `"student_id": ` + strconv.Itoa(a.student.UserID) + `, "course_id": ` + strconv.Itoa(a.courseID)

	runHTTPTests(t, app, []httpTest{
		{name: "marks: Auth required", method: http.MethodPut, path: "/v1/marks", body: marks("quiz1", "30"), wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "marks: Staff required", method: http.MethodPut, path: "/v1/marks", body: marks("quiz1", "30"),
			token: getToken(t, app.conf, a.student), wantCode: http.StatusForbidden, wantData: forbidden,
		},
		{
			name: "marks: unknown assessment", method: http.MethodPut, path: "/v1/marks", body: marks("quiz3", "30"),
			token: lecturerToken, wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"assessment": "assessment must be one of: quiz1, quiz2, assignment1, assignment2, midterm"}),
		},
		{
			name: "marks: not a percentage", method: http.MethodPut, path: "/v1/marks", body: marks("quiz1", "120"),
			token: lecturerToken, wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"marks": "marks must be a percentage between 0 and 100"}),
		},
		{
			name: "marks: student required", method: http.MethodPut, path: "/v1/marks",
			body:  body(`{"course_id": 1, "assessment": "quiz1", "marks": 30}`),
			token: lecturerToken, wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"student_id": "this field is required"}),
		},
		{name: "marks", method: http.MethodPut, path: "/v1/marks", body: marks("quiz1", "30"), token: lecturerToken, wantCode: http.StatusNoContent},
		{
			name: "attendance", method: http.MethodPut, path: "/v1/attendance", token: lecturerToken,
			body: body(`{` + enrollment + `, "attendance_percentage": 60}`), wantCode: http.StatusNoContent,
		},
		{
			name: "predictions", method: http.MethodPost, path: "/v1/predictions", token: lecturerToken,
			body: body(`{` + enrollment + `, "predicted_percentage": 35}`), wantCode: http.StatusAccepted,
		},
	})

	// the inline queue generated the alerts before answering
	types := func(alerts []alert.Alert) []alert.Type {
		res := make([]alert.Type, 0, len(alerts))
		for _, al := range alerts {
			res = append(res, al.Type)
		}
		return res
	}
	assert.Equal(t,
		[]alert.Type{alert.TypePoorQuiz, alert.TypeLowAttendance, alert.TypeWarning},
		types(app.AlertsFor(alert.RecipientStudent, a.student.UserID)),
	)
	assert.Equal(t,
		[]alert.Type{alert.TypeLowClassAttendance, alert.TypeStudentAtRisk},
		types(app.AlertsFor(alert.RecipientLecturer, a.lecturer.UserID)),
	)

	m, err := app.Dir.Marks(context.Background(), a.student.UserID, a.courseID)
	require.NoError(t, err)
	assert.Equal(t, null.Float64From(30), m.Quiz1)
}

func Test_alertApi_admin(t *testing.T) {
	app := setup(t)
	ctx := context.Background()
	a := seedActors(t, app)
	adminToken := getToken(t, app.conf, a.admin)
	forbidden := marchallObj(t, httpErr{Error: "permission denied"})

	require.NoError(t, app.Dir.UpsertAttendance(ctx, a.student.UserID, a.courseID, null.Float64From(40)))
	process := "/v1/alerts/process/" + strconv.Itoa(a.student.UserID) + "/" + strconv.Itoa(a.courseID)

	runHTTPTests(t, app, []httpTest{
		{name: "process: Admin required", method: http.MethodPost, path: process, token: getToken(t, app.conf, a.lecturer), wantCode: http.StatusForbidden, wantData: forbidden},
		{
			name: "process: unknown student", method: http.MethodPost, path: "/v1/alerts/process/999/" + strconv.Itoa(a.courseID),
			token: adminToken, wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "not found"}),
		},
		{name: "process", method: http.MethodPost, path: process, token: adminToken, wantCode: http.StatusNoContent},
		{
			name: "analytics: invalid period", path: "/v1/alerts/analytics?period=abc", token: adminToken, wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"period": "must be a positive integer"}),
		},
		{name: "analytics: Admin required", path: "/v1/alerts/analytics", token: getToken(t, app.conf, a.student), wantCode: http.StatusForbidden, wantData: forbidden},
	})

	student := app.AlertsFor(alert.RecipientStudent, a.student.UserID)
	require.Len(t, student, 1)
	assert.Equal(t, alert.TypeLowAttendance, student[0].Type)
	assert.Equal(t, alert.SeverityCritical, student[0].Severity)

	t.Run("analytics", func(t *testing.T) {
		want, err := app.Svc.GetAnalytics(ctx, 7)
		require.NoError(t, err)
		req, rec := newAuthRequest(http.MethodGet, "/v1/alerts/analytics?period=7", adminToken)
		app.serve(req, rec)
		checkCodeAndData(t, httpTest{wantCode: http.StatusOK, wantData: marchallObj(t, want)}, rec)
	})
}
