package tests

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/tahadhari/core/alert"
	"github.com/trezcool/tahadhari/scheduler"
)

func Test_schedulerApi(t *testing.T) {
	app := setup(t)
	a := seedActors(t, app)
	adminToken := getToken(t, app.conf, a.admin)

	status := func(t *testing.T, method, path string, wantCode int) scheduler.Status {
		req, rec := newAuthRequest(method, path, adminToken)
		app.serve(req, rec)
		require.Equal(t, wantCode, rec.Code, rec.Body.String())

		var st scheduler.Status
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
		return st
	}

	runHTTPTests(t, app, []httpTest{
		{name: "Auth required", path: "/v1/scheduler", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "Admin required", method: http.MethodPost, path: "/v1/scheduler/start", token: getToken(t, app.conf, a.lecturer),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "stop while stopped", method: http.MethodPost, path: "/v1/scheduler/stop", token: adminToken,
			wantCode: http.StatusConflict, wantData: marchallObj(t, httpErr{Error: scheduler.ErrNotRunning.Error()}),
		},
	})

	t.Run("lifecycle", func(t *testing.T) {
		st := status(t, http.MethodGet, "/v1/scheduler", http.StatusOK)
		assert.False(t, st.Running)
		assert.Equal(t, app.conf.Scheduler.Spec, st.Spec)

		st = status(t, http.MethodPost, "/v1/scheduler/start", http.StatusOK)
		assert.True(t, st.Running)
		assert.NotNil(t, st.NextRun)

		req, rec := newAuthRequest(http.MethodPost, "/v1/scheduler/start", adminToken)
		app.serve(req, rec)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusConflict,
			wantData: marchallObj(t, httpErr{Error: scheduler.ErrAlreadyRunning.Error()}),
		}, rec)

		st = status(t, http.MethodPost, "/v1/scheduler/stop", http.StatusOK)
		assert.False(t, st.Running)
		assert.Nil(t, st.NextRun)
	})

	t.Run("process-all", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/alerts/process-all", adminToken)
		app.serve(req, rec)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var report alert.SweepReport
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
		assert.Equal(t, 2, report.Enrollments)
		assert.Equal(t, 2, report.Succeeded)
		assert.Zero(t, report.Failed)

		st := app.sched.Status()
		require.NotNil(t, st.LastReport)
		assert.Equal(t, 2, st.LastReport.Enrollments)
	})
}
