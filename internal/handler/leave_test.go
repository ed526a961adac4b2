package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/smartmess-leaves/internal/model"
	"github.com/iliyamo/smartmess-leaves/internal/repository"
	"github.com/iliyamo/smartmess-leaves/internal/service"
)

type mockLeaves struct{ mock.Mock }

func (m *mockLeaves) Create(ctx context.Context, ownerID uint64, in service.CreateLeaveInput) (*model.Leave, error) {
	args := m.Called(ctx, ownerID, in)
	l, _ := args.Get(0).(*model.Leave)
	return l, args.Error(1)
}

func (m *mockLeaves) Cancel(ctx context.Context, ownerID, leaveID uint64) (*model.Leave, error) {
	args := m.Called(ctx, ownerID, leaveID)
	l, _ := args.Get(0).(*model.Leave)
	return l, args.Error(1)
}

func (m *mockLeaves) Notify(ctx context.Context, ownerID, leaveID uint64) (service.BroadcastResult, error) {
	args := m.Called(ctx, ownerID, leaveID)
	return args.Get(0).(service.BroadcastResult), args.Error(1)
}

func (m *mockLeaves) List(ctx context.Context, ownerID uint64, f model.LeaveFilter) ([]model.Leave, error) {
	args := m.Called(ctx, ownerID, f)
	l, _ := args.Get(0).([]model.Leave)
	return l, args.Error(1)
}

func (m *mockLeaves) Adjustments(ctx context.Context, ownerID, leaveID uint64) ([]model.BillingAdjustment, error) {
	args := m.Called(ctx, ownerID, leaveID)
	a, _ := args.Get(0).([]model.BillingAdjustment)
	return a, args.Error(1)
}

func (m *mockLeaves) UserCredits(ctx context.Context, ownerID, userID uint64) (*service.UserCredit, error) {
	args := m.Called(ctx, ownerID, userID)
	c, _ := args.Get(0).(*service.UserCredit)
	return c, args.Error(1)
}

type mockReports struct{ mock.Mock }

func (m *mockReports) OwnerReport(ctx context.Context, ownerID uint64) (*service.OwnerAnalytics, error) {
	args := m.Called(ctx, ownerID)
	r, _ := args.Get(0).(*service.OwnerAnalytics)
	return r, args.Error(1)
}

func (m *mockReports) ExportOwnerReport(ctx context.Context, ownerID uint64, out io.Writer) (*service.OwnerAnalytics, error) {
	args := m.Called(ctx, ownerID, out)
	if r, ok := args.Get(0).(*service.OwnerAnalytics); ok {
		_, _ = io.WriteString(out, "xlsx-bytes")
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockReports) Monitoring(ctx context.Context, actorID uint64, role model.Role, messID uint64) (*service.MonitoringReport, error) {
	args := m.Called(ctx, actorID, role, messID)
	r, _ := args.Get(0).(*service.MonitoringReport)
	return r, args.Error(1)
}

type mockActions struct{ mock.Mock }

func (m *mockActions) Apply(ctx context.Context, actorID uint64, role model.Role, in service.UserActionInput) (string, error) {
	args := m.Called(ctx, actorID, role, in)
	return args.String(0), args.Error(1)
}

type testServer struct {
	e       *echo.Echo
	leaves  *mockLeaves
	reports *mockReports
	actions *mockActions
}

// withCaller stands in for JWTAuth.  The subject is a float64 like a
// decoded JSON claim.
func withCaller(id float64, role model.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set("user_id", id)
			c.Set("role", role)
			return next(c)
		}
	}
}

func newTestServer(t *testing.T, role model.Role) *testServer {
	t.Helper()
	ts := &testServer{e: echo.New(), leaves: &mockLeaves{}, reports: &mockReports{}, actions: &mockActions{}}
	ts.e.Validator = NewRequestValidator()
	h := NewLeaveHandler(ts.leaves, ts.reports, ts.actions, zerolog.Nop())

	g := ts.e.Group("/api/mess/leaves", withCaller(100, role))
	g.GET("", h.List)
	g.POST("", h.Create)
	g.PATCH("/:id/cancel", h.Cancel)
	g.POST("/:id/notify", h.Notify)
	g.GET("/:id/adjustments", h.Adjustments)
	g.GET("/users/:userId/credits", h.UserCredits)
	g.GET("/analytics", h.Analytics)
	g.GET("/analytics/export", h.Export)
	g.GET("/admin/monitoring", h.Monitoring)
	g.POST("/admin/user-action", h.UserAction)

	t.Cleanup(func() {
		ts.leaves.AssertExpectations(t)
		ts.reports.AssertExpectations(t)
		ts.actions.AssertExpectations(t)
	})
	return ts
}

func (ts *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	ts.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func day(s string) time.Time {
	d, _ := time.Parse(dateLayout, s)
	return d
}

func TestCreateLeave(t *testing.T) {
	ts := newTestServer(t, model.RoleMessOwner)
	want := service.CreateLeaveInput{
		StartDate:   day("2025-03-10"),
		EndDate:     day("2025-03-12"),
		LeaveType:   model.LeaveTypeHoliday,
		Reason:      "Spring break",
		MealTypes:   []model.MealType{model.MealLunch, model.MealDinner},
		NotifyUsers: true,
		Recurrence: &model.Recurrence{
			Frequency: model.RecurrenceWeekly,
			Interval:  1,
		},
	}
	ts.leaves.On("Create", mock.Anything, uint64(100), want).
		Return(&model.Leave{ID: 9, MessID: 7, Status: model.LeaveStatusScheduled}, nil)

	rec := ts.do(http.MethodPost, "/api/mess/leaves", `{
		"startDate": "2025-03-10",
		"endDate": "2025-03-12T00:00:00Z",
		"leaveType": "Holiday",
		"reason": "Spring break",
		"mealTypes": ["lunch", "DINNER"],
		"recurrence": {"frequency": "weekly", "interval": 1},
		"notifyUsers": true
	}`)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.EqualValues(t, 9, body["data"].(map[string]interface{})["id"])
}

func TestCreateLeaveRejectsBadInput(t *testing.T) {
	cases := map[string]struct {
		body  string
		field string
	}{
		"missing meals": {`{"startDate":"2025-03-10","endDate":"2025-03-12","leaveType":"holiday","mealTypes":[]}`, "mealTypes"},
		"missing start": {`{"endDate":"2025-03-12","leaveType":"holiday","mealTypes":["lunch"]}`, "startDate"},
		"bad date":      {`{"startDate":"10/03/2025","endDate":"2025-03-12","leaveType":"holiday","mealTypes":["lunch"]}`, "startDate"},
		"bad json":      {`{"startDate":`, ""},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			ts := newTestServer(t, model.RoleMessOwner)
			rec := ts.do(http.MethodPost, "/api/mess/leaves", tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			body := decode(t, rec)
			assert.Equal(t, CodeValidation, body["code"])
			assert.Equal(t, false, body["success"])
			if tc.field != "" {
				assert.Contains(t, body["message"], tc.field)
			}
		})
	}
}

func TestCreateLeaveOverlapCarriesConflicts(t *testing.T) {
	ts := newTestServer(t, model.RoleMessOwner)
	overlap := &repository.OverlapError{Overlaps: []model.Leave{{ID: 3, MessID: 7}}}
	ts.leaves.On("Create", mock.Anything, uint64(100), mock.Anything).Return(nil, overlap)

	rec := ts.do(http.MethodPost, "/api/mess/leaves",
		`{"startDate":"2025-03-10","endDate":"2025-03-12","leaveType":"holiday","mealTypes":["lunch"]}`)

	require.Equal(t, http.StatusConflict, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, CodeOverlappingLeave, body["code"])
	conflicts := body["conflicts"].([]interface{})
	require.Len(t, conflicts, 1)
	assert.EqualValues(t, 3, conflicts[0].(map[string]interface{})["id"])
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{service.ErrNotAssociated, http.StatusForbidden, CodeNotAssociated},
		{fmt.Errorf("resolve: %w", service.ErrNotAssociated), http.StatusForbidden, CodeNotAssociated},
		{repository.ErrLeaveNotFound, http.StatusNotFound, CodeNotFound},
		{&service.ValidationError{Field: "endDate", Message: "must not be before startDate"}, http.StatusBadRequest, CodeValidation},
		{errors.New("connection refused"), http.StatusInternalServerError, CodeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.code+"/"+tc.err.Error(), func(t *testing.T) {
			ts := newTestServer(t, model.RoleMessOwner)
			ts.leaves.On("Cancel", mock.Anything, uint64(100), uint64(5)).Return(nil, tc.err)

			rec := ts.do(http.MethodPatch, "/api/mess/leaves/5/cancel", "")
			assert.Equal(t, tc.status, rec.Code)
			body := decode(t, rec)
			assert.Equal(t, tc.code, body["code"])
			assert.Equal(t, false, body["success"])
			if tc.status == http.StatusInternalServerError {
				assert.Equal(t, "internal server error", body["message"])
			}
		})
	}
}

func TestCancelRejectsBadID(t *testing.T) {
	ts := newTestServer(t, model.RoleMessOwner)
	rec := ts.do(http.MethodPatch, "/api/mess/leaves/abc/cancel", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListParsesFilters(t *testing.T) {
	ts := newTestServer(t, model.RoleMessOwner)
	from, to := day("2025-01-01"), day("2025-06-30")
	want := model.LeaveFilter{
		Statuses:   []model.LeaveStatus{model.LeaveStatusActive, model.LeaveStatusCancelled},
		LeaveTypes: []model.LeaveType{model.LeaveTypeHoliday, model.LeaveTypeEmergency},
		StartFrom:  &from,
		StartTo:    &to,
	}
	ts.leaves.On("List", mock.Anything, uint64(100), want).Return([]model.Leave{{ID: 1}, {ID: 2}}, nil)

	rec := ts.do(http.MethodGet,
		"/api/mess/leaves?status=active,%20cancelled&leaveType=holiday,emergency&startDate=2025-01-01&endDate=2025-06-30", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["data"], 2)
}

func TestListRejectsUnknownStatus(t *testing.T) {
	ts := newTestServer(t, model.RoleMessOwner)
	rec := ts.do(http.MethodGet, "/api/mess/leaves?status=paused", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNotifyReportsCount(t *testing.T) {
	ts := newTestServer(t, model.RoleMessOwner)
	ts.leaves.On("Notify", mock.Anything, uint64(100), uint64(4)).
		Return(service.BroadcastResult{Sent: 3, Failed: 1}, nil)

	rec := ts.do(http.MethodPost, "/api/mess/leaves/4/notify", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Notifications sent to 3 users", body["message"])
}

func TestAdjustmentsIncludesTotal(t *testing.T) {
	ts := newTestServer(t, model.RoleMessOwner)
	ts.leaves.On("Adjustments", mock.Anything, uint64(100), uint64(4)).Return([]model.BillingAdjustment{
		{ID: 1, CreditAmount: 300, Status: model.AdjustmentPending},
		{ID: 2, CreditAmount: 300, Status: model.AdjustmentReversed},
	}, nil)

	rec := ts.do(http.MethodGet, "/api/mess/leaves/4/adjustments", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.EqualValues(t, 300, body["totalCredit"])
	assert.Len(t, body["data"], 2)
}

func TestUserCredits(t *testing.T) {
	ts := newTestServer(t, model.RoleMessOwner)
	ts.leaves.On("UserCredits", mock.Anything, uint64(100), uint64(3)).Return(&service.UserCredit{
		UserID:      3,
		TotalCredit: 300,
		Adjustments: []model.BillingAdjustment{{ID: 1, UserID: 3, CreditAmount: 300, Status: model.AdjustmentPending}},
	}, nil)
	ts.leaves.On("UserCredits", mock.Anything, uint64(100), uint64(9)).Return(nil, repository.ErrUserNotFound)

	rec := ts.do(http.MethodGet, "/api/mess/leaves/users/3/credits", "")
	require.Equal(t, http.StatusOK, rec.Code)
	data := decode(t, rec)["data"].(map[string]interface{})
	assert.EqualValues(t, 300, data["totalCredit"])
	assert.Len(t, data["adjustments"], 1)

	rec = ts.do(http.MethodGet, "/api/mess/leaves/users/9/credits", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeNotFound, decode(t, rec)["code"])

	rec = ts.do(http.MethodGet, "/api/mess/leaves/users/abc/credits", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExportSendsWorkbook(t *testing.T) {
	ts := newTestServer(t, model.RoleMessOwner)
	ts.reports.On("ExportOwnerReport", mock.Anything, uint64(100), mock.Anything).
		Return(&service.OwnerAnalytics{MessID: 7, Year: 2025}, nil)

	rec := ts.do(http.MethodGet, "/api/mess/leaves/analytics/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "xlsx-bytes", rec.Body.String())
	assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), "leave-analytics-7-2025.xlsx")
	assert.Contains(t, rec.Header().Get(echo.HeaderContentType), "spreadsheetml")
}

func TestMonitoringReturnsRawReport(t *testing.T) {
	ts := newTestServer(t, model.RoleAdmin)
	ts.reports.On("Monitoring", mock.Anything, uint64(100), model.RoleAdmin, uint64(7)).
		Return(&service.MonitoringReport{MessID: 7, TotalLeaves: 2}, nil)

	rec := ts.do(http.MethodGet, "/api/mess/leaves/admin/monitoring?messId=7", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	_, hasEnvelope := body["success"]
	assert.False(t, hasEnvelope)
	assert.EqualValues(t, 2, body["totalLeaves"])
}

func TestMonitoringRejectsBadMessID(t *testing.T) {
	ts := newTestServer(t, model.RoleAdmin)
	rec := ts.do(http.MethodGet, "/api/mess/leaves/admin/monitoring?messId=seven", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUserAction(t *testing.T) {
	ts := newTestServer(t, model.RoleMessOwner)
	ts.actions.On("Apply", mock.Anything, uint64(100), model.RoleMessOwner, service.UserActionInput{
		UserID: 12, Action: model.UserActionNotify, Reason: "Too many leaves",
	}).Return("Notification sent to user", nil)

	rec := ts.do(http.MethodPost, "/api/mess/leaves/admin/user-action",
		`{"userId":12,"action":"notify","reason":"Too many leaves"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Notification sent to user", decode(t, rec)["message"])
}

func TestUserActionValidation(t *testing.T) {
	ts := newTestServer(t, model.RoleMessOwner)
	rec := ts.do(http.MethodPost, "/api/mess/leaves/admin/user-action", `{"userId":12,"action":"ban"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec)["message"], "action must be one of log notify flag")
}

func TestUserActionUnknownMember(t *testing.T) {
	ts := newTestServer(t, model.RoleMessOwner)
	ts.actions.On("Apply", mock.Anything, uint64(100), model.RoleMessOwner, mock.Anything).
		Return("", repository.ErrUserNotFound)

	rec := ts.do(http.MethodPost, "/api/mess/leaves/admin/user-action", `{"userId":99,"action":"log"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeNotFound, decode(t, rec)["code"])
}

func TestMissingCallerIsUnauthorized(t *testing.T) {
	e := echo.New()
	h := NewLeaveHandler(&mockLeaves{}, &mockReports{}, &mockActions{}, zerolog.Nop())
	e.GET("/api/mess/leaves", h.List)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/mess/leaves", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), CodeUnauthorized)
}

func TestReadiness(t *testing.T) {
	e := echo.New()
	ok := PingFunc(func(context.Context) error { return nil })
	down := PingFunc(func(context.Context) error { return errors.New("dial tcp: refused") })

	e.GET("/ok", (&Readiness{Checks: map[string]Pinger{"db": ok, "redis": nil}}).Ready)
	e.GET("/down", (&Readiness{Checks: map[string]Pinger{"db": ok, "redis": down}}).Ready)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"redis":"disabled"`)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/down", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "refused")
}
