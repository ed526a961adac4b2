package handler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/smartmess-leaves/internal/model"
	"github.com/iliyamo/smartmess-leaves/internal/service"
)

// LeaveScheduler is the orchestrator surface used by LeaveHandler.
type LeaveScheduler interface {
	Create(ctx context.Context, ownerID uint64, in service.CreateLeaveInput) (*model.Leave, error)
	Cancel(ctx context.Context, ownerID, leaveID uint64) (*model.Leave, error)
	Notify(ctx context.Context, ownerID, leaveID uint64) (service.BroadcastResult, error)
	List(ctx context.Context, ownerID uint64, f model.LeaveFilter) ([]model.Leave, error)
	Adjustments(ctx context.Context, ownerID, leaveID uint64) ([]model.BillingAdjustment, error)
	UserCredits(ctx context.Context, ownerID, userID uint64) (*service.UserCredit, error)
}

// Reporter produces owner analytics and admin monitoring reports.
type Reporter interface {
	OwnerReport(ctx context.Context, ownerID uint64) (*service.OwnerAnalytics, error)
	ExportOwnerReport(ctx context.Context, ownerID uint64, out io.Writer) (*service.OwnerAnalytics, error)
	Monitoring(ctx context.Context, actorID uint64, role model.Role, messID uint64) (*service.MonitoringReport, error)
}

// ActionApplier applies user actions.
type ActionApplier interface {
	Apply(ctx context.Context, actorID uint64, role model.Role, in service.UserActionInput) (string, error)
}

// LeaveHandler serves /api/mess/leaves.
type LeaveHandler struct {
	Leaves  LeaveScheduler
	Reports Reporter
	Actions ActionApplier
	Log     zerolog.Logger
}

// NewLeaveHandler panics if any dependency is nil.
func NewLeaveHandler(leaves LeaveScheduler, reports Reporter, actions ActionApplier, log zerolog.Logger) *LeaveHandler {
	if leaves == nil || reports == nil || actions == nil {
		panic("nil service passed to NewLeaveHandler")
	}
	return &LeaveHandler{
		Leaves:  leaves,
		Reports: reports,
		Actions: actions,
		Log:     log.With().Str("component", "leave_handler").Logger(),
	}
}

// ----- DTOs -----

type recurrenceReq struct {
	Frequency   string `json:"frequency"`
	Interval    int    `json:"interval"`
	DaysOfWeek  []int  `json:"daysOfWeek"`
	EndDate     string `json:"endDate"`
	Occurrences *int   `json:"occurrences"`
}

type createLeaveReq struct {
	StartDate    string         `json:"startDate" validate:"required"`
	EndDate      string         `json:"endDate" validate:"required"`
	LeaveType    string         `json:"leaveType" validate:"required"`
	Reason       string         `json:"reason" validate:"max=500"`
	MealTypes    []string       `json:"mealTypes" validate:"required,min=1"`
	Recurrence   *recurrenceReq `json:"recurrence"`
	NotifyUsers  bool           `json:"notifyUsers"`
	SendReminder bool           `json:"sendReminder"`
}

type userActionReq struct {
	UserID  uint64 `json:"userId" validate:"required"`
	Action  string `json:"action" validate:"required,oneof=log notify flag"`
	Reason  string `json:"reason" validate:"max=500"`
	Message string `json:"message" validate:"max=1000"`
	MessID  uint64 `json:"messId"`
}

func (r createLeaveReq) toInput() (service.CreateLeaveInput, error) {
	start, err := parseDate(r.StartDate)
	if err != nil {
		return service.CreateLeaveInput{}, &service.ValidationError{Field: "startDate", Message: "must be a date (YYYY-MM-DD)"}
	}
	end, err := parseDate(r.EndDate)
	if err != nil {
		return service.CreateLeaveInput{}, &service.ValidationError{Field: "endDate", Message: "must be a date (YYYY-MM-DD)"}
	}
	in := service.CreateLeaveInput{
		StartDate:    start,
		EndDate:      end,
		LeaveType:    model.LeaveType(strings.ToLower(strings.TrimSpace(r.LeaveType))),
		Reason:       r.Reason,
		NotifyUsers:  r.NotifyUsers,
		SendReminder: r.SendReminder,
	}
	for _, m := range r.MealTypes {
		in.MealTypes = append(in.MealTypes, model.MealType(strings.ToLower(strings.TrimSpace(m))))
	}
	if r.Recurrence != nil {
		rec := &model.Recurrence{
			Frequency:   model.RecurrenceFrequency(strings.ToLower(strings.TrimSpace(r.Recurrence.Frequency))),
			Interval:    r.Recurrence.Interval,
			DaysOfWeek:  r.Recurrence.DaysOfWeek,
			Occurrences: r.Recurrence.Occurrences,
		}
		if strings.TrimSpace(r.Recurrence.EndDate) != "" {
			d, err := parseDate(r.Recurrence.EndDate)
			if err != nil {
				return service.CreateLeaveInput{}, &service.ValidationError{Field: "recurrence.endDate", Message: "must be a date (YYYY-MM-DD)"}
			}
			rec.EndDate = &d
		}
		in.Recurrence = rec
	}
	return in, nil
}

// ----- handlers -----

// List handles GET /api/mess/leaves.
func (h *LeaveHandler) List(c echo.Context) error {
	ownerID, _, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	var f model.LeaveFilter
	for _, s := range splitList(c.QueryParam("status")) {
		st := model.LeaveStatus(s)
		if !st.Valid() {
			return badRequest(c, "status must be a comma list of scheduled, active, completed, cancelled")
		}
		f.Statuses = append(f.Statuses, st)
	}
	for _, t := range splitList(c.QueryParam("leaveType")) {
		lt := model.LeaveType(t)
		if !lt.Valid() {
			return badRequest(c, "unknown leaveType "+t)
		}
		f.LeaveTypes = append(f.LeaveTypes, lt)
	}
	if raw := c.QueryParam("startDate"); raw != "" {
		d, err := parseDate(raw)
		if err != nil {
			return badRequest(c, "startDate must be a date (YYYY-MM-DD)")
		}
		f.StartFrom = &d
	}
	if raw := c.QueryParam("endDate"); raw != "" {
		d, err := parseDate(raw)
		if err != nil {
			return badRequest(c, "endDate must be a date (YYYY-MM-DD)")
		}
		f.StartTo = &d
	}

	leaves, err := h.Leaves.List(c.Request().Context(), ownerID, f)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "data": leaves})
}

// Create handles POST /api/mess/leaves.
func (h *LeaveHandler) Create(c echo.Context) error {
	ownerID, _, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	var req createLeaveReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return badRequest(c, validationMessage(err))
	}
	in, err := req.toInput()
	if err != nil {
		return respondError(c, h.Log, err)
	}

	leave, err := h.Leaves.Create(c.Request().Context(), ownerID, in)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"success": true,
		"message": "Leave scheduled successfully",
		"data":    leave,
	})
}

// Cancel handles PATCH /api/mess/leaves/:id/cancel.
func (h *LeaveHandler) Cancel(c echo.Context) error {
	ownerID, _, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid leave id")
	}
	leave, err := h.Leaves.Cancel(c.Request().Context(), ownerID, id)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"message": "Leave cancelled successfully",
		"data":    leave,
	})
}

// Notify handles POST /api/mess/leaves/:id/notify.
func (h *LeaveHandler) Notify(c echo.Context) error {
	ownerID, _, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid leave id")
	}
	res, err := h.Leaves.Notify(c.Request().Context(), ownerID, id)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"message": fmt.Sprintf("Notifications sent to %d users", res.Sent),
		"data":    res,
	})
}

// Adjustments handles GET /api/mess/leaves/:id/adjustments.
func (h *LeaveHandler) Adjustments(c echo.Context) error {
	ownerID, _, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid leave id")
	}
	adj, err := h.Leaves.Adjustments(c.Request().Context(), ownerID, id)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success":     true,
		"data":        adj,
		"totalCredit": service.TotalCredit(adj),
	})
}

// UserCredits handles GET /api/mess/leaves/users/:userId/credits.
func (h *LeaveHandler) UserCredits(c echo.Context) error {
	ownerID, _, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	userID, ok := parseID(c, "userId")
	if !ok {
		return badRequest(c, "invalid user id")
	}
	credit, err := h.Leaves.UserCredits(c.Request().Context(), ownerID, userID)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "data": credit})
}

// Analytics handles GET /api/mess/leaves/analytics.
func (h *LeaveHandler) Analytics(c echo.Context) error {
	ownerID, _, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	rep, err := h.Reports.OwnerReport(c.Request().Context(), ownerID)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "data": rep})
}

// Export handles GET /api/mess/leaves/analytics/export.
func (h *LeaveHandler) Export(c echo.Context) error {
	ownerID, _, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	var buf bytes.Buffer
	rep, err := h.Reports.ExportOwnerReport(c.Request().Context(), ownerID, &buf)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	name := fmt.Sprintf("leave-analytics-%d-%d.xlsx", rep.MessID, rep.Year)
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+name+`"`)
	return c.Blob(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

// Monitoring handles GET /api/mess/leaves/admin/monitoring.  The report is
// returned without the success envelope.
func (h *LeaveHandler) Monitoring(c echo.Context) error {
	actorID, role, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	var messID uint64
	if raw := strings.TrimSpace(c.QueryParam("messId")); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return badRequest(c, "messId must be a positive integer")
		}
		messID = n
	}
	rep, err := h.Reports.Monitoring(c.Request().Context(), actorID, role, messID)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, rep)
}

// UserAction handles POST /api/mess/leaves/admin/user-action.
func (h *LeaveHandler) UserAction(c echo.Context) error {
	actorID, role, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	var req userActionReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return badRequest(c, validationMessage(err))
	}
	msg, err := h.Actions.Apply(c.Request().Context(), actorID, role, service.UserActionInput{
		UserID:  req.UserID,
		Action:  model.UserActionType(req.Action),
		Reason:  req.Reason,
		MessID:  req.MessID,
		Message: req.Message,
	})
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "message": msg})
}
