package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/smartmess-leaves/internal/model"
	"github.com/iliyamo/smartmess-leaves/internal/repository"
	"github.com/iliyamo/smartmess-leaves/internal/service"
)

// Error codes carried in the failure envelope.
const (
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeNotAssociated    = "NOT_ASSOCIATED"
	CodeOverlappingLeave = "OVERLAPPING_LEAVE"
	CodeNotFound         = "NOT_FOUND"
	CodeValidation       = "VALIDATION_ERROR"
	CodeInternal         = "INTERNAL_ERROR"
)

const dateLayout = "2006-01-02"

// getUserID extracts the user_id set by JWTAuth and converts it to uint64.
func getUserID(c echo.Context) (uint64, error) {
	switch t := c.Get("user_id").(type) {
	case uint64:
		return t, nil
	case int:
		return uint64(t), nil
	case int64:
		return uint64(t), nil
	case float64:
		return uint64(t), nil
	case string:
		if n, err := strconv.ParseUint(t, 10, 64); err == nil {
			return n, nil
		}
	}
	return 0, errors.New("invalid user_id in context")
}

// getRole returns the canonical role set by JWTAuth.
func getRole(c echo.Context) model.Role {
	switch r := c.Get("role").(type) {
	case model.Role:
		return r
	case string:
		return model.NormalizeRole(r)
	}
	return ""
}

// caller returns the authenticated user id and role, or writes a 401.
func caller(c echo.Context) (uint64, model.Role, bool) {
	id, err := getUserID(c)
	if err != nil || id == 0 {
		return 0, "", false
	}
	return id, getRole(c), true
}

func fail(c echo.Context, status int, code, msg string) error {
	return c.JSON(status, echo.Map{"success": false, "message": msg, "code": code})
}

func unauthorized(c echo.Context) error {
	return fail(c, http.StatusUnauthorized, CodeUnauthorized, "unauthorized")
}

func badRequest(c echo.Context, msg string) error {
	return fail(c, http.StatusBadRequest, CodeValidation, msg)
}

// respondError maps service and repository errors onto the failure
// envelope.  Unknown errors are logged and reported as 500 with a generic
// message.
func respondError(c echo.Context, log zerolog.Logger, err error) error {
	var (
		verr    *service.ValidationError
		overlap *repository.OverlapError
	)
	switch {
	case errors.As(err, &verr):
		return c.JSON(http.StatusBadRequest, echo.Map{
			"success": false,
			"message": verr.Error(),
			"code":    CodeValidation,
			"field":   verr.Field,
		})
	case errors.As(err, &overlap):
		return c.JSON(http.StatusConflict, echo.Map{
			"success":   false,
			"message":   "leave overlaps an existing scheduled or active leave",
			"code":      CodeOverlappingLeave,
			"conflicts": overlap.Overlaps,
		})
	case errors.Is(err, repository.ErrOverlappingLeave):
		return fail(c, http.StatusConflict, CodeOverlappingLeave, "leave overlaps an existing scheduled or active leave")
	case errors.Is(err, service.ErrNotAssociated):
		return fail(c, http.StatusForbidden, CodeNotAssociated, "you are not associated with any mess")
	case errors.Is(err, repository.ErrLeaveNotFound):
		return fail(c, http.StatusNotFound, CodeNotFound, "leave not found")
	case errors.Is(err, repository.ErrUserNotFound):
		return fail(c, http.StatusNotFound, CodeNotFound, "user not found in this mess")
	case errors.Is(err, repository.ErrMessNotFound):
		return fail(c, http.StatusNotFound, CodeNotFound, "mess not found")
	}
	log.Error().Err(err).
		Str("method", c.Request().Method).
		Str("path", c.Path()).
		Msg("request failed")
	return fail(c, http.StatusInternalServerError, CodeInternal, "internal server error")
}

// parseDate accepts a calendar date or an RFC3339 timestamp and returns
// midnight UTC of that date.
func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(dateLayout, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, err
	}
	return model.DateOf(t), nil
}

// splitList splits a comma separated query value, dropping blanks.
func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToLower(p))
		}
	}
	return out
}

func parseID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}
