package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/smartmess-leaves/internal/handler"
	"github.com/iliyamo/smartmess-leaves/internal/middleware"
	"github.com/iliyamo/smartmess-leaves/internal/model"
)

// LeaveMiddleware holds the optional Redis-backed middlewares.  Nil
// entries are skipped.
type LeaveMiddleware struct {
	RateLimit  echo.MiddlewareFunc
	Cache      echo.MiddlewareFunc
	Invalidate echo.MiddlewareFunc
}

func (m LeaveMiddleware) group(jwtSecret string) []echo.MiddlewareFunc {
	mws := []echo.MiddlewareFunc{middleware.JWTAuth(jwtSecret)}
	if m.RateLimit != nil {
		mws = append(mws, m.RateLimit)
	}
	if m.Invalidate != nil {
		mws = append(mws, m.Invalidate)
	}
	return mws
}

func (m LeaveMiddleware) cached(mws ...echo.MiddlewareFunc) []echo.MiddlewareFunc {
	if m.Cache != nil {
		mws = append(mws, m.Cache)
	}
	return mws
}

// RegisterLeaves registers the leave endpoints under /api/mess/leaves.
// Every route requires a valid JWT.  Owner routes require mess_owner;
// the /admin routes also accept admin, who select a mess with ?messId.
// Only the owner's own analytics are cached: writes invalidate the
// writer's entries, which never covers a report built for another user.
func RegisterLeaves(e *echo.Echo, h *handler.LeaveHandler, jwtSecret string, mw LeaveMiddleware) {
	g := e.Group("/api/mess/leaves", mw.group(jwtSecret)...)

	owner := middleware.RequireRole(model.RoleMessOwner)
	staff := middleware.RequireRole(model.RoleMessOwner, model.RoleAdmin)

	// ---- Analytics ----
	g.GET("/analytics", h.Analytics, mw.cached(owner)...)
	g.GET("/analytics/export", h.Export, owner)

	// ---- Admin ----
	g.GET("/admin/monitoring", h.Monitoring, staff)
	g.POST("/admin/user-action", h.UserAction, staff)

	// ---- Leaves ----
	g.GET("", h.List, owner)
	g.POST("", h.Create, owner)
	g.PATCH("/:id/cancel", h.Cancel, owner)
	g.POST("/:id/notify", h.Notify, owner)
	g.GET("/:id/adjustments", h.Adjustments, owner)
	g.GET("/users/:userId/credits", h.UserCredits, owner)
}
