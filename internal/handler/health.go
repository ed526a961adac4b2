package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Health is a liveness endpoint for load balancers.  It returns a plain
// "ok" with status 200.
func Health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingFunc adapts a function such as a Redis ping to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) PingContext(ctx context.Context) error { return f(ctx) }

// Readiness reports whether the service's backing stores answer.
type Readiness struct {
	Checks  map[string]Pinger
	Timeout time.Duration
}

// Ready handles GET /readyz.  A nil checker is reported as "disabled".
func (r *Readiness) Ready(c echo.Context) error {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(r.Checks))
	for name, p := range r.Checks {
		if p == nil {
			checks[name] = "disabled"
			continue
		}
		if err := p.PingContext(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	return c.JSON(status, echo.Map{"success": status == http.StatusOK, "checks": checks})
}
