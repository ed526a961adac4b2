package middleware

// identity.go holds helpers shared across middleware files.  JWTAuth stores
// the token subject under "user_id"; depending on how the token was minted
// the claim decodes as a float64 or a string, so the helpers accept both.

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// userID returns the caller's id as a string, or "guest" when the request
// is not authenticated.
func userID(c echo.Context) string {
	switch v := c.Get("user_id").(type) {
	case string:
		if v != "" {
			return v
		}
	case float64:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	}
	return "guest"
}
