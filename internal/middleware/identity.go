package middleware

// identity.go holds helpers shared by the rate limiter and the cache to
// scope their Redis keys to the authenticated caller.

import (
    "strconv"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/mstodo-proxy/internal/session"
)

// callerID returns the session identity id as a string, or "anon" when the
// request was not authenticated by SessionAuth.
func callerID(c echo.Context) string {
    if claims, ok := session.FromContext(c.Request().Context()); ok {
        return strconv.FormatUint(claims.UserID, 10)
    }
    return "anon"
}
