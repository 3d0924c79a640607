package middleware

import (
    "context"
    "net/http"
    "strings"

    "github.com/labstack/echo/v4"
)

// Headers carrying the caller's Microsoft access token.  The legacy name is
// still accepted from older clients.
const (
    HeaderMSAccessToken = "X-MS-Access-Token"
    legacyMSTokenHeader = "ms_token"
)

type msTokenContextKey struct{}

// MSTokenFromContext returns the Microsoft access token stored by
// RequireMSToken.
func MSTokenFromContext(ctx context.Context) (string, bool) {
    tok, ok := ctx.Value(msTokenContextKey{}).(string)
    return tok, ok && tok != ""
}

// RequireMSToken rejects requests that do not carry a Microsoft access
// token with 400.  A missing token is a client error, not an
// authentication failure: the session itself may be perfectly valid.
func RequireMSToken() echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            tok := msToken(c.Request().Header)
            if tok == "" {
                return c.JSON(http.StatusBadRequest, echo.Map{"error": "missing Microsoft access token (" + HeaderMSAccessToken + ")"})
            }
            ctx := context.WithValue(c.Request().Context(), msTokenContextKey{}, tok)
            c.SetRequest(c.Request().WithContext(ctx))
            return next(c)
        }
    }
}

func msToken(h http.Header) string {
    if v := strings.TrimSpace(h.Get(HeaderMSAccessToken)); v != "" {
        return v
    }
    return strings.TrimSpace(h.Get(legacyMSTokenHeader))
}
