package middleware // middleware provides shared request processing for handlers

import (
    "errors"
    "net/http"
    "strings"

    "github.com/labstack/echo/v4"
    log "github.com/sirupsen/logrus"

    "github.com/iliyamo/mstodo-proxy/internal/session"
)

// ClaimsKey is the echo.Context key holding the validated session.Claims.
const ClaimsKey = "claims"

// SessionValidator validates a raw session credential.
type SessionValidator interface {
    Validate(raw string) (session.Claims, error)
}

// SessionAuth returns an Echo middleware that validates the Bearer session
// credential and stores its claims on the request context.  Handlers read
// them with session.FromContext.  The identity store is not consulted, so
// claims reflect the identity as of issuance.
func SessionAuth(v SessionValidator) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            raw, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
            if !ok {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
            }

            claims, err := v.Validate(raw)
            if err != nil {
                if errors.Is(err, session.ErrExpiredCredential) {
                    return c.JSON(http.StatusUnauthorized, echo.Map{"error": "session expired"})
                }
                log.WithError(err).Debug("session rejected")
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
            }

            ctx := session.WithClaims(c.Request().Context(), claims)
            c.SetRequest(c.Request().WithContext(ctx))
            c.Set(ClaimsKey, claims)
            return next(c)
        }
    }
}

// bearerToken extracts the credential from an Authorization header value.
// The scheme is matched case-insensitively.
func bearerToken(header string) (string, bool) {
    const prefix = "bearer "
    if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
        return "", false
    }
    raw := strings.TrimSpace(header[len(prefix):])
    return raw, raw != ""
}
