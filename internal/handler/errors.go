package handler

import (
    "errors"
    "net/http"

    "github.com/labstack/echo/v4"
    log "github.com/sirupsen/logrus"

    "github.com/iliyamo/mstodo-proxy/internal/auth"
    "github.com/iliyamo/mstodo-proxy/internal/graph"
    "github.com/iliyamo/mstodo-proxy/internal/msidentity"
)

// statusFor maps an error kind to the HTTP status and the message exposed
// to the client.  Unknown errors become 500 with a generic message.
func statusFor(err error) (int, string) {
    var apiErr *graph.APIError
    switch {
    case errors.Is(err, auth.ErrValidation):
        return http.StatusBadRequest, err.Error()
    case errors.Is(err, auth.ErrDuplicateEmail):
        return http.StatusConflict, "email already exists"
    case errors.Is(err, auth.ErrAlreadyLinked):
        return http.StatusConflict, "microsoft account already linked"
    case errors.Is(err, auth.ErrConflict):
        return http.StatusConflict, "conflict"
    case errors.Is(err, auth.ErrInvalidCredentials):
        return http.StatusUnauthorized, "invalid credentials"
    case errors.Is(err, auth.ErrNotFound):
        return http.StatusNotFound, "user not found"
    case errors.Is(err, msidentity.ErrVerification):
        return http.StatusUnauthorized, "microsoft credential rejected"
    case errors.Is(err, msidentity.ErrIDTokenDisabled):
        return http.StatusBadRequest, "id_token sign-in is not configured"
    case errors.As(err, &apiErr):
        // the session is fine; Microsoft refused the caller's Graph token
        if apiErr.Unauthorized() {
            return http.StatusBadGateway, "microsoft graph rejected the access token: " + apiErr.Message
        }
        if apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
            return apiErr.StatusCode, apiErr.Error()
        }
        return http.StatusBadGateway, "microsoft graph unavailable"
    }
    return http.StatusInternalServerError, "internal error"
}

// fail writes err as a JSON error body.  Server-side failures are logged.
func fail(c echo.Context, err error) error {
    status, msg := statusFor(err)
    if status >= http.StatusInternalServerError {
        log.WithError(err).WithFields(log.Fields{
            "method": c.Request().Method,
            "path":   c.Path(),
        }).Error("request failed")
    }
    return c.JSON(status, echo.Map{"error": msg})
}
