package middleware

import (
    "net/http"
    "net/http/httptest"
    "testing"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/iliyamo/mstodo-proxy/internal/model"
    "github.com/iliyamo/mstodo-proxy/internal/session"
)

func serve(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
    rec := httptest.NewRecorder()
    e.ServeHTTP(rec, req)
    return rec
}

func gatedEcho(t *testing.T, issuer *session.Issuer) *echo.Echo {
    t.Helper()
    e := echo.New()
    e.GET("/whoami", func(c echo.Context) error {
        claims, ok := session.FromContext(c.Request().Context())
        require.True(t, ok)
        return c.JSON(http.StatusOK, echo.Map{"id": claims.UserID, "ext": claims.ExternalUserID})
    }, SessionAuth(issuer))
    return e
}

func TestSessionAuth(t *testing.T) {
    issuer, err := session.NewIssuer("gate-secret", time.Hour)
    require.NoError(t, err)
    e := gatedEcho(t, issuer)

    ext := "ms-1"
    cred, err := issuer.Issue(model.Identity{ID: 12, Email: "a@x.com", ExternalUserID: &ext})
    require.NoError(t, err)

    t.Run("valid credential attaches claims", func(t *testing.T) {
        req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
        req.Header.Set("Authorization", "bearer "+cred.Token)
        rec := serve(e, req)
        require.Equal(t, http.StatusOK, rec.Code)
        assert.JSONEq(t, `{"id":12,"ext":"ms-1"}`, rec.Body.String())
    })

    t.Run("missing header", func(t *testing.T) {
        rec := serve(e, httptest.NewRequest(http.MethodGet, "/whoami", nil))
        assert.Equal(t, http.StatusUnauthorized, rec.Code)
        assert.Contains(t, rec.Body.String(), "missing bearer token")
    })

    t.Run("wrong scheme", func(t *testing.T) {
        req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
        req.Header.Set("Authorization", "Basic "+cred.Token)
        assert.Equal(t, http.StatusUnauthorized, serve(e, req).Code)
    })

    t.Run("foreign signature", func(t *testing.T) {
        other, err := session.NewIssuer("other-secret", time.Hour)
        require.NoError(t, err)
        forged, err := other.Issue(model.Identity{ID: 12, Email: "a@x.com"})
        require.NoError(t, err)

        req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
        req.Header.Set("Authorization", "Bearer "+forged.Token)
        rec := serve(e, req)
        assert.Equal(t, http.StatusUnauthorized, rec.Code)
        assert.Contains(t, rec.Body.String(), "invalid token")
    })

    t.Run("expired", func(t *testing.T) {
        short, err := session.NewIssuer("gate-secret", time.Millisecond)
        require.NoError(t, err)
        old, err := short.Issue(model.Identity{ID: 12, Email: "a@x.com"})
        require.NoError(t, err)
        time.Sleep(20 * time.Millisecond)

        req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
        req.Header.Set("Authorization", "Bearer "+old.Token)
        rec := serve(e, req)
        assert.Equal(t, http.StatusUnauthorized, rec.Code)
        assert.Contains(t, rec.Body.String(), "session expired")
    })
}

func TestRequireMSToken(t *testing.T) {
    e := echo.New()
    e.GET("/lists", func(c echo.Context) error {
        tok, ok := MSTokenFromContext(c.Request().Context())
        require.True(t, ok)
        return c.String(http.StatusOK, tok)
    }, RequireMSToken())

    t.Run("preferred header", func(t *testing.T) {
        req := httptest.NewRequest(http.MethodGet, "/lists", nil)
        req.Header.Set(HeaderMSAccessToken, " graph-token ")
        req.Header.Set("ms_token", "legacy")
        rec := serve(e, req)
        assert.Equal(t, http.StatusOK, rec.Code)
        assert.Equal(t, "graph-token", rec.Body.String())
    })

    t.Run("legacy header", func(t *testing.T) {
        req := httptest.NewRequest(http.MethodGet, "/lists", nil)
        req.Header.Set("ms_token", "legacy")
        rec := serve(e, req)
        assert.Equal(t, "legacy", rec.Body.String())
    })

    t.Run("missing is a client error", func(t *testing.T) {
        rec := serve(e, httptest.NewRequest(http.MethodGet, "/lists", nil))
        assert.Equal(t, http.StatusBadRequest, rec.Code)
        assert.Contains(t, rec.Body.String(), HeaderMSAccessToken)
    })
}
