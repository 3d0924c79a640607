package handler

import (
    "context"
    "net/http"
    "strings"
    "time"

    "github.com/labstack/echo/v4"
    log "github.com/sirupsen/logrus"

    "github.com/iliyamo/mstodo-proxy/internal/auth"
    "github.com/iliyamo/mstodo-proxy/internal/model"
    "github.com/iliyamo/mstodo-proxy/internal/session"
)

// IdentityService is the part of auth.Reconciler the handlers drive.
type IdentityService interface {
    RegisterLocal(ctx context.Context, email, password string) (model.Identity, error)
    AuthenticateLocal(ctx context.Context, email, password string) (model.Identity, error)
    ReconcileExternal(ctx context.Context, a auth.ExternalAssertion, currentID *uint64) (model.Identity, error)
}

// SessionIssuer mints session credentials.
type SessionIssuer interface {
    Issue(identity model.Identity) (session.Credential, error)
}

// MicrosoftVerifier turns a Microsoft credential into a verified assertion.
type MicrosoftVerifier interface {
    FromAccessToken(ctx context.Context, token string) (auth.ExternalAssertion, error)
    FromIDToken(ctx context.Context, raw string) (auth.ExternalAssertion, error)
}

// IdentityFinder loads identities by id.
type IdentityFinder interface {
    FindByID(ctx context.Context, id uint64) (model.Identity, error)
}

// identityTimeout bounds store and Microsoft calls made by one auth request.
const identityTimeout = 10 * time.Second

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
    Identities IdentityService
    Sessions   SessionIssuer
    Verifier   MicrosoftVerifier
    Store      IdentityFinder
}

func NewAuthHandler(ids IdentityService, sessions SessionIssuer, ms MicrosoftVerifier, store IdentityFinder) *AuthHandler {
    if ids == nil || sessions == nil || ms == nil || store == nil {
        panic("nil dependency passed to NewAuthHandler")
    }
    return &AuthHandler{Identities: ids, Sessions: sessions, Verifier: ms, Store: store}
}

// ----- DTOs -----

type credentialsReq struct {
    Email    string `json:"email"`
    Password string `json:"password"`
}

type microsoftReq struct {
    AccessToken string `json:"accessToken"`
    IDToken     string `json:"idToken"`
}

type sessionPart struct {
    Token   string    `json:"token"`
    Expires time.Time `json:"expires"`
}

type userPart struct {
    ID             uint64    `json:"id"`
    Email          string    `json:"email"`
    ExternalUserID *string   `json:"external_user_id"`
    ExternalEmail  *string   `json:"external_email"`
    HasPassword    bool      `json:"has_password"`
    CreatedAt      time.Time `json:"created_at"`
}

type authResp struct {
    User    userPart    `json:"user"`
    Session sessionPart `json:"session"`
}

func userFrom(u model.Identity) userPart {
    return userPart{
        ID:             u.ID,
        Email:          u.Email,
        ExternalUserID: u.ExternalUserID,
        ExternalEmail:  u.ExternalEmail,
        HasPassword:    u.HasPassword(),
        CreatedAt:      u.CreatedAt,
    }
}

// Register creates a local identity and signs it in.
func (h *AuthHandler) Register(c echo.Context) error {
    var req credentialsReq
    if err := c.Bind(&req); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
    }
    ctx, cancel := context.WithTimeout(c.Request().Context(), identityTimeout)
    defer cancel()

    u, err := h.Identities.RegisterLocal(ctx, req.Email, req.Password)
    if err != nil {
        return fail(c, err)
    }
    return h.respondWithSession(c, http.StatusCreated, u)
}

// Login verifies email and password.
func (h *AuthHandler) Login(c echo.Context) error {
    var req credentialsReq
    if err := c.Bind(&req); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
    }
    if strings.TrimSpace(req.Email) == "" || req.Password == "" {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "email/password required"})
    }
    ctx, cancel := context.WithTimeout(c.Request().Context(), identityTimeout)
    defer cancel()

    u, err := h.Identities.AuthenticateLocal(ctx, req.Email, req.Password)
    if err != nil {
        return fail(c, err)
    }
    return h.respondWithSession(c, http.StatusOK, u)
}

// Microsoft signs in with a Microsoft credential, creating or adopting an
// identity as needed.
func (h *AuthHandler) Microsoft(c echo.Context) error {
    return h.reconcile(c, nil)
}

// Link attaches a Microsoft account to the caller's identity and returns a
// fresh credential that carries the new external id.
func (h *AuthHandler) Link(c echo.Context) error {
    claims, ok := session.FromContext(c.Request().Context())
    if !ok {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    id := claims.UserID
    return h.reconcile(c, &id)
}

func (h *AuthHandler) reconcile(c echo.Context, currentID *uint64) error {
    var req microsoftReq
    if err := c.Bind(&req); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
    }
    req.AccessToken = strings.TrimSpace(req.AccessToken)
    req.IDToken = strings.TrimSpace(req.IDToken)
    if (req.AccessToken == "") == (req.IDToken == "") {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "provide exactly one of accessToken or idToken"})
    }

    ctx, cancel := context.WithTimeout(c.Request().Context(), identityTimeout)
    defer cancel()

    var (
        assertion auth.ExternalAssertion
        err       error
    )
    if req.AccessToken != "" {
        assertion, err = h.Verifier.FromAccessToken(ctx, req.AccessToken)
    } else {
        assertion, err = h.Verifier.FromIDToken(ctx, req.IDToken)
    }
    if err != nil {
        log.WithError(err).Debug("microsoft credential not accepted")
        return fail(c, err)
    }

    u, err := h.Identities.ReconcileExternal(ctx, assertion, currentID)
    if err != nil {
        return fail(c, err)
    }
    return h.respondWithSession(c, http.StatusOK, u)
}

// Me returns the caller's identity as currently stored.
func (h *AuthHandler) Me(c echo.Context) error {
    claims, ok := session.FromContext(c.Request().Context())
    if !ok {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    ctx, cancel := context.WithTimeout(c.Request().Context(), identityTimeout)
    defer cancel()

    u, err := h.Store.FindByID(ctx, claims.UserID)
    if err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"user": userFrom(u)})
}

func (h *AuthHandler) respondWithSession(c echo.Context, status int, u model.Identity) error {
    cred, err := h.Sessions.Issue(u)
    if err != nil {
        return fail(c, err)
    }
    return c.JSON(status, authResp{
        User:    userFrom(u),
        Session: sessionPart{Token: cred.Token, Expires: cred.Exp},
    })
}
