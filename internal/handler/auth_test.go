package handler

import (
    "context"
    "encoding/json"
    "fmt"
    "net/http"
    "net/http/httptest"
    "strings"
    "testing"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/iliyamo/mstodo-proxy/internal/auth"
    "github.com/iliyamo/mstodo-proxy/internal/graph"
    "github.com/iliyamo/mstodo-proxy/internal/model"
    "github.com/iliyamo/mstodo-proxy/internal/msidentity"
    "github.com/iliyamo/mstodo-proxy/internal/session"
)

type fakeIdentities struct {
    register  func(email, password string) (model.Identity, error)
    login     func(email, password string) (model.Identity, error)
    reconcile func(a auth.ExternalAssertion, currentID *uint64) (model.Identity, error)
}

func (f fakeIdentities) RegisterLocal(_ context.Context, email, password string) (model.Identity, error) {
    return f.register(email, password)
}

func (f fakeIdentities) AuthenticateLocal(_ context.Context, email, password string) (model.Identity, error) {
    return f.login(email, password)
}

func (f fakeIdentities) ReconcileExternal(_ context.Context, a auth.ExternalAssertion, currentID *uint64) (model.Identity, error) {
    return f.reconcile(a, currentID)
}

type fakeMicrosoft struct {
    assertion auth.ExternalAssertion
    err       error
    used      string
}

func (f *fakeMicrosoft) FromAccessToken(_ context.Context, token string) (auth.ExternalAssertion, error) {
    f.used = "access:" + token
    return f.assertion, f.err
}

func (f *fakeMicrosoft) FromIDToken(_ context.Context, raw string) (auth.ExternalAssertion, error) {
    f.used = "id:" + raw
    return f.assertion, f.err
}

type fakeFinder map[uint64]model.Identity

func (f fakeFinder) FindByID(_ context.Context, id uint64) (model.Identity, error) {
    if u, ok := f[id]; ok {
        return u, nil
    }
    return model.Identity{}, fmt.Errorf("id %d: %w", id, auth.ErrNotFound)
}

func strp(s string) *string { return &s }

func newIssuer(t *testing.T) *session.Issuer {
    t.Helper()
    issuer, err := session.NewIssuer("handler-secret", time.Hour)
    require.NoError(t, err)
    return issuer
}

// call runs h with a JSON body and, when claims is non-nil, an
// authenticated request context.
func call(h echo.HandlerFunc, method, body string, claims *session.Claims) *httptest.ResponseRecorder {
    e := echo.New()
    req := httptest.NewRequest(method, "/", strings.NewReader(body))
    req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
    if claims != nil {
        req = req.WithContext(session.WithClaims(req.Context(), *claims))
    }
    rec := httptest.NewRecorder()
    c := e.NewContext(req, rec)
    if err := h(c); err != nil {
        e.HTTPErrorHandler(err, c)
    }
    return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
    t.Helper()
    var out map[string]any
    require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
    return out
}

func TestRegister(t *testing.T) {
    issuer := newIssuer(t)
    ids := fakeIdentities{register: func(email, password string) (model.Identity, error) {
        if email == "taken@x.com" {
            return model.Identity{}, auth.ErrDuplicateEmail
        }
        if len(password) < 6 {
            return model.Identity{}, fmt.Errorf("%w: password must be at least 6 characters", auth.ErrValidation)
        }
        return model.Identity{ID: 5, Email: email, PasswordHash: strp("digest")}, nil
    }}
    h := NewAuthHandler(ids, issuer, &fakeMicrosoft{}, fakeFinder{})

    rec := call(h.Register, http.MethodPost, `{"email":"a@x.com","password":"secret1"}`, nil)
    require.Equal(t, http.StatusCreated, rec.Code)
    out := decode(t, rec)
    user := out["user"].(map[string]any)
    assert.Equal(t, float64(5), user["id"])
    assert.Equal(t, true, user["has_password"])
    assert.Nil(t, user["external_user_id"])

    token := out["session"].(map[string]any)["token"].(string)
    claims, err := issuer.Validate(token)
    require.NoError(t, err)
    assert.Equal(t, uint64(5), claims.UserID)

    rec = call(h.Register, http.MethodPost, `{"email":"taken@x.com","password":"secret1"}`, nil)
    assert.Equal(t, http.StatusConflict, rec.Code)

    rec = call(h.Register, http.MethodPost, `{"email":"a@x.com","password":"abc"}`, nil)
    assert.Equal(t, http.StatusBadRequest, rec.Code)
    assert.Contains(t, rec.Body.String(), "at least 6")

    rec = call(h.Register, http.MethodPost, `{not json`, nil)
    assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogin(t *testing.T) {
    ids := fakeIdentities{login: func(email, password string) (model.Identity, error) {
        if password != "secret1" {
            return model.Identity{}, auth.ErrInvalidCredentials
        }
        return model.Identity{ID: 9, Email: email}, nil
    }}
    h := NewAuthHandler(ids, newIssuer(t), &fakeMicrosoft{}, fakeFinder{})

    assert.Equal(t, http.StatusOK, call(h.Login, http.MethodPost, `{"email":"a@x.com","password":"secret1"}`, nil).Code)

    rec := call(h.Login, http.MethodPost, `{"email":"a@x.com","password":"nope"}`, nil)
    assert.Equal(t, http.StatusUnauthorized, rec.Code)
    assert.JSONEq(t, `{"error":"invalid credentials"}`, rec.Body.String())

    assert.Equal(t, http.StatusBadRequest, call(h.Login, http.MethodPost, `{"email":"a@x.com"}`, nil).Code)
}

func TestMicrosoft(t *testing.T) {
    issuer := newIssuer(t)
    var gotCurrent *uint64
    ids := fakeIdentities{reconcile: func(a auth.ExternalAssertion, currentID *uint64) (model.Identity, error) {
        gotCurrent = currentID
        return model.Identity{ID: 3, Email: a.ExternalEmail, ExternalUserID: strp(a.ExternalUserID)}, nil
    }}
    ms := &fakeMicrosoft{assertion: auth.ExternalAssertion{ExternalUserID: "ms-1", ExternalEmail: "bob@x.com"}}
    h := NewAuthHandler(ids, issuer, ms, fakeFinder{})

    t.Run("access token", func(t *testing.T) {
        rec := call(h.Microsoft, http.MethodPost, `{"accessToken":"graph-tok"}`, nil)
        require.Equal(t, http.StatusOK, rec.Code)
        assert.Equal(t, "access:graph-tok", ms.used)
        assert.Nil(t, gotCurrent)

        token := decode(t, rec)["session"].(map[string]any)["token"].(string)
        claims, err := issuer.Validate(token)
        require.NoError(t, err)
        assert.Equal(t, "ms-1", claims.ExternalUserID)
    })

    t.Run("id token", func(t *testing.T) {
        rec := call(h.Microsoft, http.MethodPost, `{"idToken":"eyJ"}`, nil)
        require.Equal(t, http.StatusOK, rec.Code)
        assert.Equal(t, "id:eyJ", ms.used)
    })

    t.Run("exactly one credential", func(t *testing.T) {
        assert.Equal(t, http.StatusBadRequest, call(h.Microsoft, http.MethodPost, `{}`, nil).Code)
        assert.Equal(t, http.StatusBadRequest, call(h.Microsoft, http.MethodPost, `{"accessToken":"a","idToken":"b"}`, nil).Code)
    })
}

func TestMicrosoft_Errors(t *testing.T) {
    cases := []struct {
        name     string
        verify   error
        recon    error
        expected int
    }{
        {"rejected credential", fmt.Errorf("%w: bad", msidentity.ErrVerification), nil, http.StatusUnauthorized},
        {"id_token disabled", msidentity.ErrIDTokenDisabled, nil, http.StatusBadRequest},
        {"graph outage", &graph.APIError{StatusCode: 503}, nil, http.StatusBadGateway},
        {"already linked", nil, auth.ErrAlreadyLinked, http.StatusConflict},
        {"no email", nil, fmt.Errorf("%w: email required", auth.ErrValidation), http.StatusBadRequest},
        {"store down", nil, fmt.Errorf("lookup: %w", context.DeadlineExceeded), http.StatusInternalServerError},
    }
    for _, tc := range cases {
        t.Run(tc.name, func(t *testing.T) {
            ids := fakeIdentities{reconcile: func(auth.ExternalAssertion, *uint64) (model.Identity, error) {
                return model.Identity{}, tc.recon
            }}
            ms := &fakeMicrosoft{assertion: auth.ExternalAssertion{ExternalUserID: "ms-1"}, err: tc.verify}
            h := NewAuthHandler(ids, newIssuer(t), ms, fakeFinder{})
            assert.Equal(t, tc.expected, call(h.Microsoft, http.MethodPost, `{"accessToken":"t"}`, nil).Code)
        })
    }
}

func TestLink(t *testing.T) {
    var gotCurrent *uint64
    ids := fakeIdentities{reconcile: func(a auth.ExternalAssertion, currentID *uint64) (model.Identity, error) {
        gotCurrent = currentID
        return model.Identity{ID: *currentID, Email: "a@x.com", ExternalUserID: strp(a.ExternalUserID)}, nil
    }}
    ms := &fakeMicrosoft{assertion: auth.ExternalAssertion{ExternalUserID: "ms-1"}}
    h := NewAuthHandler(ids, newIssuer(t), ms, fakeFinder{})

    rec := call(h.Link, http.MethodPost, `{"accessToken":"t"}`, &session.Claims{UserID: 42, Email: "a@x.com"})
    require.Equal(t, http.StatusOK, rec.Code)
    require.NotNil(t, gotCurrent)
    assert.Equal(t, uint64(42), *gotCurrent)
    assert.Equal(t, "ms-1", decode(t, rec)["user"].(map[string]any)["external_user_id"])

    assert.Equal(t, http.StatusUnauthorized, call(h.Link, http.MethodPost, `{"accessToken":"t"}`, nil).Code)
}

func TestMe(t *testing.T) {
    store := fakeFinder{7: {ID: 7, Email: "a@x.com", ExternalUserID: strp("ms-7"), ExternalEmail: strp("a@contoso.com")}}
    h := NewAuthHandler(fakeIdentities{}, newIssuer(t), &fakeMicrosoft{}, store)

    rec := call(h.Me, http.MethodGet, "", &session.Claims{UserID: 7})
    require.Equal(t, http.StatusOK, rec.Code)
    user := decode(t, rec)["user"].(map[string]any)
    assert.Equal(t, "a@contoso.com", user["external_email"])
    assert.Equal(t, false, user["has_password"])

    assert.Equal(t, http.StatusNotFound, call(h.Me, http.MethodGet, "", &session.Claims{UserID: 8}).Code)
}
