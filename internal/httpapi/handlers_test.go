package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"identity-service/internal/auth"
	"identity-service/internal/authn"
	"identity-service/internal/config"
	"identity-service/internal/cookie"
	"identity-service/internal/notify"
	"identity-service/internal/otp"
	"identity-service/internal/password"
	"identity-service/internal/users"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	r      *gin.Engine
	store  *users.MemoryStore
	notes  *notify.Recorder
	issuer *auth.Issuer
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.AuthSettings{
		Secret:             "test-secret",
		SigningAlg:         "HS256",
		SessionTokenTTL:    time.Hour,
		RememberMeTokenTTL: 30 * 24 * time.Hour,
		RefreshTokenTTL:    30 * 24 * time.Hour,
		SessionCookie:      "sid",
		RefreshCookie:      "rid",
		CookieSecure:       true,
		CookieSameSite:     "none",
	}
	e := &env{store: users.NewMemoryStore(), notes: &notify.Recorder{}, issuer: auth.NewIssuer(cfg)}
	svc, err := authn.NewService(authn.Deps{
		Config:   cfg,
		Users:    e.store,
		Hasher:   password.NewArgon2id(password.Params{MemoryKiB: 1024, Iterations: 1, Parallelism: 1}),
		Issuer:   e.issuer,
		Codes:    otp.NewMemoryStore(),
		Notifier: e.notes,
	})
	require.NoError(t, err)

	h := Handlers{Auth: svc, Cookies: cookie.NewWriter(cfg), Sessions: e.issuer}
	session := auth.RequireSession(e.issuer, "sid")

	r := gin.New()
	r.POST("/register", h.Register)
	r.POST("/verify-email", h.VerifyEmail)
	r.POST("/login", h.Login)
	r.POST("/refresh", h.Refresh)
	r.POST("/logout", h.Logout)
	r.POST("/password/forgot", h.ForgotPassword)
	r.POST("/password/reset", h.ResetPassword)
	r.POST("/password/change", session, h.ChangePassword)
	r.GET("/me", session, h.Me)
	r.PATCH("/admin/users/:id", session, h.AdminUpdateUser)
	e.r = r
	return e
}

type envelope struct {
	Success bool            `json:"success"`
	Kind    string          `json:"kind"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e *env) do(t *testing.T, method, path string, body any, cookies ...*http.Cookie) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w, env
}

func cookieNamed(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestRegisterLoginMe(t *testing.T) {
	e := newEnv(t)

	w, body := e.do(t, http.MethodPost, "/register", gin.H{"email": "alice@example.com", "password": "pw12345", "name": "Alice"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, body.Success)
	assert.NotContains(t, string(body.Data), "token")
	assert.NotContains(t, strings.ToLower(string(body.Data)), "argon2id")
	assert.Empty(t, w.Result().Cookies())

	w, body = e.do(t, http.MethodPost, "/login", gin.H{"email": "alice@example.com", "password": "pw12345"})
	require.Equal(t, http.StatusOK, w.Code)

	var data sessionData
	require.NoError(t, json.Unmarshal(body.Data, &data))
	assert.NotEmpty(t, data.Token)
	assert.NotEmpty(t, data.RefreshToken)
	assert.Equal(t, "alice@example.com", data.User.Email)

	sid := cookieNamed(w, "sid")
	require.NotNil(t, sid)
	assert.Equal(t, data.Token, sid.Value)
	assert.True(t, sid.HttpOnly)
	assert.True(t, sid.Secure)
	assert.Equal(t, http.SameSiteNoneMode, sid.SameSite)
	assert.Equal(t, 3600, sid.MaxAge)
	require.NotNil(t, cookieNamed(w, "rid"))

	w, body = e.do(t, http.MethodGet, "/me", nil, sid)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(body.Data), data.User.ID)
}

func TestRegisterConflictAndValidation(t *testing.T) {
	e := newEnv(t)
	e.do(t, http.MethodPost, "/register", gin.H{"email": "bob@example.com", "password": "pw12345"})

	w, body := e.do(t, http.MethodPost, "/register", gin.H{"email": "BOB@example.com", "password": "pw12345"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.False(t, body.Success)
	assert.Equal(t, "CONFLICT", body.Kind)

	w, body = e.do(t, http.MethodPost, "/register", gin.H{"email": "nope", "password": "pw12345"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_INPUT", body.Kind)

	req := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	e.r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegisterNotifierWarning(t *testing.T) {
	e := newEnv(t)
	e.notes.Err = errors.New("smtp down")

	w, body := e.do(t, http.MethodPost, "/register", gin.H{"email": "carl@example.com", "password": "pw12345"})
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, body.Success)
	assert.Contains(t, string(body.Data), "NOTIFY_FAILED")
}

func TestLoginFailuresLookTheSame(t *testing.T) {
	e := newEnv(t)
	e.do(t, http.MethodPost, "/register", gin.H{"email": "alice@example.com", "password": "pw12345"})

	w1, b1 := e.do(t, http.MethodPost, "/login", gin.H{"email": "alice@example.com", "password": "wrong-pw"})
	w2, b2 := e.do(t, http.MethodPost, "/login", gin.H{"email": "ghost@example.com", "password": "pw12345"})

	assert.Equal(t, http.StatusUnauthorized, w1.Code)
	assert.Equal(t, w1.Code, w2.Code)
	assert.Equal(t, b1, b2)
	assert.Empty(t, w1.Result().Cookies())
}

func TestRefreshFromCookieAndReuse(t *testing.T) {
	e := newEnv(t)
	e.do(t, http.MethodPost, "/register", gin.H{"email": "alice@example.com", "password": "pw12345"})
	w, _ := e.do(t, http.MethodPost, "/login", gin.H{"email": "alice@example.com", "password": "pw12345", "rememberMe": true})
	rid := cookieNamed(w, "rid")
	require.NotNil(t, rid)

	w, body := e.do(t, http.MethodPost, "/refresh", nil, rid)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, body.Success)
	next := cookieNamed(w, "rid")
	require.NotNil(t, next)
	assert.NotEqual(t, rid.Value, next.Value)
	assert.Equal(t, 30*24*3600, cookieNamed(w, "sid").MaxAge)

	w, body = e.do(t, http.MethodPost, "/refresh", gin.H{"refreshToken": rid.Value})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHORIZED", body.Kind)
	assert.Equal(t, -1, cookieNamed(w, "rid").MaxAge)
}

func TestLogoutClearsCookiesSymmetrically(t *testing.T) {
	e := newEnv(t)
	e.do(t, http.MethodPost, "/register", gin.H{"email": "alice@example.com", "password": "pw12345"})
	login, _ := e.do(t, http.MethodPost, "/login", gin.H{"email": "alice@example.com", "password": "pw12345"})
	sid, rid := cookieNamed(login, "sid"), cookieNamed(login, "rid")

	w, body := e.do(t, http.MethodPost, "/logout", nil, sid)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, body.Success)

	for _, name := range []string{"sid", "rid"} {
		c := cookieNamed(w, name)
		require.NotNil(t, c, name)
		assert.Empty(t, c.Value)
		assert.Equal(t, -1, c.MaxAge)
		assert.True(t, c.HttpOnly)
		assert.True(t, c.Secure)
		assert.Equal(t, http.SameSiteNoneMode, c.SameSite)
	}

	w, _ = e.do(t, http.MethodPost, "/refresh", nil, rid)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogoutWithRefreshCookieOnly(t *testing.T) {
	e := newEnv(t)
	e.do(t, http.MethodPost, "/register", gin.H{"email": "alice@example.com", "password": "pw12345"})
	login, _ := e.do(t, http.MethodPost, "/login", gin.H{"email": "alice@example.com", "password": "pw12345"})
	rid := cookieNamed(login, "rid")

	w, _ := e.do(t, http.MethodPost, "/logout", nil, rid)
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = e.do(t, http.MethodPost, "/refresh", nil, rid)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, body := e.do(t, http.MethodPost, "/logout", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, body.Success)
}

func TestPasswordResetOverHTTP(t *testing.T) {
	e := newEnv(t)
	e.do(t, http.MethodPost, "/register", gin.H{"email": "dana@example.com", "password": "pw12345"})

	w, _ := e.do(t, http.MethodPost, "/password/forgot", gin.H{"email": "dana@example.com"})
	require.Equal(t, http.StatusOK, w.Code)
	msg, ok := e.notes.Last(notify.KindPasswordResetCode, "dana@example.com")
	require.True(t, ok)

	w, _ = e.do(t, http.MethodPost, "/password/reset", gin.H{"email": "dana@example.com", "code": msg.Code, "password": "brand-new-pw"})
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = e.do(t, http.MethodPost, "/login", gin.H{"email": "dana@example.com", "password": "brand-new-pw"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestChangePasswordRequiresSession(t *testing.T) {
	e := newEnv(t)
	w, body := e.do(t, http.MethodPost, "/password/change", gin.H{"currentPassword": "a", "newPassword": "bbbbbbbb"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHORIZED", body.Kind)

	e.do(t, http.MethodPost, "/register", gin.H{"email": "eve@example.com", "password": "pw12345"})
	login, _ := e.do(t, http.MethodPost, "/login", gin.H{"email": "eve@example.com", "password": "pw12345"})

	w, _ = e.do(t, http.MethodPost, "/password/change", gin.H{"currentPassword": "pw12345", "newPassword": "pw-67890"}, cookieNamed(login, "sid"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotNil(t, cookieNamed(w, "rid"))
}

func TestAdminUpdateUserNotFound(t *testing.T) {
	e := newEnv(t)
	admin, err := e.store.Create(context.Background(), users.NewAccount{Email: "root@example.com", PasswordHash: "x", Role: users.RoleAdmin})
	require.NoError(t, err)
	_, signed, err := e.issuer.IssueSessionToken(admin, false)
	require.NoError(t, err)
	sid := &http.Cookie{Name: "sid", Value: signed}

	w, body := e.do(t, http.MethodPatch, "/admin/users/missing", gin.H{"role": "ADMIN"}, sid)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", body.Kind)
}

func TestStatusFor(t *testing.T) {
	cases := map[authn.Kind]int{
		authn.KindInvalidInput: 400,
		authn.KindUnauthorized: 401,
		authn.KindNotFound:     404,
		authn.KindConflict:     409,
		authn.KindRateLimited:  429,
		authn.KindTimeout:      504,
		authn.KindSigning:      500,
		authn.KindStorage:      500,
	}
	for kind, want := range cases {
		assert.Equal(t, want, StatusFor(kind), kind)
	}
}
