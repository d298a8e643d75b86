package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"identity-service/internal/audit"
	"identity-service/internal/auth"
	"identity-service/internal/authn"
	"identity-service/internal/config"
	"identity-service/internal/cookie"
	"identity-service/internal/httpapi"
	"identity-service/internal/metrics"
	"identity-service/internal/notify"
	"identity-service/internal/otp"
	"identity-service/internal/password"
	"identity-service/internal/ratelimit"
	"identity-service/internal/users"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testApp struct {
	r      *gin.Engine
	store  *users.MemoryStore
	events *audit.MemoryRepo
	issuer *auth.Issuer
}

func newTestApp(t *testing.T, health func(context.Context) error) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.AuthSettings{
		Secret:         "route-test-secret",
		SigningAlg:     "HS256",
		CookieSecure:   true,
		CookieSameSite: "none",
	}
	app := &testApp{store: users.NewMemoryStore(), events: audit.NewMemoryRepo(), issuer: auth.NewIssuer(cfg)}
	m := metrics.New()

	svc, err := authn.NewService(authn.Deps{
		Config:   cfg,
		Users:    app.store,
		Hasher:   password.NewArgon2id(password.Params{MemoryKiB: 1024, Iterations: 1, Parallelism: 1}),
		Issuer:   app.issuer,
		Codes:    otp.NewMemoryStore(),
		Notifier: &notify.Recorder{},
		Audit:    audit.NewService(app.events),
		Metrics:  m,
	})
	require.NoError(t, err)

	app.r = newRouter(slog.Default(), routeDeps{
		Handlers:    httpapi.Handlers{Auth: svc, Cookies: cookie.NewWriter(cfg), Sessions: app.issuer},
		Verifier:    app.issuer,
		AuthLimiter: ratelimit.NewLocalLimiter(1000, 1000),
		Metrics:     m,
		Health:      health,
	})
	return app
}

func (a *testApp) call(t *testing.T, method, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
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
	a.r.ServeHTTP(w, req)
	return w
}

func findCookie(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestAliceLifecycle(t *testing.T) {
	app := newTestApp(t, nil)
	creds := gin.H{"email": "alice@example.com", "password": "pw12345"}

	w := app.call(t, http.MethodPost, "/v1/auth/register", creds)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), `"token"`)
	assert.NotContains(t, w.Body.String(), "argon2id")
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))

	w = app.call(t, http.MethodPost, "/v1/auth/login", gin.H{"email": "alice@example.com", "password": "pw12345", "rememberMe": false})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	sid, rid := findCookie(w, "session"), findCookie(w, "refresh_token")
	require.NotNil(t, sid)
	require.NotNil(t, rid)
	assert.Equal(t, 3600, sid.MaxAge)

	claims, err := app.issuer.VerifySessionToken(sid.Value)
	require.NoError(t, err)
	acct, err := app.store.FindByEmail(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, acct.ID, claims.Subject)
	assert.InDelta(t, time.Hour.Seconds(), claims.ExpiresAt.Sub(claims.IssuedAt.Time).Seconds(), 1)

	w = app.call(t, http.MethodGet, "/v1/me", nil, sid)
	require.Equal(t, http.StatusOK, w.Code)

	w = app.call(t, http.MethodPost, "/v1/auth/logout", nil, sid, rid)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, -1, findCookie(w, "session").MaxAge)
	assert.Equal(t, -1, findCookie(w, "refresh_token").MaxAge)

	w = app.call(t, http.MethodPost, "/v1/auth/refresh", nil, rid)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), `"kind":"UNAUTHORIZED"`)

	assert.Len(t, app.events.OfType(audit.EventLogout), 1)
}

func TestConcurrentBobRegistrationOverHTTP(t *testing.T) {
	app := newTestApp(t, nil)

	const workers = 6
	codes := make([]int, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body := strings.NewReader(`{"email":"bob@example.com","password":"pw12345"}`)
			req := httptest.NewRequest(http.MethodPost, "/v1/auth/register", body)
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			app.r.ServeHTTP(w, req)
			codes[i] = w.Code
		}(i)
	}
	wg.Wait()

	created, conflicts := 0, 0
	for _, c := range codes {
		switch c {
		case http.StatusCreated:
			created++
		case http.StatusConflict:
			conflicts++
		}
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, workers-1, conflicts)
	assert.Equal(t, 1, app.store.Count())
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	app := newTestApp(t, nil)
	ctx := context.Background()

	user, err := app.store.Create(ctx, users.NewAccount{Email: "user@example.com", PasswordHash: "x"})
	require.NoError(t, err)
	admin, err := app.store.Create(ctx, users.NewAccount{Email: "admin@example.com", PasswordHash: "x", Role: users.RoleAdmin})
	require.NoError(t, err)

	_, userTok, err := app.issuer.IssueSessionToken(user, false)
	require.NoError(t, err)
	_, adminTok, err := app.issuer.IssueSessionToken(admin, false)
	require.NoError(t, err)

	w := app.call(t, http.MethodPatch, "/v1/admin/users/"+user.ID, gin.H{"name": "Renamed"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = app.call(t, http.MethodPatch, "/v1/admin/users/"+user.ID, gin.H{"name": "Renamed"}, &http.Cookie{Name: "session", Value: userTok})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), `"kind":"FORBIDDEN"`)

	w = app.call(t, http.MethodPatch, "/v1/admin/users/"+user.ID, gin.H{"name": "Renamed"}, &http.Cookie{Name: "session", Value: adminTok})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "Renamed")

	w = app.call(t, http.MethodPatch, "/v1/admin/users/does-not-exist", gin.H{"name": "x"}, &http.Cookie{Name: "session", Value: adminTok})
	assert.Equal(t, http.StatusNotFound, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	req.Header.Set("Authorization", "Bearer "+adminTok)
	rec := httptest.NewRecorder()
	app.r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	app := newTestApp(t, nil)

	w := app.call(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = app.call(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_requests_total")

	down := newTestApp(t, func(context.Context) error { return errors.New("db down") })
	w = down.call(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRootCommandHasSubcommands(t *testing.T) {
	cmd := NewRootCmd()
	names := map[string]bool{}
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["migrate"])
}
