package cookie

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"identity-service/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func settings() config.AuthSettings {
	return config.AuthSettings{
		Secret:             "secret",
		SessionTokenTTL:    time.Hour,
		RememberMeTokenTTL: 7 * 24 * time.Hour,
		RefreshTokenTTL:    30 * 24 * time.Hour,
		SessionCookie:      "sid",
		RefreshCookie:      "rid",
		CookieDomain:       "example.com",
		CookieSecure:       true,
		CookieSameSite:     "none",
	}
}

func responseCookies(t *testing.T, rec *httptest.ResponseRecorder) map[string]*http.Cookie {
	t.Helper()
	out := map[string]*http.Cookie{}
	for _, c := range rec.Result().Cookies() {
		out[c.Name] = c
	}
	return out
}

func TestWriteSession_CrossSiteAttributes(t *testing.T) {
	w := NewWriter(settings())
	rec := httptest.NewRecorder()
	w.WriteSession(rec, "signed.jwt.value", false)

	c := responseCookies(t, rec)["sid"]
	require.NotNil(t, c)
	assert.Equal(t, "signed.jwt.value", c.Value)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteNoneMode, c.SameSite)
	assert.Equal(t, "example.com", c.Domain)
	assert.Equal(t, 3600, c.MaxAge)
}

func TestWriteSession_RememberMeLifetime(t *testing.T) {
	w := NewWriter(settings())
	rec := httptest.NewRecorder()
	w.WriteSession(rec, "tok", true)

	c := responseCookies(t, rec)["sid"]
	require.NotNil(t, c)
	assert.Equal(t, int((7 * 24 * time.Hour).Seconds()), c.MaxAge)
}

func TestClear_IsAttributeSymmetric(t *testing.T) {
	w := NewWriter(settings())

	set := httptest.NewRecorder()
	w.WriteSession(set, "tok", false)
	w.WriteRefresh(set, "refresh")
	written := responseCookies(t, set)

	cleared := httptest.NewRecorder()
	w.Clear(cleared)
	removed := responseCookies(t, cleared)

	for _, name := range []string{"sid", "rid"} {
		a, b := written[name], removed[name]
		require.NotNil(t, a, name)
		require.NotNil(t, b, name)

		assert.Equal(t, a.Path, b.Path, name)
		assert.Equal(t, a.Domain, b.Domain, name)
		assert.Equal(t, a.Secure, b.Secure, name)
		assert.Equal(t, a.HttpOnly, b.HttpOnly, name)
		assert.Equal(t, a.SameSite, b.SameSite, name)

		assert.Empty(t, b.Value, name)
		assert.Less(t, b.MaxAge, 0, name)
	}
}

func TestRefresh_ReadsRequestCookie(t *testing.T) {
	w := NewWriter(settings())
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/refresh", nil)
	assert.Empty(t, w.Refresh(req))

	req.AddCookie(&http.Cookie{Name: "rid", Value: "abc"})
	assert.Equal(t, "abc", w.Refresh(req))
}
