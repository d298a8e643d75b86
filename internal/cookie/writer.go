// Package cookie maps issued tokens onto response cookies.
//
// Every cookie is cleared with exactly the attributes it was written with
// (Domain, Path, Secure, SameSite, HttpOnly); browsers ignore a clear whose
// attributes do not match the stored cookie.
package cookie

import (
	"net/http"
	"time"

	"identity-service/internal/config"
)

type Writer struct {
	cfg   config.Provider
	clock func() time.Time
}

func NewWriter(cfg config.Provider) *Writer {
	return &Writer{cfg: cfg, clock: time.Now}
}

func (w *Writer) SessionCookieName() string { return w.cfg.SessionCookieName() }
func (w *Writer) RefreshCookieName() string { return w.cfg.RefreshCookieName() }

// WriteSession sets the signed session token. Its lifetime matches the token TTL.
func (w *Writer) WriteSession(rw http.ResponseWriter, signed string, rememberMe bool) {
	http.SetCookie(rw, w.build(w.cfg.SessionCookieName(), signed, w.cfg.SessionTTL(rememberMe)))
}

func (w *Writer) WriteRefresh(rw http.ResponseWriter, value string) {
	http.SetCookie(rw, w.build(w.cfg.RefreshCookieName(), value, w.cfg.RefreshTTL()))
}

func (w *Writer) ClearSession(rw http.ResponseWriter) {
	http.SetCookie(rw, w.build(w.cfg.SessionCookieName(), "", 0))
}

func (w *Writer) ClearRefresh(rw http.ResponseWriter) {
	http.SetCookie(rw, w.build(w.cfg.RefreshCookieName(), "", 0))
}

// Clear removes both the session and the refresh cookie.
func (w *Writer) Clear(rw http.ResponseWriter) {
	w.ClearSession(rw)
	w.ClearRefresh(rw)
}

// Refresh returns the refresh token carried by the request, if any.
func (w *Writer) Refresh(r *http.Request) string {
	c, err := r.Cookie(w.cfg.RefreshCookieName())
	if err != nil {
		return ""
	}
	return c.Value
}

func (w *Writer) build(name, value string, ttl time.Duration) *http.Cookie {
	attrs := w.cfg.CookieAttributes()
	path := attrs.Path
	if path == "" {
		path = "/"
	}
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   attrs.Domain,
		HttpOnly: true,
		Secure:   attrs.Secure,
		SameSite: attrs.SameSite,
	}
	if ttl > 0 && value != "" {
		c.MaxAge = int(ttl / time.Second)
		c.Expires = w.clock().Add(ttl).UTC()
	} else {
		c.MaxAge = -1
		c.Expires = time.Unix(0, 0).UTC()
	}
	return c
}
