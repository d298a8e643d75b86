package httpapi

import (
	"errors"
	"net/http"
	"time"

	"identity-service/internal/auth"
	"identity-service/internal/authn"
	"identity-service/internal/cookie"
	"identity-service/internal/users"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call authn, render the envelope.
type Handlers struct {
	Auth     *authn.Service
	Cookies  *cookie.Writer
	Sessions auth.Verifier
}

// --- Register / verify ---

type registerRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	Name         string `json:"name"`
	ProfileImage string `json:"profileImage"`
	Team         string `json:"team"`
}

func (h Handlers) Register(c *gin.Context) {
	var req registerRequest
	if !bind(c, &req) {
		return
	}
	res, err := h.Auth.Register(c.Request.Context(), authn.RegisterInput{
		Email:        req.Email,
		Password:     req.Password,
		DisplayName:  req.Name,
		ProfileImage: req.ProfileImage,
		Team:         req.Team,
	})
	if err != nil {
		fail(c, err)
		return
	}

	msg := "account created, check your email for a verification code"
	data := gin.H{"user": res.Profile}
	if res.Warning != nil {
		msg = "account created, but the verification code could not be sent"
		data["warning"] = "NOTIFY_FAILED"
	}
	ok(c, http.StatusCreated, msg, data)
}

type verifyEmailRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

func (h Handlers) VerifyEmail(c *gin.Context) {
	var req verifyEmailRequest
	if !bind(c, &req) {
		return
	}
	p, err := h.Auth.VerifyEmail(c.Request.Context(), req.Email, req.Code)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, "email verified", gin.H{"user": p})
}

type emailRequest struct {
	Email string `json:"email"`
}

func (h Handlers) ResendVerification(c *gin.Context) {
	var req emailRequest
	if !bind(c, &req) {
		return
	}
	if err := h.Auth.ResendVerificationCode(c.Request.Context(), req.Email); err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, "if the account needs verification, a new code has been sent", nil)
}

// --- Session lifecycle ---

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
}

func (h Handlers) Login(c *gin.Context) {
	var req loginRequest
	if !bind(c, &req) {
		return
	}
	sess, err := h.Auth.Login(c.Request.Context(), authn.LoginInput{
		Email:      req.Email,
		Password:   req.Password,
		RememberMe: req.RememberMe,
	})
	if err != nil {
		fail(c, err)
		return
	}
	h.writeSession(c, sess)
	ok(c, http.StatusOK, "logged in", sessionPayload(sess))
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Refresh accepts the refresh token from the body or, failing that, the refresh cookie.
func (h Handlers) Refresh(c *gin.Context) {
	var req refreshRequest
	if c.Request.ContentLength > 0 && !bind(c, &req) {
		return
	}
	presented := req.RefreshToken
	if presented == "" {
		presented = h.Cookies.Refresh(c.Request)
	}

	sess, err := h.Auth.Refresh(c.Request.Context(), presented)
	if err != nil {
		if authn.KindOf(err) == authn.KindUnauthorized {
			h.Cookies.Clear(c.Writer)
		}
		fail(c, err)
		return
	}
	h.writeSession(c, sess)
	ok(c, http.StatusOK, "session refreshed", sessionPayload(sess))
}

// Logout revokes the refresh token of whoever the request identifies, then
// clears both cookies. It succeeds for anonymous callers.
func (h Handlers) Logout(c *gin.Context) {
	var req refreshRequest
	if c.Request.ContentLength > 0 {
		_ = c.ShouldBindJSON(&req)
	}
	ctx := c.Request.Context()

	var err error
	if uid := h.sessionUserID(c); uid != "" {
		err = h.Auth.Logout(ctx, uid)
	} else {
		presented := req.RefreshToken
		if presented == "" {
			presented = h.Cookies.Refresh(c.Request)
		}
		err = h.Auth.LogoutRefreshToken(ctx, presented)
	}

	h.Cookies.Clear(c.Writer)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, "logged out", nil)
}

// --- Password recovery ---

func (h Handlers) ForgotPassword(c *gin.Context) {
	var req emailRequest
	if !bind(c, &req) {
		return
	}
	if err := h.Auth.RequestPasswordReset(c.Request.Context(), req.Email); err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, "if the account exists, a reset code has been sent", nil)
}

type resetPasswordRequest struct {
	Email    string `json:"email"`
	Code     string `json:"code"`
	Password string `json:"password"`
}

func (h Handlers) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if !bind(c, &req) {
		return
	}
	if err := h.Auth.ResetPassword(c.Request.Context(), req.Email, req.Code, req.Password); err != nil {
		fail(c, err)
		return
	}
	h.Cookies.Clear(c.Writer)
	ok(c, http.StatusOK, "password updated, please log in again", nil)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// ChangePassword requires auth.RequireSession.
func (h Handlers) ChangePassword(c *gin.Context) {
	var req changePasswordRequest
	if !bind(c, &req) {
		return
	}
	uid, _ := auth.UserID(c.Request.Context())
	sess, err := h.Auth.ChangePassword(c.Request.Context(), uid, req.CurrentPassword, req.NewPassword)
	if err != nil {
		fail(c, err)
		return
	}
	h.writeSession(c, sess)
	ok(c, http.StatusOK, "password updated", sessionPayload(sess))
}

// --- Account ---

// Me requires auth.RequireSession.
func (h Handlers) Me(c *gin.Context) {
	uid, _ := auth.UserID(c.Request.Context())
	p, err := h.Auth.Me(c.Request.Context(), uid)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, "", gin.H{"user": p})
}

// AdminUpdateUser requires auth.RequireSession and the ADMIN role.
func (h Handlers) AdminUpdateUser(c *gin.Context) {
	var req authn.AdminUpdate
	if !bind(c, &req) {
		return
	}
	ctx := c.Request.Context()
	actorID, _ := auth.UserID(ctx)
	actorRole, _ := auth.Role(ctx)

	p, err := h.Auth.AdminUpdateUser(ctx, actorID, actorRole, c.Param("id"), req)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, "user updated", gin.H{"user": p})
}

// --- helpers ---

type sessionData struct {
	Token            string        `json:"token"`
	ExpiresAt        time.Time     `json:"expiresAt"`
	RefreshToken     string        `json:"refreshToken"`
	RefreshExpiresAt time.Time     `json:"refreshExpiresAt"`
	RememberMe       bool          `json:"rememberMe"`
	User             users.Profile `json:"user"`
}

func sessionPayload(s authn.Session) sessionData {
	d := sessionData{
		Token:            s.Token,
		RefreshToken:     s.RefreshToken,
		RefreshExpiresAt: s.RefreshExpiresAt,
		RememberMe:       s.RememberMe,
		User:             s.Profile,
	}
	if s.Claims.ExpiresAt != nil {
		d.ExpiresAt = s.Claims.ExpiresAt.Time
	}
	return d
}

func (h Handlers) writeSession(c *gin.Context, s authn.Session) {
	h.Cookies.WriteSession(c.Writer, s.Token, s.RememberMe)
	h.Cookies.WriteRefresh(c.Writer, s.RefreshToken)
}

// sessionUserID returns the subject of a valid session on the request, if any.
func (h Handlers) sessionUserID(c *gin.Context) string {
	if h.Sessions == nil {
		return ""
	}
	tok := auth.SessionToken(c, h.Cookies.SessionCookieName())
	if tok == "" {
		return ""
	}
	claims, err := h.Sessions.VerifySessionToken(tok)
	if err != nil {
		return ""
	}
	return claims.Subject
}

func bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"success": false,
			"kind":    authn.KindInvalidInput,
			"message": "invalid json",
		})
		return false
	}
	return true
}

func ok(c *gin.Context, status int, msg string, data any) {
	body := gin.H{"success": true, "message": msg}
	if data != nil {
		body["data"] = data
	}
	c.JSON(status, body)
}

func fail(c *gin.Context, err error) {
	kind := authn.KindOf(err)
	status := StatusFor(kind)

	msg := "something went wrong, please try again"
	var e *authn.Error
	if errors.As(err, &e) && e.Message != "" {
		msg = e.Message
	}
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, gin.H{"success": false, "kind": kind, "message": msg})
}

// StatusFor maps an error kind onto an HTTP status.
func StatusFor(kind authn.Kind) int {
	switch kind {
	case authn.KindInvalidInput:
		return http.StatusBadRequest
	case authn.KindUnauthorized:
		return http.StatusUnauthorized
	case authn.KindNotFound:
		return http.StatusNotFound
	case authn.KindConflict:
		return http.StatusConflict
	case authn.KindRateLimited:
		return http.StatusTooManyRequests
	case authn.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
