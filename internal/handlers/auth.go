package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"licensemarket/internal/accounts"
	"licensemarket/internal/csrf"
	"licensemarket/internal/middleware"
)

type AuthHandler struct {
	Accounts *accounts.Service
	Tokens   *middleware.SessionTokens
	Sealer   *csrf.Sealer
	// Secure marks cookies Secure; set in production.
	Secure bool
	Now    func() time.Time
}

func NewAuthHandler(svc *accounts.Service, tokens *middleware.SessionTokens, sealer *csrf.Sealer, secure bool) *AuthHandler {
	return &AuthHandler{Accounts: svc, Tokens: tokens, Sealer: sealer, Secure: secure, Now: time.Now}
}

func (h *AuthHandler) Signup(c *gin.Context) {
	var req accounts.Signup
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	account, err := h.Accounts.Signup(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message": "Account created. Check your e-mail for a confirmation link.",
		"handle":  account.Handle,
	})
}

type LoginRequest struct {
	Handle   string `json:"handle" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	session, err := h.Accounts.Login(c.Request.Context(), req.Handle, req.Password)
	if err != nil {
		middleware.Logger(c).Info("authentication error", "handle", req.Handle, "error", err)
		respondError(c, err)
		return
	}

	tokenString, err := h.Tokens.Issue(session.ID, session.Handle)
	if err != nil {
		respondError(c, err)
		return
	}
	middleware.SetCookie(c, tokenString, h.Secure)
	c.JSON(http.StatusOK, gin.H{"message": "Login successful.", "token": tokenString})
}

func (h *AuthHandler) Logout(c *gin.Context) {
	if err := h.Accounts.Logout(c.Request.Context(), middleware.SessionID(c)); err != nil {
		respondError(c, err)
		return
	}
	middleware.ClearCookie(c, h.Secure)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out."})
}

// Confirm is the target of links in confirmation and e-mail change
// messages.
func (h *AuthHandler) Confirm(c *gin.Context) {
	action, err := h.Accounts.Confirm(c.Request.Context(), c.Query("token"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Confirmed.", "action": action})
}

type HandleReminderRequest struct {
	Email string `json:"email" binding:"required"`
}

func (h *AuthHandler) RemindHandle(c *gin.Context) {
	var req HandleReminderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.Accounts.RemindHandle(c.Request.Context(), req.Email); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "If the e-mail you entered corresponds to an account, an e-mail was just sent to it."})
}

type ResetRequest struct {
	Handle string `json:"handle" binding:"required"`
}

func (h *AuthHandler) RequestReset(c *gin.Context) {
	var req ResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.Accounts.RequestPasswordReset(c.Request.Context(), req.Handle); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "An e-mail has been sent."})
}

type ResetConfirmRequest struct {
	Token    string `json:"token" binding:"required"`
	Password string `json:"password" binding:"required"`
	Repeat   string `json:"repeat" binding:"required"`
}

func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req ResetConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.Accounts.ResetPassword(c.Request.Context(), req.Token, req.Password, req.Repeat); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Password changed."})
}

// CSRFToken issues a token for the route named by ?action= and the
// caller's session.
func (h *AuthHandler) CSRFToken(c *gin.Context) {
	action := c.Query("action")
	if action == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing action."})
		return
	}
	token, nonce, err := h.Sealer.Generate(action, middleware.SessionID(c), h.Now())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "nonce": nonce})
}
