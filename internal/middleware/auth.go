package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"licensemarket/internal/models"
)

const (
	SessionCookie   = "session"
	SessionLifetime = 30 * 24 * time.Hour

	sessionIDKey = "sessionID"
	accountKey   = "account"
)

// Authenticator resolves a stored session. A nil session means the id is
// not a signed-in session.
type Authenticator interface {
	Authenticate(ctx context.Context, sessionID string) (*models.Session, *models.Account, error)
}

// SessionTokens signs session ids into HS256 JWTs for the cookie or an
// Authorization header.
type SessionTokens struct {
	Secret []byte
	Now    func() time.Time
}

func NewSessionTokens(secret string) *SessionTokens {
	return &SessionTokens{Secret: []byte(secret), Now: time.Now}
}

// Issue returns a token for sessionID. handle is empty for guests.
func (t *SessionTokens) Issue(sessionID, handle string) (string, error) {
	now := t.Now()
	claims := jwt.MapClaims{
		"sid": sessionID,
		"sub": handle,
		"iat": now.Unix(),
		"exp": now.Add(SessionLifetime).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.Secret)
}

// Parse validates tokenString and returns its session id.
func (t *SessionTokens) Parse(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return t.Secret, nil
	}, jwt.WithTimeFunc(t.Now))
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", jwt.ErrTokenInvalidClaims
	}
	sid, ok := claims["sid"].(string)
	if !ok || sid == "" {
		return "", errors.New("invalid 'sid' claim in token")
	}
	return sid, nil
}

// SetCookie stores token in the session cookie.
func SetCookie(c *gin.Context, token string, secure bool) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookie, token, int(SessionLifetime.Seconds()), "/", "", secure, true)
}

func ClearCookie(c *gin.Context, secure bool) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookie, "", -1, "/", "", secure, true)
}

func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}

// Session attaches a session id to every request, and the account when the
// session is signed in. Callers without a valid token get a fresh guest id
// in a new cookie.
func Session(tokens *SessionTokens, auth Authenticator, secure bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := Logger(c)

		tokenString := bearerToken(c)
		if tokenString == "" {
			tokenString, _ = c.Cookie(SessionCookie)
		}

		var sessionID string
		if tokenString != "" {
			sid, err := tokens.Parse(tokenString)
			if err != nil {
				log.Info("ignoring session token", "error", err)
			} else {
				sessionID = sid
			}
		}

		if sessionID == "" {
			sessionID = uuid.NewString()
			token, err := tokens.Issue(sessionID, "")
			if err != nil {
				log.Error("failed to sign guest session", "error", err)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Server error."})
				return
			}
			SetCookie(c, token, secure)
			c.Set(sessionIDKey, sessionID)
			c.Next()
			return
		}

		c.Set(sessionIDKey, sessionID)
		_, account, err := auth.Authenticate(c.Request.Context(), sessionID)
		if err != nil {
			log.Error("failed to authenticate session", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Server error."})
			return
		}
		if account != nil {
			c.Set(accountKey, account)
			c.Set(loggerKey, log.With("handle", account.Handle))
		}
		c.Next()
	}
}

// RequireAccount rejects requests without a signed-in, confirmed account.
func RequireAccount() gin.HandlerFunc {
	return func(c *gin.Context) {
		if Account(c) == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Login required."})
			return
		}
		c.Next()
	}
}

func SessionID(c *gin.Context) string { return c.GetString(sessionIDKey) }

// Account returns the signed-in account, or nil.
func Account(c *gin.Context) *models.Account {
	v, ok := c.Get(accountKey)
	if !ok {
		return nil
	}
	account, _ := v.(*models.Account)
	return account
}
