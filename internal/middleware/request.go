package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nrednav/cuid2"

	"licensemarket/internal/csrf"
)

const (
	RequestIDHeader = "X-Request-ID"
	CSRFTokenHeader = "X-CSRF-Token"
	CSRFNonceHeader = "X-CSRF-Nonce"

	loggerKey = "logger"
)

// RequestID tags each request with an id, reusing the caller's when given,
// and stores a logger carrying it.
func RequestID(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = cuid2.Generate()
		}
		c.Header(RequestIDHeader, id)
		c.Set(loggerKey, logger.With("requestID", id))
		c.Next()
	}
}

// Logger returns the request's logger, or the default logger outside
// RequestID.
func Logger(c *gin.Context) *slog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if logger, ok := v.(*slog.Logger); ok {
			return logger
		}
	}
	return slog.Default()
}

// CSRF requires a token issued for this route and session on every
// request that is not a GET.
func CSRF(sealer *csrf.Sealer, now func() time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead {
			c.Next()
			return
		}
		token := c.GetHeader(CSRFTokenHeader)
		nonce := c.GetHeader(CSRFNonceHeader)
		if token == "" || nonce == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Missing CSRF token."})
			return
		}
		if err := sealer.Verify(c.FullPath(), SessionID(c), token, nonce, now()); err != nil {
			Logger(c).Info("csrf check failed", "error", err, "action", c.FullPath())
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Invalid CSRF token."})
			return
		}
		c.Next()
	}
}
