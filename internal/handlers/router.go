package handlers

import (
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"licensemarket/internal/csrf"
	"licensemarket/internal/middleware"
)

// Server holds everything the router needs.
type Server struct {
	Auth      *AuthHandler
	Account   *AccountHandler
	Payments  *PaymentHandler
	WebSocket *WebSocketHandler

	Tokens        *middleware.SessionTokens
	Authenticator middleware.Authenticator
	Sealer        *csrf.Sealer
	Logger        *slog.Logger
	Secure        bool
	Origins       []string
}

func corsConfig(origins []string) cors.Config {
	config := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Accept", "Authorization",
			middleware.CSRFTokenHeader, middleware.CSRFNonceHeader, middleware.RequestIDHeader,
		},
		ExposeHeaders:    []string{middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = origins
	}
	return config
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID(s.Logger))
	r.Use(gin.Logger())

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
		})
	})
	r.GET("/public-key", s.Payments.PublicKey)

	// Stripe signs its webhooks; no session or CSRF token applies.
	r.POST("/stripe-webhook", s.Payments.HandleStripeWebhook)

	session := middleware.Session(s.Tokens, s.Authenticator, s.Secure)
	checkCSRF := middleware.CSRF(s.Sealer, time.Now)

	api := r.Group("/api")
	api.Use(cors.New(corsConfig(s.Origins)), session)
	{
		auth := api.Group("/auth")
		{
			auth.POST("/signup", s.Auth.Signup)
			auth.POST("/login", s.Auth.Login)
			auth.POST("/logout", checkCSRF, s.Auth.Logout)
			auth.GET("/confirm", s.Auth.Confirm)
			auth.POST("/handle", s.Auth.RemindHandle)
			auth.POST("/reset", s.Auth.RequestReset)
			auth.POST("/reset/confirm", s.Auth.ResetPassword)
		}

		api.GET("/csrf", s.Auth.CSRFToken)
		api.POST("/buy", s.Payments.Buy)
		api.GET("/users/:handle", s.Account.GetUser)
		api.GET("/projects/:handle/:project", s.Account.GetProject)

		protected := api.Group("/")
		protected.Use(middleware.RequireAccount(), checkCSRF)
		{
			protected.GET("/account", s.Account.GetMyAccount)
			protected.POST("/account/password", s.Account.ChangePassword)
			protected.POST("/account/email", s.Account.ChangeEmail)
			protected.GET("/account/connect", s.Account.Connect)
			protected.GET("/connected", s.Account.Connected)
			protected.POST("/disconnect", s.Account.Disconnect)
			protected.POST("/projects", s.Account.CreateProject)
			protected.GET("/purchases", s.Account.GetMyPurchases)
		}
	}

	r.GET("/ws/sales", session, middleware.RequireAccount(), s.WebSocket.ServeSales)

	return r
}
