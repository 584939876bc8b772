package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"licensemarket/internal/accounts"
	"licensemarket/internal/middleware"
	"licensemarket/internal/models"
)

// respondError maps service errors onto status codes. Anything
// unrecognized is logged and reported as a server error.
func respondError(c *gin.Context, err error) {
	var ferr *models.FieldError
	if errors.As(err, &ferr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": ferr.Message, "field": ferr.Field})
		return
	}
	var cerr *accounts.ConnectError
	if errors.As(err, &cerr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Stripe reported an error connecting your account: " + cerr.Description})
		return
	}

	switch {
	case errors.Is(err, accounts.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid handle or password."})
	case errors.Is(err, accounts.ErrAccountLocked):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Account locked."})
	case errors.Is(err, accounts.ErrWrongPassword):
		c.JSON(http.StatusForbidden, gin.H{"error": "Invalid handle or password."})
	case errors.Is(err, accounts.ErrHandleTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "Handle taken.", "field": "handle"})
	case errors.Is(err, accounts.ErrEmailTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "E-mail address has an account.", "field": "email"})
	case errors.Is(err, accounts.ErrProjectExists):
		c.JSON(http.StatusConflict, gin.H{"error": "Project name taken.", "field": "project"})
	case errors.Is(err, accounts.ErrInvalidToken):
		c.JSON(http.StatusBadRequest, gin.H{"error": "The link you followed is invalid or expired."})
	case errors.Is(err, accounts.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found."})
	case errors.Is(err, accounts.ErrAlreadyConnected):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Stripe account already connected."})
	case errors.Is(err, accounts.ErrNotConnected):
		c.JSON(http.StatusBadRequest, gin.H{"error": "No Stripe account connected."})
	case errors.Is(err, accounts.ErrConnectState), errors.Is(err, accounts.ErrConnectRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Stripe Connect security failure."})
	default:
		middleware.Logger(c).Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error."})
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
}
