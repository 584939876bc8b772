package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"licensemarket/internal/fulfillment"
	"licensemarket/internal/license"
	"licensemarket/internal/middleware"
	"licensemarket/internal/orders"
	"licensemarket/internal/payments"
)

// MaxWebhookBody bounds the memory a single webhook delivery can use.
const MaxWebhookBody = 64 << 10

type PaymentHandler struct {
	Orders      *orders.Service
	Fulfillment *fulfillment.Service
	Signer      *license.Signer
}

func NewPaymentHandler(orderSvc *orders.Service, fulfillmentSvc *fulfillment.Service, signer *license.Signer) *PaymentHandler {
	return &PaymentHandler{Orders: orderSvc, Fulfillment: fulfillmentSvc, Signer: signer}
}

type BuyRequest struct {
	Handle   string `json:"handle" binding:"required"`
	Project  string `json:"project" binding:"required"`
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Location string `json:"location" binding:"required"`
	Token    string `json:"token" binding:"required"`
}

// Buy creates an order and charges the card. The charge is not abandoned
// if the buyer disconnects mid-request.
func (h *PaymentHandler) Buy(c *gin.Context) {
	var req BuyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx := context.WithoutCancel(c.Request.Context())
	order, err := h.Orders.Create(ctx, orders.Purchase{
		Handle:   req.Handle,
		Project:  req.Project,
		Name:     req.Name,
		Email:    req.Email,
		Location: req.Location,
		Token:    req.Token,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":         "Payment accepted. Your license will arrive by e-mail.",
		"orderID":         order.OrderID,
		"paymentIntentID": order.PaymentIntentID,
	})
}

// HandleStripeWebhook verifies and applies a Stripe event. A 4xx answer
// makes Stripe give up on the delivery; a 5xx makes it retry.
func (h *PaymentHandler) HandleStripeWebhook(c *gin.Context) {
	log := middleware.Logger(c)

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxWebhookBody)
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			log.Warn("webhook body too large", "limit", tooLarge.Limit)
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Payload too large."})
			return
		}
		badRequest(c, err)
		return
	}

	ctx := context.WithoutCancel(c.Request.Context())
	outcome, err := h.Fulfillment.Handle(ctx, payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, payments.ErrInvalidSignature) {
			log.Warn("invalid webhook signature", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid signature."})
			return
		}
		log.Error("webhook failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error."})
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true, "outcome": outcome})
}

// PublicKey serves the hex key that verifies license signatures.
func (h *PaymentHandler) PublicKey(c *gin.Context) {
	c.String(http.StatusOK, h.Signer.PublicKey())
}
