// Package payments talks to the payment processor: charging buyers on
// behalf of connected sellers, verifying webhook events and managing the
// sellers' Connect authorization.
package payments

import (
	"context"
	"errors"
	"fmt"
)

// Event types the webhook acts on.
const (
	EventPaymentSucceeded   = "payment_intent.succeeded"
	EventPaymentFailed      = "payment_intent.payment_failed"
	EventAccountDeauthorize = "account.application.deauthorized"
)

var ErrInvalidSignature = errors.New("payments: invalid webhook signature")

// PaymentIntentRequest is a destination charge: the buyer pays the full
// amount to Payee, minus FeeMinor kept by the platform.
type PaymentIntentRequest struct {
	AmountMinor   int64
	Currency      string
	ReceiptEmail  string
	PaymentMethod string
	Payee         string
	FeeMinor      int64
	OrderID       string
}

// Event is a verified webhook event.
type Event struct {
	ID              string
	Type            string
	Account         string
	Livemode        bool
	PaymentIntentID string
	OrderID         string
}

// Connection is the result of a completed Connect authorization.
type Connection struct {
	StripeUserID string
	Scope        string
	Livemode     bool
}

// Error is a processor-side rejection. Code is the processor's error code,
// such as "card_declined".
type Error struct {
	Code    string
	Message string
	Status  int
	Err     error
}

func (e *Error) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("payment processor: %s", e.Message)
	}
	return fmt.Sprintf("payment processor: %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

type Processor interface {
	// CreatePaymentIntent charges immediately and returns the intent id.
	CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (string, error)
	// ConstructEvent verifies signature over the raw payload. Failures wrap ErrInvalidSignature.
	ConstructEvent(payload []byte, signature string) (*Event, error)
	ExchangeCode(ctx context.Context, code string) (*Connection, error)
	Deauthorize(ctx context.Context, stripeUserID string) error
	AuthorizeURL(state string) string
}

// Fee is the platform's cut: floor(priceMinor * commission / 100).
func Fee(priceMinor, commission int64) int64 {
	if priceMinor <= 0 || commission <= 0 {
		return 0
	}
	return priceMinor * commission / 100
}

// MinorUnits converts a whole-dollar price to cents.
func MinorUnits(price int64) int64 { return price * 100 }
