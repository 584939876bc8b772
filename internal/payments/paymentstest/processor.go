// Package paymentstest provides a payment processor double: outbound calls
// are testify mocks, webhook verification is the real signature check.
package paymentstest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stripe/stripe-go/v76/webhook"

	"licensemarket/internal/payments"
)

type Processor struct {
	mock.Mock
	Secret   string
	verifier *payments.StripeProcessor
}

func New(secret string) *Processor {
	return &Processor{
		Secret:   secret,
		verifier: payments.NewStripeProcessor(payments.StripeConfig{WebhookSecret: secret}),
	}
}

func (p *Processor) CreatePaymentIntent(ctx context.Context, req payments.PaymentIntentRequest) (string, error) {
	args := p.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (p *Processor) ConstructEvent(payload []byte, signature string) (*payments.Event, error) {
	return p.verifier.ConstructEvent(payload, signature)
}

func (p *Processor) ExchangeCode(ctx context.Context, code string) (*payments.Connection, error) {
	args := p.Called(ctx, code)
	conn, _ := args.Get(0).(*payments.Connection)
	return conn, args.Error(1)
}

func (p *Processor) Deauthorize(ctx context.Context, stripeUserID string) error {
	return p.Called(ctx, stripeUserID).Error(0)
}

func (p *Processor) AuthorizeURL(state string) string {
	return "https://connect.stripe.test/oauth/authorize?state=" + state
}

// Sign encodes event and signs it with the processor's webhook secret.
func (p *Processor) Sign(event map[string]any) (payload []byte, header string) {
	payload, err := json.Marshal(event)
	if err != nil {
		panic(err)
	}
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    p.Secret,
		Timestamp: time.Now(),
	})
	return payload, signed.Header
}

func PaymentSucceeded(eventID, intentID, orderID string) map[string]any {
	return paymentIntentEvent(eventID, payments.EventPaymentSucceeded, intentID, orderID)
}

func PaymentFailed(eventID, intentID, orderID string) map[string]any {
	return paymentIntentEvent(eventID, payments.EventPaymentFailed, intentID, orderID)
}

func paymentIntentEvent(eventID, eventType, intentID, orderID string) map[string]any {
	metadata := map[string]string{}
	if orderID != "" {
		metadata["orderID"] = orderID
	}
	return map[string]any{
		"id":     eventID,
		"object": "event",
		"type":   eventType,
		"data": map[string]any{"object": map[string]any{
			"id":       intentID,
			"object":   "payment_intent",
			"metadata": metadata,
		}},
	}
}

func Deauthorized(eventID, account string) map[string]any {
	return map[string]any{
		"id":      eventID,
		"object":  "event",
		"type":    payments.EventAccountDeauthorize,
		"account": account,
		"data":    map[string]any{"object": map[string]any{"id": "ca_test", "object": "application"}},
	}
}
