package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/oauth"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"github.com/stripe/stripe-go/v76/webhook"
)

type StripeConfig struct {
	SecretKey     string
	ClientID      string
	WebhookSecret string
	RedirectURI   string
}

// StripeProcessor implements Processor with destination charges and
// Connect OAuth.
type StripeProcessor struct {
	intents       paymentintent.Client
	connect       oauth.Client
	clientID      string
	webhookSecret string
	redirectURI   string
}

func NewStripeProcessor(cfg StripeConfig) *StripeProcessor {
	return NewStripeProcessorWithBackends(cfg,
		stripe.GetBackend(stripe.APIBackend),
		stripe.GetBackend(stripe.ConnectBackend),
	)
}

// NewStripeProcessorWithBackends lets tests point the clients at a fake server.
func NewStripeProcessorWithBackends(cfg StripeConfig, api, connect stripe.Backend) *StripeProcessor {
	return &StripeProcessor{
		intents:       paymentintent.Client{B: api, Key: cfg.SecretKey},
		connect:       oauth.Client{B: connect, Key: cfg.SecretKey},
		clientID:      cfg.ClientID,
		webhookSecret: cfg.WebhookSecret,
		redirectURI:   cfg.RedirectURI,
	}
}

func (p *StripeProcessor) CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:       stripe.Int64(req.AmountMinor),
		Currency:     stripe.String(req.Currency),
		Confirm:      stripe.Bool(true),
		ReceiptEmail: stripe.String(req.ReceiptEmail),
		OnBehalfOf:   stripe.String(req.Payee),
		TransferData: &stripe.PaymentIntentTransferDataParams{
			Destination: stripe.String(req.Payee),
		},
	}
	params.Context = ctx
	params.AddMetadata("orderID", req.OrderID)

	// Legacy card tokens ride in payment_method_data; payment methods are
	// referenced directly.
	if strings.HasPrefix(req.PaymentMethod, "tok_") {
		params.PaymentMethodData = &stripe.PaymentIntentPaymentMethodDataParams{
			Type: stripe.String("card"),
		}
		params.AddExtra("payment_method_data[card][token]", req.PaymentMethod)
	} else {
		params.PaymentMethod = stripe.String(req.PaymentMethod)
	}

	// The processor rejects an explicit zero fee.
	if req.FeeMinor > 0 {
		params.ApplicationFeeAmount = stripe.Int64(req.FeeMinor)
	}

	intent, err := p.intents.New(params)
	if err != nil {
		return "", translate(err)
	}
	return intent.ID, nil
}

func (p *StripeProcessor) ConstructEvent(payload []byte, signature string) (*Event, error) {
	evt, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		// Connected accounts may be pinned to older API versions.
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	event := &Event{
		ID:       evt.ID,
		Type:     string(evt.Type),
		Account:  evt.Account,
		Livemode: evt.Livemode,
	}
	if strings.HasPrefix(event.Type, "payment_intent.") && evt.Data != nil {
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(evt.Data.Raw, &intent); err != nil {
			return nil, fmt.Errorf("decode payment intent: %w", err)
		}
		event.PaymentIntentID = intent.ID
		event.OrderID = intent.Metadata["orderID"]
	}
	return event, nil
}

func (p *StripeProcessor) ExchangeCode(ctx context.Context, code string) (*Connection, error) {
	params := &stripe.OAuthTokenParams{
		Code:      stripe.String(code),
		GrantType: stripe.String("authorization_code"),
	}
	params.Context = ctx
	token, err := p.connect.New(params)
	if err != nil {
		return nil, translate(err)
	}
	return &Connection{
		StripeUserID: token.StripeUserID,
		Scope:        string(token.Scope),
		Livemode:     token.Livemode,
	}, nil
}

func (p *StripeProcessor) Deauthorize(ctx context.Context, stripeUserID string) error {
	params := &stripe.DeauthorizeParams{
		ClientID:     stripe.String(p.clientID),
		StripeUserID: stripe.String(stripeUserID),
	}
	params.Context = ctx
	if _, err := p.connect.Del(params); err != nil {
		return translate(err)
	}
	return nil
}

func (p *StripeProcessor) AuthorizeURL(state string) string {
	params := &stripe.AuthorizeURLParams{
		ClientID:     stripe.String(p.clientID),
		ResponseType: stripe.String("code"),
		Scope:        stripe.String(string(stripe.OAuthScopeTypeReadWrite)),
		State:        stripe.String(state),
	}
	if p.redirectURI != "" {
		params.RedirectURI = stripe.String(p.redirectURI)
	}
	return p.connect.AuthorizeURL(params)
}

func translate(err error) error {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return fmt.Errorf("payment processor: %w", err)
	}
	msg := stripeErr.Msg
	if stripeErr.OAuthErrorDescription != "" {
		msg = stripeErr.OAuthErrorDescription
	}
	return &Error{
		Code:    string(stripeErr.Code),
		Message: msg,
		Status:  stripeErr.HTTPStatusCode,
		Err:     err,
	}
}
