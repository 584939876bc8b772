package accounts

import (
	"context"
	"errors"
	"fmt"

	"licensemarket/internal/models"
)

var (
	ErrAlreadyConnected = errors.New("already connected")
	ErrNotConnected     = errors.New("not connected")
	ErrConnectState     = errors.New("stripe connect state mismatch")
	ErrConnectRequest   = errors.New("invalid Stripe Connect redirect")
)

// ConnectError is an error Stripe reported on the OAuth redirect.
type ConnectError struct {
	Code        string
	Description string
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("stripe connect: %s: %s", e.Code, e.Description)
}

// ConnectCallback is the query string of the OAuth redirect.
type ConnectCallback struct {
	Scope            string `form:"scope"`
	Code             string `form:"code"`
	State            string `form:"state"`
	Error            string `form:"error"`
	ErrorDescription string `form:"error_description"`
}

// ConnectURL is where a seller goes to link a Stripe account. The state
// parameter is the account's connect nonce.
func (s *Service) ConnectURL(ctx context.Context, handle string) (string, error) {
	account, err := s.Account(ctx, handle)
	if err != nil {
		return "", err
	}
	if account.Stripe.Connected {
		return "", ErrAlreadyConnected
	}
	return s.Processor.AuthorizeURL(account.Stripe.ConnectNonce), nil
}

// CompleteConnect finishes the OAuth flow for handle.
func (s *Service) CompleteConnect(ctx context.Context, handle string, cb ConnectCallback) error {
	if cb.Error != "" {
		s.Logger.Info("stripe connect error", "handle", handle, "error", cb.Error, "description", cb.ErrorDescription)
		return &ConnectError{Code: cb.Error, Description: cb.ErrorDescription}
	}
	if cb.Scope != "read_write" || cb.Code == "" || cb.State == "" {
		return ErrConnectRequest
	}

	account, err := s.Account(ctx, handle)
	if err != nil {
		return err
	}
	if account.Stripe.Connected {
		s.Logger.Warn("stripe already connected", "handle", handle)
		return ErrAlreadyConnected
	}
	if cb.State != account.Stripe.ConnectNonce {
		s.Logger.Warn("connect nonce mismatch", "handle", handle)
		return ErrConnectState
	}

	conn, err := s.Processor.ExchangeCode(ctx, cb.Code)
	if err != nil {
		return fmt.Errorf("exchange connect code: %w", err)
	}

	now := s.Now().UTC()
	updated, err := s.Records.Accounts.Update(ctx, handle, func(a *models.Account) error {
		if a.Stripe.ConnectNonce != cb.State {
			return ErrConnectState
		}
		a.Stripe = models.StripeConnection{
			Connected:    true,
			StripeUserID: conn.StripeUserID,
			Scope:        conn.Scope,
			Livemode:     conn.Livemode,
			ConnectedAt:  &now,
			ConnectNonce: a.Stripe.ConnectNonce,
		}
		return nil
	})
	if err != nil {
		return err
	}
	if updated == nil {
		return ErrNotFound
	}

	err = s.Records.StripeIDs.WithLock(ctx, conn.StripeUserID, func() error {
		return s.Records.StripeIDs.ReplaceWithoutLocking(conn.StripeUserID, &models.StripeAccount{Handle: handle, Date: now})
	})
	if err != nil {
		return fmt.Errorf("index stripe account: %w", err)
	}
	s.Logger.Info("stripe connected", "handle", handle, "stripeID", conn.StripeUserID)

	if err := s.Notifier.StripeConnected(ctx, updated.Email); err != nil {
		s.Logger.Error("failed to send stripe connected e-mail", "handle", handle, "error", err)
	}
	return nil
}

// Disconnect asks Stripe to deauthorize the seller. The account itself is
// updated when the deauthorization webhook arrives.
func (s *Service) Disconnect(ctx context.Context, handle string) error {
	account, err := s.Account(ctx, handle)
	if err != nil {
		return err
	}
	if !account.Stripe.Connected || account.Stripe.StripeUserID == "" {
		return ErrNotConnected
	}
	if err := s.Processor.Deauthorize(ctx, account.Stripe.StripeUserID); err != nil {
		return fmt.Errorf("deauthorize %s: %w", account.Stripe.StripeUserID, err)
	}
	s.Logger.Info("requested stripe deauthorization", "handle", handle)
	return nil
}
