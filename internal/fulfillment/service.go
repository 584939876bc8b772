// Package fulfillment turns verified payment webhooks into issued licenses
// and keeps seller connection state in step with the processor.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"time"

	"licensemarket/internal/license"
	"licensemarket/internal/mail"
	"licensemarket/internal/models"
	"licensemarket/internal/payments"
	"licensemarket/internal/storage"
	ws "licensemarket/internal/websocket"
)

var (
	ErrMissingOrderID    = errors.New("fulfillment: payment intent has no orderID metadata")
	ErrOrderNotFound     = errors.New("fulfillment: order not found")
	ErrUnknownStripeUser = errors.New("fulfillment: unknown stripe account")
)

// Outcome says what a webhook delivery did.
type Outcome string

const (
	Fulfilled    Outcome = "fulfilled"
	Duplicate    Outcome = "duplicate"
	Disconnected Outcome = "disconnected"
	Logged       Outcome = "logged"
	Ignored      Outcome = "ignored"
)

type SalePublisher interface {
	Publish(alert ws.SaleAlert)
}

type Service struct {
	Records    *storage.Records
	Processor  payments.Processor
	Renderer   *license.Renderer
	Converter  license.Converter
	Signer     *license.Signer
	Notifier   *mail.Notifier
	Alerts     SalePublisher
	Agent      license.Agent
	Logger     *slog.Logger
	Production bool

	Now func() time.Time
}

// Handle verifies and applies one webhook delivery. Errors wrapping
// payments.ErrInvalidSignature mean the payload was not trusted and nothing
// changed. Any other error leaves the order unfulfilled so a redelivery can
// retry.
func (s *Service) Handle(ctx context.Context, payload []byte, signature string) (Outcome, error) {
	event, err := s.Processor.ConstructEvent(payload, signature)
	if err != nil {
		return "", err
	}
	log := s.Logger.With("eventID", event.ID, "type", event.Type)

	if s.Production && !event.Livemode {
		log.Info("ignoring test-mode event")
		return Ignored, nil
	}

	switch event.Type {
	case payments.EventPaymentSucceeded:
		return s.paymentSucceeded(ctx, log, event)

	case payments.EventPaymentFailed:
		log.Info("payment failed", "orderID", event.OrderID, "paymentIntentID", event.PaymentIntentID)
		return Logged, nil

	case payments.EventAccountDeauthorize:
		if err := s.deauthorized(ctx, log, event.Account); err != nil {
			return "", err
		}
		return Disconnected, nil
	}

	log.Info("ignoring webhook event")
	return Ignored, nil
}

func (s *Service) paymentSucceeded(ctx context.Context, log *slog.Logger, event *payments.Event) (Outcome, error) {
	orderID := event.OrderID
	if orderID == "" {
		return "", ErrMissingOrderID
	}
	log = log.With("orderID", orderID)

	outcome := Duplicate
	var order *models.Order
	err := s.Records.Orders.WithLock(ctx, orderID, func() error {
		var err error
		order, err = s.Records.Orders.ReadWithoutLocking(orderID)
		if err != nil {
			return err
		}
		if order == nil {
			return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		if order.IsFulfilled() {
			return nil
		}

		signature, err := s.fulfill(ctx, log, order)
		if err != nil {
			return err
		}

		// Last step: a redelivery now sees the order as done.
		now := s.Now().UTC()
		order.Fulfilled = &now
		order.Signature = signature
		if order.PaymentIntentID == "" {
			order.PaymentIntentID = event.PaymentIntentID
		}
		if err := s.Records.Orders.ReplaceWithoutLocking(orderID, order); err != nil {
			return fmt.Errorf("mark order fulfilled: %w", err)
		}
		outcome = Fulfilled
		return nil
	})
	if err != nil {
		log.Error("fulfillment failed", "error", err)
		return "", err
	}

	if outcome == Duplicate {
		log.Info("order already fulfilled")
		return Duplicate, nil
	}
	log.Info("order fulfilled")
	if s.Alerts != nil {
		s.Alerts.Publish(ws.SaleAlert{
			Handle:   order.Handle,
			Project:  order.Project,
			OrderID:  order.OrderID,
			Price:    order.Terms.Price,
			Buyer:    order.Name,
			Location: order.Location,
		})
	}
	return Fulfilled, nil
}

// fulfill issues the license for order and returns its signature. The
// caller holds the order's lock.
func (s *Service) fulfill(ctx context.Context, log *slog.Logger, order *models.Order) (string, error) {
	date := s.Now().UTC()

	// The buyer's index key must be storable before anything is issued.
	key := models.NormalizeEmail(order.Email)
	if _, err := s.Records.Emails.Path(key); err != nil {
		return "", fmt.Errorf("index order by e-mail: %w", err)
	}

	// 1. Seller identity for the license
	seller, err := s.Records.Accounts.Read(ctx, order.Handle)
	if err != nil {
		return "", fmt.Errorf("read seller: %w", err)
	}
	if seller == nil {
		return "", fmt.Errorf("read seller: no account %q", order.Handle)
	}

	// 2. License directory
	if err := s.Records.EnsureLicenseDir(); err != nil {
		return "", err
	}

	// 3. Render
	var softwareURL string
	if len(order.Terms.URLs) > 0 {
		softwareURL = order.Terms.URLs[0]
	}
	document, err := s.Renderer.Render(license.Blanks{
		DeveloperName:     seller.Name,
		DeveloperLocation: seller.Location,
		DeveloperEmail:    seller.Email,
		AgentName:         s.Agent.Name,
		AgentLocation:     s.Agent.Location,
		AgentWebsite:      s.Agent.Website,
		UserName:          order.Name,
		UserLocation:      order.Location,
		UserEmail:         order.Email,
		SoftwareURL:       softwareURL,
		SoftwareCategory:  order.Terms.Category,
		Price:             strconv.FormatInt(order.Terms.Price, 10),
		Date:              date.Format(time.RFC3339),
		Term:              "forever",
	})
	if err != nil {
		return "", err
	}
	source := s.Records.LicensePath(order.OrderID, ".md")
	if err := os.WriteFile(source, document, 0o644); err != nil {
		return "", fmt.Errorf("write license: %w", err)
	}
	log.Info("wrote license", "path", source)

	// 4. Convert
	pdfPath, err := s.Converter.Convert(ctx, source)
	if err != nil {
		return "", err
	}
	log.Info("converted license", "path", pdfPath)

	// 5. Sign and record
	pdf, err := os.ReadFile(pdfPath)
	if err != nil {
		return "", fmt.Errorf("read converted license: %w", err)
	}
	signature := s.Signer.Sign(pdf)
	if err := s.Records.Ledger.Record(ctx, models.Signature{
		Date:      date,
		Signature: signature,
		OrderID:   order.OrderID,
	}); err != nil {
		return "", fmt.Errorf("record signature: %w", err)
	}
	log.Info("recorded signature", "signature", signature)

	// 6. Deliver; the license already exists, so a mail failure is not fatal
	if err := s.Notifier.License(ctx, mail.LicenseNotice{
		To:        order.Email,
		Cc:        seller.Email,
		Handle:    order.Handle,
		Project:   order.Project,
		OrderID:   order.OrderID,
		Price:     order.Terms.Price,
		Signature: signature,
		Document:  pdfPath,
	}); err != nil {
		log.Error("failed to send license e-mail", "error", err)
	}

	// 7. Transcript and buyer history
	customer := models.Customer{
		OrderID:  order.OrderID,
		Date:     date,
		Name:     order.Name,
		Email:    order.Email,
		Location: order.Location,
	}
	// A retry after a later step failed finds the purchase already listed.
	project, err := s.Records.Projects.Update(ctx, models.ProjectKey(order.Handle, order.Project), func(p *models.Project) error {
		if !slices.ContainsFunc(p.Customers, func(c models.Customer) bool { return c.OrderID == order.OrderID }) {
			p.Customers = append(p.Customers, customer)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("append transcript: %w", err)
	}
	if project == nil {
		return "", fmt.Errorf("append transcript: no project %s/%s", order.Handle, order.Project)
	}

	err = s.Records.Emails.WithLock(ctx, key, func() error {
		index, err := s.Records.Emails.ReadWithoutLocking(key)
		if err != nil {
			return err
		}
		if index == nil {
			index = &models.EmailIndex{}
		}
		if slices.Contains(index.OrderIDs, order.OrderID) {
			return nil
		}
		index.OrderIDs = append(index.OrderIDs, order.OrderID)
		return s.Records.Emails.ReplaceWithoutLocking(key, index)
	})
	if err != nil {
		return "", fmt.Errorf("index order by e-mail: %w", err)
	}

	return signature, nil
}

func (s *Service) deauthorized(ctx context.Context, log *slog.Logger, stripeUserID string) error {
	log = log.With("stripeID", stripeUserID)

	record, err := s.Records.StripeIDs.Read(ctx, stripeUserID)
	if err != nil {
		return fmt.Errorf("read stripe index: %w", err)
	}
	if record == nil {
		return fmt.Errorf("%w: %s", ErrUnknownStripeUser, stripeUserID)
	}

	nonce, err := models.NewConnectNonce()
	if err != nil {
		return err
	}
	account, err := s.Records.Accounts.Update(ctx, record.Handle, func(a *models.Account) error {
		a.Stripe = models.StripeConnection{Connected: false, ConnectNonce: nonce}
		return nil
	})
	if err != nil {
		return fmt.Errorf("disconnect account: %w", err)
	}
	if account == nil {
		log.Warn("stripe index points at missing account", "handle", record.Handle)
	}

	if err := s.Records.StripeIDs.Delete(ctx, stripeUserID); err != nil {
		return fmt.Errorf("delete stripe index: %w", err)
	}
	log.Info("stripe disconnected", "handle", record.Handle)
	return nil
}
