package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"licensemarket/internal/mail"
	"licensemarket/internal/models"
	"licensemarket/internal/payments"
	"licensemarket/internal/storage"
)

const currency = "usd"

// Processor error codes shown to the buyer as a problem with their card.
var declineCodes = map[string]bool{
	"card_declined":    true,
	"expired_card":     true,
	"incorrect_cvc":    true,
	"processing_error": true,
	"incorrect_number": true,
}

// FieldError is a problem the buyer can fix, tied to a form field.
type FieldError = models.FieldError

// Purchase is a buyer's checkout request.
type Purchase struct {
	Handle   string
	Project  string
	Name     string
	Email    string
	Location string
	// Token is the card token or payment method id created in the browser.
	Token string
}

func (p *Purchase) normalize() {
	p.Handle = strings.ToLower(strings.TrimSpace(p.Handle))
	p.Project = strings.ToLower(strings.TrimSpace(p.Project))
	p.Name = strings.TrimSpace(p.Name)
	p.Email = models.NormalizeEmail(p.Email)
	p.Location = strings.TrimSpace(p.Location)
	p.Token = strings.TrimSpace(p.Token)
}

func (p *Purchase) validate() error {
	switch {
	case !models.ValidHandle(p.Handle):
		return &FieldError{Field: "handle", Message: "invalid handle"}
	case !models.ValidProjectName(p.Project):
		return &FieldError{Field: "project", Message: "invalid project name"}
	case len(p.Name) <= 3:
		return &FieldError{Field: "name", Message: "name must be longer than three characters"}
	case !models.ValidEmail(p.Email):
		return &FieldError{Field: "email", Message: "invalid e-mail address"}
	case !models.ValidLocation(p.Location):
		return &FieldError{Field: "location", Message: "invalid location"}
	case p.Token == "":
		return &FieldError{Field: "token", Message: "missing payment details"}
	}
	return nil
}

type Service struct {
	Records   *storage.Records
	Processor payments.Processor
	Notifier  *mail.Notifier
	Logger    *slog.Logger

	Now   func() time.Time
	NewID func() string
}

func NewService(records *storage.Records, processor payments.Processor, notifier *mail.Notifier, logger *slog.Logger) *Service {
	return &Service{
		Records:   records,
		Processor: processor,
		Notifier:  notifier,
		Logger:    logger,
		Now:       time.Now,
		NewID:     uuid.NewString,
	}
}

// Create records an order and charges the buyer. The returned order carries
// the payment intent id. A *FieldError means nothing was charged.
func (s *Service) Create(ctx context.Context, p Purchase) (*models.Order, error) {
	p.normalize()
	if err := p.validate(); err != nil {
		return nil, err
	}

	// 1. The seller must exist and be able to receive payments
	seller, err := s.Records.Accounts.Read(ctx, p.Handle)
	if err != nil {
		return nil, fmt.Errorf("read seller: %w", err)
	}
	if seller == nil {
		return nil, &FieldError{Field: "handle", Message: "no such account"}
	}
	if !seller.Stripe.Connected || seller.Stripe.StripeUserID == "" {
		return nil, &FieldError{Field: "handle", Message: "account not set up to sell"}
	}

	// 2. The project must exist
	project, err := s.Records.Projects.Read(ctx, models.ProjectKey(p.Handle, p.Project))
	if err != nil {
		return nil, fmt.Errorf("read project: %w", err)
	}
	if project == nil {
		return nil, &FieldError{Field: "project", Message: "no such project"}
	}

	// 3. Write the order with the terms frozen as they are now
	order := &models.Order{
		OrderID:  s.NewID(),
		Date:     s.Now().UTC(),
		Handle:   p.Handle,
		Project:  p.Project,
		Name:     p.Name,
		Email:    p.Email,
		Location: p.Location,
		Terms: models.SaleTerms{
			Price:      project.Price,
			Commission: project.Commission,
			Category:   project.Category,
			URLs:       append([]string(nil), project.URLs...),
		},
	}
	created, err := s.Records.Orders.Write(ctx, order.OrderID, order)
	if err != nil {
		return nil, fmt.Errorf("write order: %w", err)
	}
	if !created {
		return nil, fmt.Errorf("write order: id %s already in use", order.OrderID)
	}
	s.Logger.Info("order created", "orderID", order.OrderID, "handle", p.Handle, "project", p.Project)

	// 4. Charge the buyer, paying the seller less our commission
	amount := payments.MinorUnits(order.Terms.Price)
	intentID, err := s.Processor.CreatePaymentIntent(ctx, payments.PaymentIntentRequest{
		AmountMinor:   amount,
		Currency:      currency,
		ReceiptEmail:  p.Email,
		PaymentMethod: p.Token,
		Payee:         seller.Stripe.StripeUserID,
		FeeMinor:      payments.Fee(amount, order.Terms.Commission),
		OrderID:       order.OrderID,
	})
	if err != nil {
		// 5. Declines are the buyer's to fix; anything else is ours
		var perr *payments.Error
		if errors.As(err, &perr) && declineCodes[perr.Code] {
			s.Logger.Info("payment declined", "orderID", order.OrderID, "code", perr.Code)
			return nil, &FieldError{Field: "token", Message: perr.Message}
		}
		return nil, fmt.Errorf("create payment intent for order %s: %w", order.OrderID, err)
	}

	// 6. Remember the intent on the order
	updated, err := s.Records.Orders.Update(ctx, order.OrderID, func(o *models.Order) error {
		o.PaymentIntentID = intentID
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("record payment intent %s: %w", intentID, err)
	}
	if updated == nil {
		return nil, fmt.Errorf("record payment intent %s: order %s disappeared", intentID, order.OrderID)
	}
	s.Logger.Info("payment intent created", "orderID", order.OrderID, "paymentIntentID", intentID)

	if err := s.Notifier.BuyInitiated(ctx, mail.BuyNotice{
		Handle:          p.Handle,
		Project:         p.Project,
		Name:            p.Name,
		Location:        p.Location,
		Email:           p.Email,
		OrderID:         order.OrderID,
		PaymentIntentID: intentID,
	}); err != nil {
		s.Logger.Error("failed to notify admin of buy", "orderID", order.OrderID, "error", err)
	}

	return updated, nil
}

// Purchases lists the orders bought with email, oldest first.
func (s *Service) Purchases(ctx context.Context, email string) ([]*models.Order, error) {
	index, err := s.Records.Emails.Read(ctx, models.NormalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("read e-mail index: %w", err)
	}
	if index == nil || len(index.OrderIDs) == 0 {
		return []*models.Order{}, nil
	}

	found := make([]*models.Order, len(index.OrderIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, id := range index.OrderIDs {
		g.Go(func() error {
			order, err := s.Records.Orders.Read(gctx, id)
			if err != nil {
				return fmt.Errorf("read order %s: %w", id, err)
			}
			found[i] = order
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	orders := make([]*models.Order, 0, len(found))
	for _, order := range found {
		if order != nil {
			orders = append(orders, order)
		}
	}
	return orders, nil
}
