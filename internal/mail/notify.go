package mail

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
)

// Notifier composes the messages the marketplace sends.
type Notifier struct {
	Mailer   Mailer
	BaseHref string
	Site     string
	admin    atomic.Pointer[string]
}

func NewNotifier(mailer Mailer, baseHref, site, admin string) *Notifier {
	n := &Notifier{Mailer: mailer, BaseHref: strings.TrimSuffix(baseHref, "/"), Site: site}
	n.SetAdmin(admin)
	return n
}

// SetAdmin changes the operator address copied on sales. Safe to call
// while messages are being sent.
func (n *Notifier) SetAdmin(addr string) { n.admin.Store(&addr) }

func (n *Notifier) Admin() string { return *n.admin.Load() }

func (n *Notifier) link(path, token string) string {
	return n.BaseHref + path + "?token=" + url.QueryEscape(token)
}

func (n *Notifier) ConfirmEmail(ctx context.Context, to, handle, token string) error {
	return n.Mailer.Send(ctx, Message{
		To:      []string{to},
		Subject: fmt.Sprintf("Confirm %s Account", n.Site),
		Text: fmt.Sprintf("Hello %s,\n\nFollow this link to confirm your %s account:\n\n%s\n",
			handle, n.Site, n.link("/api/auth/confirm", token)),
	})
}

func (n *Notifier) PasswordReset(ctx context.Context, to, handle, token string) error {
	return n.Mailer.Send(ctx, Message{
		To:      []string{to},
		Subject: fmt.Sprintf("Reset %s Password", n.Site),
		Text: fmt.Sprintf("Hello %s,\n\nFollow this link to choose a new password:\n\n%s\n\nThe link works once, for one hour.\n",
			handle, n.link("/reset", token)),
	})
}

func (n *Notifier) PasswordChanged(ctx context.Context, to string) error {
	return n.Mailer.Send(ctx, Message{
		To:      []string{to},
		Subject: fmt.Sprintf("%s Password Change", n.Site),
		Text:    fmt.Sprintf("The password for your %s account was changed.\n", n.Site),
	})
}

func (n *Notifier) HandleReminder(ctx context.Context, to, handle string) error {
	return n.Mailer.Send(ctx, Message{
		To:      []string{to},
		Subject: fmt.Sprintf("Your %s Handle", n.Site),
		Text:    fmt.Sprintf("Your handle on %s is %s.\n", n.Site, handle),
	})
}

func (n *Notifier) ChangeEmail(ctx context.Context, to, token string) error {
	return n.Mailer.Send(ctx, Message{
		To:      []string{to},
		Subject: fmt.Sprintf("Confirm %s E-Mail Change", n.Site),
		Text: fmt.Sprintf("Follow this link to use this address for your %s account:\n\n%s\n",
			n.Site, n.link("/api/auth/confirm", token)),
	})
}

func (n *Notifier) StripeConnected(ctx context.Context, to string) error {
	return n.Mailer.Send(ctx, Message{
		To:      []string{to},
		Subject: fmt.Sprintf("Stripe Account Connected to %s", n.Site),
		Text:    fmt.Sprintf("Your Stripe account is now connected to %s. You can sell licenses.\n", n.Site),
	})
}

type LicenseNotice struct {
	To        string
	Cc        string
	Handle    string
	Project   string
	OrderID   string
	Price     int64
	Signature string
	Document  string
}

// License delivers the signed license to the buyer, copying the seller
// and the operator.
func (n *Notifier) License(ctx context.Context, notice LicenseNotice) error {
	msg := Message{
		To:      []string{notice.To},
		Subject: "Your License",
		Text: fmt.Sprintf(`Thank you for buying a license for %s/%s.

Order: %s
Price: $%d

Your license is attached. %s signed it with this signature:

%s

You can check the signature with the public key at %s/public-key.
`, notice.Handle, notice.Project, notice.OrderID, notice.Price, n.Site, notice.Signature, n.BaseHref),
	}
	if notice.Cc != "" {
		msg.Cc = []string{notice.Cc}
	}
	if admin := n.Admin(); admin != "" {
		msg.Bcc = []string{admin}
	}
	if notice.Document != "" {
		msg.Attachments = []Attachment{{Name: notice.OrderID + ".pdf", Path: notice.Document}}
	}
	return n.Mailer.Send(ctx, msg)
}

type BuyNotice struct {
	Handle          string
	Project         string
	Name            string
	Location        string
	Email           string
	OrderID         string
	PaymentIntentID string
}

// BuyInitiated tells the operator about a new charge. It does nothing when
// no operator address is configured.
func (n *Notifier) BuyInitiated(ctx context.Context, notice BuyNotice) error {
	admin := n.Admin()
	if admin == "" {
		return nil
	}
	return n.Mailer.Send(ctx, Message{
		To:      []string{admin},
		Subject: "Buy Initiated",
		Text: fmt.Sprintf(`Handle: %s
Project: %s

Name: %s
Location: %s
E-Mail: %s

Order: %s
Payment Intent: %s
`, notice.Handle, notice.Project, notice.Name, notice.Location, notice.Email, notice.OrderID, notice.PaymentIntentID),
	})
}
