package models

import "time"

// Records are stored as JSON files, so every field carries a json tag
// matching the on-disk key.

// Account is a seller or buyer who signed up with a handle.
type Account struct {
	Handle       string           `json:"handle"`
	Email        string           `json:"email"`
	PasswordHash string           `json:"passwordHash"`
	Name         string           `json:"name"`
	Location     string           `json:"location"`
	URLs         []string         `json:"urls"`
	Created      time.Time        `json:"created"`
	Confirmed    *time.Time       `json:"confirmed,omitempty"`
	Failures     int              `json:"failures"`
	Locked       *time.Time       `json:"locked,omitempty"`
	Stripe       StripeConnection `json:"stripe"`
	Projects     []string         `json:"projects"`
	Badges       map[string]bool  `json:"badges"`
}

// StripeConnection is the seller's payment-processor link. ConnectNonce is
// the OAuth state expected back from the processor.
type StripeConnection struct {
	Connected    bool       `json:"connected"`
	StripeUserID string     `json:"stripeUserID,omitempty"`
	Scope        string     `json:"scope,omitempty"`
	Livemode     bool       `json:"livemode,omitempty"`
	ConnectedAt  *time.Time `json:"connectedAt,omitempty"`
	ConnectNonce string     `json:"connectNonce"`
}

// Project is keyed "handle/project".
type Project struct {
	Project    string          `json:"project"`
	Handle     string          `json:"handle"`
	URLs       []string        `json:"urls"`
	Price      int64           `json:"price"`
	Commission int64           `json:"commission"`
	Category   string          `json:"category"`
	Created    time.Time       `json:"created"`
	Badges     map[string]bool `json:"badges"`
	Customers  []Customer      `json:"customers"`
}

func (p *Project) Key() string { return ProjectKey(p.Handle, p.Project) }

func ProjectKey(handle, project string) string { return handle + "/" + project }

// Customer is one entry of a project's purchase transcript.
type Customer struct {
	OrderID  string    `json:"orderID"`
	Date     time.Time `json:"date"`
	Name     string    `json:"name"`
	Email    string    `json:"email"`
	Location string    `json:"location"`
}

// SaleTerms freezes what the buyer agreed to pay for.
type SaleTerms struct {
	Price      int64    `json:"price"`
	Commission int64    `json:"commission"`
	Category   string   `json:"category"`
	URLs       []string `json:"urls"`
}

type Order struct {
	OrderID         string     `json:"orderID"`
	Date            time.Time  `json:"date"`
	Handle          string     `json:"handle"`
	Project         string     `json:"project"`
	Name            string     `json:"name"`
	Email           string     `json:"email"`
	Location        string     `json:"location"`
	Terms           SaleTerms  `json:"projectData"`
	PaymentIntentID string     `json:"paymentIntentID,omitempty"`
	Signature       string     `json:"signature,omitempty"`
	Fulfilled       *time.Time `json:"fulfilled,omitempty"`
}

func (o *Order) IsFulfilled() bool { return o.Fulfilled != nil }

// Token actions.
const (
	ActionConfirmEmail  = "confirm e-mail"
	ActionChangeEmail   = "change e-mail"
	ActionResetPassword = "reset password"
)

// Token is a single-use capability mailed to a user.
type Token struct {
	ID      string    `json:"id"`
	Action  string    `json:"action"`
	Created time.Time `json:"created"`
	Handle  string    `json:"handle"`
	Email   string    `json:"email,omitempty"`
}

type Session struct {
	ID      string    `json:"id"`
	Handle  string    `json:"handle"`
	Created time.Time `json:"created"`
}

// EmailIndex is keyed by lower-cased address. Handle is empty for buyers
// who never signed up.
type EmailIndex struct {
	Handle   string   `json:"handle"`
	OrderIDs []string `json:"orderIDs"`
}

// StripeAccount maps a processor account id back to its seller.
type StripeAccount struct {
	Handle string    `json:"handle"`
	Date   time.Time `json:"date"`
}

// Signature is one ledger entry.
type Signature struct {
	Date      time.Time `json:"date"`
	Signature string    `json:"signature"`
	OrderID   string    `json:"orderID"`
}
