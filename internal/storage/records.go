package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"licensemarket/internal/models"
)

// Records groups every namespace of the data directory.
type Records struct {
	Store     *Store
	Accounts  *Collection[models.Account]
	Projects  *Collection[models.Project]
	Orders    *Collection[models.Order]
	Tokens    *Collection[models.Token]
	Sessions  *Collection[models.Session]
	Emails    *Collection[models.EmailIndex]
	StripeIDs *Collection[models.StripeAccount]
	Ledger    *Ledger
}

func Open(root string, locks *Locks) (*Records, error) {
	store, err := New(root, locks)
	if err != nil {
		return nil, err
	}
	return &Records{
		Store:     store,
		Accounts:  NewCollection[models.Account](store, "accounts"),
		Projects:  NewCollection[models.Project](store, "projects"),
		Orders:    NewCollection[models.Order](store, "orders"),
		Tokens:    NewCollection[models.Token](store, "tokens"),
		Sessions:  NewCollection[models.Session](store, "sessions"),
		Emails:    NewCollection[models.EmailIndex](store, "emails"),
		StripeIDs: NewCollection[models.StripeAccount](store, "stripeids"),
		Ledger:    NewLedger(store),
	}, nil
}

// LicenseDir holds generated license documents, one pair of files per order.
func (r *Records) LicenseDir() string {
	return filepath.Join(r.Store.Root, "licenses")
}

// LicensePath returns the license file for orderID with extension ext (".md", ".pdf").
func (r *Records) LicensePath(orderID, ext string) string {
	return filepath.Join(r.LicenseDir(), orderID+ext)
}

func (r *Records) EnsureLicenseDir() error {
	if err := os.MkdirAll(r.LicenseDir(), 0o755); err != nil {
		return fmt.Errorf("create license directory: %w", err)
	}
	return nil
}

// UseToken reads and deletes a token in one locked step, so a token can be
// redeemed once. It returns nil, nil for an unknown token.
func (r *Records) UseToken(ctx context.Context, id string) (*models.Token, error) {
	var token *models.Token
	err := r.Tokens.WithLock(ctx, id, func() error {
		var err error
		token, err = r.Tokens.ReadWithoutLocking(id)
		if err != nil || token == nil {
			return err
		}
		return r.Tokens.DeleteWithoutLocking(id)
	})
	if err != nil {
		return nil, err
	}
	return token, nil
}
