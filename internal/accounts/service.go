// Package accounts implements seller and buyer accounts: signup, e-mailed
// tokens, login with lockout, sessions, Stripe Connect and projects.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"licensemarket/internal/mail"
	"licensemarket/internal/models"
	"licensemarket/internal/payments"
	"licensemarket/internal/storage"
)

// MaxFailures is the number of consecutive bad passwords that locks an account.
const MaxFailures = 5

var (
	ErrHandleTaken        = errors.New("handle taken")
	ErrEmailTaken         = errors.New("e-mail address has an account")
	ErrInvalidCredentials = errors.New("invalid handle or password")
	ErrWrongPassword      = errors.New("wrong password")
	ErrAccountLocked      = errors.New("account locked")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrNotFound           = errors.New("not found")
)

type Service struct {
	Records   *storage.Records
	Processor payments.Processor
	Notifier  *mail.Notifier
	Logger    *slog.Logger
	// MinimumCommission is snapshotted into every new project.
	MinimumCommission int64
	BcryptCost        int

	Now   func() time.Time
	NewID func() string
}

func NewService(records *storage.Records, processor payments.Processor, notifier *mail.Notifier, logger *slog.Logger, minimumCommission int64) *Service {
	return &Service{
		Records:           records,
		Processor:         processor,
		Notifier:          notifier,
		Logger:            logger,
		MinimumCommission: minimumCommission,
		BcryptCost:        bcrypt.DefaultCost,
		Now:               time.Now,
		NewID:             uuid.NewString,
	}
}

type Signup struct {
	Handle   string `json:"handle" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	Repeat   string `json:"repeat" binding:"required"`
	Name     string `json:"name"`
	Location string `json:"location"`
}

func (s *Signup) normalize() {
	s.Handle = strings.ToLower(strings.TrimSpace(s.Handle))
	s.Email = models.NormalizeEmail(s.Email)
	s.Name = strings.TrimSpace(s.Name)
	s.Location = strings.TrimSpace(s.Location)
}

func (s *Signup) validate() error {
	switch {
	case !models.ValidHandle(s.Handle):
		return &models.FieldError{Field: "handle", Message: "handles are 3 to 16 lower-case letters and digits"}
	case !models.ValidEmail(s.Email):
		return &models.FieldError{Field: "email", Message: "invalid e-mail address"}
	case !models.ValidPassword(s.Password):
		return &models.FieldError{Field: "password", Message: "passwords are 8 to 64 characters"}
	case s.Repeat != s.Password:
		return &models.FieldError{Field: "repeat", Message: "passwords did not match"}
	case s.Location != "" && !models.ValidLocation(s.Location):
		return &models.FieldError{Field: "location", Message: "invalid location"}
	}
	return nil
}

func (s *Service) hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.BcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Signup creates an unconfirmed account and mails a confirmation link.
func (s *Service) Signup(ctx context.Context, req Signup) (*models.Account, error) {
	req.normalize()
	if err := req.validate(); err != nil {
		return nil, err
	}

	index, err := s.Records.Emails.Read(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("read e-mail index: %w", err)
	}
	if index != nil && index.Handle != "" {
		return nil, ErrEmailTaken
	}

	passwordHash, err := s.hash(req.Password)
	if err != nil {
		return nil, err
	}
	nonce, err := models.NewConnectNonce()
	if err != nil {
		return nil, err
	}
	account := &models.Account{
		Handle:       req.Handle,
		Email:        req.Email,
		PasswordHash: passwordHash,
		Name:         req.Name,
		Location:     req.Location,
		URLs:         []string{},
		Created:      s.Now().UTC(),
		Stripe:       models.StripeConnection{ConnectNonce: nonce},
		Projects:     []string{},
		Badges:       map[string]bool{},
	}
	created, err := s.Records.Accounts.Write(ctx, req.Handle, account)
	if err != nil {
		return nil, fmt.Errorf("write account: %w", err)
	}
	if !created {
		return nil, ErrHandleTaken
	}
	s.Logger.Info("recorded account", "handle", req.Handle)

	// Buyers who purchased before signing up already have an index entry.
	err = s.Records.Emails.WithLock(ctx, req.Email, func() error {
		index, err := s.Records.Emails.ReadWithoutLocking(req.Email)
		if err != nil {
			return err
		}
		if index == nil {
			index = &models.EmailIndex{OrderIDs: []string{}}
		}
		if index.Handle != "" && index.Handle != req.Handle {
			return ErrEmailTaken
		}
		index.Handle = req.Handle
		return s.Records.Emails.ReplaceWithoutLocking(req.Email, index)
	})
	if err != nil {
		if derr := s.Records.Accounts.Delete(ctx, req.Handle); derr != nil {
			s.Logger.Error("failed to roll back account", "handle", req.Handle, "error", derr)
		}
		if errors.Is(err, ErrEmailTaken) {
			return nil, err
		}
		return nil, fmt.Errorf("index e-mail: %w", err)
	}

	token, err := s.issueToken(ctx, models.Token{Action: models.ActionConfirmEmail, Handle: req.Handle, Email: req.Email})
	if err != nil {
		return nil, err
	}
	if err := s.Notifier.ConfirmEmail(ctx, req.Email, req.Handle, token); err != nil {
		s.Logger.Error("failed to send confirmation e-mail", "handle", req.Handle, "error", err)
	}
	return account, nil
}

func (s *Service) issueToken(ctx context.Context, token models.Token) (string, error) {
	token.ID = s.NewID()
	token.Created = s.Now().UTC()
	created, err := s.Records.Tokens.Write(ctx, token.ID, &token)
	if err != nil {
		return "", fmt.Errorf("write token: %w", err)
	}
	if !created {
		return "", fmt.Errorf("write token: id %s already in use", token.ID)
	}
	s.Logger.Info("recorded token", "action", token.Action, "handle", token.Handle)
	return token.ID, nil
}

// useToken redeems id. Unknown, malformed, expired and wrong-action tokens
// are all ErrInvalidToken.
func (s *Service) useToken(ctx context.Context, id string, actions ...string) (*models.Token, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrInvalidToken
	}
	token, err := s.Records.UseToken(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("use token: %w", err)
	}
	if token == nil || token.Expired(s.Now()) {
		return nil, ErrInvalidToken
	}
	for _, action := range actions {
		if token.Action == action {
			return token, nil
		}
	}
	return nil, ErrInvalidToken
}

// Confirm redeems an e-mailed confirmation link and returns the token's
// action.
func (s *Service) Confirm(ctx context.Context, tokenID string) (string, error) {
	token, err := s.useToken(ctx, tokenID, models.ActionConfirmEmail, models.ActionChangeEmail)
	if err != nil {
		return "", err
	}

	switch token.Action {
	case models.ActionConfirmEmail:
		now := s.Now().UTC()
		account, err := s.Records.Accounts.Update(ctx, token.Handle, func(a *models.Account) error {
			if a.Confirmed == nil {
				a.Confirmed = &now
			}
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("confirm account: %w", err)
		}
		if account == nil {
			return "", ErrNotFound
		}
		s.Logger.Info("confirmed account", "handle", token.Handle)

	case models.ActionChangeEmail:
		if err := s.changeEmail(ctx, token.Handle, token.Email); err != nil {
			return "", err
		}
	}
	return token.Action, nil
}

func (s *Service) changeEmail(ctx context.Context, handle, email string) error {
	// The address may have been claimed by a signup since the change was
	// requested.
	err := s.Records.Emails.WithLock(ctx, email, func() error {
		index, err := s.Records.Emails.ReadWithoutLocking(email)
		if err != nil {
			return err
		}
		if index == nil {
			index = &models.EmailIndex{OrderIDs: []string{}}
		}
		if index.Handle != "" && index.Handle != handle {
			return ErrEmailTaken
		}
		index.Handle = handle
		return s.Records.Emails.ReplaceWithoutLocking(email, index)
	})
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return err
		}
		return fmt.Errorf("index new e-mail: %w", err)
	}

	var old string
	account, err := s.Records.Accounts.Update(ctx, handle, func(a *models.Account) error {
		old = a.Email
		a.Email = email
		return nil
	})
	if err != nil {
		return fmt.Errorf("change e-mail: %w", err)
	}
	if account == nil {
		return ErrNotFound
	}
	if old == email {
		return nil
	}

	// Purchase history follows the account to its new address.
	var orderIDs []string
	err = s.Records.Emails.WithLock(ctx, old, func() error {
		index, err := s.Records.Emails.ReadWithoutLocking(old)
		if err != nil || index == nil {
			return err
		}
		orderIDs = index.OrderIDs
		return s.Records.Emails.DeleteWithoutLocking(old)
	})
	if err != nil {
		return fmt.Errorf("remove old e-mail index: %w", err)
	}
	_, err = s.Records.Emails.Update(ctx, email, func(index *models.EmailIndex) error {
		index.OrderIDs = mergeOrderIDs(orderIDs, index.OrderIDs)
		return nil
	})
	if err != nil {
		return fmt.Errorf("index new e-mail: %w", err)
	}
	s.Logger.Info("changed e-mail", "handle", handle)
	return nil
}

// mergeOrderIDs returns first followed by the ids of second it lacks.
func mergeOrderIDs(first, second []string) []string {
	merged := append([]string{}, first...)
	for _, id := range second {
		if !slices.Contains(merged, id) {
			merged = append(merged, id)
		}
	}
	return merged
}

// Login checks a password and opens a session. Bad passwords count towards
// a lockout; the count and the check happen under one lock so concurrent
// attempts are all counted.
func (s *Service) Login(ctx context.Context, handle, password string) (*models.Session, error) {
	handle = strings.ToLower(strings.TrimSpace(handle))
	if !models.ValidHandle(handle) {
		return nil, ErrInvalidCredentials
	}

	err := s.Records.Accounts.WithLock(ctx, handle, func() error {
		account, err := s.Records.Accounts.ReadWithoutLocking(handle)
		if err != nil {
			return err
		}
		if account == nil || !account.IsConfirmed() {
			return ErrInvalidCredentials
		}
		now := s.Now().UTC()
		if account.IsLocked(now) {
			return ErrAccountLocked
		}

		if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)) != nil {
			account.Failures++
			if account.Failures >= MaxFailures {
				account.Locked = &now
				account.Failures = 0
				s.Logger.Warn("account locked", "handle", handle)
			}
			if err := s.Records.Accounts.ReplaceWithoutLocking(handle, account); err != nil {
				return fmt.Errorf("record login failure: %w", err)
			}
			return ErrWrongPassword
		}

		if account.Failures == 0 && account.Locked == nil {
			return nil
		}
		account.Failures = 0
		account.Locked = nil
		return s.Records.Accounts.ReplaceWithoutLocking(handle, account)
	})
	if err != nil {
		return nil, err
	}

	session := &models.Session{ID: s.NewID(), Handle: handle, Created: s.Now().UTC()}
	created, err := s.Records.Sessions.Write(ctx, session.ID, session)
	if err != nil {
		return nil, fmt.Errorf("write session: %w", err)
	}
	if !created {
		return nil, errors.New("session collision")
	}
	s.Logger.Info("recorded session", "handle", handle)
	return session, nil
}

func (s *Service) Logout(ctx context.Context, sessionID string) error {
	return s.Records.Sessions.Delete(ctx, sessionID)
}

// Authenticate resolves a session id. It returns a nil account for guest
// sessions and for accounts that are not yet confirmed.
func (s *Service) Authenticate(ctx context.Context, sessionID string) (*models.Session, *models.Account, error) {
	session, err := s.Records.Sessions.Read(ctx, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("read session: %w", err)
	}
	if session == nil {
		return nil, nil, nil
	}
	account, err := s.Records.Accounts.Read(ctx, session.Handle)
	if err != nil {
		return nil, nil, fmt.Errorf("read account: %w", err)
	}
	if account == nil {
		return nil, nil, fmt.Errorf("session %s: could not load account %q", sessionID, session.Handle)
	}
	if !account.IsConfirmed() {
		return session, nil, nil
	}
	return session, account, nil
}

func (s *Service) Account(ctx context.Context, handle string) (*models.Account, error) {
	account, err := s.Records.Accounts.Read(ctx, handle)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrNotFound
	}
	return account, nil
}
