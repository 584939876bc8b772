package accounts

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"licensemarket/internal/models"
)

// ChangePassword replaces the password of a signed-in account after
// checking the old one. Failures here do not count towards a lockout.
func (s *Service) ChangePassword(ctx context.Context, handle, old, password, repeat string) error {
	if err := validateNewPassword(password, repeat); err != nil {
		return err
	}
	if old == "" {
		return &models.FieldError{Field: "old", Message: "missing old password"}
	}
	passwordHash, err := s.hash(password)
	if err != nil {
		return err
	}

	var email string
	err = s.Records.Accounts.WithLock(ctx, handle, func() error {
		account, err := s.Records.Accounts.ReadWithoutLocking(handle)
		if err != nil {
			return err
		}
		if account == nil {
			return ErrNotFound
		}
		if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(old)) != nil {
			return &models.FieldError{Field: "old", Message: "invalid password"}
		}
		account.PasswordHash = passwordHash
		email = account.Email
		return s.Records.Accounts.ReplaceWithoutLocking(handle, account)
	})
	if err != nil {
		return err
	}
	s.passwordChanged(ctx, handle, email)
	return nil
}

// RequestPasswordReset mails a reset link to the account's address.
func (s *Service) RequestPasswordReset(ctx context.Context, handle string) error {
	handle = strings.ToLower(strings.TrimSpace(handle))
	account, err := s.Records.Accounts.Read(ctx, handle)
	if err != nil {
		return fmt.Errorf("read account: %w", err)
	}
	if account == nil {
		return &models.FieldError{Field: "handle", Message: "invalid handle"}
	}
	token, err := s.issueToken(ctx, models.Token{Action: models.ActionResetPassword, Handle: handle})
	if err != nil {
		return err
	}
	return s.Notifier.PasswordReset(ctx, account.Email, handle, token)
}

// ResetPassword sets a new password using a mailed reset token.
func (s *Service) ResetPassword(ctx context.Context, tokenID, password, repeat string) error {
	if err := validateNewPassword(password, repeat); err != nil {
		return err
	}
	token, err := s.useToken(ctx, tokenID, models.ActionResetPassword)
	if err != nil {
		return err
	}
	passwordHash, err := s.hash(password)
	if err != nil {
		return err
	}
	account, err := s.Records.Accounts.Update(ctx, token.Handle, func(a *models.Account) error {
		a.PasswordHash = passwordHash
		return nil
	})
	if err != nil {
		return fmt.Errorf("reset password: %w", err)
	}
	if account == nil {
		return ErrNotFound
	}
	s.passwordChanged(ctx, token.Handle, account.Email)
	return nil
}

func (s *Service) passwordChanged(ctx context.Context, handle, email string) {
	s.Logger.Info("changed password", "handle", handle)
	if err := s.Notifier.PasswordChanged(ctx, email); err != nil {
		s.Logger.Error("failed to send password change e-mail", "handle", handle, "error", err)
	}
}

func validateNewPassword(password, repeat string) error {
	if !models.ValidPassword(password) {
		return &models.FieldError{Field: "password", Message: "passwords are 8 to 64 characters"}
	}
	if password != repeat {
		return &models.FieldError{Field: "repeat", Message: "passwords did not match"}
	}
	return nil
}

// RemindHandle mails the handle registered to email. Unknown addresses are
// not reported, so the caller cannot probe for accounts.
func (s *Service) RemindHandle(ctx context.Context, email string) error {
	email = models.NormalizeEmail(email)
	if !models.ValidEmail(email) {
		return &models.FieldError{Field: "email", Message: "invalid e-mail address"}
	}
	index, err := s.Records.Emails.Read(ctx, email)
	if err != nil {
		return fmt.Errorf("read e-mail index: %w", err)
	}
	if index == nil || index.Handle == "" {
		return nil
	}
	return s.Notifier.HandleReminder(ctx, email, index.Handle)
}

// RequestEmailChange mails a confirmation link to the new address. The
// account changes only when that link is followed.
func (s *Service) RequestEmailChange(ctx context.Context, handle, email string) error {
	email = models.NormalizeEmail(email)
	if !models.ValidEmail(email) {
		return &models.FieldError{Field: "email", Message: "invalid e-mail address"}
	}
	index, err := s.Records.Emails.Read(ctx, email)
	if err != nil {
		return fmt.Errorf("read e-mail index: %w", err)
	}
	if index != nil && index.Handle != "" {
		return &models.FieldError{Field: "email", Message: "e-mail already has an account"}
	}
	token, err := s.issueToken(ctx, models.Token{Action: models.ActionChangeEmail, Handle: handle, Email: email})
	if err != nil {
		return err
	}
	return s.Notifier.ChangeEmail(ctx, email, token)
}
