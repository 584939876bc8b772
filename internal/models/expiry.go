package models

import "time"

const (
	ConfirmEmailLifetime  = 24 * time.Hour
	ChangeEmailLifetime   = time.Hour
	ResetPasswordLifetime = time.Hour
	CSRFLifetime          = 7 * 24 * time.Hour
	AccountLockLifetime   = 24 * time.Hour
)

// Lifetime returns how long a token with action stays usable, or false for
// an unknown action.
func Lifetime(action string) (time.Duration, bool) {
	switch action {
	case ActionConfirmEmail:
		return ConfirmEmailLifetime, true
	case ActionChangeEmail:
		return ChangeEmailLifetime, true
	case ActionResetPassword:
		return ResetPasswordLifetime, true
	}
	return 0, false
}

// Expired reports whether more than lifetime has passed since created.
func Expired(created time.Time, lifetime time.Duration, now time.Time) bool {
	return now.Sub(created) > lifetime
}

// Expired treats tokens with unknown actions as expired.
func (t *Token) Expired(now time.Time) bool {
	lifetime, ok := Lifetime(t.Action)
	if !ok {
		return true
	}
	return Expired(t.Created, lifetime, now)
}

// IsLocked reports whether a lockout set at Locked is still in force.
func (a *Account) IsLocked(now time.Time) bool {
	return a.Locked != nil && !Expired(*a.Locked, AccountLockLifetime, now)
}

func (a *Account) IsConfirmed() bool { return a.Confirmed != nil }
