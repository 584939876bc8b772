package models

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidators(t *testing.T) {
	assert.True(t, ValidHandle("ana"))
	assert.True(t, ValidHandle("ana2024"))
	assert.False(t, ValidHandle("an"))
	assert.False(t, ValidHandle("Ana"))
	assert.False(t, ValidHandle("ana/widget"))
	assert.False(t, ValidHandle(strings.Repeat("a", 17)))

	assert.True(t, ValidProjectName("widget"))
	assert.False(t, ValidProjectName("../etc"))

	assert.True(t, ValidPrice(MinimumPrice))
	assert.True(t, ValidPrice(MaximumPrice))
	assert.False(t, ValidPrice(2))
	assert.False(t, ValidPrice(10000))

	assert.True(t, ValidCategory("development tool"))
	assert.False(t, ValidCategory("game"))

	assert.True(t, ValidLocation("US"))
	assert.True(t, ValidLocation("US-CA"))
	assert.False(t, ValidLocation("usa"))

	assert.True(t, ValidEmail("ana@example.com"))
	assert.False(t, ValidEmail("Ana <ana@example.com>"))
	assert.False(t, ValidEmail("ana@localhost"))
	assert.False(t, ValidEmail("not an address"))
	assert.False(t, ValidEmail("bea/./x@example.com"))
	assert.False(t, ValidEmail("bea/x@example.com"))
	assert.False(t, ValidEmail("bea\\x@example.com"))
	assert.Equal(t, "ana@example.com", NormalizeEmail("  Ana@Example.COM "))

	assert.True(t, ValidPassword("correct horse"))
	assert.False(t, ValidPassword("short"))
	assert.False(t, ValidPassword(strings.Repeat("x", MaximumPasswordLength+1)))

	assert.True(t, ValidURL("https://example.com/widget"))
	assert.False(t, ValidURL("ftp://example.com"))
	assert.False(t, ValidURL("example.com"))
	assert.False(t, ValidURL("https://example.com/"+strings.Repeat("a", 128)))
}

func TestTokenExpiry(t *testing.T) {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		action  string
		age     time.Duration
		expired bool
	}{
		{ActionConfirmEmail, 23 * time.Hour, false},
		{ActionConfirmEmail, 25 * time.Hour, true},
		{ActionChangeEmail, 59 * time.Minute, false},
		{ActionChangeEmail, 61 * time.Minute, true},
		{ActionResetPassword, time.Hour, false},
		{ActionResetPassword, time.Hour + time.Second, true},
		{"unknown", 0, true},
	}
	for _, tt := range tests {
		token := &Token{Action: tt.action, Created: created}
		assert.Equal(t, tt.expired, token.Expired(created.Add(tt.age)), "%s after %s", tt.action, tt.age)
	}
}

func TestAccountLock(t *testing.T) {
	locked := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	account := &Account{}
	assert.False(t, account.IsLocked(locked))

	account.Locked = &locked
	assert.True(t, account.IsLocked(locked.Add(23*time.Hour)))
	assert.False(t, account.IsLocked(locked.Add(AccountLockLifetime+time.Minute)))
}

func TestNewConnectNonce(t *testing.T) {
	a, err := NewConnectNonce()
	require.NoError(t, err)
	b, err := NewConnectNonce()
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
}
