// Package csrf issues and checks form tokens bound to an action and a
// session. A token is the action, session id and issue date sealed with
// secretbox under the server's key.
package csrf

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/nacl/secretbox"

	"licensemarket/internal/models"
)

const (
	keySize   = 32
	nonceSize = 24
)

var (
	ErrDecryption      = errors.New("csrf: decryption failure")
	ErrActionMismatch  = errors.New("csrf: action mismatch")
	ErrSessionMismatch = errors.New("csrf: session mismatch")
	ErrExpired         = errors.New("csrf: expired")
)

type Sealer struct {
	key [keySize]byte
}

// NewSealer takes a hex-encoded 32-byte key.
func NewSealer(keyHex string) (*Sealer, error) {
	raw, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("csrf key: %w", err)
	}
	if len(raw) != keySize {
		return nil, fmt.Errorf("csrf key: want %d bytes, got %d", keySize, len(raw))
	}
	s := &Sealer{}
	copy(s.key[:], raw)
	return s, nil
}

// RandomKey returns a new hex-encoded key.
func RandomKey() (string, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return hex.EncodeToString(key), nil
}

// Generate returns a hex token and nonce for action within sessionID.
func (s *Sealer) Generate(action, sessionID string, now time.Time) (token, nonce string, err error) {
	var n [nonceSize]byte
	if _, err := rand.Read(n[:]); err != nil {
		return "", "", fmt.Errorf("csrf nonce: %w", err)
	}
	plaintext := action + "\n" + sessionID + "\n" + now.UTC().Format(time.RFC3339Nano)
	sealed := secretbox.Seal(nil, []byte(plaintext), &n, &s.key)
	return hex.EncodeToString(sealed), hex.EncodeToString(n[:]), nil
}

// Verify checks that token was generated by this key for action and
// sessionID less than a week before now.
func (s *Sealer) Verify(action, sessionID, token, nonce string, now time.Time) error {
	sealed, err := hex.DecodeString(token)
	if err != nil {
		return ErrDecryption
	}
	rawNonce, err := hex.DecodeString(nonce)
	if err != nil || len(rawNonce) != nonceSize {
		return ErrDecryption
	}
	var n [nonceSize]byte
	copy(n[:], rawNonce)

	plaintext, ok := secretbox.Open(nil, sealed, &n, &s.key)
	if !ok {
		return ErrDecryption
	}
	parts := strings.SplitN(string(plaintext), "\n", 3)
	if len(parts) != 3 {
		return ErrDecryption
	}
	if parts[0] != action {
		return ErrActionMismatch
	}
	if parts[1] != sessionID {
		return ErrSessionMismatch
	}
	issued, err := time.Parse(time.RFC3339Nano, parts[2])
	if err != nil || models.Expired(issued, models.CSRFLifetime, now) {
		return ErrExpired
	}
	return nil
}
