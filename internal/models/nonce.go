package models

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// NewConnectNonce returns 32 random bytes, hex encoded, for the Connect
// OAuth state parameter.
func NewConnectNonce() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate connect nonce: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
