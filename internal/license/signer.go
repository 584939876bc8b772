package license

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

var ErrKeyMismatch = errors.New("license: private key does not match public key")

// Signer makes detached ed25519 signatures over license documents. Keys
// and signatures are hex strings.
type Signer struct {
	public  ed25519.PublicKey
	private ed25519.PrivateKey
}

// NewSigner takes a 32-byte public key and a 64-byte private key, hex encoded.
func NewSigner(publicHex, privateHex string) (*Signer, error) {
	public, err := hex.DecodeString(publicHex)
	if err != nil || len(public) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("license: public key must be %d hex-encoded bytes", ed25519.PublicKeySize)
	}
	private, err := hex.DecodeString(privateHex)
	if err != nil || len(private) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("license: private key must be %d hex-encoded bytes", ed25519.PrivateKeySize)
	}
	key := ed25519.PrivateKey(private)
	if !key.Public().(ed25519.PublicKey).Equal(ed25519.PublicKey(public)) {
		return nil, ErrKeyMismatch
	}
	return &Signer{public: public, private: key}, nil
}

// GenerateKeys returns a fresh hex keypair.
func GenerateKeys() (publicHex, privateHex string, err error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", "", err
	}
	return hex.EncodeToString(public), hex.EncodeToString(private), nil
}

func (s *Signer) Sign(message []byte) string {
	return hex.EncodeToString(ed25519.Sign(s.private, message))
}

func (s *Signer) Verify(message []byte, signatureHex string) bool {
	return Verify(hex.EncodeToString(s.public), message, signatureHex)
}

func (s *Signer) PublicKey() string { return hex.EncodeToString(s.public) }

// Verify checks a signature against any hex public key.
func Verify(publicHex string, message []byte, signatureHex string) bool {
	public, err := hex.DecodeString(publicHex)
	if err != nil || len(public) != ed25519.PublicKeySize {
		return false
	}
	signature, err := hex.DecodeString(signatureHex)
	if err != nil || len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(public, message, signature)
}
