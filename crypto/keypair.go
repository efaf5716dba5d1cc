package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// KeyPair holds a 32-byte public/private key pair. The same shape is used
// for Ed25519 signing keys (private is the seed) and X25519 exchange keys.
type KeyPair struct {
	Public  [32]byte
	Private [32]byte
}

// GenerateSigningKeyPair creates a new random Ed25519 key pair. The
// private half is the 32-byte seed.
func GenerateSigningKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}

	kp := &KeyPair{}
	copy(kp.Public[:], pub)
	copy(kp.Private[:], priv.Seed())
	return kp, nil
}

// GenerateExchangeKeyPair creates a new random X25519 key pair for the
// Noise handshake and channel key derivation.
func GenerateExchangeKeyPair() (*KeyPair, error) {
	var private [32]byte
	if _, err := rand.Read(private[:]); err != nil {
		return nil, fmt.Errorf("failed to generate exchange key: %w", err)
	}
	return ExchangeKeyPairFromSecret(private)
}

// ExchangeKeyPairFromSecret reconstructs an X25519 key pair from an
// existing private key, deriving the public half.
func ExchangeKeyPairFromSecret(secret [32]byte) (*KeyPair, error) {
	if isZeroKey(secret) {
		return nil, errors.New("invalid secret key: all zeros")
	}

	pub, err := curve25519.X25519(secret[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive public key: %w", err)
	}

	kp := &KeyPair{Private: secret}
	copy(kp.Public[:], pub)
	return kp, nil
}

// SigningKeyPairFromSeed reconstructs an Ed25519 key pair from a stored
// 32-byte seed.
func SigningKeyPairFromSeed(seed [32]byte) (*KeyPair, error) {
	if isZeroKey(seed) {
		return nil, errors.New("invalid seed: all zeros")
	}

	priv := ed25519.NewKeyFromSeed(seed[:])
	kp := &KeyPair{Private: seed}
	copy(kp.Public[:], priv.Public().(ed25519.PublicKey))
	return kp, nil
}

// isZeroKey checks if a key consists of all zeros.
func isZeroKey(key [32]byte) bool {
	for _, b := range key {
		if b != 0 {
			return false
		}
	}
	return true
}
