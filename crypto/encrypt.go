package crypto

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/W4ashabii/meshapp/limits"
)

// NonceSize is the size of a secretbox nonce in bytes.
const NonceSize = 24

// Nonce is a 24-byte value used for symmetric encryption.
type Nonce [NonceSize]byte

// GenerateNonce creates a cryptographically secure random nonce.
func GenerateNonce() (Nonce, error) {
	var nonce Nonce
	if _, err := rand.Read(nonce[:]); err != nil {
		return Nonce{}, err
	}
	return nonce, nil
}

// EncryptSymmetric encrypts a message with a symmetric key using NaCl's
// secretbox, providing both confidentiality and integrity.
func EncryptSymmetric(message []byte, nonce Nonce, key [32]byte) ([]byte, error) {
	if err := limits.ValidatePlaintext(message); err != nil {
		return nil, err
	}

	return secretbox.Seal(nil, message, (*[24]byte)(&nonce), (*[32]byte)(&key)), nil
}

// SealSymmetric encrypts a message with a fresh random nonce and returns
// the nonce prepended to the ciphertext, the on-wire layout used by
// open-membership channels.
func SealSymmetric(message []byte, key [32]byte) ([]byte, error) {
	nonce, err := GenerateNonce()
	if err != nil {
		return nil, err
	}

	sealed, err := EncryptSymmetric(message, nonce, key)
	if err != nil {
		return nil, err
	}

	out := make([]byte, NonceSize+len(sealed))
	copy(out[:NonceSize], nonce[:])
	copy(out[NonceSize:], sealed)
	return out, nil
}

// ErrDecryptionFailed indicates an authentication failure during
// decryption. The message is deliberately generic: callers must drop the
// payload, never inspect it.
var ErrDecryptionFailed = errors.New("decryption failed: message authentication failed")
