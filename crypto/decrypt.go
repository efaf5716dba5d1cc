package crypto

import (
	"errors"

	"golang.org/x/crypto/nacl/secretbox"
)

// DecryptSymmetric decrypts a message using a symmetric key. It fails
// closed on any authentication mismatch.
func DecryptSymmetric(ciphertext []byte, nonce Nonce, key [32]byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, errors.New("empty ciphertext")
	}

	out, ok := secretbox.Open(nil, ciphertext, (*[24]byte)(&nonce), (*[32]byte)(&key))
	if !ok {
		return nil, ErrDecryptionFailed
	}

	return out, nil
}

// OpenSymmetric decrypts a payload produced by SealSymmetric: a 24-byte
// nonce followed by the secretbox ciphertext.
func OpenSymmetric(sealed []byte, key [32]byte) ([]byte, error) {
	if len(sealed) < NonceSize+secretboxOverhead {
		return nil, errors.New("sealed payload too short")
	}

	var nonce Nonce
	copy(nonce[:], sealed[:NonceSize])
	return DecryptSymmetric(sealed[NonceSize:], nonce, key)
}

// secretboxOverhead is the Poly1305 tag size added by secretbox.Seal.
const secretboxOverhead = 16
