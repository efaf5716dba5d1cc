package crypto

import (
	"bytes"
	"crypto/sha256"
	"testing"
)

func TestGenerateSigningKeyPair(t *testing.T) {
	kp, err := GenerateSigningKeyPair()
	if err != nil {
		t.Fatalf("GenerateSigningKeyPair failed: %v", err)
	}
	if isZeroKey(kp.Public) || isZeroKey(kp.Private) {
		t.Error("generated key pair contains a zero key")
	}

	// Reconstructing from the seed must yield the same public key.
	restored, err := SigningKeyPairFromSeed(kp.Private)
	if err != nil {
		t.Fatalf("SigningKeyPairFromSeed failed: %v", err)
	}
	if restored.Public != kp.Public {
		t.Error("public key differs after seed reconstruction")
	}
}

func TestGenerateExchangeKeyPair(t *testing.T) {
	kp, err := GenerateExchangeKeyPair()
	if err != nil {
		t.Fatalf("GenerateExchangeKeyPair failed: %v", err)
	}

	restored, err := ExchangeKeyPairFromSecret(kp.Private)
	if err != nil {
		t.Fatalf("ExchangeKeyPairFromSecret failed: %v", err)
	}
	if restored.Public != kp.Public {
		t.Error("X25519 public key differs after reconstruction")
	}
}

func TestExchangeKeyPairFromSecretRejectsZero(t *testing.T) {
	if _, err := ExchangeKeyPairFromSecret([32]byte{}); err == nil {
		t.Error("expected error for all-zero secret")
	}
	if _, err := SigningKeyPairFromSeed([32]byte{}); err == nil {
		t.Error("expected error for all-zero seed")
	}
}

func TestDeriveUserID(t *testing.T) {
	kp, err := GenerateSigningKeyPair()
	if err != nil {
		t.Fatalf("GenerateSigningKeyPair failed: %v", err)
	}

	id := DeriveUserID(kp.Public)
	want := sha256.Sum256(kp.Public[:])
	if id != UserID(want) {
		t.Error("user id is not SHA256 of the public key")
	}

	// Derivation must be deterministic.
	if id != DeriveUserID(kp.Public) {
		t.Error("user id derivation is not deterministic")
	}
}

func TestFingerprint(t *testing.T) {
	id := DeriveUserID([32]byte{1, 2, 3})
	fp := Fingerprint(id)
	if len(fp) != FingerprintLength {
		t.Errorf("fingerprint length = %d, want %d", len(fp), FingerprintLength)
	}
	if id.String()[:FingerprintLength] != fp {
		t.Error("fingerprint must be a prefix of the full hex id")
	}
}

func TestParseUserIDRoundTrip(t *testing.T) {
	id := DeriveUserID([32]byte{42})
	parsed, err := ParseUserID(id.String())
	if err != nil {
		t.Fatalf("ParseUserID failed: %v", err)
	}
	if parsed != id {
		t.Error("parsed user id differs from original")
	}

	if _, err := ParseUserID("not-hex"); err == nil {
		t.Error("expected error for invalid hex")
	}
	if _, err := ParseUserID("abcd"); err == nil {
		t.Error("expected error for short id")
	}
}

func TestSignAndVerify(t *testing.T) {
	kp, err := GenerateSigningKeyPair()
	if err != nil {
		t.Fatalf("GenerateSigningKeyPair failed: %v", err)
	}

	message := []byte("offline-first mesh")
	sig, err := Sign(message, kp.Private)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	ok, err := Verify(message, sig, kp.Public)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !ok {
		t.Error("valid signature did not verify")
	}

	// Tampered message must not verify.
	ok, err = Verify([]byte("offline-first mess"), sig, kp.Public)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if ok {
		t.Error("signature verified for tampered message")
	}
}

func TestSymmetricRoundTrip(t *testing.T) {
	var key [32]byte
	for i := range key {
		key[i] = byte(i)
	}

	nonce, err := GenerateNonce()
	if err != nil {
		t.Fatalf("GenerateNonce failed: %v", err)
	}

	plaintext := []byte("hello mesh")
	ciphertext, err := EncryptSymmetric(plaintext, nonce, key)
	if err != nil {
		t.Fatalf("EncryptSymmetric failed: %v", err)
	}

	decrypted, err := DecryptSymmetric(ciphertext, nonce, key)
	if err != nil {
		t.Fatalf("DecryptSymmetric failed: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Errorf("round trip mismatch: got %q, want %q", decrypted, plaintext)
	}
}

func TestDecryptSymmetricTamperFails(t *testing.T) {
	var key [32]byte
	key[0] = 7

	nonce, _ := GenerateNonce()
	ciphertext, err := EncryptSymmetric([]byte("secret"), nonce, key)
	if err != nil {
		t.Fatalf("EncryptSymmetric failed: %v", err)
	}

	// Flip a single bit: authentication must fail, never return altered
	// plaintext.
	ciphertext[0] ^= 0x01
	if _, err := DecryptSymmetric(ciphertext, nonce, key); err == nil {
		t.Error("tampered ciphertext decrypted successfully")
	}
}

func TestSealOpenSymmetric(t *testing.T) {
	var key [32]byte
	key[31] = 1

	sealed, err := SealSymmetric([]byte("geo channel payload"), key)
	if err != nil {
		t.Fatalf("SealSymmetric failed: %v", err)
	}

	opened, err := OpenSymmetric(sealed, key)
	if err != nil {
		t.Fatalf("OpenSymmetric failed: %v", err)
	}
	if string(opened) != "geo channel payload" {
		t.Errorf("round trip mismatch: got %q", opened)
	}

	// Wrong key fails closed.
	var wrong [32]byte
	wrong[0] = 9
	if _, err := OpenSymmetric(sealed, wrong); err == nil {
		t.Error("sealed payload opened with wrong key")
	}

	// Truncated payload is rejected before decryption.
	if _, err := OpenSymmetric(sealed[:NonceSize], key); err == nil {
		t.Error("truncated payload accepted")
	}
}

func TestSecureWipe(t *testing.T) {
	data := []byte{1, 2, 3, 4}
	if err := SecureWipe(data); err != nil {
		t.Fatalf("SecureWipe failed: %v", err)
	}
	for i, b := range data {
		if b != 0 {
			t.Errorf("byte %d not wiped: %d", i, b)
		}
	}

	if err := SecureWipe(nil); err == nil {
		t.Error("expected error wiping nil slice")
	}
}

func TestWipeKeyPair(t *testing.T) {
	kp, err := GenerateExchangeKeyPair()
	if err != nil {
		t.Fatalf("GenerateExchangeKeyPair failed: %v", err)
	}

	if err := WipeKeyPair(kp); err != nil {
		t.Fatalf("WipeKeyPair failed: %v", err)
	}
	if !isZeroKey(kp.Private) {
		t.Error("private key not wiped")
	}

	if err := WipeKeyPair(nil); err == nil {
		t.Error("expected error wiping nil KeyPair")
	}
}
