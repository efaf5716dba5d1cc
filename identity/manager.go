// Package identity manages the device's long-term cryptographic identity.
//
// Each device generates a permanent identity on first launch: an Ed25519
// signing key pair and an X25519 exchange key pair. The stable user id is
// SHA256 of the Ed25519 public key. The identity is persisted to a
// restricted-permission file and never regenerated silently: a corrupt
// identity file fails closed, because replacing the keys would break the
// device's entire social graph.
package identity

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/W4ashabii/meshapp/crypto"
)

// FileName is the identity file name inside the data directory.
const FileName = "identity.json"

var (
	// ErrNotFound indicates no identity file exists yet.
	ErrNotFound = errors.New("identity not found")
	// ErrCorrupt indicates the identity file exists but cannot be used.
	ErrCorrupt = errors.New("identity file corrupt")
)

// Identity is the device's full identity including private key material.
// It is immutable after creation and shared read-only across the core.
type Identity struct {
	Signing  *crypto.KeyPair
	Exchange *crypto.KeyPair
	UserID   crypto.UserID
}

// identityRecord is the on-disk representation. Only the private halves
// are stored; public keys and the user id are re-derived on load.
type identityRecord struct {
	Ed25519Secret string `json:"ed25519_secret"`
	X25519Secret  string `json:"x25519_secret"`
}

// Fingerprint returns the short display fingerprint of this identity.
func (id *Identity) Fingerprint() string {
	return crypto.Fingerprint(id.UserID)
}

// Generate creates a fresh identity without persisting it.
func Generate() (*Identity, error) {
	signing, err := crypto.GenerateSigningKeyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing keys: %w", err)
	}

	exchange, err := crypto.GenerateExchangeKeyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate exchange keys: %w", err)
	}

	return &Identity{
		Signing:  signing,
		Exchange: exchange,
		UserID:   crypto.DeriveUserID(signing.Public),
	}, nil
}

// Load reads the identity from dataDir. It returns ErrNotFound when no
// identity file exists and ErrCorrupt when the file cannot be parsed or
// contains unusable keys. It never fabricates a replacement identity.
func Load(dataDir string) (*Identity, error) {
	path := filepath.Join(dataDir, FileName)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read identity file: %w", err)
	}

	var record identityRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	edSeed, err := decodeSecret(record.Ed25519Secret)
	if err != nil {
		return nil, fmt.Errorf("%w: ed25519 secret: %v", ErrCorrupt, err)
	}
	xSecret, err := decodeSecret(record.X25519Secret)
	if err != nil {
		return nil, fmt.Errorf("%w: x25519 secret: %v", ErrCorrupt, err)
	}

	signing, err := crypto.SigningKeyPairFromSeed(edSeed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	exchange, err := crypto.ExchangeKeyPairFromSecret(xSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	id := &Identity{
		Signing:  signing,
		Exchange: exchange,
		UserID:   crypto.DeriveUserID(signing.Public),
	}

	logrus.WithFields(logrus.Fields{
		"fingerprint": id.Fingerprint(),
	}).Info("Loaded device identity")

	return id, nil
}

// LoadOrGenerate loads the identity from dataDir, generating and
// persisting a new one only when no identity file exists yet. A corrupt
// file is surfaced as an error, never overwritten.
func LoadOrGenerate(dataDir string) (*Identity, error) {
	id, err := Load(dataDir)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	id, err = Generate()
	if err != nil {
		return nil, err
	}

	if err := Save(id, dataDir); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"fingerprint": id.Fingerprint(),
	}).Info("Generated new device identity")

	return id, nil
}

// Save persists the identity to dataDir with owner-only permissions.
// The write is atomic: temp file, fsync, rename.
func Save(id *Identity, dataDir string) error {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	record := identityRecord{
		Ed25519Secret: hex.EncodeToString(id.Signing.Private[:]),
		X25519Secret:  hex.EncodeToString(id.Exchange.Private[:]),
	}

	data, err := json.Marshal(&record)
	if err != nil {
		return fmt.Errorf("failed to serialize identity: %w", err)
	}
	defer crypto.ZeroBytes(data)

	path := filepath.Join(dataDir, FileName)
	return writeFileAtomic(path, data, 0o600)
}

// writeFileAtomic writes data to a temp file in the target directory,
// syncs it, and renames it into place.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

func decodeSecret(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return out, errors.New("not valid hex")
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	crypto.ZeroBytes(raw)
	return out, nil
}
