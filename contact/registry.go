package contact

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/W4ashabii/meshapp/crypto"
	"github.com/W4ashabii/meshapp/identity"
	"github.com/W4ashabii/meshapp/limits"
)

// FileName is the registry file name inside the data directory.
const FileName = "contacts.json"

var (
	// ErrNicknameTaken indicates the nickname is already in use by
	// another contact. Comparison is case-insensitive.
	ErrNicknameTaken = errors.New("nickname already taken")
	// ErrNicknameInvalid indicates an empty or oversized nickname.
	ErrNicknameInvalid = errors.New("invalid nickname")
	// ErrNotFound indicates no contact exists for the given user id.
	ErrNotFound = errors.New("contact not found")
	// ErrDuplicateContact indicates a contact with this public key is
	// already registered.
	ErrDuplicateContact = errors.New("contact already exists")
)

// Registry stores the device's friends, keyed by user id. All mutations
// are serialized and persisted atomically; a failed persist leaves the
// in-memory state unchanged.
type Registry struct {
	mu      sync.RWMutex
	friends map[crypto.UserID]*Friend
	path    string
}

// registryFile is the on-disk representation.
type registryFile struct {
	Friends []*Friend `json:"friends"`
}

// Load opens the registry in dataDir, creating an empty one when no file
// exists yet.
func Load(dataDir string) (*Registry, error) {
	r := &Registry{
		friends: make(map[crypto.UserID]*Friend),
		path:    filepath.Join(dataDir, FileName),
	}

	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("failed to read contacts file: %w", err)
	}

	var file registryFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse contacts file: %w", err)
	}

	for _, f := range file.Friends {
		// Recompute the invariant on every load rather than trusting
		// the file.
		if crypto.DeriveUserID(f.Ed25519Public) != f.UserID {
			return nil, fmt.Errorf("contacts file corrupt: user id mismatch for %q", f.Nickname)
		}
		r.friends[f.UserID] = f
	}

	logrus.WithFields(logrus.Fields{
		"contacts": len(r.friends),
	}).Debug("Loaded contact registry")

	return r, nil
}

// Add registers a new contact from its Ed25519 public key and a nickname,
// returning the derived user id. The X25519 exchange key stays unknown
// until a full bundle is imported.
func (r *Registry) Add(ed25519Public [32]byte, nickname string) (crypto.UserID, error) {
	return r.add(&Friend{
		UserID:        crypto.DeriveUserID(ed25519Public),
		Ed25519Public: ed25519Public,
		Nickname:      nickname,
		Added:         time.Now(),
	})
}

// ImportBundle parses an exported identity bundle, verifies the embedded
// user id against the embedded public key, and registers the contact
// under the chosen nickname.
func (r *Registry) ImportBundle(bundle []byte, nickname string) (crypto.UserID, error) {
	pub, err := identity.ParseBundle(bundle)
	if err != nil {
		return crypto.UserID{}, err
	}

	return r.add(&Friend{
		UserID:        pub.UserID,
		Ed25519Public: pub.Ed25519Public,
		X25519Public:  pub.X25519Public,
		Nickname:      nickname,
		Added:         time.Now(),
	})
}

func (r *Registry) add(f *Friend) (crypto.UserID, error) {
	if err := validateNickname(f.Nickname); err != nil {
		return crypto.UserID{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.friends[f.UserID]; ok {
		// Re-importing a known contact's bundle upgrades a bare signing
		// key with the exchange key; anything else is a duplicate.
		if f.X25519Public != ([32]byte{}) && !existing.HasExchangeKey() {
			updated := existing.clone()
			updated.X25519Public = f.X25519Public
			if err := r.commitLocked(f.UserID, updated); err != nil {
				return crypto.UserID{}, err
			}
			return f.UserID, nil
		}
		return crypto.UserID{}, ErrDuplicateContact
	}

	if r.nicknameTakenLocked(f.Nickname, nil) {
		return crypto.UserID{}, fmt.Errorf("%w: %q", ErrNicknameTaken, f.Nickname)
	}

	if err := r.commitLocked(f.UserID, f); err != nil {
		return crypto.UserID{}, err
	}

	logrus.WithFields(logrus.Fields{
		"user_id":  f.UserID[:8],
		"nickname": f.Nickname,
	}).Info("Contact added")

	return f.UserID, nil
}

// Remove deletes a contact. It is idempotent and reports whether an entry
// existed.
func (r *Registry) Remove(userID crypto.UserID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.friends[userID]; !ok {
		return false, nil
	}

	if err := r.commitLocked(userID, nil); err != nil {
		return false, err
	}

	logrus.WithFields(logrus.Fields{
		"user_id": userID[:8],
	}).Info("Contact removed")

	return true, nil
}

// UpdateProfile applies a partial profile update. Fields left unchanged in
// the update are untouched; the whole operation fails without any write
// when validation fails.
func (r *Registry) UpdateProfile(userID crypto.UserID, update ProfileUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.friends[userID]
	if !ok {
		return ErrNotFound
	}

	f := existing.clone()

	switch update.Nickname.Action {
	case FieldSet:
		if err := validateNickname(update.Nickname.Value); err != nil {
			return err
		}
		if r.nicknameTakenLocked(update.Nickname.Value, &userID) {
			return fmt.Errorf("%w: %q", ErrNicknameTaken, update.Nickname.Value)
		}
		f.Nickname = update.Nickname.Value
	case FieldClear:
		return fmt.Errorf("%w: nickname cannot be cleared", ErrNicknameInvalid)
	}

	switch update.Notes.Action {
	case FieldSet:
		f.Notes = update.Notes.Value
	case FieldClear:
		f.Notes = ""
	}

	switch update.Tags.Action {
	case FieldSet:
		f.Tags = append([]string(nil), update.Tags.Value...)
	case FieldClear:
		f.Tags = nil
	}

	switch update.CustomDisplayName.Action {
	case FieldSet:
		v := update.CustomDisplayName.Value
		f.CustomDisplayName = &v
	case FieldClear:
		f.CustomDisplayName = nil
	}

	return r.commitLocked(userID, f)
}

// Get returns a copy of the contact for the given user id.
func (r *Registry) Get(userID crypto.UserID) (*Friend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.friends[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return f.clone(), nil
}

// ByNickname looks up a contact by nickname, case-insensitively.
func (r *Registry) ByNickname(nickname string) (*Friend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, f := range r.friends {
		if strings.EqualFold(f.Nickname, nickname) {
			return f.clone(), nil
		}
	}
	return nil, ErrNotFound
}

// List returns all contacts ordered by nickname.
func (r *Registry) List() []*Friend {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Friend, 0, len(r.friends))
	for _, f := range r.friends {
		out = append(out, f.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Nickname) < strings.ToLower(out[j].Nickname)
	})
	return out
}

// Len returns the number of registered contacts.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.friends)
}

// nicknameTakenLocked reports whether a nickname is used by a contact
// other than exclude. Caller must hold the lock.
func (r *Registry) nicknameTakenLocked(nickname string, exclude *crypto.UserID) bool {
	for id, f := range r.friends {
		if exclude != nil && id == *exclude {
			continue
		}
		if strings.EqualFold(f.Nickname, nickname) {
			return true
		}
	}
	return false
}

// commitLocked applies a single-entry mutation (nil deletes) and persists.
// On persist failure the in-memory state is rolled back so callers never
// observe a half-applied operation. Caller must hold the lock.
func (r *Registry) commitLocked(userID crypto.UserID, f *Friend) error {
	prev, existed := r.friends[userID]

	if f == nil {
		delete(r.friends, userID)
	} else {
		r.friends[userID] = f
	}

	if err := r.saveLocked(); err != nil {
		if existed {
			r.friends[userID] = prev
		} else {
			delete(r.friends, userID)
		}
		return fmt.Errorf("failed to persist contacts: %w", err)
	}
	return nil
}

// saveLocked writes the registry atomically. Caller must hold the lock.
func (r *Registry) saveLocked() error {
	file := registryFile{Friends: make([]*Friend, 0, len(r.friends))}
	for _, f := range r.friends {
		file.Friends = append(file.Friends, f)
	}
	sort.Slice(file.Friends, func(i, j int) bool {
		return file.Friends[i].UserID.String() < file.Friends[j].UserID.String()
	})

	data, err := json.MarshalIndent(&file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize contacts: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0o700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write contacts file: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename contacts file: %w", err)
	}
	return nil
}

func validateNickname(nickname string) error {
	if nickname == "" {
		return fmt.Errorf("%w: empty", ErrNicknameInvalid)
	}
	if len(nickname) > limits.MaxNickname {
		return fmt.Errorf("%w: %d bytes exceeds limit %d", ErrNicknameInvalid, len(nickname), limits.MaxNickname)
	}
	return nil
}
