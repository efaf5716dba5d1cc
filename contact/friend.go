// Package contact implements the friend registry for the mesh messenger.
//
// Friends are verified public keys with a locally chosen nickname and
// optional profile metadata. The registry enforces nickname uniqueness,
// re-derives and verifies every user id on import, and persists itself
// atomically to the device's data directory.
package contact

import (
	"time"

	"github.com/W4ashabii/meshapp/crypto"
)

// Friend represents a verified contact.
type Friend struct {
	UserID            crypto.UserID `json:"user_id"`
	Ed25519Public     [32]byte      `json:"ed25519_public"`
	X25519Public      [32]byte      `json:"x25519_public"`
	Nickname          string        `json:"nickname"`
	Notes             string        `json:"notes,omitempty"`
	Tags              []string      `json:"tags,omitempty"`
	CustomDisplayName *string       `json:"custom_display_name,omitempty"`
	Added             time.Time     `json:"added"`
}

// DisplayName returns the custom display name when set, otherwise the
// nickname.
func (f *Friend) DisplayName() string {
	if f.CustomDisplayName != nil && *f.CustomDisplayName != "" {
		return *f.CustomDisplayName
	}
	return f.Nickname
}

// HasExchangeKey reports whether the contact's X25519 key is known.
// Contacts added from a bare signing key cannot open pairwise sessions
// until a full identity bundle is imported for them.
func (f *Friend) HasExchangeKey() bool {
	return f.X25519Public != [32]byte{}
}

// clone returns a deep copy so callers can never mutate registry state
// through returned pointers.
func (f *Friend) clone() *Friend {
	c := *f
	if f.Tags != nil {
		c.Tags = append([]string(nil), f.Tags...)
	}
	if f.CustomDisplayName != nil {
		v := *f.CustomDisplayName
		c.CustomDisplayName = &v
	}
	return &c
}
