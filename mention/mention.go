// Package mention extracts @nickname references from plaintext message
// bodies and resolves them against the contact registry. Mentions are a
// local display concern only; nothing about them travels on the wire.
package mention

import (
	"strings"

	"github.com/W4ashabii/meshapp/contact"
	"github.com/W4ashabii/meshapp/crypto"
)

// Resolver looks up a contact by nickname. *contact.Registry satisfies
// it; nickname matching follows the registry's case-insensitive policy
// so a mention hits regardless of how the sender capitalized it.
type Resolver interface {
	ByNickname(nickname string) (*contact.Friend, error)
}

// Mention is a resolved @nickname occurrence.
type Mention struct {
	UserID   crypto.UserID
	Nickname string
}

// Extract scans text for @nickname tokens and resolves each against
// the registry. A nickname runs until the first character outside
// [A-Za-z0-9_-], so trailing punctuation like "@alice," still matches.
// Each contact appears at most once, in order of first occurrence.
func Extract(text string, resolver Resolver) []Mention {
	var mentions []Mention
	seen := make(map[crypto.UserID]struct{})

	for _, token := range strings.Fields(text) {
		stripped, ok := strings.CutPrefix(token, "@")
		if !ok {
			continue
		}
		nick := trimToNickname(stripped)
		if nick == "" {
			continue
		}

		friend, err := resolver.ByNickname(nick)
		if err != nil {
			continue
		}
		if _, dup := seen[friend.UserID]; dup {
			continue
		}
		seen[friend.UserID] = struct{}{}
		mentions = append(mentions, Mention{UserID: friend.UserID, Nickname: friend.Nickname})
	}
	return mentions
}

// trimToNickname keeps the leading run of nickname characters.
func trimToNickname(s string) string {
	for i, r := range s {
		if !isNicknameRune(r) {
			return s[:i]
		}
	}
	return s
}

func isNicknameRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '_' || r == '-':
		return true
	}
	return false
}
