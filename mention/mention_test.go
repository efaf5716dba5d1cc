package mention

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/W4ashabii/meshapp/contact"
	"github.com/W4ashabii/meshapp/crypto"
)

func testRegistry(t *testing.T, nicknames ...string) (*contact.Registry, map[string]crypto.UserID) {
	t.Helper()

	reg, err := contact.Load(t.TempDir())
	require.NoError(t, err)

	ids := make(map[string]crypto.UserID)
	for _, nick := range nicknames {
		keys, err := crypto.GenerateSigningKeyPair()
		require.NoError(t, err)
		id, err := reg.Add(keys.Public, nick)
		require.NoError(t, err)
		ids[nick] = id
	}
	return reg, ids
}

func TestExtractBasic(t *testing.T) {
	reg, ids := testRegistry(t, "alice", "bob")

	got := Extract("hey @alice, did you see what @bob said?", reg)
	require.Len(t, got, 2)
	assert.Equal(t, ids["alice"], got[0].UserID)
	assert.Equal(t, "alice", got[0].Nickname)
	assert.Equal(t, ids["bob"], got[1].UserID)
}

func TestExtractStripsTrailingPunctuation(t *testing.T) {
	reg, ids := testRegistry(t, "alice", "bob")

	cases := []string{"@alice,", "@alice.", "@alice!", "@alice?", "@alice:"}
	for _, token := range cases {
		got := Extract(token, reg)
		require.Len(t, got, 1, "token %q", token)
		assert.Equal(t, ids["alice"], got[0].UserID)
	}
}

func TestExtractCaseInsensitive(t *testing.T) {
	reg, ids := testRegistry(t, "Alice")

	got := Extract("ping @ALICE and @alice", reg)
	require.Len(t, got, 1)
	assert.Equal(t, ids["Alice"], got[0].UserID)
	assert.Equal(t, "Alice", got[0].Nickname, "mention carries the registered spelling")
}

func TestExtractDedupsByFirstOccurrence(t *testing.T) {
	reg, ids := testRegistry(t, "alice", "bob")

	got := Extract("@bob @alice @bob @alice", reg)
	require.Len(t, got, 2)
	assert.Equal(t, ids["bob"], got[0].UserID)
	assert.Equal(t, ids["alice"], got[1].UserID)
}

func TestExtractIgnoresUnknownAndMalformed(t *testing.T) {
	reg, _ := testRegistry(t, "alice")

	assert.Empty(t, Extract("nothing to see here", reg))
	assert.Empty(t, Extract("@stranger waves", reg))
	assert.Empty(t, Extract("a bare @ and an email a@b.c", reg))
	assert.Empty(t, Extract("@!punctuation only", reg))
	assert.Empty(t, Extract("", reg))
}

func TestExtractNicknameWithAllowedSymbols(t *testing.T) {
	reg, ids := testRegistry(t, "mesh_dev-7")

	got := Extract("thanks @mesh_dev-7!", reg)
	require.Len(t, got, 1)
	assert.Equal(t, ids["mesh_dev-7"], got[0].UserID)
}
