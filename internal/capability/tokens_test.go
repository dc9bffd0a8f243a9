package capability

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beaconkit/beacon/pkg/plugin"
)

func newTestStore() *TokenStore {
	return NewTokenStore("test-salt", time.Hour)
}

func TestGenerateAndValidate(t *testing.T) {
	s := newTestStore()

	token, err := s.GenerateToken("foo", plugin.PermissionSet{})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(token, "plugin_foo_"))

	t.Run("RoundTrip", func(t *testing.T) {
		assert.True(t, s.Validate("foo", token))
	})

	t.Run("UsageCountIncrements", func(t *testing.T) {
		before, ok := s.Meta("foo")
		require.True(t, ok)
		s.Validate("foo", token)
		after, _ := s.Meta("foo")
		assert.Greater(t, after.UsageCount, before.UsageCount)
		assert.False(t, after.LastUsed.IsZero())
	})

	t.Run("WrongPlugin", func(t *testing.T) {
		assert.False(t, s.Validate("bar", token))
	})

	t.Run("MutatedSuffix", func(t *testing.T) {
		mutated := token[:len(token)-1] + "X"
		assert.False(t, s.Validate("foo", mutated))
	})
}

func TestTokenLengthBounds(t *testing.T) {
	s := newTestStore()
	_, err := s.GenerateToken("p", plugin.PermissionSet{})
	require.NoError(t, err)

	hex16 := "0123456789abcdef"

	// Build tokens of exact lengths around the bounds. The grammar needs
	// prefix plugin_p_ (9 bytes) plus underscore-joined hex parts.
	mk := func(total int) string {
		const prefix = "plugin_p_"
		body := total - len(prefix)
		// two hex parts joined by one underscore
		first := (body - 1) / 2
		second := body - 1 - first
		return prefix + hex16[:first] + "_" + hex16[:second]
	}

	t.Run("Len31Rejected", func(t *testing.T) {
		tok := mk(31)
		require.Len(t, tok, 31)
		assert.False(t, tokenWellFormed("p", tok))
	})
	t.Run("Len32Accepted", func(t *testing.T) {
		tok := mk(32)
		require.Len(t, tok, 32)
		assert.True(t, tokenWellFormed("p", tok))
	})
	t.Run("Len512Accepted", func(t *testing.T) {
		// 512 total: 108-byte prefix, 23 full 16-char parts, one 13-char part.
		id := strings.Repeat("a", 100)
		prefix := "plugin_" + id + "_"
		parts := make([]string, 23)
		for i := range parts {
			parts[i] = hex16
		}
		tok := prefix + strings.Join(parts, "_") + "_" + hex16[:13]
		require.Len(t, tok, 512)
		assert.True(t, tokenWellFormed(id, tok))
	})
	t.Run("Len513Rejected", func(t *testing.T) {
		tok := "plugin_p_" + strings.Repeat("0", 504)
		require.Len(t, tok, 513)
		assert.False(t, tokenWellFormed("p", tok))
	})
}

func TestTokenGrammar(t *testing.T) {
	cases := []struct {
		name  string
		id    string
		token string
		want  bool
	}{
		{"SinglePart", "p", "plugin_p_" + strings.Repeat("a", 23), false},
		{"TwoParts", "p", "plugin_p_0123456789ab_0123456789ab", true},
		{"ShortPart", "p", "plugin_p_0123456_0123456789abcdef0", false},
		{"NonHexPart", "p", "plugin_p_0123456789ag_0123456789ab", false},
		{"BadPrefix", "p", "plugxn_p_0123456789ab_0123456789ab", false},
		{"BadCharset", "p", "plugin_p_0123456789ab_0123456789a.", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tokenWellFormed(tc.id, tc.token))
		})
	}
}

func TestRevoke(t *testing.T) {
	s := newTestStore()
	token, err := s.GenerateToken("foo", plugin.PermissionSet{})
	require.NoError(t, err)

	require.NoError(t, s.Revoke("foo", token))
	assert.False(t, s.Validate("foo", token), "revoked token must fail")

	_, ok := s.Meta("foo")
	assert.False(t, ok, "metadata dropped on revoke")
}

func TestCleanupExpired(t *testing.T) {
	s := NewTokenStore("test-salt", -time.Minute) // already expired on issue
	token, err := s.GenerateToken("foo", plugin.PermissionSet{})
	require.NoError(t, err)

	assert.False(t, s.Validate("foo", token), "expired token must fail")
	removed := s.CleanupExpired()
	assert.Equal(t, 1, removed)
}

func TestValidateConstantTimeShape(t *testing.T) {
	// Not a timing assertion (too noisy for CI): verifies the comparison
	// path is exercised for equal-length wrong tokens rather than
	// short-circuiting on a structural check.
	s := newTestStore()
	token, err := s.GenerateToken("foo", plugin.PermissionSet{})
	require.NoError(t, err)

	wrong := token[:len(token)-1] + "0"
	if wrong == token {
		wrong = token[:len(token)-1] + "1"
	}
	require.Len(t, wrong, len(token))
	assert.True(t, tokenWellFormed("foo", wrong))
	assert.False(t, s.Validate("foo", wrong))
}

func TestIndexCapabilities(t *testing.T) {
	ix := NewIndex()
	caps := plugin.NewCapabilitySet(
		plugin.Capability{Name: plugin.CapSearch},
		plugin.Capability{Name: plugin.CapClipboard},
	)
	require.NoError(t, ix.Register("foo", caps, nil))

	t.Run("Granted", func(t *testing.T) {
		ok, err := ix.VerifyCapability("foo", plugin.CapSearch)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("Missing", func(t *testing.T) {
		ok, err := ix.VerifyCapability("foo", plugin.CapExecute)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("UnknownPlugin", func(t *testing.T) {
		_, err := ix.VerifyCapability("nope", plugin.CapSearch)
		assert.Error(t, err)
	})

	t.Run("ImmutableAfterRegistration", func(t *testing.T) {
		err := ix.Register("foo", plugin.NewCapabilitySet(), nil)
		assert.Error(t, err)
	})

	t.Run("DerivedPermissions", func(t *testing.T) {
		require.NoError(t, ix.Register("fs", plugin.NewCapabilitySet(
			plugin.Capability{Name: plugin.CapFilesystem},
			plugin.Capability{Name: plugin.CapStorage},
		), []string{"camera"}))
		p, ok := ix.Permissions("fs")
		require.True(t, ok)
		assert.True(t, p.Has(plugin.PermFileRead|plugin.PermFileWrite))
		assert.True(t, p.Has(plugin.PermStorageRead|plugin.PermStorageWrite))
		assert.False(t, p.Has(plugin.PermNetworkAccess))
		assert.True(t, p.HasExtended("camera"))
	})
}

func TestValidatePluginID(t *testing.T) {
	assert.NoError(t, ValidatePluginID("abc-DEF_123"))
	assert.Error(t, ValidatePluginID(""))
	assert.Error(t, ValidatePluginID(strings.Repeat("a", 257)))
	assert.Error(t, ValidatePluginID("bad.id"))
}
