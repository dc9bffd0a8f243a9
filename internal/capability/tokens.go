package capability

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/beaconkit/beacon/internal/errs"
	"github.com/beaconkit/beacon/pkg/plugin"
)

// Token length bounds over the full plaintext.
const (
	tokenMinLen = 32
	tokenMaxLen = 512
)

// TokenMeta is the metadata stored alongside a token hash. The plaintext is
// never stored.
type TokenMeta struct {
	CreatedAt   time.Time
	ExpiresAt   time.Time
	LastUsed    time.Time
	UsageCount  int64
	Permissions plugin.PermissionSet
	Issuer      string
}

type tokenEntry struct {
	hash []byte // sha256(token || salt)
	meta TokenMeta
}

// TokenStore issues and validates plugin authentication tokens. Only salted
// hashes are kept; validation is constant-time over the hash comparison,
// rejects malformed tokens before any store access, and rejects revoked or
// expired tokens before the hash comparison.
type TokenStore struct {
	mu      sync.RWMutex
	salt    []byte
	ttl     time.Duration
	entries map[string]*tokenEntry // plugin_id -> active token
	revoked map[string]time.Time   // hash hex -> original expiry
	issuer  string
}

// NewTokenStore creates a store with the given fixed salt and token TTL.
func NewTokenStore(salt string, ttl time.Duration) *TokenStore {
	return &TokenStore{
		salt:    []byte(salt),
		ttl:     ttl,
		entries: make(map[string]*tokenEntry),
		revoked: make(map[string]time.Time),
		issuer:  "beacon-host",
	}
}

func (s *TokenStore) hash(token string) []byte {
	h := sha256.New()
	h.Write([]byte(token))
	h.Write(s.salt)
	return h.Sum(nil)
}

// GenerateToken produces a fresh token for a plugin, stores its salted hash
// and metadata, and returns the plaintext exactly once. Any prior token for
// the plugin is replaced.
func (s *TokenStore) GenerateToken(pluginID string, perms plugin.PermissionSet) (string, error) {
	if err := ValidatePluginID(pluginID); err != nil {
		return "", err
	}

	// Two random hex segments of 16 chars each keep every token comfortably
	// inside the [32,512] bound for all legal plugin ids.
	seg := func() (string, error) {
		b := make([]byte, 8)
		if _, err := rand.Read(b); err != nil {
			return "", errs.PlatformFailure("crypto/rand", err)
		}
		return hex.EncodeToString(b), nil
	}
	a, err := seg()
	if err != nil {
		return "", err
	}
	b, err := seg()
	if err != nil {
		return "", err
	}

	token := "plugin_" + pluginID + "_" + a + "_" + b
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[pluginID] = &tokenEntry{
		hash: s.hash(token),
		meta: TokenMeta{
			CreatedAt:   now,
			ExpiresAt:   now.Add(s.ttl),
			Permissions: perms,
			Issuer:      s.issuer,
		},
	}
	return token, nil
}

// Validate checks a presented token for a plugin. All structural rejections
// happen before the store lookup; the hash comparison itself is
// constant-time and never short-circuits on partial equality.
func (s *TokenStore) Validate(pluginID, token string) bool {
	if !tokenWellFormed(pluginID, token) {
		return false
	}

	candidate := s.hash(token)
	candidateHex := hex.EncodeToString(candidate)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, gone := s.revoked[candidateHex]; gone {
		return false
	}

	entry, ok := s.entries[pluginID]
	if !ok {
		// Compare against a dummy of equal length so the miss path costs
		// the same as the hit path.
		var dummy [sha256.Size]byte
		subtle.ConstantTimeCompare(candidate, dummy[:])
		return false
	}

	now := time.Now()
	if now.After(entry.meta.ExpiresAt) {
		return false
	}

	if subtle.ConstantTimeCompare(candidate, entry.hash) != 1 {
		return false
	}

	entry.meta.UsageCount++
	entry.meta.LastUsed = now
	return true
}

// tokenWellFormed checks length, charset, prefix, and the hex segment
// grammar: plugin_<id>_<hex8..16>(_<hex8..16>)+
func tokenWellFormed(pluginID, token string) bool {
	if len(token) < tokenMinLen || len(token) > tokenMaxLen {
		return false
	}
	for i := 0; i < len(token); i++ {
		c := token[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_' || c == '-':
		default:
			return false
		}
	}

	prefix := "plugin_" + pluginID + "_"
	if !strings.HasPrefix(token, prefix) {
		return false
	}

	parts := strings.Split(token[len(prefix):], "_")
	if len(parts) < 2 {
		return false
	}
	for _, p := range parts {
		if len(p) < 8 || len(p) > 16 {
			return false
		}
		for i := 0; i < len(p); i++ {
			c := p[i]
			if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
				return false
			}
		}
	}
	return true
}

// Revoke moves a token into the revoked set and drops its metadata. The
// revoked hash is retained until the token's original expiry so replayed
// plaintexts keep failing without a store hit.
func (s *TokenStore) Revoke(pluginID, token string) error {
	candidateHex := hex.EncodeToString(s.hash(token))

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[pluginID]
	if !ok {
		return errs.NotFound("token for plugin " + pluginID)
	}
	if hex.EncodeToString(entry.hash) != candidateHex {
		return errs.Authentication(pluginID)
	}

	s.revoked[candidateHex] = entry.meta.ExpiresAt
	delete(s.entries, pluginID)
	return nil
}

// RevokeAll drops whatever token a plugin currently holds. Used on
// unregister, where the plaintext is no longer available.
func (s *TokenStore) RevokeAll(pluginID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[pluginID]; ok {
		s.revoked[hex.EncodeToString(entry.hash)] = entry.meta.ExpiresAt
		delete(s.entries, pluginID)
	}
}

// Meta returns a copy of the stored metadata for a plugin's active token.
func (s *TokenStore) Meta(pluginID string) (TokenMeta, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[pluginID]
	if !ok {
		return TokenMeta{}, false
	}
	return entry.meta, true
}

// CleanupExpired drops expired tokens and prunes the revoked set. Run on a
// fixed cadence (default every 5 minutes) from the maintenance scheduler;
// the sweep is driven by wall-clock comparison so a scheduler restart never
// shortens or extends a token's life.
func (s *TokenStore) CleanupExpired() (removed int) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, entry := range s.entries {
		if now.After(entry.meta.ExpiresAt) {
			delete(s.entries, id)
			removed++
		}
	}
	for h, exp := range s.revoked {
		if now.After(exp) {
			delete(s.revoked, h)
			removed++
		}
	}
	return removed
}
