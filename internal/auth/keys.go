package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// StaticKeys validates against a fixed list of keys from configuration.
// Keys are held only as SHA-256 digests.
type StaticKeys struct {
	hashes [][sha256.Size]byte
	ids    []string
}

// NewStaticKeys builds a validator for keys. Blank entries are ignored.
func NewStaticKeys(keys []string) *StaticKeys {
	s := &StaticKeys{}
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		sum := sha256.Sum256([]byte(k))
		s.hashes = append(s.hashes, sum)
		s.ids = append(s.ids, ClientID(k))
	}
	return s
}

// Len returns the number of configured keys.
func (s *StaticKeys) Len() int {
	return len(s.hashes)
}

// ValidateAPIKey returns the client ID derived from apiKey when it is one of
// the configured keys.
func (s *StaticKeys) ValidateAPIKey(_ context.Context, apiKey string) (string, error) {
	sum := sha256.Sum256([]byte(apiKey))
	match := -1
	for i, h := range s.hashes {
		if subtle.ConstantTimeCompare(sum[:], h[:]) == 1 {
			match = i
		}
	}
	if match < 0 {
		return "", ErrInvalidAPIKey
	}
	return s.ids[match], nil
}

// ClientID is the stable, non-secret identifier for a key: "key-" plus the
// first 12 hex digits of its SHA-256 digest.
func ClientID(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return "key-" + hex.EncodeToString(sum[:])[:12]
}

func keyPrefix(apiKey string) string {
	return apiKey[:min(4, len(apiKey))]
}
