package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"github.com/taskdeck/taskdeck/pkg/config"
)

var ErrInvalidToken = errors.New("invalid bearer token")

// TokenStore resolves bearer tokens to identities. Tokens are kept as digests.
type TokenStore struct {
	identities map[[sha256.Size]byte]Identity
}

// ParseTokens builds a store from "token=organization_id:user_id" entries.
func ParseTokens(entries []config.SensitiveString) (*TokenStore, error) {
	store := &TokenStore{identities: make(map[[sha256.Size]byte]Identity, len(entries))}
	for i, entry := range entries {
		token, binding, ok := strings.Cut(entry.Value(), "=")
		token = strings.TrimSpace(token)
		if !ok || token == "" {
			return nil, fmt.Errorf("auth token #%d: expected token=organization_id:user_id", i+1)
		}
		orgID, userID, ok := strings.Cut(strings.TrimSpace(binding), ":")
		if !ok || orgID == "" || userID == "" {
			return nil, fmt.Errorf("auth token #%d: expected organization_id:user_id binding", i+1)
		}
		digest := sha256.Sum256([]byte(token))
		if _, dup := store.identities[digest]; dup {
			return nil, fmt.Errorf("auth token #%d: duplicate token", i+1)
		}
		store.identities[digest] = Identity{OrganizationID: orgID, UserID: userID}
	}
	return store, nil
}

// Lookup returns the identity bound to token.
func (s *TokenStore) Lookup(token string) (Identity, error) {
	if s == nil || token == "" {
		return Identity{}, ErrInvalidToken
	}
	id, ok := s.identities[sha256.Sum256([]byte(token))]
	if !ok {
		return Identity{}, ErrInvalidToken
	}
	return id, nil
}

func (s *TokenStore) Len() int {
	if s == nil {
		return 0
	}
	return len(s.identities)
}
