package auth

import (
	"sync"

	"github.com/google/uuid"

	"github.com/buddy-ai/buddy/internal/model/user"
)

// TokenStore maps opaque bearer tokens to identities. Tokens live for the
// lifetime of the process; signing in again issues a new one.
type TokenStore struct {
	mu     sync.RWMutex
	tokens map[string]user.Identity
}

func NewTokenStore() *TokenStore {
	return &TokenStore{tokens: make(map[string]user.Identity)}
}

// Create issues a fresh token for the identity.
func (t *TokenStore) Create(id user.Identity) string {
	token := uuid.NewString()

	t.mu.Lock()
	t.tokens[token] = id
	t.mu.Unlock()
	return token
}

// Get resolves a token to its identity.
func (t *TokenStore) Get(token string) (user.Identity, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	id, ok := t.tokens[token]
	return id, ok
}

// Delete revokes a token. Unknown tokens are a no-op.
func (t *TokenStore) Delete(token string) {
	t.mu.Lock()
	delete(t.tokens, token)
	t.mu.Unlock()
}
