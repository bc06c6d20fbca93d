// Package auth holds the admin credential model shared by the HTTP security
// layer, the storage layer and seed-db.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"slices"

	"github.com/go-faster/errors"
)

// ErrKeyNotFound is returned when no active key matches a hash.
var ErrKeyNotFound = errors.New("api key not found")

// ScopeManagePromos grants access to the promo code registry.
const ScopeManagePromos = "manage_promos"

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
	Active  bool
}

// HasScope reports whether the key was granted scope.
func (k *APIKeyInfo) HasScope(scope string) bool {
	return slices.Contains(k.Scopes, scope)
}

// HashKey returns the hex HMAC-SHA256 of key under pepper. Only hashes are
// stored.
func HashKey(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}
