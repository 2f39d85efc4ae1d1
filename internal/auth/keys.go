// Package auth holds the API token helpers shared by the controller and labctl.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// HashKey returns a SHA-256 hash of the key.
func HashKey(key string) string {
	key = strings.TrimSpace(key)

	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// TokenMatches compares a presented token with the configured one in
// constant time. Both sides are hashed first so their lengths never leak.
func TokenMatches(presented, expected string) bool {
	a, b := HashKey(presented), HashKey(expected)
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// BearerToken extracts the token of an "Authorization: Bearer <token>" header.
func BearerToken(header string) (string, bool) {
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// BearerHeader formats the header value labctl sends.
func BearerHeader(token string) string {
	return "Bearer " + strings.TrimSpace(token)
}
