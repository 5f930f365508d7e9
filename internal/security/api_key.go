package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
)

// apiKeyPrefix is the prefix used for generated API keys.
const apiKeyPrefix = "mci-"

// GenerateAPIKey creates a new random API key string. The raw key is
// returned exactly once; only its hash is ever persisted.
func GenerateAPIKey() (string, error) {
	secret := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, secret); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return apiKeyPrefix + hex.EncodeToString(secret), nil
}

// HashAPIKey returns the hex-encoded SHA-256 digest of an API key.
func HashAPIKey(apiKey string) string {
	digest := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(digest[:])
}

// VerifyHashedKey reports whether apiKey hashes to hashedKey. The
// comparison runs over fixed-length digests, never the raw secrets.
func VerifyHashedKey(apiKey, hashedKey string) bool {
	computed := HashAPIKey(apiKey)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(hashedKey)) == 1
}
