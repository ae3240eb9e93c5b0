package token

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	// SecretEnvKey is the env var holding the process-wide token secret.
	// #nosec G101 -- not a credential; it's an environment variable name.
	SecretEnvKey = "LOCALCHAT_TOKEN_SECRET"

	// MinSecretBytes is the smallest accepted secret (HMAC-SHA256 block guidance).
	MinSecretBytes = 32
)

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// DeriveKey expands secret into a 32-byte key bound to info (HKDF-SHA256, no salt).
// Distinct labels give independent keys from one process secret.
func DeriveKey(secret []byte, info string) ([]byte, error) {
	key := make([]byte, derivedKeyBytes)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(info)), key); err != nil {
		return nil, err
	}
	return key, nil
}

// SecretFromEnv returns the configured secret bytes (trimmed), enforcing a minimum byte length.
// If the env var is missing/blank -> ErrSecretMissing.
// If too short -> ErrSecretTooShort.
func SecretFromEnv(minBytes int) ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(SecretEnvKey))
	if raw == "" {
		return nil, ErrSecretMissing
	}
	b := []byte(raw)
	if minBytes > 0 && len(b) < minBytes {
		return nil, ErrSecretTooShort
	}
	return b, nil
}
