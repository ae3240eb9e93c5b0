package sso

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"time"
)

const (
	// NonceBytes is the entropy of a CSRF nonce (256 bits).
	NonceBytes = 32

	// NonceKeyInfo is the hkdf label for deriving the nonce key from the token secret.
	NonceKeyInfo = "localchat/sso-nonce/v1"

	nonceTimeBytes = 8
	nonceMACBytes  = 16
	nonceRawBytes  = nonceTimeBytes + NonceBytes + nonceMACBytes

	// nonceClockSkew tolerates issue times slightly ahead of the verifying process.
	nonceClockSkew = 30 * time.Second
)

var (
	errNonceInvalid = errors.New("nonce invalid")
	errNonceExpired = errors.New("nonce expired")
)

// NewNonce returns a fresh URL-safe nonce stamped with now and authenticated with key:
//
//	base64url( issued_unix_nano[8] || random[32] || hmac_sha256(key, issued||random)[:16] )
//
// A nonce is only accepted by checkNonce while it is younger than the TTL, so a
// spent nonce needs to be remembered no longer than that.
func NewNonce(key []byte, now time.Time) (string, error) {
	raw := make([]byte, nonceRawBytes)
	binary.BigEndian.PutUint64(raw[:nonceTimeBytes], uint64(now.UnixNano()))
	if _, err := rand.Read(raw[nonceTimeBytes : nonceTimeBytes+NonceBytes]); err != nil {
		return "", err
	}
	copy(raw[nonceTimeBytes+NonceBytes:], nonceMAC(key, raw[:nonceTimeBytes+NonceBytes]))
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// checkNonce verifies the MAC and that the nonce was issued within ttl of now.
func checkNonce(key []byte, nonce string, now time.Time, ttl time.Duration) error {
	raw, err := base64.RawURLEncoding.Strict().DecodeString(nonce)
	if err != nil || len(raw) != nonceRawBytes {
		return errNonceInvalid
	}
	body, mac := raw[:nonceTimeBytes+NonceBytes], raw[nonceTimeBytes+NonceBytes:]
	if !hmac.Equal(mac, nonceMAC(key, body)) {
		return errNonceInvalid
	}

	issued := time.Unix(0, int64(binary.BigEndian.Uint64(raw[:nonceTimeBytes])))
	if issued.After(now.Add(nonceClockSkew)) {
		return errNonceInvalid
	}
	if !now.Before(issued.Add(ttl)) {
		return errNonceExpired
	}
	return nil
}

func nonceMAC(key, body []byte) []byte {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write(body)
	return m.Sum(nil)[:nonceMACBytes]
}

// nonceEqual compares in constant time. Empty values never match.
func nonceEqual(a, b string) bool {
	if a == "" || b == "" || len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
