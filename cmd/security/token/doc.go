// Package token provides the signing primitives behind localchat session tokens.
//
// Codec issues and verifies compact session tokens of the form
//
//	v1.<base64url(claims JSON)>.<base64url(HMAC-SHA256)>
//
// The signature covers the version and the encoded payload exactly as transmitted,
// and it is checked before anything else is parsed. The signing key is derived with
// HKDF-SHA256 from a single process-wide secret (LOCALCHAT_TOKEN_SECRET), so rotating
// the secret invalidates every outstanding token.
//
// The package also carries the SHA-256 / HMAC-SHA256 hex helpers used to key
// single-use values (login nonces) in shared stores without persisting them in plaintext.
package token
