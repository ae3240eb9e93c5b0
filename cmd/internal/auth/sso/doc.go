// Package sso drives localchat's redirect-based single-sign-on handshake.
//
// The protocol is two explicit steps with the CSRF nonce threaded through by the
// caller:
//
//	BeginLogin    -> authorization URL + nonce (browser remembers the nonce)
//	CompleteLogin -> compares returned state to the remembered nonce, exchanges the
//	                 artifact with the identity provider, creates a session record
//	                 and mints a session token
//
// The server keeps no per-attempt state between the two steps. Nonces are additionally
// burned in a ReplayGuard so a replayed callback fails even if a client forgets to
// discard its copy.
package sso
