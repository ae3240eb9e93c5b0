// Package session implements localchat's server-side session records.
//
// A session is created when the SSO handshake completes and is referenced by the
// session token the browser presents on REST calls and on the realtime socket.
// Records are never physically deleted except by the retention sweep; logout, ban
// and role changes mark them revoked instead.
//
// Three Store backends exist: MemoryStore (single process, tests), PostgresStore
// (localchat.sessions) and RedisStore (hash per session plus owner index sets).
// Service ties a Store to a token.Codec.
package session
