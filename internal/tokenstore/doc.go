// Package tokenstore persists the connector's credentials across process restarts.
//
// Storage is split into two tiers with different lifetimes:
//   - Durable: survives restarts (file in the user config dir, OS keyring, redis, or read-only env)
//   - Session: cleared when the OS session ends (temp-dir file, memory, or redis)
//
// Store layers the credential model on top of two Backends. Client tokens live only in the
// session tier. User tokens live in the session tier and, when the user asked to be remembered,
// are mirrored into the durable tier. When both tiers hold a user token the one with the later
// expiry wins, so stale durable data never shadows a fresher session token.
//
// Reads never fail: missing keys, unreadable backends and corrupt values resolve to empty defaults.
package tokenstore
