// Package session holds the credential model for a portal and its persistence
// backends.
//
// # Binary encoding
//
// Credentials are persisted as a small versioned binary record (see [Encode]).
// Older schema versions are migrated forward on read; new versions append
// fields and never reinterpret old ones.
//
// # Backends
//
// [MemoryBackend] keeps credentials for the life of the process, [RedisBackend]
// shares them between processes and [FileBackend] keeps them on local disk for
// command-line use. Every backend stores at most one credential per
// (portal, kind) slot.
//
// # What this package must NOT do
//
//   - Import portalauth or jwt (no upward imports).
//   - Decide which credential wins when both kinds are present.
//   - Log or print token values.
package session
