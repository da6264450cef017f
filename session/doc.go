// Package session provides Redis-backed session state persistence and the
// compact binary encoding of session records.
//
// # Storage layout
//
// Each record is a Redis hash at
//
//	<prefix>:<application>:sessionstates/<id>
//
// with field "v" holding the record version and field "d" the encoded record.
// Create, versioned update and versioned delete run as Lua scripts, so a
// lock handoff is a single compare-and-set on the server. Keys carry a TTL
// of the record's remaining lifetime plus a retention grace, which lets the
// engine observe and delete expired records before Redis evicts them.
//
// # Binary encoding
//
// Records are encoded with a leading format byte. Decoding rejects unknown
// formats and truncated input rather than guessing.
//
// # Architecture boundaries
//
// [Store] implements repository.SessionRepository and nothing else. It does
// not decide lock semantics or expiry policy; the Engine does.
//
// # What this package must NOT do
//
//   - Import goMembership (no upward imports).
//   - Interpret session item values.
package session
