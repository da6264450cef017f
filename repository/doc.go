// Package repository defines the record storage contract shared by the
// credential and session stores.
//
// A repository persists [UserRecord] and [SessionRecord] values and offers
// predicate lookups, create-if-absent inserts, version-checked updates and
// deletes, and token search with paging. Backends live in sub-packages:
//
//   - repository/memory: mutex-guarded maps, used in tests and single-process tools.
//   - repository/mongo: MongoDB collection of user documents.
//   - repository/postgres: PostgreSQL table with embedded goose migrations.
//
// The Redis session backend lives in package session.
//
// # Consistency
//
// Queries accept [WaitForNonStale]. Backends whose indexes can lag writes
// must answer such queries only after catching up; backends that are always
// read-your-writes accept it as a no-op.
//
// # What this package must NOT do
//
//   - Hash passwords or interpret lock semantics. Records are opaque state here.
//   - Import goMembership.
package repository
