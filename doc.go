// Package goMembership provides a multi-tenant credential store and a
// lock-gated session-state store on top of a pluggable record repository.
//
// The package is designed for concurrent server workloads: Engine methods are safe to call
// from multiple goroutines after initialization through [Builder.Build].
//
// # Architecture boundaries
//
// goMembership is the public surface. It exposes [Engine], [Builder], [Config], the
// [CredentialStore] and [SessionStore] interfaces, and value types (MembershipUser,
// SessionItem, UserPage). Storage lives behind repository.UserRepository and
// repository.SessionRepository; hashing lives in the password package; ticket
// signing in the ticket package.
//
// # What this package must NOT do
//
//   - Expose Redis clients, repository records, or encoding details in its public API.
//   - Hold session state in memory between calls. Every lock decision is a
//     conditional write against the repository.
//   - Retry a lost lock race. Conflicts are reported to the caller.
//   - Import any sub-package that re-imports goMembership (no import cycles).
package goMembership
