// Package internal contains helpers that are private to goMembership,
// currently session id generation.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - limiters: Redis-backed failed-attempt windows that drive lockout
//
// # What this package must NOT do
//
//   - Export types that appear in the public goMembership API.
//   - Be imported by any package outside the goMembership module.
package internal
