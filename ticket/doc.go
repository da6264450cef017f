// Package ticket issues and verifies signed authentication tickets handed to
// callers after a successful credential check.
//
// A ticket names the user (subject), the user name and the application it
// was issued for. Tickets are JWTs signed with HS256 or Ed25519.
//
// # What this package must NOT do
//
//   - Check credentials. The Engine validates the user before asking for a ticket.
//   - Keep server-side state. A ticket is valid until it expires.
package ticket
