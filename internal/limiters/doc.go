// Package limiters counts failed credential attempts per user in Redis.
//
// [AttemptLimiter] keeps one hash per application, user and [AttemptKind]
// holding the failure count and the window start. The window TTL is set on
// the first failure, so counts expire on their own once the attempt window
// passes. Reaching the threshold is reported to the caller, which decides
// whether to lock the user.
//
// A nil or disabled limiter records nothing.
package limiters
