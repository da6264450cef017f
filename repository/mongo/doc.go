// Package mongo stores membership users in a MongoDB collection.
//
// [Connect] opens a client with retry, [NewUsers] binds a
// [repository.UserRepository] to a collection and creates its indexes.
// Each document carries a folded user name and email next to the original
// values, plus token arrays that back [Users.Search].
//
// User names are unique per application through the
// uniq_application_username index. Email uniqueness is enforced by the
// engine.
package mongo
