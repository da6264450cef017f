// Package postgres stores membership users in PostgreSQL through pgx.
//
// [Connect] opens a pool with retry and [Migrate] applies the embedded goose
// migrations that create the membership_users table. [NewUsers] then serves
// a [repository.UserRepository] over the pool.
//
// Folded user names are unique per application through the
// membership_users_application_username index. Search runs over text[]
// token columns backed by GIN indexes.
package postgres
