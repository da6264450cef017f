// Package memory provides in-process implementations of the repository
// contracts. Records are cloned on the way in and out, so callers never share
// state with the store. Every query is read-your-writes.
package memory
