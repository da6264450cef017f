// Package audit buffers membership and session audit events and relays them
// to a Sink off the caller's goroutine.
//
// The engine decides which events exist; this package only queues and
// delivers them. A full buffer either drops the event (counted by
// [Dispatcher.Dropped]) or blocks the emitter until its context ends.
package audit
