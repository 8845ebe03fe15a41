// Package session runs one state machine per remote participant and the
// registry that owns them.
//
// A Registry serializes every relay notification, transport callback and
// user command through a single event loop, so Session values are never
// touched by two goroutines at once. Work that can suspend (creating
// descriptions, applying a remote description, closing a transport) runs on
// its own goroutine and reports back through the loop. Each transport
// instance carries a generation number; events from a transport that has
// since been replaced or closed are dropped.
package session
