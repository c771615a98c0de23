// Package server implements the core of the chat relay: room membership
// tracking, message broadcast with sender exclusion, and the per-connection
// protocol state machine over WebSocket transport.
//
// The implementation is organized into specialized files for the registry,
// router, hub, clients, configuration, routing, and HTTP handlers to keep
// the codebase maintainable and testable as the project grows.
package server
