// Package server implements the room and connection broker for lanchat: the
// WebSocket endpoints for the lobby and room channels, the hub that fans
// messages out to room members and lobby subscribers, and the per-connection
// lifecycle state machine.
//
// The implementation is organized into specialized files for configuration,
// hub management, clients, routing, and HTTP handlers to keep the codebase
// maintainable and testable as the project grows.
package server
