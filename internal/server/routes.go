// Package server wires HTTP handlers into a ServeMux for the chat broker via
// routing helpers.
package server

import "net/http"

// SetupRoutes configures and returns an HTTP ServeMux with all application
// routes: health check, the two WebSocket endpoints, and the test page.
func SetupRoutes(hub *Hub) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/{$}", HealthHandler)
	mux.HandleFunc("GET /ws/lobby", LobbyHandler(hub))
	mux.HandleFunc("GET /ws/room/{room}", RoomHandler(hub))
	mux.HandleFunc("/test", TestPageHandler)
	return mux
}
