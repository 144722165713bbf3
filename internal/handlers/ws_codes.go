// internal/handlers/ws_codes.go
package handlers

// Custom WebSocket close codes used by the lobby and game server endpoints.
// These provide more specific reasons for closure than standard codes.
const (
	BadSubprotocolError = 3000 // Client connected with an unsupported subprotocol.
	AuthFailuresError   = 3001 // Too many failed auth attempts on one connection.
)

// Subprotocols spoken by the two client endpoints.
const (
	LobbySubprotocol = "lobby"
	GameSubprotocol  = "game"
)
