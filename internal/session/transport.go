package session

import "context"

// Transport is the duplex, one-JSON-object-per-frame channel a Session
// drives. The websocket adapter in internal/transport/ws is the only
// production implementation; tests supply an in-memory fake.
type Transport interface {
	// ReadMessage blocks for the next inbound frame, respecting ctx's
	// deadline (used to enforce the init timeout). Returns an error on
	// transport loss.
	ReadMessage(ctx context.Context) ([]byte, error)
	// WriteMessage sends one outbound frame.
	WriteMessage(ctx context.Context, data []byte) error
	// Close closes the transport with a protocol close code.
	Close(code int, reason string) error
}

// Close codes are contract surface; reason strings are not.
const (
	CloseAlreadyInitialized = 4000
	CloseInitTimeout        = 4001
	CloseNotifiedError      = 4002
	CloseNotYetInitialized  = 4003
	CloseCompileFailed      = 4006
	CloseSessionCompleted   = 4999
)
