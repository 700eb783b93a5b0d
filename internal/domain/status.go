package domain

import "fmt"

// Status lines shown to the user.
const (
	StatusInitializing    = "Initializing..."
	StatusNotReady        = "P2P connection not ready"
	StatusEnterRemoteID   = "Enter the remote ID"
	StatusRequestingMic   = "Requesting microphone access..."
	StatusConnecting      = "Connecting to peer..."
	StatusConnected       = "Connection established"
	StatusCallEnded       = "Call ended"
	StatusReady           = "Ready for calls"
	StatusIDCopied        = "ID copied"
	StatusReconnecting    = "Connection lost, reconnecting..."
	StatusUnsupported     = "This environment does not support audio calls"
	StatusInsecure        = "Calls require a secure connection (wss or localhost)"
	StatusIDTaken         = "ID in use, trying another..."
	StatusCopyFailed      = "Could not copy ID, select it manually"
	StatusPeerUnavailable = "Peer is not available"
)

func StatusIncoming(from Identity) string {
	return fmt.Sprintf("Incoming call from %s", from)
}

func StatusSignalError(err error) string {
	return fmt.Sprintf("P2P error: %v", err)
}
