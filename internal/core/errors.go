package core

import "errors"

// Error taxonomy of the live session core. Expected conditions are returned
// as values and matched with errors.Is; none of these are panics.
var (
	ErrRoomFull      = errors.New("room full")
	ErrRoomNotFound  = errors.New("room not found")
	ErrAlreadyJoined = errors.New("already joined")

	ErrChannelClosed = errors.New("signaling channel closed")

	ErrNegotiationTimeout = errors.New("negotiation timeout")
	ErrIceFailure         = errors.New("ice failure")

	ErrDeviceUnavailable    = errors.New("device unavailable")
	ErrUserCancelledCapture = errors.New("user cancelled capture")
	ErrAlreadySharing       = errors.New("already sharing")

	ErrAdmissionDenied = errors.New("admission denied")

	// Terminal results surfaced by the orchestrator after local recovery
	// is exhausted.
	ErrCallFailed       = errors.New("call failed")
	ErrPeerDisconnected = errors.New("peer disconnected")
)
