package domain

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyIdentity   = errors.New("identity empty")
	ErrIdentityTooLong = errors.New("identity too long")

	ErrEnvironment     = errors.New("environment does not support calls")
	ErrIdentityTaken   = errors.New("identity already in use")
	ErrInvalidIdentity = errors.New("identity rejected by broker")
	ErrSessionNotReady = errors.New("signaling session not ready")
	ErrSessionLost     = errors.New("signaling session lost")
	ErrPeerUnavailable = errors.New("peer unavailable")

	ErrCallInProgress = errors.New("call already in progress")
	ErrNoActiveCall   = errors.New("no active call")
	ErrCallCancelled  = errors.New("call cancelled")
	ErrNoStream       = errors.New("no local stream")
)

// MediaCause classifies why microphone acquisition failed.
type MediaCause int

const (
	CauseDeviceError MediaCause = iota
	CausePermissionDenied
	CauseDeviceNotFound
	CauseInsecureContext
	CauseConstraintsUnsatisfiable
)

func (c MediaCause) String() string {
	switch c {
	case CausePermissionDenied:
		return "NotAllowed"
	case CauseDeviceNotFound:
		return "NotFound"
	case CauseInsecureContext:
		return "NotSupported"
	case CauseConstraintsUnsatisfiable:
		return "Overconstrained"
	default:
		return "Other"
	}
}

// MediaError is returned when the capture device cannot be acquired.
type MediaError struct {
	Cause MediaCause
	Err   error
}

func NewMediaError(cause MediaCause, err error) *MediaError {
	return &MediaError{Cause: cause, Err: err}
}

func (e *MediaError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("media %s", e.Cause)
	}
	return fmt.Sprintf("media %s: %v", e.Cause, e.Err)
}

func (e *MediaError) Unwrap() error { return e.Err }

// UserMessage is the actionable text shown to the user.
func (e *MediaError) UserMessage() string {
	switch e.Cause {
	case CausePermissionDenied:
		return "Microphone access denied. Allow microphone access and try again"
	case CauseDeviceNotFound:
		return "No microphone found. Connect a microphone and try again"
	case CauseInsecureContext:
		return "Microphone requires a secure connection (wss or localhost)"
	case CauseConstraintsUnsatisfiable:
		return "Microphone does not support the requested audio settings"
	default:
		return "Could not access the microphone"
	}
}
