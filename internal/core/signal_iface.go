package core

import (
	"context"

	"github.com/dkeye/voicecall/internal/domain"
)

// Broker registers this endpoint with the brokering service.
// Register returns immediately; the outcome arrives as SessionListener events.
type Broker interface {
	Register(ctx context.Context, candidate domain.Identity) (Session, error)
}

// SessionListener receives events of a signaling session.
// Callbacks may arrive on any goroutine.
type SessionListener interface {
	SessionReady(id domain.Identity)
	// SessionError reports a registration or transport error.
	// errors.Is(err, domain.ErrIdentityTaken) marks an identity collision.
	SessionError(err error)
	SessionDisconnected()
	IncomingCall(call CallHandle)
}

// Session is a live registration of an identity with the broker.
type Session interface {
	// Listen subscribes l; the returned func must be called to stop listening.
	Listen(l SessionListener) (stop func())
	ID() domain.Identity
	// Call places an outgoing call carrying the local stream.
	Call(ctx context.Context, remote domain.Identity, local MediaStream) (CallHandle, error)
	// Reconnect resumes a disconnected session under the same identity.
	Reconnect() error
	// Destroy closes the session. Destroying twice is a no-op.
	Destroy()
	Destroyed() bool
	Disconnected() bool
}

// CallListener receives events of one call handle. Each event fires at most once.
type CallListener interface {
	CallOpened()
	CallStream(remote RemoteStream)
	CallClosed()
	CallFailed(err error)
}

// CallHandle is one negotiated or negotiating media connection to a remote identity.
type CallHandle interface {
	Peer() domain.Identity
	Listen(l CallListener) (stop func())
	// Answer accepts an inbound call with the local stream.
	Answer(local MediaStream) error
	Open() bool
	// Close hangs up. Closing twice is a no-op.
	Close()
}

// Frame is a raw payload on a signaling connection.
type Frame []byte

// SignalConnection abstracts a broker-side messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
