package broker

import "github.com/dkeye/voicecall/internal/domain"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickPeer
)

// Policy decides what happens to a peer whose send buffer is full.
type Policy interface {
	OnBackPressure(id domain.Identity) BackpressureAction
}

// SimplePolicy evicts slow peers; their clients reconnect under the same identity.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.Identity) BackpressureAction { return KickPeer }
