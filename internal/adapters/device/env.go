package device

import (
	"net"
	"net/url"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Probe reports what this host can do for calls.
type Probe struct {
	brokerURL string
}

func NewProbe(brokerURL string) *Probe { return &Probe{brokerURL: brokerURL} }

// SupportsRealtimeMedia reports whether the default codecs can be registered.
func (p *Probe) SupportsRealtimeMedia() bool {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		log.Error().Err(err).Str("module", "adapters.device").Msg("register codecs")
		return false
	}
	return true
}

// IsSecureContext is true for wss/https brokers and for loopback hosts.
func (p *Probe) IsSecureContext() bool {
	u, err := url.Parse(p.brokerURL)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "wss", "https":
		return true
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
