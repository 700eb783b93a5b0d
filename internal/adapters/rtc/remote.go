package rtc

import (
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

var _ TrackReader = (*webrtc.TrackRemote)(nil)

// TrackReader is the read side of a remote track; *webrtc.TrackRemote
// satisfies it.
type TrackReader interface {
	ID() string
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// RemoteAudio is the remote party's audio track.
type RemoteAudio struct {
	Track TrackReader
}

func (r *RemoteAudio) ID() string { return r.Track.ID() }

// ReadRTP reads the next packet, dropping interceptor attributes.
func (r *RemoteAudio) ReadRTP() (*rtp.Packet, error) {
	pkt, _, err := r.Track.ReadRTP()
	return pkt, err
}
