package device

import (
	"bytes"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/voicecall/internal/adapters/rtc"
	"github.com/dkeye/voicecall/internal/core/coretest"
)

type packetSource struct {
	packets chan *rtp.Packet
}

func (s *packetSource) ReadRTP() (*rtp.Packet, error) {
	pkt, ok := <-s.packets
	if !ok {
		return nil, io.EOF
	}
	return pkt, nil
}

// remoteTrack reads like a pion remote track.
type remoteTrack struct {
	id      string
	packets chan *rtp.Packet
}

func (t *remoteTrack) ID() string { return t.id }

func (t *remoteTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	pkt, ok := <-t.packets
	if !ok {
		return nil, nil, io.EOF
	}
	return pkt, interceptor.Attributes{}, nil
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

func TestPlaybackDecodesAndCountsLoss(t *testing.T) {
	out := &lockedBuffer{}
	p := NewPlayback(out)
	src := &packetSource{packets: make(chan *rtp.Packet, 4)}

	require.NoError(t, p.PlaySource("remote", src))
	require.NoError(t, p.PlaySource("remote", src))
	require.Equal(t, 1, p.Active())

	payload := rtc.EncodePCMU([]int16{4000, 4000, 4000, 4000}, rtc.PCMURate, false)
	src.packets <- &rtp.Packet{Header: rtp.Header{SequenceNumber: 1}, Payload: payload}
	src.packets <- &rtp.Packet{Header: rtp.Header{SequenceNumber: 4}, Payload: payload}
	close(src.packets)

	require.Eventually(t, func() bool { return p.Stats().Packets == 2 }, time.Second, time.Millisecond)
	st := p.Stats()
	require.Equal(t, uint64(2), st.Lost)
	require.InDelta(t, 4000, st.Peak, 200)
	require.Equal(t, 16, out.Len())

	p.Clear()
	require.Zero(t, p.Active())
	require.Zero(t, p.Stats().Packets)
}

func TestPlaybackRejectsForeignStreams(t *testing.T) {
	p := NewPlayback(nil)
	require.ErrorIs(t, p.Play(coretest.Remote("x")), ErrUnsupportedRemote)
	require.ErrorIs(t, p.Play(&rtc.RemoteAudio{}), ErrUnsupportedRemote)
}

func TestPlaybackPlaysRemoteAudio(t *testing.T) {
	out := &lockedBuffer{}
	p := NewPlayback(out)
	track := &remoteTrack{id: "audio-1", packets: make(chan *rtp.Packet, 4)}
	remote := &rtc.RemoteAudio{Track: track}

	require.NoError(t, p.Play(remote))
	require.NoError(t, p.Play(remote))
	require.Equal(t, 1, p.Active())

	payload := rtc.EncodePCMU([]int16{2000, 2000, 2000, 2000}, rtc.PCMURate, false)
	for seq := uint16(10); seq < 13; seq++ {
		track.packets <- &rtp.Packet{Header: rtp.Header{SequenceNumber: seq}, Payload: payload}
	}
	close(track.packets)

	require.Eventually(t, func() bool { return p.Stats().Packets == 3 }, time.Second, time.Millisecond)
	require.Zero(t, p.Stats().Lost)
	require.Equal(t, 24, out.Len())
}
