package device

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/pion/rtp"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicecall/internal/adapters/rtc"
	"github.com/dkeye/voicecall/internal/core"
)

var ErrUnsupportedRemote = errors.New("remote stream is not playable")

// RTPSource is the read side of a remote track.
type RTPSource interface {
	ReadRTP() (*rtp.Packet, error)
}

// Playback decodes remote PCMU audio into a PCM sink. Without an audio
// output the sink is io.Discard and playback only tracks loss and level.
type Playback struct {
	out io.Writer

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	stats   Stats
}

type Stats struct {
	Packets uint64
	Lost    uint64
	Peak    int16
}

func NewPlayback(out io.Writer) *Playback {
	if out == nil {
		out = io.Discard
	}
	return &Playback{out: out, cancels: make(map[string]context.CancelFunc)}
}

func (p *Playback) Play(remote core.RemoteStream) error {
	ra, ok := remote.(*rtc.RemoteAudio)
	if !ok || ra.Track == nil {
		return ErrUnsupportedRemote
	}
	return p.PlaySource(ra.ID(), ra)
}

// PlaySource starts draining src under id. Playing the same id twice is a no-op.
func (p *Playback) PlaySource(id string, src RTPSource) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.cancels[id]; ok {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancels[id] = cancel
	go p.drain(ctx, id, src)
	log.Info().Str("module", "adapters.device").Str("remote", id).Msg("playback started")
	return nil
}

func (p *Playback) drain(ctx context.Context, id string, src RTPSource) {
	var last uint16
	first := true
	for ctx.Err() == nil {
		pkt, err := src.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Warn().Err(err).Str("module", "adapters.device").Str("remote", id).Msg("playback read")
			}
			return
		}
		p.consume(pkt, &last, &first)
	}
}

func (p *Playback) consume(pkt *rtp.Packet, last *uint16, first *bool) {
	pcm := rtc.DecodePCMU(pkt.Payload)

	p.mu.Lock()
	p.stats.Packets++
	if !*first {
		if gap := pkt.SequenceNumber - *last - 1; gap > 0 && gap < 1000 {
			p.stats.Lost += uint64(gap)
		}
	}
	*first = false
	*last = pkt.SequenceNumber
	var peak int16
	for _, s := range pcm {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	p.stats.Peak = peak
	p.mu.Unlock()

	buf := make([]byte, 2*len(pcm))
	for i, s := range pcm {
		buf[2*i] = byte(s)
		buf[2*i+1] = byte(s >> 8)
	}
	if _, err := p.out.Write(buf); err != nil {
		log.Warn().Err(err).Str("module", "adapters.device").Msg("playback write")
	}
}

// Clear stops every active playback.
func (p *Playback) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, cancel := range p.cancels {
		cancel()
		delete(p.cancels, id)
	}
	p.stats = Stats{}
}

func (p *Playback) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cancels)
}

func (p *Playback) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}
