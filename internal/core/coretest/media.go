// Package coretest provides in-memory fakes of the core capability interfaces.
package coretest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dkeye/voicecall/internal/core"
)

var (
	_ core.MediaDevice  = (*Device)(nil)
	_ core.PCMStream    = (*PCMStream)(nil)
	_ core.PlaybackSink = (*Playback)(nil)
)

var streamSeq atomic.Int64

type Track struct {
	id      string
	mu      sync.Mutex
	enabled bool
	stopped bool
}

func NewTrack(id string) *Track { return &Track{id: id, enabled: true} }

func (t *Track) ID() string { return t.id }

func (t *Track) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *Track) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

func (t *Track) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

func (t *Track) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// Stream is a MediaStream without sample access.
type Stream struct {
	id    string
	track *Track
}

func NewStream() *Stream {
	n := streamSeq.Add(1)
	return &Stream{
		id:    fmt.Sprintf("stream-%d", n),
		track: NewTrack(fmt.Sprintf("track-%d", n)),
	}
}

func (s *Stream) ID() string                     { return s.id }
func (s *Stream) AudioTracks() []core.AudioTrack { return []core.AudioTrack{s.track} }
func (s *Stream) Track() *Track                  { return s.track }

// PCMStream is a Stream whose frames are pushed by the test.
type PCMStream struct {
	*Stream
	rate int

	mu   sync.Mutex
	subs map[int]chan []int16
	next int
}

func NewPCMStream(rate int) *PCMStream {
	return &PCMStream{Stream: NewStream(), rate: rate, subs: make(map[int]chan []int16)}
}

func (s *PCMStream) SampleRate() int { return s.rate }

func (s *PCMStream) Subscribe(buffer int) (<-chan []int16, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	ch := make(chan []int16, buffer)
	s.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
		})
	}
}

// Push delivers a frame to every subscriber, dropping it for slow ones.
func (s *PCMStream) Push(frame []int16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- frame:
		default:
		}
	}
}

func (s *PCMStream) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Device grants fake streams. Set Err to make grants fail and Gate to hold
// grants until the gate is closed.
type Device struct {
	mu      sync.Mutex
	Err     error
	Gate    chan struct{}
	PCM     bool
	grants  int
	streams []core.MediaStream
	pending atomic.Int32
}

func (d *Device) GetAudioStream(ctx context.Context, _ core.AudioConstraints) (core.MediaStream, error) {
	d.mu.Lock()
	gate := d.Gate
	d.mu.Unlock()
	if gate != nil {
		d.pending.Add(1)
		select {
		case <-gate:
			d.pending.Add(-1)
		case <-ctx.Done():
			d.pending.Add(-1)
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return nil, d.Err
	}
	d.grants++
	var s core.MediaStream
	if d.PCM {
		s = NewPCMStream(48000)
	} else {
		s = NewStream()
	}
	d.streams = append(d.streams, s)
	return s, nil
}

func (d *Device) SetErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Err = err
}

func (d *Device) SetGate(gate chan struct{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Gate = gate
}

// Waiting reports how many grants are blocked on the gate.
func (d *Device) Waiting() int { return int(d.pending.Load()) }

func (d *Device) Grants() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.grants
}

func (d *Device) Streams() []core.MediaStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]core.MediaStream(nil), d.streams...)
}

// Remote is a fake remote stream.
type Remote string

func (r Remote) ID() string { return string(r) }

// Playback records sink usage. The first FailPlays calls to Play fail.
type Playback struct {
	mu        sync.Mutex
	FailPlays int
	played    []core.RemoteStream
	attempts  int
	cleared   int
}

func (p *Playback) Play(remote core.RemoteStream) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts++
	if p.FailPlays > 0 {
		p.FailPlays--
		return fmt.Errorf("playback blocked")
	}
	p.played = append(p.played, remote)
	return nil
}

func (p *Playback) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cleared++
	p.played = nil
}

func (p *Playback) Playing() []core.RemoteStream {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]core.RemoteStream(nil), p.played...)
}

func (p *Playback) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

func (p *Playback) Cleared() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cleared
}
