// Package device provides the capture device, playback sink and environment
// probe of the terminal client.
package device

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
)

const (
	KindTone    = "tone"
	KindSilence = "silence"
	KindNone    = "none"

	frameDuration = 20 * time.Millisecond
)

var supportedRates = map[int]bool{8000: true, 16000: true, 48000: true}

type Config struct {
	Kind       string  `mapstructure:"kind"`
	Frequency  float64 `mapstructure:"frequency"`
	Amplitude  float64 `mapstructure:"amplitude"`
	SampleRate int     `mapstructure:"sample_rate"`
	// Allow is the user's consent to capture.
	Allow bool `mapstructure:"allow"`
}

func DefaultConfig() Config {
	return Config{Kind: KindTone, Frequency: 440, Amplitude: 0.3, SampleRate: 48000, Allow: true}
}

// ToneDevice synthesizes a capture stream. It stands in for a microphone on
// hosts without an audio stack.
type ToneDevice struct {
	cfg   Config
	clock clock.Clock
}

func NewToneDevice(cfg Config, clk clock.Clock) *ToneDevice {
	if clk == nil {
		clk = clock.New()
	}
	return &ToneDevice{cfg: cfg, clock: clk}
}

func (d *ToneDevice) GetAudioStream(ctx context.Context, c core.AudioConstraints) (core.MediaStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.NewMediaError(domain.CauseDeviceError, err)
	}
	if !d.cfg.Allow {
		return nil, domain.NewMediaError(domain.CausePermissionDenied, errors.New("capture not allowed"))
	}
	if d.cfg.Kind == KindNone {
		return nil, domain.NewMediaError(domain.CauseDeviceNotFound, errors.New("no capture device configured"))
	}
	if d.cfg.Kind != KindTone && d.cfg.Kind != KindSilence {
		return nil, domain.NewMediaError(domain.CauseDeviceError, fmt.Errorf("unknown device kind %q", d.cfg.Kind))
	}

	rate := d.cfg.SampleRate
	if c.SampleRate != 0 {
		rate = c.SampleRate
	}
	if !supportedRates[rate] {
		return nil, domain.NewMediaError(domain.CauseConstraintsUnsatisfiable, fmt.Errorf("sample rate %d", rate))
	}
	if c.ChannelCount > 1 {
		return nil, domain.NewMediaError(domain.CauseConstraintsUnsatisfiable, fmt.Errorf("%d channels", c.ChannelCount))
	}

	amp := d.cfg.Amplitude
	if d.cfg.Kind == KindSilence {
		amp = 0
	}
	s := newToneStream(rate, d.cfg.Frequency, amp)
	go s.run(d.clock.Ticker(frameDuration))
	log.Info().Str("module", "adapters.device").Str("stream", s.id).Int("rate", rate).Msg("capture started")
	return s, nil
}

type track struct {
	id      string
	mu      sync.Mutex
	enabled bool
	stopped bool
	stop    chan struct{}
}

func (t *track) ID() string { return t.id }

func (t *track) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *track) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

func (t *track) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.stopped = true
	close(t.stop)
}

func (t *track) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

type toneStream struct {
	id    string
	track *track
	rate  int
	freq  float64
	amp   float64

	mu    sync.Mutex
	subs  map[int]chan []int16
	next  int
	phase float64
}

func newToneStream(rate int, freq, amp float64) *toneStream {
	id := uuid.NewString()
	return &toneStream{
		id:    id,
		track: &track{id: id + "-audio", enabled: true, stop: make(chan struct{})},
		rate:  rate,
		freq:  freq,
		amp:   amp,
		subs:  make(map[int]chan []int16),
	}
}

func (s *toneStream) ID() string                     { return s.id }
func (s *toneStream) AudioTracks() []core.AudioTrack { return []core.AudioTrack{s.track} }
func (s *toneStream) SampleRate() int                { return s.rate }

func (s *toneStream) Subscribe(buffer int) (<-chan []int16, func()) {
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
			if _, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(ch)
			}
		})
	}
}

func (s *toneStream) run(ticker *clock.Ticker) {
	defer ticker.Stop()
	defer s.closeSubs()
	for {
		select {
		case <-s.track.stop:
			return
		case <-ticker.C:
			s.publish(s.frame())
		}
	}
}

// frame renders the next 20ms. A disabled track yields silence.
func (s *toneStream) frame() []int16 {
	n := s.rate * int(frameDuration) / int(time.Second)
	out := make([]int16, n)
	amp := s.amp
	if !s.track.Enabled() {
		amp = 0
	}
	step := 2 * math.Pi * s.freq / float64(s.rate)
	for i := range out {
		out[i] = int16(amp * math.MaxInt16 * math.Sin(s.phase))
		s.phase += step
	}
	s.phase = math.Mod(s.phase, 2*math.Pi)
	return out
}

func (s *toneStream) publish(frame []int16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- frame:
		default:
		}
	}
}

func (s *toneStream) closeSubs() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	log.Info().Str("module", "adapters.device").Str("stream", s.id).Msg("capture stopped")
}
