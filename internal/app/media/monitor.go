// Package media owns the local microphone stream and its loudness metric.
package media

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
)

// DefaultFrameInterval approximates a 60Hz display refresh.
const DefaultFrameInterval = 16 * time.Millisecond

type LevelFunc func(level float64)

type Option func(*Monitor)

func WithClock(c clock.Clock) Option { return func(m *Monitor) { m.clock = c } }

func WithFrameInterval(d time.Duration) Option { return func(m *Monitor) { m.interval = d } }

func WithAnalyserFactory(f AnalyserFactory) Option { return func(m *Monitor) { m.newAnalyser = f } }

func WithConstraints(c core.AudioConstraints) Option { return func(m *Monitor) { m.constraints = c } }

// Monitor holds at most one capture stream and samples its level while held.
type Monitor struct {
	device      core.MediaDevice
	clock       clock.Clock
	interval    time.Duration
	constraints core.AudioConstraints
	newAnalyser AnalyserFactory
	acquiring   singleflight.Group

	mu       sync.Mutex
	stream   core.MediaStream
	analyser Analyser
	stopLoop func()
	muted    bool
	level    float64
	onLevel  LevelFunc
}

func NewMonitor(device core.MediaDevice, opts ...Option) *Monitor {
	m := &Monitor{
		device:      device,
		clock:       clock.New(),
		interval:    DefaultFrameInterval,
		constraints: core.VoiceConstraints(),
		newAnalyser: NewAnalyser,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// OnLevel sets the callback receiving level samples.
func (m *Monitor) OnLevel(fn LevelFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onLevel = fn
}

// Acquire returns the held stream or requests a new one from the device.
// Failures are *domain.MediaError.
func (m *Monitor) Acquire(ctx context.Context) (core.MediaStream, error) {
	if s := m.Stream(); s != nil {
		return s, nil
	}
	v, err, _ := m.acquiring.Do("stream", func() (any, error) {
		if s := m.Stream(); s != nil {
			return s, nil
		}
		s, err := m.device.GetAudioStream(ctx, m.constraints)
		if err != nil {
			return nil, classify(err)
		}

		m.mu.Lock()
		defer m.mu.Unlock()
		m.stream = s
		m.muted = false
		log.Info().Str("module", "app.media").Str("stream", s.ID()).Msg("local stream acquired")
		m.startAnalysisLocked(s)
		return s, nil
	})
	if err != nil {
		log.Warn().Err(err).Str("module", "app.media").Msg("acquire stream")
		return nil, err
	}
	return v.(core.MediaStream), nil
}

func classify(err error) error {
	var me *domain.MediaError
	if errors.As(err, &me) {
		return me
	}
	return domain.NewMediaError(domain.CauseDeviceError, err)
}

func (m *Monitor) startAnalysisLocked(s core.MediaStream) {
	a, err := m.newAnalyser(s)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.media").Msg("level indicator unavailable")
		return
	}
	m.analyser = a

	ticker := m.clock.Ticker(m.interval)
	stop := make(chan struct{})
	var once sync.Once
	m.stopLoop = func() { once.Do(func() { close(stop) }) }
	go m.loop(ticker, stop)
}

func (m *Monitor) loop(ticker *clock.Ticker, stop <-chan struct{}) {
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !m.sample() {
				return
			}
		}
	}
}

// sample publishes one level reading. It returns false once no stream is held.
func (m *Monitor) sample() (keep bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("module", "app.media").Msg("level sample")
			keep = true
		}
	}()

	m.mu.Lock()
	if m.stream == nil {
		m.mu.Unlock()
		return false
	}
	a, muted, fn := m.analyser, m.muted, m.onLevel
	m.mu.Unlock()
	if a == nil || muted {
		return true
	}

	data := make([]uint8, a.FrequencyBinCount())
	a.ByteFrequencyData(data)
	level := Level(data)

	m.mu.Lock()
	if m.analyser != a {
		m.mu.Unlock()
		return true
	}
	m.level = level
	m.mu.Unlock()

	if fn != nil {
		fn(level)
	}
	return true
}

// StopLevels cancels the sampling loop and tears down the analyser.
func (m *Monitor) StopLevels() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLevelsLocked()
}

func (m *Monitor) stopLevelsLocked() {
	if m.stopLoop != nil {
		m.stopLoop()
		m.stopLoop = nil
	}
	if m.analyser != nil {
		m.analyser.Close()
		m.analyser = nil
	}
	m.level = 0
}

// Release stops every track of the held stream. No-op without a stream.
func (m *Monitor) Release() {
	m.mu.Lock()
	s := m.stream
	if s == nil {
		m.mu.Unlock()
		return
	}
	m.stream = nil
	m.muted = false
	m.stopLevelsLocked()
	m.mu.Unlock()

	for _, t := range s.AudioTracks() {
		t.Stop()
		log.Debug().Str("module", "app.media").Str("track", t.ID()).Msg("stopped track")
	}
	log.Info().Str("module", "app.media").Str("stream", s.ID()).Msg("local stream released")
}

// ToggleMute flips the enabled flag of the first audio track.
func (m *Monitor) ToggleMute() (muted bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.firstTrackLocked()
	if err != nil {
		return false, err
	}
	return m.setMutedLocked(t, t.Enabled()), nil
}

func (m *Monitor) SetMuted(muted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.firstTrackLocked()
	if err != nil {
		return err
	}
	m.setMutedLocked(t, muted)
	return nil
}

func (m *Monitor) firstTrackLocked() (core.AudioTrack, error) {
	if m.stream == nil {
		return nil, domain.ErrNoStream
	}
	tracks := m.stream.AudioTracks()
	if len(tracks) == 0 {
		return nil, domain.ErrNoStream
	}
	return tracks[0], nil
}

func (m *Monitor) setMutedLocked(t core.AudioTrack, muted bool) bool {
	t.SetEnabled(!muted)
	m.muted = muted
	if muted {
		m.level = 0
	}
	log.Info().Str("module", "app.media").Bool("muted", muted).Msg("mute changed")
	return muted
}

func (m *Monitor) Stream() core.MediaStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream
}

func (m *Monitor) Level() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

func (m *Monitor) Muted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted
}

// Analysing reports whether the level loop has an analyser attached.
func (m *Monitor) Analysing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.analyser != nil
}
