package media

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/core/coretest"
	"github.com/dkeye/voicecall/internal/domain"
)

func sine(n int, freq float64, rate int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(0.5 * 32767 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return out
}

func TestAcquireReturnsHeldStream(t *testing.T) {
	dev := &coretest.Device{}
	m := NewMonitor(dev, WithClock(clock.NewMock()))

	first, err := m.Acquire(context.Background())
	require.NoError(t, err)
	second, err := m.Acquire(context.Background())
	require.NoError(t, err)

	require.Same(t, first, second)
	require.Equal(t, 1, dev.Grants())
}

func TestConcurrentAcquireSharesOneGrant(t *testing.T) {
	gate := make(chan struct{})
	dev := &coretest.Device{Gate: gate}
	m := NewMonitor(dev, WithClock(clock.NewMock()))

	var wg sync.WaitGroup
	streams := make([]core.MediaStream, 2)
	for i := range streams {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := m.Acquire(context.Background())
			assert.NoError(t, err)
			streams[i] = s
		}(i)
	}
	require.Eventually(t, func() bool { return dev.Waiting() == 1 }, time.Second, time.Millisecond)
	close(gate)
	wg.Wait()

	require.Same(t, streams[0], streams[1])
	require.Equal(t, 1, dev.Grants())
}

func TestReleaseStopsTracksAndIsIdempotent(t *testing.T) {
	dev := &coretest.Device{}
	m := NewMonitor(dev, WithClock(clock.NewMock()))

	m.Release()
	require.Nil(t, m.Stream())

	s, err := m.Acquire(context.Background())
	require.NoError(t, err)
	m.Release()
	m.Release()

	require.Nil(t, m.Stream())
	for _, tr := range s.AudioTracks() {
		require.True(t, tr.Stopped())
	}

	again, err := m.Acquire(context.Background())
	require.NoError(t, err)
	require.NotSame(t, s, again)
	require.Equal(t, 2, dev.Grants())
}

func TestAcquireFailureCarriesCause(t *testing.T) {
	causes := []domain.MediaCause{
		domain.CausePermissionDenied,
		domain.CauseDeviceNotFound,
		domain.CauseInsecureContext,
		domain.CauseConstraintsUnsatisfiable,
	}
	seen := map[string]bool{}
	for _, cause := range causes {
		dev := &coretest.Device{Err: domain.NewMediaError(cause, errors.New("denied"))}
		m := NewMonitor(dev, WithClock(clock.NewMock()))

		_, err := m.Acquire(context.Background())
		var me *domain.MediaError
		require.ErrorAs(t, err, &me)
		require.Equal(t, cause, me.Cause)
		require.False(t, seen[me.UserMessage()], "message for %s is not distinct", cause)
		seen[me.UserMessage()] = true
		require.Nil(t, m.Stream())
	}

	dev := &coretest.Device{Err: errors.New("device busy")}
	_, err := NewMonitor(dev, WithClock(clock.NewMock())).Acquire(context.Background())
	var me *domain.MediaError
	require.ErrorAs(t, err, &me)
	require.Equal(t, domain.CauseDeviceError, me.Cause)
}

func TestLevelLoopPublishesNormalizedLevel(t *testing.T) {
	mock := clock.NewMock()
	dev := &coretest.Device{PCM: true}
	m := NewMonitor(dev, WithClock(mock))

	var mu sync.Mutex
	var levels []float64
	m.OnLevel(func(l float64) {
		mu.Lock()
		defer mu.Unlock()
		levels = append(levels, l)
	})

	s, err := m.Acquire(context.Background())
	require.NoError(t, err)
	pcm := s.(*coretest.PCMStream)
	require.True(t, m.Analysing())

	require.Eventually(t, func() bool {
		pcm.Push(sine(960, 440, 48000))
		mock.Add(DefaultFrameInterval)
		return m.Level() > 0
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for _, l := range levels {
		require.GreaterOrEqual(t, l, 0.0)
		require.LessOrEqual(t, l, 1.0)
	}
}

func TestLevelLoopStopsOnRelease(t *testing.T) {
	mock := clock.NewMock()
	m := NewMonitor(&coretest.Device{PCM: true}, WithClock(mock))

	s, err := m.Acquire(context.Background())
	require.NoError(t, err)
	pcm := s.(*coretest.PCMStream)
	require.Equal(t, 1, pcm.Subscribers())

	m.Release()
	mock.Add(10 * DefaultFrameInterval)

	require.False(t, m.Analysing())
	require.Zero(t, m.Level())
	require.Equal(t, 0, pcm.Subscribers())
}

func TestAnalysisFailureKeepsStreamUsable(t *testing.T) {
	m := NewMonitor(&coretest.Device{}, WithClock(clock.NewMock()))

	s, err := m.Acquire(context.Background())
	require.NoError(t, err)
	require.NotNil(t, s)
	require.False(t, m.Analysing())
	require.Zero(t, m.Level())
}

func TestToggleMuteFlipsTrackAndPausesLevel(t *testing.T) {
	m := NewMonitor(&coretest.Device{PCM: true}, WithClock(clock.NewMock()))

	_, err := m.ToggleMute()
	require.ErrorIs(t, err, domain.ErrNoStream)

	s, err := m.Acquire(context.Background())
	require.NoError(t, err)
	track := s.AudioTracks()[0]

	muted, err := m.ToggleMute()
	require.NoError(t, err)
	require.True(t, muted)
	require.False(t, track.Enabled())
	require.False(t, track.Stopped())
	require.True(t, m.sample())
	require.Zero(t, m.Level())

	muted, err = m.ToggleMute()
	require.NoError(t, err)
	require.False(t, muted)
	require.True(t, track.Enabled())

	require.NoError(t, m.SetMuted(true))
	require.True(t, m.Muted())
	require.NoError(t, m.SetMuted(true))
	require.False(t, track.Enabled())
}

type panickingAnalyser struct{}

func (panickingAnalyser) FrequencyBinCount() int    { return 4 }
func (panickingAnalyser) ByteFrequencyData([]uint8) { panic("analysis context gone") }
func (panickingAnalyser) Close()                    {}

func TestSampleNeverPanics(t *testing.T) {
	factory := func(core.MediaStream) (Analyser, error) { return panickingAnalyser{}, nil }
	m := NewMonitor(&coretest.Device{}, WithClock(clock.NewMock()), WithAnalyserFactory(factory))

	require.False(t, m.sample())

	_, err := m.Acquire(context.Background())
	require.NoError(t, err)
	require.NotPanics(t, func() { require.True(t, m.sample()) })
}
