package media

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dkeye/voicecall/internal/core/coretest"
)

func levelOf(t *testing.T, a Analyser) float64 {
	t.Helper()
	data := make([]uint8, a.FrequencyBinCount())
	a.ByteFrequencyData(data)
	return Level(data)
}

func TestAnalyserSilenceIsZero(t *testing.T) {
	s := coretest.NewPCMStream(48000)
	a, err := NewAnalyser(s)
	require.NoError(t, err)
	defer a.Close()

	s.Push(make([]int16, FFTSize))
	require.Zero(t, levelOf(t, a))
}

func TestAnalyserToneRaisesLevel(t *testing.T) {
	s := coretest.NewPCMStream(48000)
	a, err := NewAnalyser(s)
	require.NoError(t, err)
	defer a.Close()

	require.Equal(t, FFTSize/2, a.FrequencyBinCount())
	require.Eventually(t, func() bool {
		s.Push(sine(FFTSize, 1000, 48000))
		l := levelOf(t, a)
		return l > 0 && l <= 1
	}, time.Second, 5*time.Millisecond)
}

func TestAnalyserRequiresPCM(t *testing.T) {
	_, err := NewAnalyser(coretest.NewStream())
	require.ErrorIs(t, err, ErrAnalysisUnavailable)
}

func TestAnalyserCloseUnsubscribes(t *testing.T) {
	s := coretest.NewPCMStream(48000)
	a, err := NewAnalyser(s)
	require.NoError(t, err)
	require.Equal(t, 1, s.Subscribers())

	a.Close()
	a.Close()
	require.Equal(t, 0, s.Subscribers())
}

func TestLevelNormalization(t *testing.T) {
	require.Zero(t, Level(nil))
	require.Equal(t, 1.0, Level([]uint8{255, 255}))
	require.InDelta(t, 0.5, Level([]uint8{255, 0}), 1e-9)
}
