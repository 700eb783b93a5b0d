package device

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
)

func nextFrame(t *testing.T, mock *clock.Mock, frames <-chan []int16) []int16 {
	t.Helper()
	var got []int16
	require.Eventually(t, func() bool {
		mock.Add(frameDuration)
		select {
		case got = <-frames:
			return true
		default:
			return false
		}
	}, time.Second, time.Millisecond)
	return got
}

func TestToneDeviceProducesFrames(t *testing.T) {
	mock := clock.NewMock()
	d := NewToneDevice(DefaultConfig(), mock)

	s, err := d.GetAudioStream(context.Background(), core.VoiceConstraints())
	require.NoError(t, err)
	pcm, ok := s.(core.PCMStream)
	require.True(t, ok)
	require.Equal(t, 48000, pcm.SampleRate())

	frames, cancel := pcm.Subscribe(4)
	defer cancel()

	f := nextFrame(t, mock, frames)
	require.Len(t, f, 960)
	var peak int16
	for _, v := range f {
		if v > peak {
			peak = v
		}
	}
	require.Greater(t, peak, int16(1000))

	s.AudioTracks()[0].SetEnabled(false)
	require.Eventually(t, func() bool {
		for _, v := range nextFrame(t, mock, frames) {
			if v != 0 {
				return false
			}
		}
		return true
	}, time.Second, time.Millisecond)
}

func TestToneDeviceStopClosesSubscribers(t *testing.T) {
	mock := clock.NewMock()
	s, err := NewToneDevice(DefaultConfig(), mock).GetAudioStream(context.Background(), core.VoiceConstraints())
	require.NoError(t, err)
	frames, cancel := s.(core.PCMStream).Subscribe(1)

	tr := s.AudioTracks()[0]
	tr.Stop()
	tr.Stop()
	require.True(t, tr.Stopped())

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-frames:
			return !ok
		default:
			return false
		}
	}, time.Second, time.Millisecond)
	cancel()
}

func TestToneDeviceFailures(t *testing.T) {
	for name, tc := range map[string]struct {
		mutate func(*Config)
		c      core.AudioConstraints
		cause  domain.MediaCause
	}{
		"denied":       {mutate: func(c *Config) { c.Allow = false }, c: core.VoiceConstraints(), cause: domain.CausePermissionDenied},
		"no device":    {mutate: func(c *Config) { c.Kind = KindNone }, c: core.VoiceConstraints(), cause: domain.CauseDeviceNotFound},
		"bad rate":     {mutate: func(*Config) {}, c: core.AudioConstraints{SampleRate: 44100, ChannelCount: 1}, cause: domain.CauseConstraintsUnsatisfiable},
		"stereo":       {mutate: func(*Config) {}, c: core.AudioConstraints{SampleRate: 48000, ChannelCount: 2}, cause: domain.CauseConstraintsUnsatisfiable},
		"unknown kind": {mutate: func(c *Config) { c.Kind = "usb" }, c: core.VoiceConstraints(), cause: domain.CauseDeviceError},
	} {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			_, err := NewToneDevice(cfg, clock.NewMock()).GetAudioStream(context.Background(), tc.c)
			var me *domain.MediaError
			require.ErrorAs(t, err, &me)
			require.Equal(t, tc.cause, me.Cause)
		})
	}
}
