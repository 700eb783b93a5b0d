package core

import (
	"context"
)

// AudioConstraints describes the requested capture.
type AudioConstraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
	SampleRate       int
	ChannelCount     int
}

// VoiceConstraints is an audio-only capture tuned for speech.
func VoiceConstraints() AudioConstraints {
	return AudioConstraints{
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
		SampleRate:       48000,
		ChannelCount:     1,
	}
}

// MediaDevice grants capture streams. Failures are *domain.MediaError.
type MediaDevice interface {
	GetAudioStream(ctx context.Context, c AudioConstraints) (MediaStream, error)
}

type AudioTrack interface {
	ID() string
	Enabled() bool
	// SetEnabled toggles the track without stopping it; a disabled track sends silence.
	SetEnabled(enabled bool)
	// Stop releases the underlying device. Stopping twice is a no-op.
	Stop()
	Stopped() bool
}

type MediaStream interface {
	ID() string
	AudioTracks() []AudioTrack
}

// PCMStream is a MediaStream that exposes its captured samples.
// Frames are mono signed 16-bit PCM at SampleRate.
type PCMStream interface {
	MediaStream
	SampleRate() int
	Subscribe(buffer int) (frames <-chan []int16, cancel func())
}

// RemoteStream is the media received from the remote side of a call.
type RemoteStream interface {
	ID() string
}

// PlaybackSink is the single audio output.
type PlaybackSink interface {
	Play(remote RemoteStream) error
	Clear()
}
