package rtc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodePCMUDownsamples(t *testing.T) {
	frame := make([]int16, 960)
	for i := range frame {
		frame[i] = 8000
	}
	payload := EncodePCMU(frame, 48000, false)
	require.Len(t, payload, 160)

	decoded := DecodePCMU(payload)
	for _, s := range decoded {
		require.InDelta(t, 8000, s, 400)
	}
}

func TestEncodePCMUMutedIsSilence(t *testing.T) {
	frame := []int16{12000, -12000, 3000, 4000}
	for _, s := range DecodePCMU(EncodePCMU(frame, PCMURate, true)) {
		require.InDelta(t, 0, s, 8)
	}
}

func TestWebRTCConfigDefaults(t *testing.T) {
	cfg := WebRTCConfig(nil)
	require.Len(t, cfg.ICEServers, 1)
	require.Equal(t, DefaultICEServers(), cfg.ICEServers[0].URLs)

	cfg = WebRTCConfig([]string{"stun:example.org:3478"})
	require.Equal(t, []string{"stun:example.org:3478"}, cfg.ICEServers[0].URLs)
}
