package device

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProbeSecureContext(t *testing.T) {
	for raw, secure := range map[string]bool{
		"wss://broker.example.org/api/ws/signal": true,
		"https://broker.example.org":             true,
		"ws://localhost:8080":                    true,
		"ws://127.0.0.1:8080":                    true,
		"ws://[::1]:8080":                        true,
		"ws://broker.example.org":                false,
		"::not a url":                            false,
	} {
		require.Equal(t, secure, NewProbe(raw).IsSecureContext(), raw)
	}
}

func TestProbeSupportsRealtimeMedia(t *testing.T) {
	require.True(t, NewProbe("ws://localhost").SupportsRealtimeMedia())
}
