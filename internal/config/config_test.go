package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	r, err := Load()
	require.NoError(t, err)

	require.Equal(t, 12*time.Second, r.ConnectTimeout)
	require.Equal(t, 10, r.ReconnectAttempts)
}

func TestRealtimeConfigDetection(t *testing.T) {
	require.False(t, Runtime{}.HasRealtimeConfig())
	require.True(t, Runtime{SocketURL: "ws://host:3000"}.HasRealtimeConfig())
	require.True(t, Runtime{APIBaseURL: "http://host:3000"}.HasRealtimeConfig())
}

func TestEndpointFallbacks(t *testing.T) {
	require.Equal(t, DefaultSocketURL, Runtime{}.SocketURLOrDefault())
	require.Equal(t, "ws://host:9", Runtime{SocketURL: "ws://host:9"}.SocketURLOrDefault())
	require.Equal(t, DefaultAPIBaseURL, Runtime{}.APIBaseURLOrDefault())
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("CALLROOM_SOCKET_URL", "ws://signaling:3000")
	t.Setenv("CALLROOM_ENABLE_REALTIME", "true")
	t.Setenv("CALLROOM_CONNECT_TIMEOUT", "3s")

	r, err := Load()
	require.NoError(t, err)
	require.Equal(t, "ws://signaling:3000", r.SocketURL)
	require.True(t, r.EnableRealtime)
	require.Equal(t, 3*time.Second, r.ConnectTimeout)
}
