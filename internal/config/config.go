// Package config loads runtime settings from the environment.
package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Defaults used when the environment carries no realtime endpoints.
const (
	DefaultAPIBaseURL = "http://localhost:3000"
	DefaultSocketURL  = "ws://localhost:3000"
)

// Runtime holds the environment-driven settings, prefixed CALLROOM_.
type Runtime struct {
	APIBaseURL        string        `envconfig:"API_BASE_URL"`
	SocketURL         string        `envconfig:"SOCKET_URL"`
	EnableRealtime    bool          `envconfig:"ENABLE_REALTIME"`
	ConnectTimeout    time.Duration `envconfig:"CONNECT_TIMEOUT" default:"12s"`
	ReconnectAttempts int           `envconfig:"RECONNECT_ATTEMPTS" default:"10"`
}

// Load reads the runtime config from the environment.
func Load() (Runtime, error) {
	var r Runtime
	if err := envconfig.Process("callroom", &r); err != nil {
		return Runtime{}, err
	}
	return r, nil
}

// HasRealtimeConfig reports whether any realtime endpoint was configured.
// Without one the session never attempts a real connection and runs in
// simulation mode.
func (r Runtime) HasRealtimeConfig() bool {
	return r.SocketURL != "" || r.APIBaseURL != ""
}

// SocketURLOrDefault returns the signaling endpoint.
func (r Runtime) SocketURLOrDefault() string {
	if r.SocketURL != "" {
		return r.SocketURL
	}
	return DefaultSocketURL
}

// APIBaseURLOrDefault returns the REST endpoint.
func (r Runtime) APIBaseURLOrDefault() string {
	if r.APIBaseURL != "" {
		return r.APIBaseURL
	}
	return DefaultAPIBaseURL
}
