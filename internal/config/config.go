// Package config loads the streaming client configuration from the
// environment. Command-line flags in cmd/xrclient override it.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Service modes.
const (
	ModeMock   = "mock"
	ModeWebRTC = "webrtc"
)

// Log formats.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Client holds every tunable of the streaming client.
type Client struct {
	// Connection
	ServerAddress       string        `env:"XR_SERVER"`
	AutoReconnect       bool          `env:"XR_AUTO_RECONNECT"`
	ConnectAsync        bool          `env:"XR_CONNECT_ASYNC"`
	MaxVideoBitrateKbps uint32        `env:"XR_MAX_VIDEO_BITRATE_KBPS"`
	ClientNetwork       string        `env:"XR_CLIENT_NETWORK"`
	Topology            string        `env:"XR_TOPOLOGY"`
	ReconnectDelay      time.Duration `env:"XR_RECONNECT_DELAY"`
	MaxReconnectDelay   time.Duration `env:"XR_MAX_RECONNECT_DELAY"`

	// Video
	Foveation       uint32        `env:"XR_FOVEATION"`
	LatchTimeout    time.Duration `env:"XR_LATCH_TIMEOUT"`
	BackgroundColor uint32        `env:"XR_BACKGROUND_ARGB"`

	// Receiver
	DebugFlags    uint32 `env:"XR_DEBUG_FLAGS"`
	LogMaxSizeKB  int32  `env:"XR_RECEIVER_LOG_MAX_KB"`
	LogMaxAgeDays int32  `env:"XR_RECEIVER_LOG_MAX_DAYS"`

	// Audio
	ReceiveAudio bool   `env:"XR_RECEIVE_AUDIO"`
	SendAudio    bool   `env:"XR_SEND_AUDIO"`
	AudioBackend string `env:"XR_AUDIO_BACKEND"`
	AudioDevice  string `env:"XR_AUDIO_DEVICE"`

	// Tracking
	HeightOffset   float32 `env:"XR_HEIGHT_OFFSET"`
	ControllerTilt float32 `env:"XR_CONTROLLER_TILT"`

	// Host
	Mode          string        `env:"XR_MODE"`
	SignalURL     string        `env:"XR_SIGNAL_URL"`
	DashboardAddr string        `env:"XR_DASHBOARD_ADDR"`
	StatsInterval time.Duration `env:"XR_STATS_INTERVAL"`
	LogLevel      string        `env:"XR_LOG_LEVEL"`
	LogFormat     string        `env:"XR_LOG_FORMAT"`
}

// DefaultClient returns the configuration used when nothing is set.
func DefaultClient() Client {
	return Client{
		AutoReconnect:     true,
		ConnectAsync:      true,
		MaxReconnectDelay: 30 * time.Second,
		LatchTimeout:      500 * time.Millisecond,
		BackgroundColor:   0xFF000000,
		LogMaxSizeKB:      -1,
		LogMaxAgeDays:     -1,
		ReceiveAudio:      true,
		AudioBackend:      "auto",
		HeightOffset:      1.7,
		ControllerTilt:    0.45,
		Mode:              ModeMock,
		StatsInterval:     time.Second,
		LogLevel:          "info",
		LogFormat:         LogFormatText,
	}
}

// Load returns DefaultClient overridden by any XR_* variables present in the
// environment.
func Load() (Client, error) {
	cfg := DefaultClient()
	if err := ParseEnv(&cfg); err != nil {
		return Client{}, err
	}
	return cfg, nil
}

// ParseEnv fills target from environment variables. Fields whose variable
// is unset keep their current value.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate checks value ranges. An empty server address is not an error here;
// the session reports it when a receiver is created.
func (c Client) Validate() error {
	var errs []error
	if c.LatchTimeout <= 0 {
		errs = append(errs, errors.New("latch timeout must be positive"))
	}
	if c.ReconnectDelay < 0 || c.MaxReconnectDelay < 0 {
		errs = append(errs, errors.New("reconnect delays must not be negative"))
	}
	if c.MaxReconnectDelay > 0 && c.ReconnectDelay > c.MaxReconnectDelay {
		errs = append(errs, fmt.Errorf("reconnect delay %v exceeds max %v", c.ReconnectDelay, c.MaxReconnectDelay))
	}
	if c.StatsInterval < 0 {
		errs = append(errs, errors.New("stats interval must not be negative"))
	}
	switch c.Mode {
	case ModeMock, ModeWebRTC:
	default:
		errs = append(errs, fmt.Errorf("unknown mode %q", c.Mode))
	}
	switch c.LogFormat {
	case LogFormatText, LogFormatJSON:
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
