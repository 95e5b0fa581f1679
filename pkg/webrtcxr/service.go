// Package webrtcxr is a cxr.Service that streams from a remote renderer over
// WebRTC.
//
// The server is reached through a websocket signalling server that lists
// producers. Each eye arrives as its own video track and is assembled from RTP
// into access units. Server audio arrives as opus, and microphone audio goes
// back the same way. A data channel labelled "xr" carries the device
// description and pose uplink to the server. In the other direction it carries
// haptic requests, per-frame render poses and server-side state changes.
package webrtcxr

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pion/webrtc/v3"

	"github.com/teslashibe/go-xrstream/pkg/cxr"
)

const (
	// DefaultSignalPort is the signalling port used when only a host is given.
	DefaultSignalPort = 8443

	channelLabel    = "xr"
	opusPayloadType = 111
	audioFrame      = 20 * time.Millisecond
)

// Config configures the WebRTC transport.
type Config struct {
	// SignalURL overrides the signalling endpoint. When empty it is derived
	// from the server address as ws://<address>:8443.
	SignalURL string

	// ProducerName selects the producer by its "name" meta entry. Empty takes
	// the first producer listed.
	ProducerName string

	// ICEServers are STUN/TURN URLs.
	ICEServers []string

	HandshakeTimeout time.Duration
	ConnectTimeout   time.Duration

	// AudioBitrate is the opus bitrate for microphone audio in bits/s.
	AudioBitrate int
}

// DefaultConfig returns the transport defaults.
func DefaultConfig() Config {
	return Config{
		ProducerName:     "cloudxr",
		HandshakeTimeout: 10 * time.Second,
		ConnectTimeout:   15 * time.Second,
		AudioBitrate:     64000,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("webrtcxr: handshake timeout must be positive")
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("webrtcxr: connect timeout must be positive")
	}
	if c.AudioBitrate < 0 {
		return fmt.Errorf("webrtcxr: audio bitrate must not be negative")
	}
	return nil
}

func (c Config) signalURL(address string) string {
	if c.SignalURL != "" {
		return c.SignalURL
	}
	if strings.Contains(address, "://") {
		return address
	}
	if strings.Contains(address, ":") {
		return "ws://" + address
	}
	return fmt.Sprintf("ws://%s:%d", address, DefaultSignalPort)
}

func (c Config) peerConfig() webrtc.Configuration {
	var conf webrtc.Configuration
	if len(c.ICEServers) > 0 {
		conf.ICEServers = []webrtc.ICEServer{{URLs: c.ICEServers}}
	}
	return conf
}

// Service creates WebRTC receivers.
type Service struct {
	cfg    Config
	logger *slog.Logger
}

// NewService creates a service. A nil logger uses slog.Default.
func NewService(cfg Config, logger *slog.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{cfg: cfg, logger: logger.With("component", "webrtcxr")}, nil
}

// CreateReceiver implements cxr.Service.
func (s *Service) CreateReceiver(desc cxr.ReceiverDesc) (cxr.Receiver, error) {
	if desc.Callbacks == nil {
		return nil, cxr.NewError("create", cxr.ErrNoReceiverDesc)
	}
	if desc.NumStreams == 0 || desc.NumStreams > cxr.MaxVideoStreams {
		return nil, cxr.NewError("create", cxr.ErrInvalidStreamCount)
	}
	if desc.Device.Width == 0 || desc.Device.Height == 0 {
		return nil, cxr.NewError("create", cxr.ErrParameterInvalid)
	}
	logger := s.logger
	if desc.SessionID != "" {
		logger = logger.With("session_id", desc.SessionID)
	}
	logger.Debug("receiver created",
		"streams", desc.NumStreams,
		"width", desc.Device.Width,
		"height", desc.Device.Height,
		"fps", desc.Device.FPS)
	return newReceiver(s.cfg, desc, logger), nil
}

func isH264(mimeType string) bool {
	return strings.EqualFold(mimeType, webrtc.MimeTypeH264)
}
