// Package session drives one streaming client: the connection state machine,
// the per-tick frame latch/blit/release exchange, and the callbacks the
// boundary invokes for tracking, haptics, audio and state changes.
//
// All methods except the cxr.Callbacks implementation belong to the single
// render/control goroutine.
package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-xrstream/internal/config"
	"github.com/teslashibe/go-xrstream/pkg/audioio"
	"github.com/teslashibe/go-xrstream/pkg/cxr"
	"github.com/teslashibe/go-xrstream/pkg/device"
	"github.com/teslashibe/go-xrstream/pkg/tracking"
)

// heartbeatTicks is how often a pending async connection is logged.
const heartbeatTicks = 60

// Receiver descriptor constants.
const (
	numStreams     = 2
	predOffset     = -0.02
	playAreaMeters = 1.5
)

// SinkFactory opens a playback stream.
type SinkFactory func(cfg audioio.Config, logger *slog.Logger) (audioio.Sink, error)

// SourceFactory opens a capture stream.
type SourceFactory func(cfg audioio.Config, logger *slog.Logger) (audioio.Source, error)

// Client is a streaming session.
type Client struct {
	cfg       config.Client
	svc       cxr.Service
	dev       device.Adapter
	tracker   *tracking.Aggregator
	logger    *slog.Logger
	newSink   SinkFactory
	newSource SourceFactory
	now       func() time.Time

	// Written by boundary goroutines, read by the control loop.
	mu       sync.Mutex
	state    cxr.ClientState
	reason   cxr.StateReason
	receiver cxr.Receiver
	session  string
	sink     audioio.Sink
	link     cxr.ConnectionStats

	haptic hapticSlot

	// Control loop only.
	forwarder *audioio.Forwarder
	source    audioio.Source
	held      *cxr.FramesLatched
	ticks     int
	paused    bool
	wasPaused bool
	pacer     pacer
	lastStats time.Time
	published published

	counters  counters
	listeners []Listener
}

// Listener observes state changes and connection statistics. It is called
// from the control loop and must not block.
type Listener interface {
	OnSessionState(state cxr.ClientState, reason cxr.StateReason, sessionID string)
	OnConnectionStats(stats cxr.ConnectionStats)
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTracker replaces the default tracking aggregator.
func WithTracker(a *tracking.Aggregator) Option {
	return func(c *Client) {
		c.tracker = a
	}
}

// WithAudio replaces the audio stream factories.
func WithAudio(sink SinkFactory, source SourceFactory) Option {
	return func(c *Client) {
		if sink != nil {
			c.newSink = sink
		}
		if source != nil {
			c.newSource = source
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// WithListener registers l for state and statistics updates.
func WithListener(l Listener) Option {
	return func(c *Client) {
		c.listeners = append(c.listeners, l)
	}
}

// New creates a session in ReadyToConnect. Nothing is opened until
// CreateSession.
func New(cfg config.Client, svc cxr.Service, dev device.Adapter, opts ...Option) *Client {
	c := &Client{
		cfg:       cfg,
		svc:       svc,
		dev:       dev,
		logger:    slog.Default(),
		newSink:   audioio.NewSink,
		newSource: audioio.NewSource,
		now:       time.Now,
		state:     cxr.StateReadyToConnect,
		paused:    true,
		wasPaused: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tracker == nil {
		tc := tracking.DefaultConfig()
		tc.HeightOffset = cfg.HeightOffset
		tc.ControllerTilt = cfg.ControllerTilt
		c.tracker = tracking.New(tc, tracking.WithSource(dev), tracking.WithLogger(c.logger))
	}
	c.haptic.clear()
	c.pacer = newPacer(cfg.ReconnectDelay, cfg.MaxReconnectDelay)
	c.tracker.SetIPD(dev.Descriptor().IPD)
	return c
}

// Tracker returns the aggregator behind GetTrackingState.
func (c *Client) Tracker() *tracking.Aggregator {
	return c.tracker
}

// State returns the current client state.
func (c *Client) State() cxr.ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Reason returns the reason delivered with the current state.
func (c *Client) Reason() cxr.StateReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Exiting reports whether the session has reached its terminal state.
func (c *Client) Exiting() bool {
	return c.State() == cxr.StateExiting
}

// SessionID returns the id of the current receiver, empty without one.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// HasReceiver reports whether a receiver handle is held.
func (c *Client) HasReceiver() bool {
	return c.currentReceiver() != nil
}

func (c *Client) currentReceiver() cxr.Receiver {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.receiver
}

// setState records a transition. Exiting is terminal.
func (c *Client) setState(state cxr.ClientState, reason cxr.StateReason) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == cxr.StateExiting {
		return
	}
	c.state = state
	c.reason = reason
}

type published struct {
	state   cxr.ClientState
	reason  cxr.StateReason
	session string
	valid   bool
}

// publish tells listeners about a state that differs from the last one they
// saw. Transitions made on boundary goroutines surface on the next call.
func (c *Client) publish() {
	c.mu.Lock()
	cur := published{state: c.state, reason: c.reason, session: c.session, valid: true}
	c.mu.Unlock()

	if cur == c.published {
		return
	}
	c.published = cur
	for _, l := range c.listeners {
		l.OnSessionState(cur.state, cur.reason, cur.session)
	}
}
