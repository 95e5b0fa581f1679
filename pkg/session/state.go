package session

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/teslashibe/go-xrstream/pkg/audioio"
	"github.com/teslashibe/go-xrstream/pkg/cxr"
)

// CreateSession opens the audio streams and creates a receiver. It is a
// no-op when a receiver already exists.
func (c *Client) CreateSession() error {
	if c.HasReceiver() {
		return nil
	}
	if c.cfg.ServerAddress == "" {
		c.logger.Error("cannot create receiver", "error", ErrNoAddress, "code", cxr.ErrNoAddr, "category", CategoryConfiguration)
		return ErrNoAddress
	}

	desc := c.deviceDesc()
	if err := c.openAudio(desc); err != nil {
		c.closeAudio()
		c.logger.Error("audio setup failed", "error", err, "category", CategoryResource)
		return err
	}

	id := uuid.NewString()
	c.logger.Info("creating receiver", "server", c.cfg.ServerAddress, "session_id", id)
	r, err := c.svc.CreateReceiver(cxr.ReceiverDesc{
		SessionID:     id,
		Device:        desc,
		Callbacks:     c,
		NumStreams:    numStreams,
		DebugFlags:    c.cfg.DebugFlags,
		LogMaxSizeKB:  c.cfg.LogMaxSizeKB,
		LogMaxAgeDays: c.cfg.LogMaxAgeDays,
	})
	if err != nil {
		c.closeAudio()
		c.logger.Error("failed to create receiver", "error", err, "code", uint32(cxr.CodeOf(err)))
		return err
	}

	c.mu.Lock()
	c.receiver = r
	c.session = id
	c.mu.Unlock()
	c.logger.Info("receiver created", "session_id", id)
	return nil
}

// deviceDesc describes the headset to the server.
func (c *Client) deviceDesc() cxr.DeviceDesc {
	d := c.dev.Descriptor()
	desc := cxr.DeviceDesc{
		DeliveryType: cxr.DeliveryStereoRGB,
		Width:        d.Width,
		Height:       d.Height,
		MaxResFactor: 1.0,
		FPS:          d.RefreshHz,
		IPD:          d.IPD,
		PredOffset:   predOffset,
		ReceiveAudio: c.cfg.ReceiveAudio && d.ReceiveAudio,
		SendAudio:    c.cfg.SendAudio && d.SendAudio,
		CtrlType:     cxr.ControllerOculusTouch,
		Chaperone: cxr.Chaperone{
			Universe: cxr.UniverseStanding,
			Origin:   cxr.Identity34(),
			PlayArea: cxr.Vector2{V: [2]float32{playAreaMeters, playAreaMeters}},
		},
	}
	for eye := range desc.Proj {
		desc.Proj[eye] = d.Fov[eye].Extents()
	}
	// Out-of-range foveation disables it.
	if f := c.cfg.Foveation; f > 0 && f < 100 {
		desc.FoveatedScaleFactor = f
	}
	return desc
}

func (c *Client) audioConfig() audioio.Config {
	acfg := audioio.DefaultConfig()
	acfg.SampleRate = cxr.AudioSamplingRate
	acfg.Channels = cxr.AudioChannelCount
	if c.cfg.AudioBackend != "" {
		acfg.Backend = audioio.Backend(c.cfg.AudioBackend)
	}
	acfg.Device = c.cfg.AudioDevice
	return acfg
}

func (c *Client) openAudio(desc cxr.DeviceDesc) error {
	acfg := c.audioConfig()
	ctx := context.Background()

	if desc.ReceiveAudio {
		sink, err := c.newSink(acfg, c.logger)
		if err != nil {
			return fmt.Errorf("%w: open playback: %w", ErrAudio, err)
		}
		if err := sink.Start(ctx); err != nil {
			_ = sink.Close()
			return fmt.Errorf("%w: start playback: %w", ErrAudio, err)
		}
		c.mu.Lock()
		c.sink = sink
		c.mu.Unlock()
	}

	if desc.SendAudio {
		src, err := c.newSource(acfg, c.logger)
		if err != nil {
			return fmt.Errorf("%w: open capture: %w", ErrAudio, err)
		}
		fwd := audioio.NewForwarder(src, c.sendAudio, cxr.AudioSamplingRate, cxr.AudioChannelCount, c.logger)
		if err := fwd.Start(ctx); err != nil {
			_ = src.Close()
			return fmt.Errorf("%w: start capture: %w", ErrAudio, err)
		}
		c.source = src
		c.forwarder = fwd
	}
	return nil
}

func (c *Client) closeAudio() {
	if c.forwarder != nil {
		if err := c.forwarder.Close(); err != nil {
			c.logger.Debug("capture close", "error", err)
		}
		c.forwarder = nil
		c.source = nil
	}

	c.mu.Lock()
	sink := c.sink
	c.sink = nil
	c.mu.Unlock()
	if sink != nil {
		_ = sink.Stop()
		if err := sink.Close(); err != nil {
			c.logger.Debug("playback close", "error", err)
		}
	}
}

// sendAudio forwards one block of captured audio to the current receiver.
func (c *Client) sendAudio(pcm []byte) error {
	r := c.currentReceiver()
	if r == nil {
		return ErrNoReceiver
	}
	return r.SendAudio(cxr.AudioFrame{Buffer: pcm})
}

// Connect starts a connection to the configured server. In async mode the
// state moves to ConnectionAttemptInProgress and OnStateChanged reports the
// outcome. In sync mode a failure tears the receiver down.
func (c *Client) Connect() error {
	r := c.currentReceiver()
	if r == nil {
		return ErrNoReceiver
	}

	desc := cxr.ConnectionDesc{
		Async:               c.cfg.ConnectAsync,
		MaxVideoBitrateKbps: c.cfg.MaxVideoBitrateKbps,
		ClientNetwork:       c.cfg.ClientNetwork,
		Topology:            c.cfg.Topology,
	}
	if desc.Async {
		// Set before calling out so an immediate callback is not overwritten.
		c.setState(cxr.StateConnectionAttemptInProgress, cxr.ReasonNoError)
	}

	err := r.Connect(c.cfg.ServerAddress, desc)
	if desc.Async {
		if err != nil {
			c.logger.Warn("connection attempt rejected", "server", c.cfg.ServerAddress, "error", err, "code", uint32(cxr.CodeOf(err)))
			c.setState(cxr.StateConnectionAttemptFailed, cxr.ReasonNoError)
		}
		return err
	}

	if err != nil {
		c.logger.Error("failed to connect", "server", c.cfg.ServerAddress, "error", err, "code", uint32(cxr.CodeOf(err)))
		c.Teardown()
		return err
	}
	c.setState(cxr.StateStreamingSessionInProgress, cxr.ReasonNoError)
	c.logger.Info("connected", "server", c.cfg.ServerAddress)
	return nil
}

// OnStateChanged implements cxr.Callbacks. It only records the transition.
func (c *Client) OnStateChanged(state cxr.ClientState, reason cxr.StateReason) {
	switch state {
	case cxr.StateConnectionAttemptFailed:
		c.logger.Warn("connection attempt failed", "reason", reason)
	case cxr.StateDisconnected:
		c.logger.Warn("server disconnected", "reason", reason)
	case cxr.StateStreamingSessionInProgress:
		c.logger.Info("connection succeeded")
	default:
		c.logger.Debug("client state updated", "state", state, "reason", reason)
	}
	c.setState(state, reason)
}

// Tick advances the reconnect policy. Call it once per control-loop
// iteration.
func (c *Client) Tick() {
	defer c.publish()
	c.dispatchHaptic()

	c.mu.Lock()
	state, reason := c.state, c.reason
	c.mu.Unlock()

	switch state {
	case cxr.StateExiting:
		return

	case cxr.StateConnectionAttemptInProgress:
		c.ticks++
		if c.ticks%heartbeatTicks == 0 {
			c.logger.Info("waiting for server connection", "server", c.cfg.ServerAddress, "ticks", c.ticks)
		}

	case cxr.StateStreamingSessionInProgress:
		c.ticks = 0
		c.pacer.reset()
		c.pollStats()

	case cxr.StateConnectionAttemptFailed:
		if !c.cfg.AutoReconnect || !reason.Retryable() {
			c.logger.Warn("giving up on connection", "reason", reason, "auto_reconnect", c.cfg.AutoReconnect)
			c.setState(cxr.StateDisconnected, reason)
			state = cxr.StateDisconnected
		} else if !c.HasReceiver() {
			// A failed sync connect already tore the receiver down.
			c.setState(cxr.StateDisconnected, reason)
			state = cxr.StateDisconnected
		} else if c.pacer.ready(c.now()) {
			delay := c.pacer.attempt(c.now())
			c.logger.Info("retrying connection", "reason", reason, "next_delay", delay)
			if err := c.Connect(); err != nil {
				c.logger.Debug("retry failed", "error", err)
			}
		}
	}

	if state != cxr.StateDisconnected {
		return
	}
	// Version, codec and feature mismatches end the session even with
	// auto-reconnect on.
	if !c.cfg.AutoReconnect || !reason.Retryable() {
		c.setState(cxr.StateExiting, reason)
		c.logger.Info("session exiting", "reason", reason)
		return
	}
	if !c.pacer.ready(c.now()) {
		return
	}
	c.recreate(reason)
}

// recreate replaces the receiver with a fresh one and reconnects. A failure
// leaves the session Disconnected with reason so the next paced Tick tries
// again, unless the error can never clear.
func (c *Client) recreate(reason cxr.StateReason) {
	c.counters.recreations.Add(1)
	delay := c.pacer.attempt(c.now())
	c.logger.Info("recreating receiver", "reason", reason, "next_delay", delay)

	c.Teardown()
	c.setState(cxr.StateReadyToConnect, cxr.ReasonNoError)
	if err := c.CreateSession(); err != nil {
		c.recreateFailed(err, reason)
		return
	}
	if err := c.Connect(); err != nil {
		c.logger.Warn("reconnect failed", "error", err, "next_delay", delay)
		if !c.cfg.ConnectAsync {
			// A failed sync connect already tore the receiver down.
			c.recreateFailed(err, reason)
		}
	}
}

func (c *Client) recreateFailed(err error, reason cxr.StateReason) {
	switch Classify(err) {
	case CategoryConfiguration, CategoryNonRetryable:
		c.logger.Error("cannot recreate receiver", "error", err, "category", Classify(err))
		c.setState(cxr.StateExiting, reason)
	default:
		c.setState(cxr.StateDisconnected, reason)
	}
}

// Teardown releases everything CreateSession acquired. It is idempotent.
func (c *Client) Teardown() {
	if c.held != nil {
		_ = c.Release()
	}
	c.closeAudio()

	c.mu.Lock()
	r := c.receiver
	c.receiver = nil
	c.session = ""
	c.link = cxr.ConnectionStats{}
	c.mu.Unlock()

	if r != nil {
		c.logger.Info("destroying receiver")
		r.Destroy()
	}
	c.held = nil
	c.ticks = 0
	c.tracker.Reset()
	c.haptic.clear()
}

// Start creates a receiver and connects.
func (c *Client) Start() error {
	if err := c.CreateSession(); err != nil {
		return err
	}
	return c.Connect()
}

// Stop tears the session down.
func (c *Client) Stop() {
	c.Teardown()
}

// SetPaused records the host's pause state. HandleStateChanges acts on it.
func (c *Client) SetPaused(paused bool) {
	c.paused = paused
}

// HandleStateChanges starts the session on resume and stops it on pause.
// runtimeRunning reports whether the headset runtime is up; a resume is
// retried on the next call while it is not.
func (c *Client) HandleStateChanges(runtimeRunning bool) {
	if c.paused == c.wasPaused {
		return
	}
	defer c.publish()

	state := c.State()
	if !c.paused && state != cxr.StateExiting {
		if !runtimeRunning {
			return
		}
		if err := c.Start(); err != nil {
			c.logger.Warn("start failed", "error", err, "category", Classify(err))
		}
	} else {
		c.Stop()
		if state != cxr.StateExiting {
			c.setState(cxr.StateReadyToConnect, cxr.ReasonNoError)
		}
	}
	c.wasPaused = c.paused
}
