package webrtcxr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"

	"github.com/teslashibe/go-xrstream/pkg/audioio"
	"github.com/teslashibe/go-xrstream/pkg/cxr"
)

// errPeerFailed reports that ICE/DTLS never came up after signalling
// succeeded.
var errPeerFailed = errors.New("webrtcxr: peer connection failed")

// Receiver is one streaming session over WebRTC.
type Receiver struct {
	cfg    Config
	desc   cxr.ReceiverDesc
	cb     cxr.Callbacks
	logger *slog.Logger
	frames *mailbox
	stats  linkStats

	mu         sync.Mutex
	conn       cxr.ConnectionDesc
	sig        *signaller
	pc         *webrtc.PeerConnection
	audioOut   *webrtc.TrackLocalStaticRTP
	cancel     context.CancelFunc
	result     chan error
	connecting bool
	streaming  bool
	destroyed  bool
	held       *cxr.FramesLatched

	audioMu  sync.Mutex
	encoder  *audioio.OpusEncoder
	audioSeq uint16
	audioTS  uint32
}

var _ cxr.Receiver = (*Receiver)(nil)

func newReceiver(cfg Config, desc cxr.ReceiverDesc, logger *slog.Logger) *Receiver {
	return &Receiver{
		cfg:    cfg,
		desc:   desc,
		cb:     desc.Callbacks,
		logger: logger,
		frames: newMailbox(int(desc.NumStreams)),
	}
}

// Connect implements cxr.Receiver. With desc.Async the attempt runs in the
// background and its outcome is reported through OnStateChanged.
func (r *Receiver) Connect(address string, desc cxr.ConnectionDesc) error {
	if address == "" {
		return cxr.NewError("connect", cxr.ErrNoAddr)
	}

	r.mu.Lock()
	switch {
	case r.destroyed:
		r.mu.Unlock()
		return cxr.NewError("connect", cxr.ErrReceiverInvalid)
	case r.connecting || r.streaming:
		r.mu.Unlock()
		return cxr.NewError("connect", cxr.ErrConnectionAlreadyInFlight)
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.conn = desc
	r.cancel = cancel
	r.connecting = true
	r.result = make(chan error, 1)
	r.mu.Unlock()
	r.frames.reset()

	url := r.cfg.signalURL(address)
	r.logger.Info("connecting", "url", url, "async", desc.Async, "max_bitrate_kbps", desc.MaxVideoBitrateKbps)

	if desc.Async {
		go func() {
			if err := r.establish(ctx, url); err != nil {
				r.fail(err)
			}
		}()
		return nil
	}
	if err := r.establish(ctx, url); err != nil {
		r.closeTransport()
		return err
	}
	return nil
}

// establish runs signalling and waits for the peer connection to come up.
func (r *Receiver) establish(ctx context.Context, url string) error {
	attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.ConnectTimeout)
	defer cancel()

	sig, err := dialSignaller(attemptCtx, url, r.cfg.HandshakeTimeout)
	if err != nil {
		return connectError(err)
	}
	if !r.adoptSignaller(ctx, sig) {
		sig.close()
		return fmt.Errorf("connect: %w", context.Canceled)
	}

	peerID, err := sig.welcome()
	if err != nil {
		return connectError(err)
	}
	producerID, err := sig.findProducer(r.cfg.ProducerName)
	if err != nil {
		return connectError(err)
	}
	r.logger.Debug("signalling ready", "peer_id", peerID, "producer_id", producerID)

	pc, err := r.newPeerConnection(ctx, sig)
	if err != nil {
		return connectError(err)
	}
	if !r.adoptPeer(ctx, pc) {
		_ = pc.Close()
		return fmt.Errorf("connect: %w", context.Canceled)
	}

	go r.signalLoop(sig, pc)
	if err := sig.startSession(producerID); err != nil {
		return connectError(err)
	}

	r.mu.Lock()
	result := r.result
	r.mu.Unlock()

	select {
	case err := <-result:
		if err != nil {
			return fmt.Errorf("%w: %w", cxr.NewError("connect", cxr.ErrCouldNotConnectToServer), err)
		}
		return nil
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return fmt.Errorf("connect: %w", ctx.Err())
		}
		return fmt.Errorf("%w: %w", cxr.NewError("connect", cxr.ErrTimeout), errPeerFailed)
	}
}

func connectError(err error) error {
	return fmt.Errorf("%w: %w", cxr.NewError("connect", cxr.ErrCouldNotConnectToServer), err)
}

func (r *Receiver) adoptSignaller(ctx context.Context, sig *signaller) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	r.sig = sig
	return true
}

func (r *Receiver) adoptPeer(ctx context.Context, pc *webrtc.PeerConnection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	r.pc = pc
	return true
}

// fail reports a failed background attempt. Attempts cancelled by Destroy or
// by a server-side state change were already accounted for.
func (r *Receiver) fail(err error) {
	r.closeTransport()
	if errors.Is(err, context.Canceled) {
		return
	}
	reason := cxr.ReasonRTSPCannotConnect
	if errors.Is(err, errPeerFailed) {
		reason = cxr.ReasonHolePunchFailed
	}
	r.logger.Warn("connection attempt failed", "error", err, "reason", reason.String())
	r.report(cxr.StateConnectionAttemptFailed, reason)
}

// report delivers a state change unless the receiver was destroyed.
func (r *Receiver) report(state cxr.ClientState, reason cxr.StateReason) {
	r.mu.Lock()
	destroyed := r.destroyed
	r.mu.Unlock()
	if destroyed {
		return
	}
	r.logger.Info("receiver state", "state", state.String(), "reason", reason.String())
	r.cb.OnStateChanged(state, reason)
}

func (r *Receiver) newPeerConnection(ctx context.Context, sig *signaller) (*webrtc.PeerConnection, error) {
	pc, err := webrtc.NewPeerConnection(r.cfg.peerConfig())
	if err != nil {
		return nil, fmt.Errorf("peer connection: %w", err)
	}

	// The offer's video m-lines bind to these in order, so eye i always
	// arrives on eyes[i].
	eyes := make([]*webrtc.RTPReceiver, 0, r.desc.NumStreams)
	for i := 0; i < int(r.desc.NumStreams); i++ {
		tr, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		})
		if err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("video transceiver: %w", err)
		}
		eyes = append(eyes, tr.Receiver())
	}

	dev := r.desc.Device
	switch {
	case dev.SendAudio:
		track, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: cxr.AudioSamplingRate,
			Channels:  cxr.AudioChannelCount,
		}, "audio", "xrclient")
		if err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("audio track: %w", err)
		}
		sender, err := pc.AddTrack(track)
		if err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("audio track: %w", err)
		}
		go drainRTCP(sender)
		r.mu.Lock()
		r.audioOut = track
		r.mu.Unlock()
	case dev.ReceiveAudio:
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("audio transceiver: %w", err)
		}
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, rx *webrtc.RTPReceiver) {
		r.logger.Debug("track", "kind", track.Kind().String(), "codec", track.Codec().MimeType, "id", track.ID())
		switch track.Kind() {
		case webrtc.RTPCodecTypeVideo:
			idx := eyeIndex(eyes, rx)
			if idx < 0 {
				r.logger.Warn("video track on unknown transceiver", "id", track.ID())
				return
			}
			go r.readVideo(track, idx)
		case webrtc.RTPCodecTypeAudio:
			if dev.ReceiveAudio {
				go r.readAudio(track)
			}
		}
	})

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		if err := sig.sendICE(c.ToJSON()); err != nil {
			r.logger.Debug("send candidate failed", "error", err)
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		r.onPeerState(pc, s)
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != channelLabel {
			return
		}
		dc.OnOpen(func() { r.onChannelOpen(ctx, pc, dc) })
		dc.OnMessage(func(msg webrtc.DataChannelMessage) { r.handleData(msg.Data) })
	})

	return pc, nil
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// eyeIndex returns the stream index of the transceiver owning rx, or -1.
func eyeIndex(eyes []*webrtc.RTPReceiver, rx *webrtc.RTPReceiver) int {
	for i, e := range eyes {
		if e == rx {
			return i
		}
	}
	return -1
}

func (r *Receiver) onPeerState(pc *webrtc.PeerConnection, s webrtc.PeerConnectionState) {
	r.logger.Debug("peer connection state", "state", s.String())

	r.mu.Lock()
	if r.pc != pc || r.destroyed {
		r.mu.Unlock()
		return
	}
	switch s {
	case webrtc.PeerConnectionStateConnected:
		if r.streaming {
			r.mu.Unlock()
			return
		}
		r.streaming = true
		r.connecting = false
		notify(r.result, nil)
		r.mu.Unlock()
		r.report(cxr.StateStreamingSessionInProgress, cxr.ReasonNoError)

	case webrtc.PeerConnectionStateFailed:
		wasStreaming := r.streaming
		notify(r.result, errPeerFailed)
		r.mu.Unlock()
		if wasStreaming {
			r.closeTransport()
			r.report(cxr.StateDisconnected, cxr.ReasonDisconnectedUnexpected)
		}

	default:
		r.mu.Unlock()
	}
}

func notify(ch chan error, err error) {
	select {
	case ch <- err:
	default:
	}
}

func (r *Receiver) signalLoop(sig *signaller, pc *webrtc.PeerConnection) {
	err := sig.run(func(msg signalMessage) { r.handleSignal(sig, pc, msg) })
	if err != nil {
		r.logger.Debug("signalling closed", "error", err)
	}
}

func (r *Receiver) handleSignal(sig *signaller, pc *webrtc.PeerConnection, msg signalMessage) {
	switch msg.Type {
	case sigSessionStarted:
		r.logger.Debug("session started", "signal_session", msg.SessionID)

	case sigPeer:
		if msg.SDP != nil {
			r.answer(sig, pc, *msg.SDP)
		}
		if msg.ICE != nil {
			if err := pc.AddICECandidate(webrtc.ICECandidateInit{
				Candidate:     msg.ICE.Candidate,
				SDPMid:        msg.ICE.SDPMid,
				SDPMLineIndex: msg.ICE.SDPMLineIndex,
			}); err != nil {
				r.logger.Debug("add candidate failed", "error", err)
			}
		}

	case sigEndSession:
		if r.current(pc) {
			r.closeTransport()
			r.report(cxr.StateDisconnected, cxr.ReasonDisconnectedExpected)
		}

	case sigError:
		r.logger.Warn("signalling error", "details", msg.Details)
	}
}

func (r *Receiver) answer(sig *signaller, pc *webrtc.PeerConnection, sdp sdpPayload) {
	if sdp.Type != webrtc.SDPTypeOffer.String() {
		r.logger.Debug("ignoring sdp", "type", sdp.Type)
		return
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp.SDP}); err != nil {
		r.logger.Warn("set remote description failed", "error", err)
		return
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		r.logger.Warn("create answer failed", "error", err)
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		r.logger.Warn("set local description failed", "error", err)
		return
	}
	if err := sig.sendSDP(answer); err != nil {
		r.logger.Warn("send answer failed", "error", err)
	}
}

func (r *Receiver) current(pc *webrtc.PeerConnection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pc == pc && !r.destroyed
}

// onChannelOpen sends the device description and starts the pose uplink.
func (r *Receiver) onChannelOpen(ctx context.Context, pc *webrtc.PeerConnection, dc *webrtc.DataChannel) {
	if !r.current(pc) {
		return
	}
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()

	data, err := encodeMessage(msgDevice, deviceMessage{
		Device:              r.desc.Device,
		NumStreams:          r.desc.NumStreams,
		MaxVideoBitrateKbps: conn.MaxVideoBitrateKbps,
		ClientNetwork:       conn.ClientNetwork,
		Topology:            conn.Topology,
	})
	if err != nil {
		r.logger.Warn("encode device failed", "error", err)
		return
	}
	if err := dc.Send(data); err != nil {
		r.logger.Warn("send device failed", "error", err)
		return
	}
	go r.poseLoop(ctx, dc)
}

// posePeriod is the uplink interval: PosePollFreq, else the display rate.
func (r *Receiver) posePeriod() time.Duration {
	freq := r.desc.Device.PosePollFreq
	if freq == 0 {
		freq = uint32(r.desc.Device.FPS)
	}
	if freq == 0 {
		freq = 90
	}
	return time.Second / time.Duration(freq)
}

func (r *Receiver) poseLoop(ctx context.Context, dc *webrtc.DataChannel) {
	ticker := time.NewTicker(r.posePeriod())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			data, err := encodeMessage(msgTracking, r.cb.GetTrackingState())
			if err != nil {
				r.logger.Warn("encode tracking failed", "error", err)
				continue
			}
			if err := dc.Send(data); err != nil {
				r.logger.Debug("pose uplink stopped", "error", err)
				return
			}
		}
	}
}

// handleData dispatches one data channel message from the server.
func (r *Receiver) handleData(raw []byte) {
	env, err := decodeEnvelope(raw)
	if err != nil {
		r.logger.Debug("bad data message", "error", err)
		return
	}

	switch env.Type {
	case msgHaptic:
		var h hapticMessage
		if err := json.Unmarshal(env.Data, &h); err != nil {
			r.logger.Debug("bad haptic message", "error", err)
			return
		}
		r.cb.TriggerHaptic(cxr.HapticFeedback{
			ControllerIndex: h.Controller,
			Amplitude:       h.Amplitude,
			Seconds:         h.Seconds,
		})

	case msgFramePose:
		var p framePoseMessage
		if err := json.Unmarshal(env.Data, &p); err != nil {
			r.logger.Debug("bad frame pose message", "error", err)
			return
		}
		r.frames.putPose(p.Timestamp, p.Matrix)

	case msgState:
		var s stateMessage
		if err := json.Unmarshal(env.Data, &s); err != nil {
			r.logger.Debug("bad state message", "error", err)
			return
		}
		r.serverState(s)

	default:
		r.logger.Debug("unknown data message", "type", env.Type)
	}
}

// serverState applies a state change announced by the server. Terminal
// states close the transport first so a pending attempt does not report a
// second failure.
func (r *Receiver) serverState(s stateMessage) {
	switch s.State {
	case cxr.StateConnectionAttemptFailed, cxr.StateDisconnected, cxr.StateExiting:
		r.closeTransport()
	}
	r.report(s.State, s.Reason)
}

// LatchFrame implements cxr.Receiver.
func (r *Receiver) LatchFrame(mask uint32, timeout time.Duration) (*cxr.FramesLatched, error) {
	r.mu.Lock()
	if r.held != nil {
		r.mu.Unlock()
		return nil, cxr.NewError("latch", cxr.ErrFrameNotReleased)
	}
	if !r.streaming {
		r.mu.Unlock()
		return nil, cxr.NewError("latch", cxr.ErrReceiverNotRunning)
	}
	r.mu.Unlock()

	start := time.Now()
	frames, err := r.frames.take(mask, timeout)
	if err != nil {
		return nil, err
	}
	r.stats.latchedFrame(time.Since(start))

	r.mu.Lock()
	r.held = frames
	r.mu.Unlock()
	return frames, nil
}

// BlitFrame implements cxr.Receiver. Frames carry encoded payloads; decoding
// is up to the surface. A masked eye that was not latched is not drawn and
// fails with ErrFrameInvalid so the caller can fill it.
func (r *Receiver) BlitFrame(frames *cxr.FramesLatched, mask uint32, target cxr.Surface) error {
	r.mu.Lock()
	held := r.held
	r.mu.Unlock()
	if frames == nil || frames != held {
		return cxr.NewError("blit", cxr.ErrFrameNotLatched)
	}
	var missing error
	for i := 0; i < int(frames.Count) && i < cxr.MaxVideoStreams; i++ {
		if mask&(1<<uint(i)) == 0 {
			continue
		}
		if frames.Frames[i].Payload == nil {
			if missing == nil {
				missing = fmt.Errorf("eye %d: %w", i, cxr.NewError("blit", cxr.ErrFrameInvalid))
			}
			continue
		}
		if err := target.Draw(i, frames.Frames[i]); err != nil {
			return fmt.Errorf("webrtcxr: draw eye %d: %w", i, err)
		}
	}
	return missing
}

// ReleaseFrame implements cxr.Receiver.
func (r *Receiver) ReleaseFrame(frames *cxr.FramesLatched) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if frames == nil || frames != r.held {
		return cxr.NewError("release", cxr.ErrFrameNotLatched)
	}
	r.held = nil
	return nil
}

// closeTransport tears down signalling and the peer connection and wakes any
// pending latch. The receiver can connect again afterwards.
func (r *Receiver) closeTransport() {
	r.mu.Lock()
	sig, pc, cancel := r.sig, r.pc, r.cancel
	r.sig, r.pc, r.cancel, r.audioOut = nil, nil, nil, nil
	r.connecting = false
	r.streaming = false
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sig != nil {
		sig.close()
	}
	if pc != nil {
		if err := pc.Close(); err != nil {
			r.logger.Debug("peer close failed", "error", err)
		}
	}
	r.frames.close()

	r.audioMu.Lock()
	r.encoder = nil
	r.audioMu.Unlock()
}

// Destroy implements cxr.Receiver.
func (r *Receiver) Destroy() {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return
	}
	r.destroyed = true
	r.held = nil
	r.mu.Unlock()

	r.closeTransport()
	r.logger.Debug("receiver destroyed")
}

// deviceMessage is the first message on the data channel.
type deviceMessage struct {
	Device              cxr.DeviceDesc `json:"device"`
	NumStreams          uint32         `json:"num_streams"`
	MaxVideoBitrateKbps uint32         `json:"max_video_bitrate_kbps,omitempty"`
	ClientNetwork       string         `json:"client_network,omitempty"`
	Topology            string         `json:"topology,omitempty"`
}
