package webrtcxr

import (
	"encoding/json"
	"fmt"

	"github.com/teslashibe/go-xrstream/pkg/cxr"
)

// Signalling message types exchanged with the producer's signalling server.
const (
	sigWelcome        = "welcome"
	sigList           = "list"
	sigStartSession   = "startSession"
	sigSessionStarted = "sessionStarted"
	sigPeer           = "peer"
	sigEndSession     = "endSession"
	sigError          = "error"
)

// signalMessage is the union of every signalling message.
type signalMessage struct {
	Type      string      `json:"type"`
	PeerID    string      `json:"peerId,omitempty"`
	SessionID string      `json:"sessionId,omitempty"`
	Producers []producer  `json:"producers,omitempty"`
	SDP       *sdpPayload `json:"sdp,omitempty"`
	ICE       *icePayload `json:"ice,omitempty"`
	Details   string      `json:"details,omitempty"`
}

type producer struct {
	ID   string            `json:"id"`
	Meta map[string]string `json:"meta"`
}

type sdpPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type icePayload struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// Data channel message types.
const (
	msgDevice    = "device"
	msgTracking  = "tracking"
	msgHaptic    = "haptic"
	msgFramePose = "frame_pose"
	msgState     = "state"
)

// envelope frames every data channel message.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type hapticMessage struct {
	Controller int     `json:"controller"`
	Amplitude  float32 `json:"amplitude"`
	Seconds    float32 `json:"seconds"`
}

type framePoseMessage struct {
	Timestamp uint32       `json:"timestamp"`
	Matrix    cxr.Matrix34 `json:"matrix"`
}

type stateMessage struct {
	State  cxr.ClientState `json:"state"`
	Reason cxr.StateReason `json:"reason"`
}

func encodeMessage(kind string, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", kind, err)
	}
	return json.Marshal(envelope{Type: kind, Data: data})
}

func decodeEnvelope(raw []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return envelope{}, fmt.Errorf("decode message: %w", err)
	}
	if env.Type == "" {
		return envelope{}, fmt.Errorf("decode message: missing type")
	}
	return env, nil
}
