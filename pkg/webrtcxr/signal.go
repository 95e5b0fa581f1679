package webrtcxr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
)

// ErrProducerNotFound is returned when the signalling server lists no
// matching producer.
var ErrProducerNotFound = errors.New("webrtcxr: producer not found")

// signaller speaks the producer/consumer signalling protocol over a websocket.
type signaller struct {
	conn    *websocket.Conn
	timeout time.Duration

	wmu sync.Mutex // serializes writes

	mu        sync.Mutex
	peerID    string
	sessionID string
	closed    bool
}

func dialSignaller(ctx context.Context, url string, timeout time.Duration) (*signaller, error) {
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("signalling dial %s: %w", url, err)
	}
	return &signaller{conn: conn, timeout: timeout}, nil
}

// read waits for one message. A zero wait blocks indefinitely.
func (s *signaller) read(wait time.Duration) (signalMessage, error) {
	if wait > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(wait))
		defer func() { _ = s.conn.SetReadDeadline(time.Time{}) }()
	}
	_, raw, err := s.conn.ReadMessage()
	if err != nil {
		return signalMessage{}, err
	}
	var msg signalMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return signalMessage{}, fmt.Errorf("signalling decode: %w", err)
	}
	return msg, nil
}

func (s *signaller) send(msg signalMessage) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.timeout))
	return s.conn.WriteJSON(msg)
}

// welcome waits for the server to assign our peer id.
func (s *signaller) welcome() (string, error) {
	msg, err := s.read(s.timeout)
	if err != nil {
		return "", fmt.Errorf("welcome: %w", err)
	}
	if msg.Type != sigWelcome {
		return "", fmt.Errorf("welcome: expected %q, got %q", sigWelcome, msg.Type)
	}
	s.mu.Lock()
	s.peerID = msg.PeerID
	s.mu.Unlock()
	return msg.PeerID, nil
}

// findProducer lists producers and returns the id of the one whose meta name
// matches. An empty name takes the first producer.
func (s *signaller) findProducer(name string) (string, error) {
	if err := s.send(signalMessage{Type: sigList}); err != nil {
		return "", fmt.Errorf("list producers: %w", err)
	}
	msg, err := s.read(s.timeout)
	if err != nil {
		return "", fmt.Errorf("list producers: %w", err)
	}
	for _, p := range msg.Producers {
		if name == "" || p.Meta["name"] == name {
			return p.ID, nil
		}
	}
	return "", fmt.Errorf("%w: %q not among %d producers", ErrProducerNotFound, name, len(msg.Producers))
}

func (s *signaller) startSession(producerID string) error {
	return s.send(signalMessage{Type: sigStartSession, PeerID: producerID})
}

func (s *signaller) setSession(id string) {
	s.mu.Lock()
	s.sessionID = id
	s.mu.Unlock()
}

func (s *signaller) session() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func (s *signaller) sendSDP(desc webrtc.SessionDescription) error {
	return s.send(signalMessage{
		Type:      sigPeer,
		SessionID: s.session(),
		SDP:       &sdpPayload{Type: desc.Type.String(), SDP: desc.SDP},
	})
}

// sendICE forwards a local candidate. Candidates gathered before the session
// starts have nowhere to go and are dropped.
func (s *signaller) sendICE(c webrtc.ICECandidateInit) error {
	id := s.session()
	if id == "" {
		return nil
	}
	return s.send(signalMessage{
		Type:      sigPeer,
		SessionID: id,
		ICE: &icePayload{
			Candidate:     c.Candidate,
			SDPMid:        c.SDPMid,
			SDPMLineIndex: c.SDPMLineIndex,
		},
	})
}

// run dispatches messages to handle until the connection closes. It returns
// nil when close was called.
func (s *signaller) run(handle func(signalMessage)) error {
	for {
		msg, err := s.read(0)
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			return err
		}
		if msg.Type == sigSessionStarted {
			s.setSession(msg.SessionID)
		}
		handle(msg)
	}
}

func (s *signaller) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.wmu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.wmu.Unlock()
	_ = s.conn.Close()
}
