package webrtcxr

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSignal is a minimal signalling server: it welcomes every peer, answers
// list requests and acknowledges startSession.
type fakeSignal struct {
	srv       *httptest.Server
	producers []producer
	received  chan signalMessage
}

func newFakeSignal(t *testing.T, producers ...producer) *fakeSignal {
	t.Helper()
	f := &fakeSignal{producers: producers, received: make(chan signalMessage, 64)}
	upgrader := websocket.Upgrader{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if err := conn.WriteJSON(signalMessage{Type: sigWelcome, PeerID: "consumer-1"}); err != nil {
			return
		}
		for {
			var msg signalMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			select {
			case f.received <- msg:
			default:
			}
			switch msg.Type {
			case sigList:
				_ = conn.WriteJSON(signalMessage{Type: sigList, Producers: f.producers})
			case sigStartSession:
				_ = conn.WriteJSON(signalMessage{Type: sigSessionStarted, PeerID: msg.PeerID, SessionID: "session-1"})
			}
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeSignal) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

// next waits for the next message the server received.
func (f *fakeSignal) next(t *testing.T) signalMessage {
	t.Helper()
	select {
	case msg := <-f.received:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no signalling message received")
		return signalMessage{}
	}
}

func dialFake(t *testing.T, f *fakeSignal) *signaller {
	t.Helper()
	sig, err := dialSignaller(context.Background(), f.url(), time.Second)
	require.NoError(t, err)
	t.Cleanup(sig.close)
	return sig
}

func TestSignaller_Handshake(t *testing.T) {
	f := newFakeSignal(t,
		producer{ID: "p-other", Meta: map[string]string{"name": "camera"}},
		producer{ID: "p-xr", Meta: map[string]string{"name": "cloudxr"}},
	)
	sig := dialFake(t, f)

	peerID, err := sig.welcome()
	require.NoError(t, err)
	assert.Equal(t, "consumer-1", peerID)

	id, err := sig.findProducer("cloudxr")
	require.NoError(t, err)
	assert.Equal(t, "p-xr", id)
	assert.Equal(t, sigList, f.next(t).Type)

	require.NoError(t, sig.startSession(id))
	start := f.next(t)
	assert.Equal(t, sigStartSession, start.Type)
	assert.Equal(t, "p-xr", start.PeerID)
}

func TestSignaller_FindProducer(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		wantID  string
		wantErr bool
	}{
		{name: "first when unnamed", want: "", wantID: "p1"},
		{name: "by meta name", want: "b", wantID: "p2"},
		{name: "missing", want: "nope", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeSignal(t,
				producer{ID: "p1", Meta: map[string]string{"name": "a"}},
				producer{ID: "p2", Meta: map[string]string{"name": "b"}},
			)
			sig := dialFake(t, f)
			_, err := sig.welcome()
			require.NoError(t, err)

			id, err := sig.findProducer(tt.want)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrProducerNotFound)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, id)
		})
	}
}

func TestSignaller_CandidatesNeedSession(t *testing.T) {
	f := newFakeSignal(t, producer{ID: "p1"})
	sig := dialFake(t, f)
	_, err := sig.welcome()
	require.NoError(t, err)

	mid := "0"
	idx := uint16(0)
	cand := webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 10.0.0.2 5000 typ host", SDPMid: &mid, SDPMLineIndex: &idx}

	require.NoError(t, sig.sendICE(cand), "dropped silently before the session starts")

	require.NoError(t, sig.startSession("p1"))
	assert.Equal(t, sigStartSession, f.next(t).Type)

	started := make(chan string, 1)
	go func() {
		_ = sig.run(func(msg signalMessage) {
			if msg.Type == sigSessionStarted {
				started <- msg.SessionID
			}
		})
	}()
	select {
	case id := <-started:
		assert.Equal(t, "session-1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("sessionStarted not dispatched")
	}
	assert.Equal(t, "session-1", sig.session())

	require.NoError(t, sig.sendICE(cand))
	msg := f.next(t)
	assert.Equal(t, sigPeer, msg.Type)
	assert.Equal(t, "session-1", msg.SessionID)
	require.NotNil(t, msg.ICE)
	assert.Equal(t, cand.Candidate, msg.ICE.Candidate)
	require.NotNil(t, msg.ICE.SDPMid)
	assert.Equal(t, "0", *msg.ICE.SDPMid)
}

func TestSignaller_RunReturnsNilAfterClose(t *testing.T) {
	f := newFakeSignal(t)
	sig := dialFake(t, f)
	_, err := sig.welcome()
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- sig.run(func(signalMessage) {}) }()
	sig.close()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return")
	}
}

func TestSignaller_WelcomeWrongType(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(signalMessage{Type: sigError, Details: "busy"})
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	sig, err := dialSignaller(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), time.Second)
	require.NoError(t, err)
	defer sig.close()

	_, err = sig.welcome()
	assert.ErrorContains(t, err, "expected")
}
