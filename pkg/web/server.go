// Package web serves the streaming client's status dashboard: a REST view of
// the session and a websocket feed of state changes and link statistics.
package web

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-xrstream/pkg/cxr"
	"github.com/teslashibe/go-xrstream/pkg/hub"
	"github.com/teslashibe/go-xrstream/pkg/session"
)

const maxEvents = 100

// StatusSource provides the session snapshot served at /api/status.
type StatusSource interface {
	Status() session.Status
}

// StateEvent is one recorded session state change.
type StateEvent struct {
	Time      time.Time `json:"time"`
	State     string    `json:"state"`
	Reason    string    `json:"reason"`
	SessionID string    `json:"session_id,omitempty"`
}

// Server is the dashboard server. It implements session.Listener.
type Server struct {
	app    *fiber.App
	addr   string
	logger *slog.Logger
	source StatusSource
	now    func() time.Time

	statusHub *hub.Hub

	mu     sync.RWMutex
	events []StateEvent
	link   *cxr.ConnectionStats
}

var _ session.Listener = (*Server)(nil)

// NewServer creates a dashboard listening on addr. A nil logger uses
// slog.Default.
func NewServer(addr string, source StatusSource, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "web")
	s := &Server{
		addr:      addr,
		logger:    logger,
		source:    source,
		now:       time.Now,
		statusHub: hub.New("status", logger),
		events:    make([]StateEvent, 0, maxEvents),
	}

	app := fiber.New(fiber.Config{
		AppName:               "xrclient",
		DisableStartupMessage: true,
	})
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/events", s.handleEvents)
	api.Get("/link", s.handleLink)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/status", websocket.New(s.handleStatusWS))

	s.app = app
	return s
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Hub returns the status broadcast hub.
func (s *Server) Hub() *hub.Hub {
	return s.statusHub
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	go s.statusHub.Run(ctx)
	go func() {
		<-ctx.Done()
		if err := s.app.Shutdown(); err != nil {
			s.logger.Warn("dashboard shutdown failed", "error", err)
		}
	}()

	s.logger.Info("dashboard listening", "addr", s.addr)
	return s.app.Listen(s.addr)
}

// OnSessionState implements session.Listener.
func (s *Server) OnSessionState(state cxr.ClientState, reason cxr.StateReason, sessionID string) {
	ev := StateEvent{
		Time:      s.now(),
		State:     state.String(),
		Reason:    reason.String(),
		SessionID: sessionID,
	}
	s.mu.Lock()
	s.events = append(s.events, ev)
	if len(s.events) > maxEvents {
		s.events = s.events[1:]
	}
	s.mu.Unlock()

	s.broadcast("state", ev)
}

// OnConnectionStats implements session.Listener.
func (s *Server) OnConnectionStats(stats cxr.ConnectionStats) {
	s.mu.Lock()
	s.link = &stats
	s.mu.Unlock()

	s.broadcast("stats", stats)
}

func (s *Server) broadcast(kind string, data any) {
	if err := s.statusHub.BroadcastJSON(hub.Event{Type: kind, Data: data}); err != nil {
		s.logger.Warn("broadcast failed", "type", kind, "error", err)
	}
}

// Events returns the recorded state changes, oldest first.
func (s *Server) Events() []StateEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]StateEvent(nil), s.events...)
}
