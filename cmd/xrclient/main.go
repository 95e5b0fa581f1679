// xrclient streams a remotely rendered XR session into a simulated headset.
// It runs the session state machine against either the in-memory mock
// boundary or a WebRTC streaming server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/teslashibe/go-xrstream/internal/config"
	"github.com/teslashibe/go-xrstream/internal/log"
	"github.com/teslashibe/go-xrstream/pkg/cxr"
	"github.com/teslashibe/go-xrstream/pkg/device"
	"github.com/teslashibe/go-xrstream/pkg/session"
	"github.com/teslashibe/go-xrstream/pkg/web"
	"github.com/teslashibe/go-xrstream/pkg/webrtcxr"
)

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "xrclient: %v\n", err)
		os.Exit(2)
	}
	log.Init(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		log.Error("xrclient failed", "error", err)
		os.Exit(1)
	}
}

// parseFlags loads the environment configuration and applies any flags on top.
func parseFlags() (config.Client, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Client{}, err
	}

	server := flag.String("server", cfg.ServerAddress, "Streaming server address (overrides XR_SERVER)")
	mode := flag.String("mode", cfg.Mode, "Boundary: mock or webrtc")
	signalURL := flag.String("signal", cfg.SignalURL, "WebRTC signalling URL, empty derives ws://<server>:8443")
	dashboard := flag.String("dashboard", cfg.DashboardAddr, "Status dashboard listen address, empty to disable")
	async := flag.Bool("async", cfg.ConnectAsync, "Connect asynchronously")
	reconnect := flag.Bool("reconnect", cfg.AutoReconnect, "Reconnect after an unexpected disconnect")
	level := flag.String("log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	format := flag.String("log-format", cfg.LogFormat, "Log format: text or json")
	debug := flag.Bool("debug", false, "Shorthand for -log-level debug")
	flag.Parse()

	cfg.ServerAddress, cfg.Mode, cfg.SignalURL = *server, *mode, *signalURL
	cfg.DashboardAddr, cfg.ConnectAsync, cfg.AutoReconnect = *dashboard, *async, *reconnect
	cfg.LogLevel, cfg.LogFormat = *level, *format
	if *debug {
		cfg.LogLevel = "debug"
	}
	if cfg.Mode == config.ModeMock && cfg.ServerAddress == "" {
		cfg.ServerAddress = "mock"
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, cfg config.Client) error {
	logger := log.L()

	svc, err := newService(cfg, logger)
	if err != nil {
		return err
	}

	dev := device.NewSimulated(device.DefaultDescriptor())
	if cfg.DashboardAddr == "" {
		client := session.New(cfg, svc, dev, session.WithLogger(logger))
		return renderLoop(ctx, client, dev.Descriptor().RefreshHz, logger)
	}

	// The dashboard listens to the session and reads its status back.
	var client *session.Client
	dash := web.NewServer(cfg.DashboardAddr, statusFunc(func() session.Status { return client.Status() }), logger)
	client = session.New(cfg, svc, dev, session.WithLogger(logger), session.WithListener(dash))
	go func() {
		if err := dash.Run(ctx); err != nil {
			logger.Error("dashboard stopped", "error", err)
		}
	}()
	return renderLoop(ctx, client, dev.Descriptor().RefreshHz, logger)
}

type statusFunc func() session.Status

func (f statusFunc) Status() session.Status { return f() }

func newService(cfg config.Client, logger *slog.Logger) (cxr.Service, error) {
	switch cfg.Mode {
	case config.ModeWebRTC:
		wc := webrtcxr.DefaultConfig()
		wc.SignalURL = cfg.SignalURL
		return webrtcxr.NewService(wc, logger)
	default:
		svc := cxr.NewMockService()
		svc.Configure = func(r *cxr.MockReceiver) {
			r.SetAutoFrames(true)
			r.OnConnect = func(r *cxr.MockReceiver, desc cxr.ConnectionDesc) {
				if desc.Async {
					r.EmitState(cxr.StateStreamingSessionInProgress, cxr.ReasonNoError)
				}
			}
		}
		return svc, nil
	}
}

// renderLoop drives the session at the headset refresh rate until ctx ends or
// the session exits.
func renderLoop(ctx context.Context, client *session.Client, refreshHz float32, logger *slog.Logger) error {
	if refreshHz <= 0 {
		refreshHz = 90
	}
	ticker := time.NewTicker(time.Duration(float64(time.Second) / float64(refreshHz)))
	defer ticker.Stop()

	surface := &countingSurface{}
	client.SetPaused(false)
	defer client.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down", "frames", surface.draws.Load(), "fills", surface.clears.Load())
			return nil
		case <-ticker.C:
		}

		client.HandleStateChanges(true)
		client.Tick()
		if client.Exiting() {
			reason := client.Reason()
			if reason == cxr.ReasonNoError || reason == cxr.ReasonDisconnectedExpected {
				return nil
			}
			return fmt.Errorf("session exited: %s", reason)
		}

		res := client.RenderFrame(surface)
		if res.Valid {
			if err := client.Release(); err != nil {
				logger.Warn("release failed", "error", err)
			}
		}
	}
}

// countingSurface stands in for the headset swapchain.
type countingSurface struct {
	clears atomic.Int64
	draws  atomic.Int64
}

func (s *countingSurface) Clear(r, g, b, a float32) {
	s.clears.Add(1)
}

func (s *countingSurface) Draw(eye int, frame cxr.VideoFrame) error {
	s.draws.Add(1)
	return nil
}
