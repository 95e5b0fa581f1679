//go:build linux

package audioio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
)

// alsaArgs builds the shared aplay/arecord arguments for raw PCM16.
func alsaArgs(cfg Config, device string) []string {
	args := []string{
		"-q", "-t", "raw", "-f", "S16_LE",
		"-r", strconv.Itoa(cfg.SampleRate),
		"-c", strconv.Itoa(cfg.Channels),
		"-D", device,
	}
	if cfg.Latency > 0 {
		args = append(args, "--buffer-time="+strconv.FormatInt(cfg.Latency.Microseconds(), 10))
	}
	return args
}

func alsaDevice(cfg Config) string {
	if cfg.Device == "" {
		return "default"
	}
	return cfg.Device
}

// ALSASource captures audio by reading raw PCM from arecord.
type ALSASource struct {
	cfg    Config
	logger *slog.Logger
	device string

	mu       sync.Mutex
	running  bool
	closed   bool
	cmd      *exec.Cmd
	streamCh chan AudioChunk
	done     chan struct{}

	chunksRead  atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64
}

func newALSASource(cfg Config, logger *slog.Logger) (Source, error) {
	if _, err := exec.LookPath("arecord"); err != nil {
		return nil, fmt.Errorf("alsa source: %w", err)
	}
	return &ALSASource{
		cfg:      cfg,
		logger:   logger,
		device:   alsaDevice(cfg),
		streamCh: make(chan AudioChunk, 10),
	}, nil
}

// Start launches arecord and begins delivering chunks.
func (s *ALSASource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	cmd := exec.Command("arecord", alsaArgs(s.cfg, s.device)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("alsa source: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("alsa source: start arecord: %w", err)
	}

	s.cmd = cmd
	s.running = true
	s.streamCh = make(chan AudioChunk, 10)
	s.done = make(chan struct{})

	go s.captureLoop(ctx, stdout, s.streamCh, s.done)

	s.logger.Info("ALSA audio source started", "device", s.device)
	return nil
}

func (s *ALSASource) captureLoop(ctx context.Context, r io.Reader, out chan AudioChunk, done chan struct{}) {
	defer close(done)
	defer close(out)

	buf := make([]byte, s.cfg.BufferBytes())
	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			if ctx.Err() == nil {
				s.logger.Debug("ALSA source: capture ended", "error", err)
			}
			return
		}
		chunk := ChunkFromBytes(buf, s.cfg.SampleRate, s.cfg.Channels)
		select {
		case out <- chunk:
			s.chunksRead.Add(1)
			s.samplesRead.Add(int64(len(chunk.Samples)))
		case <-ctx.Done():
			return
		default:
			s.overruns.Add(1)
		}
	}
}

// Stop kills arecord and waits for the capture loop to exit.
func (s *ALSASource) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cmd, done := s.cmd, s.done
	s.cmd = nil
	s.mu.Unlock()

	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	_ = cmd.Wait()
	<-done

	s.logger.Info("ALSA audio source stopped")
	return nil
}

// Read reads the next audio chunk.
func (s *ALSASource) Read(ctx context.Context) (AudioChunk, error) {
	ch := s.Stream()
	select {
	case <-ctx.Done():
		return AudioChunk{}, ctx.Err()
	case chunk, ok := <-ch:
		if !ok {
			return AudioChunk{}, io.EOF
		}
		return chunk, nil
	}
}

// Stream returns the audio chunk channel.
func (s *ALSASource) Stream() <-chan AudioChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamCh
}

// Config returns the audio configuration.
func (s *ALSASource) Config() Config { return s.cfg }

// Name returns "alsa".
func (s *ALSASource) Name() string { return "alsa" }

// Close stops capture for good.
func (s *ALSASource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return s.Stop()
}

// Stats returns source statistics.
func (s *ALSASource) Stats() SourceStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	return SourceStats{
		ChunksRead:  s.chunksRead.Load(),
		SamplesRead: s.samplesRead.Load(),
		Overruns:    s.overruns.Load(),
		Running:     running,
		Backend:     "alsa",
	}
}

var _ SourceWithStats = (*ALSASource)(nil)

// ALSASink plays audio by writing raw PCM into aplay.
type ALSASink struct {
	cfg    Config
	logger *slog.Logger
	device string

	mu      sync.Mutex
	running bool
	closed  bool
	cmd     *exec.Cmd
	queue   chan []byte
	done    chan struct{}

	chunksWritten  atomic.Int64
	samplesWritten atomic.Int64
	dropped        atomic.Int64
}

func newALSASink(cfg Config, logger *slog.Logger) (Sink, error) {
	if _, err := exec.LookPath("aplay"); err != nil {
		return nil, fmt.Errorf("alsa sink: %w", err)
	}
	return &ALSASink{
		cfg:    cfg,
		logger: logger,
		device: alsaDevice(cfg),
	}, nil
}

// Start launches aplay.
func (s *ALSASink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	cmd := exec.Command("aplay", alsaArgs(s.cfg, s.device)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("alsa sink: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("alsa sink: start aplay: %w", err)
	}

	s.cmd = cmd
	s.running = true
	s.queue = make(chan []byte, 32)
	s.done = make(chan struct{})

	go s.playLoop(stdin, s.queue, s.done)

	s.logger.Info("ALSA audio sink started", "device", s.device)
	return nil
}

func (s *ALSASink) playLoop(w io.WriteCloser, queue <-chan []byte, done chan struct{}) {
	defer close(done)
	defer w.Close()

	for data := range queue {
		if _, err := w.Write(data); err != nil {
			s.logger.Debug("ALSA sink: playback ended", "error", err)
			for range queue {
			}
			return
		}
	}
}

// Stop closes aplay's input and waits for it to exit.
func (s *ALSASink) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cmd, queue, done := s.cmd, s.queue, s.done
	s.cmd = nil
	close(queue)
	s.mu.Unlock()

	<-done
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	_ = cmd.Wait()

	s.logger.Info("ALSA audio sink stopped")
	return nil
}

// Write queues a chunk for playback, giving up when ctx is done.
func (s *ALSASink) Write(ctx context.Context, chunk AudioChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if !s.running {
		return ErrNotRunning
	}

	select {
	case s.queue <- chunk.Bytes():
		s.chunksWritten.Add(1)
		s.samplesWritten.Add(int64(len(chunk.Samples)))
		return nil
	case <-ctx.Done():
		s.dropped.Add(1)
		return ctx.Err()
	}
}

// Clear drops queued audio that has not reached aplay yet.
func (s *ALSASink) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	for {
		select {
		case <-s.queue:
		default:
			return nil
		}
	}
}

// Config returns the audio configuration.
func (s *ALSASink) Config() Config { return s.cfg }

// Name returns "alsa".
func (s *ALSASink) Name() string { return "alsa" }

// Close stops playback for good.
func (s *ALSASink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return s.Stop()
}

// Stats returns sink statistics.
func (s *ALSASink) Stats() SinkStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	return SinkStats{
		ChunksWritten:  s.chunksWritten.Load(),
		SamplesWritten: s.samplesWritten.Load(),
		Dropped:        s.dropped.Load(),
		Running:        running,
		Backend:        "alsa",
	}
}

var _ SinkWithStats = (*ALSASink)(nil)
