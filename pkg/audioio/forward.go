package audioio

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// SendFunc receives converted capture audio as PCM16 bytes.
type SendFunc func(pcm []byte) error

// Forwarder pumps a Source into a SendFunc, converting every chunk to the
// target rate and channel count on the way.
type Forwarder struct {
	src        Source
	send       SendFunc
	sampleRate int
	channels   int
	logger     *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	sent   atomic.Int64
	failed atomic.Int64
}

// NewForwarder creates a forwarder delivering sampleRate/channels audio.
func NewForwarder(src Source, send SendFunc, sampleRate, channels int, logger *slog.Logger) *Forwarder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Forwarder{
		src:        src,
		send:       send,
		sampleRate: sampleRate,
		channels:   channels,
		logger:     logger,
	}
}

// Start starts the source and the pump goroutine.
func (f *Forwarder) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		return nil
	}

	if err := f.src.Start(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.done = make(chan struct{})
	go f.pump(ctx, f.src.Stream(), f.done)
	return nil
}

func (f *Forwarder) pump(ctx context.Context, in <-chan AudioChunk, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-in:
			if !ok {
				return
			}
			out := chunk.Convert(f.sampleRate, f.channels)
			if err := f.send(out.Bytes()); err != nil {
				// Log the first failure of a run only.
				if f.failed.Add(1) == 1 {
					f.logger.Warn("audio forward failed", "error", err)
				}
				continue
			}
			f.sent.Add(1)
		}
	}
}

// Stop halts the pump and stops the source. It is safe to call repeatedly.
func (f *Forwarder) Stop() error {
	f.mu.Lock()
	cancel, done := f.cancel, f.done
	f.cancel = nil
	f.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return f.src.Stop()
}

// Close stops the forwarder and closes the source.
func (f *Forwarder) Close() error {
	_ = f.Stop()
	return f.src.Close()
}

// Sent returns the number of chunks delivered.
func (f *Forwarder) Sent() int64 {
	return f.sent.Load()
}
