// Package audioio is the PCM byte-stream service behind a streaming session:
// a playback Sink for server audio and a capture Source for the microphone.
//
// Backends:
//   - ALSA (Linux) - aplay/arecord pipes
//   - Mock - CI/Testing without hardware
//
// Streams default to the boundary format, 48 kHz interleaved stereo PCM16.
package audioio

import (
	"fmt"
	"time"
)

// Backend represents the audio backend type.
type Backend string

const (
	// BackendAuto selects ALSA on Linux and the mock elsewhere.
	BackendAuto Backend = "auto"
	// BackendALSA pipes raw PCM through aplay/arecord.
	BackendALSA Backend = "alsa"
	// BackendMock uses a mock implementation for testing.
	BackendMock Backend = "mock"
)

// Config holds audio configuration.
type Config struct {
	// Backend specifies which audio backend to use.
	Backend Backend `json:"backend"`

	// SampleRate is the audio sample rate in Hz.
	// Default: 48000 (boundary format)
	SampleRate int `json:"sample_rate"`

	// Channels is the number of interleaved channels.
	// Default: 2
	Channels int `json:"channels"`

	// BufferDuration is the length of one capture chunk.
	// Default: 5ms, one boundary audio frame
	BufferDuration time.Duration `json:"buffer_duration"`

	// Latency is the device buffer requested from the backend.
	Latency time.Duration `json:"latency"`

	// Device is the platform-specific device identifier.
	// Examples:
	//   - ALSA: "default", "plughw:1,0"
	//   - Mock: ignored
	Device string `json:"device"`
}

// DefaultConfig returns the boundary audio format.
func DefaultConfig() Config {
	return Config{
		Backend:        BackendAuto,
		SampleRate:     48000,
		Channels:       2,
		BufferDuration: 5 * time.Millisecond,
		Latency:        40 * time.Millisecond,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 || c.Channels > 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", c.Channels)
	}
	if c.BufferDuration <= 0 {
		return fmt.Errorf("buffer_duration must be positive, got %v", c.BufferDuration)
	}
	return nil
}

// BufferSize returns the number of sample frames per buffer.
func (c *Config) BufferSize() int {
	return int(float64(c.SampleRate) * c.BufferDuration.Seconds())
}

// BufferBytes returns the size of a buffer in bytes.
func (c *Config) BufferBytes() int {
	return c.BufferSize() * c.Channels * 2
}

// BytesPerMs returns the byte rate of the stream per millisecond.
func (c *Config) BytesPerMs() int {
	return c.SampleRate * c.Channels * 2 / 1000
}
