package audioio

import "time"

// AudioChunk is a block of interleaved PCM16 samples.
type AudioChunk struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// ChunkFromBytes decodes little-endian PCM16 bytes.
func ChunkFromBytes(data []byte, sampleRate, channels int) AudioChunk {
	return AudioChunk{
		Samples:    BytesToSamples(data),
		SampleRate: sampleRate,
		Channels:   channels,
	}
}

// Bytes returns the chunk as little-endian PCM16 bytes.
func (c AudioChunk) Bytes() []byte {
	return SamplesToBytes(c.Samples)
}

// Frames returns the number of per-channel sample frames.
func (c AudioChunk) Frames() int {
	if c.Channels == 0 {
		return 0
	}
	return len(c.Samples) / c.Channels
}

// Duration returns the playback length of the chunk.
func (c AudioChunk) Duration() time.Duration {
	if c.SampleRate == 0 {
		return 0
	}
	return time.Duration(c.Frames()) * time.Second / time.Duration(c.SampleRate)
}

// Convert returns the chunk at the given rate and channel count.
func (c AudioChunk) Convert(sampleRate, channels int) AudioChunk {
	samples := c.Samples
	switch {
	case c.Channels == 2 && channels == 1:
		samples = StereoToMono(samples)
	case c.Channels == 1 && channels == 2:
		samples = MonoToStereo(samples)
	}

	if c.SampleRate != sampleRate && c.SampleRate > 0 {
		if channels == 2 {
			l, r := Deinterleave(samples)
			samples = Interleave(Resample(l, c.SampleRate, sampleRate), Resample(r, c.SampleRate, sampleRate))
		} else {
			samples = Resample(samples, c.SampleRate, sampleRate)
		}
	}
	return AudioChunk{Samples: samples, SampleRate: sampleRate, Channels: channels}
}
