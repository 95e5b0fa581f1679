package audioio

import (
	"fmt"
	"time"

	"gopkg.in/hraban/opus.v2"
)

// maxOpusFrame is 120ms at 48kHz per channel, the largest opus frame.
const maxOpusFrame = 5760

// OpusDecoder turns opus packets into PCM chunks.
type OpusDecoder struct {
	dec        *opus.Decoder
	sampleRate int
	channels   int
	buf        []int16
}

// NewOpusDecoder creates a decoder producing sampleRate/channels audio.
func NewOpusDecoder(sampleRate, channels int) (*OpusDecoder, error) {
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("opus decoder: %w", err)
	}
	return &OpusDecoder{
		dec:        dec,
		sampleRate: sampleRate,
		channels:   channels,
		buf:        make([]int16, maxOpusFrame*channels),
	}, nil
}

// Decode decodes one packet. The returned chunk owns its samples.
func (d *OpusDecoder) Decode(packet []byte) (AudioChunk, error) {
	n, err := d.dec.Decode(packet, d.buf)
	if err != nil {
		return AudioChunk{}, fmt.Errorf("opus decode: %w", err)
	}
	samples := make([]int16, n*d.channels)
	copy(samples, d.buf[:n*d.channels])
	return AudioChunk{Samples: samples, SampleRate: d.sampleRate, Channels: d.channels}, nil
}

// OpusEncoder turns PCM into opus packets of a fixed frame length.
type OpusEncoder struct {
	enc        *opus.Encoder
	sampleRate int
	channels   int
	frame      int // samples per channel per packet
	pending    []int16
	out        []byte
}

// NewOpusEncoder creates a VoIP encoder. frame must be a legal opus frame
// length (2.5, 5, 10, 20, 40 or 60 ms).
func NewOpusEncoder(sampleRate, channels int, frame time.Duration, bitrate int) (*OpusEncoder, error) {
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("opus encoder: %w", err)
	}
	if bitrate > 0 {
		if err := enc.SetBitrate(bitrate); err != nil {
			return nil, fmt.Errorf("opus bitrate: %w", err)
		}
	}
	return &OpusEncoder{
		enc:        enc,
		sampleRate: sampleRate,
		channels:   channels,
		frame:      int(int64(sampleRate) * int64(frame) / int64(time.Second)),
		out:        make([]byte, 4000),
	}, nil
}

// FrameDuration returns the audio length carried by one packet.
func (e *OpusEncoder) FrameDuration() time.Duration {
	return time.Duration(e.frame) * time.Second / time.Duration(e.sampleRate)
}

// Encode buffers pcm and returns every complete packet it produced.
func (e *OpusEncoder) Encode(pcm []int16) ([][]byte, error) {
	e.pending = append(e.pending, pcm...)
	step := e.frame * e.channels

	var packets [][]byte
	for len(e.pending) >= step {
		n, err := e.enc.Encode(e.pending[:step], e.out)
		if err != nil {
			return packets, fmt.Errorf("opus encode: %w", err)
		}
		pkt := make([]byte, n)
		copy(pkt, e.out[:n])
		packets = append(packets, pkt)
		e.pending = e.pending[step:]
	}
	// Compact so the backing array does not grow without bound.
	e.pending = append([]int16(nil), e.pending...)
	return packets, nil
}
