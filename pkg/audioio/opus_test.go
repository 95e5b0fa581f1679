package audioio

import (
	"math"
	"testing"
	"time"
)

func TestOpus_RoundTrip(t *testing.T) {
	enc, err := NewOpusEncoder(48000, 2, 20*time.Millisecond, 64000)
	if err != nil {
		t.Fatalf("NewOpusEncoder: %v", err)
	}
	dec, err := NewOpusDecoder(48000, 2)
	if err != nil {
		t.Fatalf("NewOpusDecoder: %v", err)
	}
	if enc.FrameDuration() != 20*time.Millisecond {
		t.Errorf("FrameDuration() = %v", enc.FrameDuration())
	}

	// 30ms of a 440Hz tone: one full packet plus 10ms pending.
	pcm := make([]int16, 1440*2)
	for i := 0; i < 1440; i++ {
		v := int16(8000 * math.Sin(2*math.Pi*440*float64(i)/48000))
		pcm[2*i], pcm[2*i+1] = v, v
	}

	packets, err := enc.Encode(pcm)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(packets) != 1 {
		t.Fatalf("packets = %d, want 1", len(packets))
	}

	chunk, err := dec.Decode(packets[0])
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if chunk.Frames() != 960 || chunk.Channels != 2 {
		t.Errorf("decoded %d frames x %d channels", chunk.Frames(), chunk.Channels)
	}

	packets, _ = enc.Encode(pcm[:480*2])
	if len(packets) != 1 {
		t.Errorf("pending audio not carried over: %d packets", len(packets))
	}
}
