package webrtcxr

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"

	"github.com/teslashibe/go-xrstream/pkg/audioio"
	"github.com/teslashibe/go-xrstream/pkg/cxr"
)

// readVideo assembles one eye track into the mailbox until the track ends.
func (r *Receiver) readVideo(track *webrtc.TrackRemote, idx int) {
	if idx >= int(r.desc.NumStreams) {
		r.logger.Warn("unexpected video track", "index", idx, "id", track.ID())
		return
	}
	asm := newAssembler(depacketizerFor(track.Codec().MimeType))
	dev := r.desc.Device

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			r.logger.Debug("video track ended", "index", idx, "error", err)
			return
		}
		lost := asm.lost
		unit, ok := asm.push(pkt)
		r.stats.packets(1, asm.lost-lost)
		if !ok {
			continue
		}
		r.frames.publish(cxr.VideoFrame{
			Width:     dev.Width,
			Height:    dev.Height,
			StreamIdx: uint32(idx),
			TimeStamp: uint64(unit.Timestamp),
			Payload:   unit.Data,
		})
	}
}

// readAudio decodes server audio and hands it to RenderAudio.
func (r *Receiver) readAudio(track *webrtc.TrackRemote) {
	dec, err := audioio.NewOpusDecoder(cxr.AudioSamplingRate, cxr.AudioChannelCount)
	if err != nil {
		r.logger.Warn("audio decoder unavailable", "error", err)
		return
	}
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			r.logger.Debug("audio track ended", "error", err)
			return
		}
		chunk, err := dec.Decode(pkt.Payload)
		if err != nil {
			r.logger.Debug("audio decode failed", "error", err)
			continue
		}
		if !r.cb.RenderAudio(cxr.AudioFrame{Buffer: chunk.Bytes()}) {
			r.stats.audioDropped.Add(1)
		}
	}
}

// SendAudio implements cxr.Receiver. PCM is buffered into 20ms opus packets.
func (r *Receiver) SendAudio(f cxr.AudioFrame) error {
	r.mu.Lock()
	track, streaming := r.audioOut, r.streaming
	r.mu.Unlock()
	if !streaming || track == nil {
		return cxr.NewError("audio", cxr.ErrReceiverNotRunning)
	}
	if len(f.Buffer)%(cxr.AudioChannelCount*cxr.AudioSampleSize) != 0 {
		return cxr.NewError("audio", cxr.ErrAudioFrameSize)
	}

	r.audioMu.Lock()
	defer r.audioMu.Unlock()
	if r.encoder == nil {
		enc, err := audioio.NewOpusEncoder(cxr.AudioSamplingRate, cxr.AudioChannelCount, audioFrame, r.cfg.AudioBitrate)
		if err != nil {
			return fmt.Errorf("webrtcxr: %w", err)
		}
		r.encoder = enc
	}

	packets, err := r.encoder.Encode(audioio.BytesToSamples(f.Buffer))
	step := uint32(r.encoder.FrameDuration() * cxr.AudioSamplingRate / time.Second)
	for _, payload := range packets {
		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    opusPayloadType,
				SequenceNumber: r.audioSeq,
				Timestamp:      r.audioTS,
			},
			Payload: payload,
		}
		r.audioSeq++
		r.audioTS += step
		if werr := track.WriteRTP(pkt); werr != nil {
			return fmt.Errorf("webrtcxr: send audio: %w", werr)
		}
	}
	if err != nil {
		return fmt.Errorf("webrtcxr: %w", err)
	}
	return nil
}

// linkStats accumulates what the transport observes between stats polls.
type linkStats struct {
	received     atomic.Uint64
	lost         atomic.Uint64
	latched      atomic.Uint64
	latchNanos   atomic.Int64
	audioDropped atomic.Uint64

	mu         sync.Mutex
	markAt     time.Time
	markFrames uint64
	markNanos  int64
	markBytes  uint64
}

func (s *linkStats) packets(received, lost uint64) {
	s.received.Add(received)
	s.lost.Add(lost)
}

func (s *linkStats) latchedFrame(wait time.Duration) {
	s.latched.Add(1)
	s.latchNanos.Add(int64(wait))
}

// window returns frame rate, mean latch wait and bytes/s since the last call.
func (s *linkStats) window(now time.Time, bytes uint64) (fps, latchMs float32, bytesPerSec float64) {
	frames := s.latched.Load()
	nanos := s.latchNanos.Load()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.markAt.IsZero() {
		if elapsed := now.Sub(s.markAt).Seconds(); elapsed > 0 {
			df := frames - s.markFrames
			fps = float32(float64(df) / elapsed)
			if df > 0 {
				latchMs = float32(float64(nanos-s.markNanos) / float64(df) / 1e6)
			}
			if bytes >= s.markBytes {
				bytesPerSec = float64(bytes-s.markBytes) / elapsed
			}
		}
	}
	s.markAt = now
	s.markFrames = frames
	s.markNanos = nanos
	s.markBytes = bytes
	return fps, latchMs, bytesPerSec
}

// ConnectionStats implements cxr.Receiver.
func (r *Receiver) ConnectionStats() (cxr.ConnectionStats, error) {
	r.mu.Lock()
	pc, streaming := r.pc, r.streaming
	r.mu.Unlock()
	if pc == nil || !streaming {
		return cxr.ConnectionStats{}, cxr.NewError("stats", cxr.ErrReceiverNotRunning)
	}

	var (
		rtt, available, jitter float64
		bytes                  uint64
	)
	for _, s := range pc.GetStats() {
		switch v := s.(type) {
		case webrtc.ICECandidatePairStats:
			if v.Nominated {
				rtt = v.CurrentRoundTripTime
				available = v.AvailableIncomingBitrate
			}
		case webrtc.InboundRTPStreamStats:
			bytes += v.BytesReceived
			if v.Jitter > jitter {
				jitter = v.Jitter
			}
		}
	}

	fps, latchMs, bps := r.stats.window(time.Now(), bytes)
	return cxr.ConnectionStats{
		FramesPerSecond:          fps,
		FrameLatchTime:           latchMs,
		BandwidthAvailableKbps:   uint32(available / 1000),
		BandwidthUtilizationKbps: uint32(bps * 8 / 1000),
		RoundTripDelayMs:         uint32(rtt * 1000),
		JitterUs:                 uint32(jitter * 1e6),
		TotalPacketsReceived:     uint32(r.stats.received.Load()),
		TotalPacketsLost:         uint32(r.stats.lost.Load()),
		TotalPacketsDropped:      uint32(r.frames.dropped()),
	}, nil
}
