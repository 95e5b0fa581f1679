package session

import (
	"sync/atomic"

	"github.com/teslashibe/go-xrstream/pkg/cxr"
)

type counters struct {
	latched      atomic.Int64
	notReady     atomic.Int64
	latchErrors  atomic.Int64
	recreations  atomic.Int64
	blits        atomic.Int64
	fills        atomic.Int64
	audioFrames  atomic.Int64
	audioDropped atomic.Int64
}

// FrameStats counts frame exchange outcomes since the session was created.
type FrameStats struct {
	Latched      int64 `json:"latched"`
	NotReady     int64 `json:"not_ready"`
	LatchErrors  int64 `json:"latch_errors"`
	Recreations  int64 `json:"recreations"`
	Blits        int64 `json:"blits"`
	Fills        int64 `json:"fills"`
	AudioFrames  int64 `json:"audio_frames"`
	AudioDropped int64 `json:"audio_dropped"`
}

// FrameStats returns the frame exchange counters.
func (c *Client) FrameStats() FrameStats {
	return FrameStats{
		Latched:      c.counters.latched.Load(),
		NotReady:     c.counters.notReady.Load(),
		LatchErrors:  c.counters.latchErrors.Load(),
		Recreations:  c.counters.recreations.Load(),
		Blits:        c.counters.blits.Load(),
		Fills:        c.counters.fills.Load(),
		AudioFrames:  c.counters.audioFrames.Load(),
		AudioDropped: c.counters.audioDropped.Load(),
	}
}

// Status is a point-in-time view of the session.
type Status struct {
	SessionID string              `json:"session_id"`
	State     string              `json:"state"`
	Reason    string              `json:"reason"`
	Server    string              `json:"server"`
	Frames    FrameStats          `json:"frames"`
	Link      cxr.ConnectionStats `json:"link"`
}

// Status returns the current session status.
func (c *Client) Status() Status {
	c.mu.Lock()
	st := Status{
		SessionID: c.session,
		State:     c.state.String(),
		Reason:    c.reason.String(),
		Server:    c.cfg.ServerAddress,
		Link:      c.link,
	}
	c.mu.Unlock()
	st.Frames = c.FrameStats()
	return st
}

// pollStats queries link statistics at most once per StatsInterval.
func (c *Client) pollStats() {
	if c.cfg.StatsInterval <= 0 {
		return
	}
	now := c.now()
	if now.Sub(c.lastStats) <= c.cfg.StatsInterval {
		return
	}
	c.lastStats = now

	r := c.currentReceiver()
	if r == nil {
		return
	}
	stats, err := r.ConnectionStats()
	if err != nil {
		c.logger.Warn("connection stats failed", "error", err, "code", uint32(cxr.CodeOf(err)))
		return
	}

	c.mu.Lock()
	c.link = stats
	c.mu.Unlock()

	c.logger.Debug("connection stats",
		"fps", stats.FramesPerSecond,
		"delivery_ms", stats.FrameDeliveryTime,
		"queue_ms", stats.FrameQueueTime,
		"latch_ms", stats.FrameLatchTime,
		"bandwidth_kbps", stats.BandwidthAvailableKbps,
		"utilization_kbps", stats.BandwidthUtilizationKbps,
		"rtt_ms", stats.RoundTripDelayMs,
		"jitter_us", stats.JitterUs,
		"packets_lost", stats.TotalPacketsLost,
		"quality", stats.Quality,
	)
	for _, l := range c.listeners {
		l.OnConnectionStats(stats)
	}
}
