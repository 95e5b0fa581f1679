package tracking

// Config holds the tunable parameters of the aggregator
type Config struct {
	// HeightOffset is added to the y of every pushed sensor pose (meters).
	// Runtimes that report floor-relative poses use 0.
	HeightOffset float32

	// ControllerTilt rotates polled controller poses about their local x axis
	// (radians) so the grip points the way the server's controller model does.
	ControllerTilt float32

	// MaxDisplayRefresh clamps reported refresh changes (Hz).
	MaxDisplayRefresh float32

	// PoseTimeOffset is forwarded with every snapshot (seconds).
	PoseTimeOffset float32
}

// DefaultConfig returns the configuration for a standing headset
func DefaultConfig() Config {
	return Config{
		HeightOffset:      1.7,  // standing eye height
		ControllerTilt:    0.45, // ~26 degrees
		MaxDisplayRefresh: 90,
	}
}
