package cxr

// ClientState is the connection state of a receiver.
type ClientState int32

const (
	StateReadyToConnect              ClientState = 0
	StateConnectionAttemptInProgress ClientState = 1
	StateConnectionAttemptFailed     ClientState = 2
	StateStreamingSessionInProgress  ClientState = 3
	StateDisconnected                ClientState = 4
	StateExiting                     ClientState = 5
)

func (s ClientState) String() string {
	switch s {
	case StateReadyToConnect:
		return "ready_to_connect"
	case StateConnectionAttemptInProgress:
		return "connection_attempt_in_progress"
	case StateConnectionAttemptFailed:
		return "connection_attempt_failed"
	case StateStreamingSessionInProgress:
		return "streaming_session_in_progress"
	case StateDisconnected:
		return "disconnected"
	case StateExiting:
		return "exiting"
	default:
		return "unknown"
	}
}

// StateReason explains a state change delivered by the boundary.
type StateReason int32

const (
	ReasonNoError                StateReason = 0
	ReasonHEVCUnsupported        StateReason = 1
	ReasonVersionMismatch        StateReason = 2
	ReasonDisabledFeature        StateReason = 3
	ReasonRTSPCannotConnect      StateReason = 4
	ReasonHolePunchFailed        StateReason = 5
	ReasonNetworkError           StateReason = 6
	ReasonAuthorizationFailed    StateReason = 7
	ReasonDisconnectedExpected   StateReason = 8
	ReasonDisconnectedUnexpected StateReason = 9
)

func (r StateReason) String() string {
	switch r {
	case ReasonNoError:
		return "no_error"
	case ReasonHEVCUnsupported:
		return "hevc_unsupported"
	case ReasonVersionMismatch:
		return "version_mismatch"
	case ReasonDisabledFeature:
		return "disabled_feature"
	case ReasonRTSPCannotConnect:
		return "rtsp_cannot_connect"
	case ReasonHolePunchFailed:
		return "hole_punch_failed"
	case ReasonNetworkError:
		return "network_error"
	case ReasonAuthorizationFailed:
		return "authorization_failed"
	case ReasonDisconnectedExpected:
		return "disconnected_expected"
	case ReasonDisconnectedUnexpected:
		return "disconnected_unexpected"
	default:
		return "unknown"
	}
}

// Retryable reports whether a failed connection attempt with this reason may
// be retried. Version, codec and feature mismatches never resolve on retry.
func (r StateReason) Retryable() bool {
	switch r {
	case ReasonVersionMismatch, ReasonHEVCUnsupported, ReasonDisabledFeature:
		return false
	default:
		return true
	}
}
