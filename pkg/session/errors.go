package session

import (
	"errors"

	"github.com/teslashibe/go-xrstream/pkg/cxr"
)

// Sentinel errors.
var (
	ErrNoAddress        = errors.New("session: no server address")
	ErrAudio            = errors.New("session: audio stream failed")
	ErrFrameNotReleased = errors.New("session: previous frame not released")
	ErrNoReceiver       = errors.New("session: no receiver")
	ErrNotStreaming     = errors.New("session: not streaming")
)

// Category groups errors by how the session reacts to them.
type Category int

const (
	CategoryUnknown Category = iota
	// CategoryConfiguration is fatal to the attempt and never retried.
	CategoryConfiguration
	// CategoryTransient is absorbed and retried on the next tick.
	CategoryTransient
	// CategoryRecoverableSession triggers teardown and recreate.
	CategoryRecoverableSession
	// CategoryNonRetryable ends the session.
	CategoryNonRetryable
	// CategoryResource is fatal to session creation.
	CategoryResource
)

func (c Category) String() string {
	switch c {
	case CategoryConfiguration:
		return "configuration"
	case CategoryTransient:
		return "transient"
	case CategoryRecoverableSession:
		return "recoverable_session"
	case CategoryNonRetryable:
		return "non_retryable"
	case CategoryResource:
		return "resource"
	default:
		return "unknown"
	}
}

// Classify returns the category of err. nil is CategoryUnknown.
func Classify(err error) Category {
	switch {
	case err == nil:
		return CategoryUnknown
	case errors.Is(err, ErrNoAddress):
		return CategoryConfiguration
	case errors.Is(err, ErrAudio):
		return CategoryResource
	case errors.Is(err, ErrFrameNotReleased), errors.Is(err, ErrNotStreaming):
		return CategoryTransient
	}

	switch cxr.CodeOf(err) {
	case cxr.ErrNoAddr:
		return CategoryConfiguration
	case cxr.ErrFrameNotReady, cxr.ErrTimeout, cxr.ErrDecoderFrameNotReady:
		return CategoryTransient
	case cxr.ErrReceiverNotRunning, cxr.ErrReceiverInvalid:
		return CategoryRecoverableSession
	case cxr.ErrUnsupportedVersion, cxr.ErrNoDecoder, cxr.ErrNotImplemented:
		return CategoryNonRetryable
	default:
		return CategoryUnknown
	}
}

// ReasonCategory classifies a state reason delivered with a failed or
// disconnected state.
func ReasonCategory(r cxr.StateReason) Category {
	switch r {
	case cxr.ReasonNoError, cxr.ReasonDisconnectedExpected:
		return CategoryUnknown
	case cxr.ReasonVersionMismatch, cxr.ReasonHEVCUnsupported, cxr.ReasonDisabledFeature:
		return CategoryNonRetryable
	default:
		return CategoryRecoverableSession
	}
}

// Code returns the boundary code reported for err.
func Code(err error) cxr.ErrorCode {
	switch {
	case err == nil:
		return cxr.Success
	case errors.Is(err, ErrNoAddress):
		return cxr.ErrNoAddr
	case errors.Is(err, ErrFrameNotReleased):
		return cxr.ErrFrameNotReleased
	case errors.Is(err, ErrNoReceiver):
		return cxr.ErrReceiverInvalid
	default:
		return cxr.CodeOf(err)
	}
}
