package cxr

import (
	"errors"
	"fmt"
)

// ErrorCode is the numeric result code returned across the boundary.
type ErrorCode uint32

const (
	Success                      ErrorCode = 0
	ErrFailed                    ErrorCode = 1
	ErrNoAddr                    ErrorCode = 2
	ErrNoShareContext            ErrorCode = 3
	ErrIncompatibleShareContext  ErrorCode = 4
	ErrFrameNotReleased          ErrorCode = 5
	ErrFrameNotLatched           ErrorCode = 6
	ErrReceiverNotRunning        ErrorCode = 7
	ErrDecoderNoTexture          ErrorCode = 8
	ErrDecoderFrameNotReady      ErrorCode = 9
	ErrReceiverInvalid           ErrorCode = 10
	ErrTimeout                   ErrorCode = 11
	ErrFrameInvalid              ErrorCode = 12
	ErrUnsupportedVersion        ErrorCode = 13
	ErrChaperoneInvalid          ErrorCode = 14
	ErrNotImplemented            ErrorCode = 15
	ErrParameterInvalid          ErrorCode = 16
	ErrFrameNotReady             ErrorCode = 17
	ErrNoDecoder                 ErrorCode = 18
	ErrCouldNotConnectToServer   ErrorCode = 19
	ErrUniverseIDInvalid         ErrorCode = 20
	ErrStreamerNotReady          ErrorCode = 21
	ErrServerHasNoClient         ErrorCode = 22
	ErrDeviceDescNotReceived     ErrorCode = 23
	ErrInvalidStreamCount        ErrorCode = 24
	ErrModuleLoadFailed          ErrorCode = 25
	ErrConnectionAlreadyInFlight ErrorCode = 26
	ErrClientRequestedExit       ErrorCode = 27
	ErrPoseNotInPushMode         ErrorCode = 28
	ErrAuthHeaderInvalid         ErrorCode = 29
	ErrNoReceiverDesc            ErrorCode = 30
	ErrAudioFrameSize            ErrorCode = 31
)

var codeNames = map[ErrorCode]string{
	Success:                      "success",
	ErrFailed:                    "failed",
	ErrNoAddr:                    "no server address",
	ErrNoShareContext:            "no share context",
	ErrIncompatibleShareContext:  "incompatible share context",
	ErrFrameNotReleased:          "frame not released",
	ErrFrameNotLatched:           "frame not latched",
	ErrReceiverNotRunning:        "receiver not running",
	ErrDecoderNoTexture:          "decoder has no texture",
	ErrDecoderFrameNotReady:      "decoder frame not ready",
	ErrReceiverInvalid:           "receiver invalid",
	ErrTimeout:                   "timeout",
	ErrFrameInvalid:              "frame invalid",
	ErrUnsupportedVersion:        "unsupported version",
	ErrChaperoneInvalid:          "chaperone invalid",
	ErrNotImplemented:            "not implemented",
	ErrParameterInvalid:          "parameter invalid",
	ErrFrameNotReady:             "frame not ready",
	ErrNoDecoder:                 "no decoder",
	ErrCouldNotConnectToServer:   "could not connect to server",
	ErrUniverseIDInvalid:         "universe id invalid",
	ErrStreamerNotReady:          "streamer not ready",
	ErrServerHasNoClient:         "server has no client",
	ErrDeviceDescNotReceived:     "device description not received",
	ErrInvalidStreamCount:        "invalid stream count",
	ErrModuleLoadFailed:          "module load failed",
	ErrConnectionAlreadyInFlight: "connection already in progress",
	ErrClientRequestedExit:       "client requested exit",
	ErrPoseNotInPushMode:         "pose not in push mode",
	ErrAuthHeaderInvalid:         "authorization header invalid",
	ErrNoReceiverDesc:            "no receiver description",
	ErrAudioFrameSize:            "unsupported audio frame size",
}

func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("error %d", uint32(c))
}

// Error is a boundary failure tagged with the call that produced it.
type Error struct {
	Code ErrorCode
	Op   string
}

// NewError returns an *Error for code, or nil for Success.
func NewError(op string, code ErrorCode) error {
	if code == Success {
		return nil
	}
	return &Error{Code: code, Op: op}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("cxr: %s (%d)", e.Code, uint32(e.Code))
	}
	return fmt.Sprintf("cxr %s: %s (%d)", e.Op, e.Code, uint32(e.Code))
}

// Is matches any *Error carrying the same code, so callers can compare
// against a bare &Error{Code: ...}.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Op == "" || t.Op == e.Op)
}

// CodeOf extracts the boundary code from err. Non-boundary errors report
// ErrFailed; nil reports Success.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return Success
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ErrFailed
}
