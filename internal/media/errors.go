package media

import (
	"errors"
	"fmt"
)

var errNoCaptureSupport = errors.New("no capture drivers on this platform")

// AcquisitionError means camera/microphone capture failed. Call setup can
// still proceed receive-only.
type AcquisitionError struct {
	Err error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("media: device acquisition failed: %v", e.Err)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

// NegotiationError means SDP or ICE handling failed. The call cannot
// establish a media path and should be torn down.
type NegotiationError struct {
	Stage string // "offer", "answer", "candidate"
	Err   error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("media: %s negotiation failed: %v", e.Stage, e.Err)
}

func (e *NegotiationError) Unwrap() error { return e.Err }
