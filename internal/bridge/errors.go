package bridge

import "errors"

// Domain errors for the bridge package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, bridge.ErrDeviceUnavailable) {
//	    // respond 404 / send apology SMS
//	}
var (
	// ErrDeviceUnavailable is returned when the target device has no live
	// channel at send time, or disconnects while a request is outstanding.
	ErrDeviceUnavailable = errors.New("bridge: device unavailable")

	// ErrTimeout is returned when no reply arrives within the deadline.
	ErrTimeout = errors.New("bridge: request timed out")

	// ErrTooManyPending is returned when a device already has the maximum
	// number of outstanding requests.
	ErrTooManyPending = errors.New("bridge: too many pending requests for device")

	// ErrSendFailed is returned when transmitting a request over the
	// device channel fails.
	ErrSendFailed = errors.New("bridge: sending to device failed")

	// ErrStaleReply marks a reply whose request id has no pending entry.
	// Stale replies are absorbed internally and never surface to callers;
	// the sentinel exists for logging and tests.
	ErrStaleReply = errors.New("bridge: stale reply")
)
