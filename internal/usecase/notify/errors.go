package notify

import "errors"

// Sentinel errors for notify use case operations.
var (
	// ErrChannelDisabled indicates that Send() was called on a disabled channel.
	ErrChannelDisabled = errors.New("channel is disabled")

	// ErrInvalidAlert indicates the alert is nil or missing required fields.
	ErrInvalidAlert = errors.New("invalid operational alert")

	// ErrNotificationDropped indicates a notification was dropped due to
	// worker pool saturation or timeout waiting for a worker slot.
	ErrNotificationDropped = errors.New("notification dropped due to pool saturation")

	// ErrCircuitBreakerOpen indicates the channel's own circuit breaker is
	// open and notifications are being rejected to avoid continuous failures.
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open for this channel")
)
