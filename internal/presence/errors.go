package presence

import "errors"

// Sentinel errors for caller contract violations.
var (
	// ErrMalformedInput is returned when a detection or frame is missing
	// required fields or carries values outside their documented range.
	ErrMalformedInput = errors.New("presence: malformed input")

	// ErrNonMonotonicTime is returned when a tick or flush timestamp is
	// earlier than the previously accepted one. The tracker state is left
	// unchanged.
	ErrNonMonotonicTime = errors.New("presence: non-monotonic time")
)
