package domain

import "errors"

var (
	// ErrTransient is returned for provider failures that may succeed when retried (rate limits, timeouts)
	ErrTransient = errors.New("transient provider error")

	// ErrRangeTooLarge is returned when the provider rejects a log query because of its size
	ErrRangeTooLarge = errors.New("block range too large")

	// ErrDecode is returned when a log entry has an unexpected shape
	ErrDecode = errors.New("decode error")

	// ErrInvalidConfig is returned for missing or invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrTransactionFailed is returned when a transaction receipt reports a reverted execution
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrTokenNotFound is returned when a token is not found
	ErrTokenNotFound = errors.New("token not found")

	// ErrNotFound is returned when a requested chain object does not exist
	ErrNotFound = errors.New("not found")
)

// IsRetryable reports whether the error should trigger bisection or a later retry
// rather than aborting the caller
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrRangeTooLarge)
}
