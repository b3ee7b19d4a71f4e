package ethereum

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"

	"github.com/feral-file/ff-sales-reconciler/internal/domain"
)

// Provider messages that mean the request was too big to be served as a whole.
// Providers word this differently and change limits without notice. Malformed ranges
// ("invalid block range params") are not size errors and stay permanent.
var rangeTooLargeMessages = []string{
	"query returned more than",
	"too many results",
	"exceeded maximum",
	"exceeds max results",
	"exceed maximum block range",
	"block range limit",
	"block range exceeds",
	"is limited to a",
	"exceeds the range",
	"max range",
	"range is too large",
	"range too large",
	"range limit exceeded",
	"response too large",
	"response size exceeded",
	"query exceeds limit",
	"query timeout exceeded",
	"log response size",
}

// Provider messages that mean the request may succeed as is when retried later.
var transientMessages = []string{
	"too many requests",
	"rate limit",
	"requests limited to",
	"has exceeded",
	"capacity",
	"under too much load",
	"temporarily unavailable",
	"service unavailable",
	"bad gateway",
	"gateway timeout",
	"connection reset",
	"connection refused",
	"eof",
	"timeout",
}

// ClassifyError wraps a raw provider error with domain.ErrRangeTooLarge or domain.ErrTransient.
// Unrecognized errors are returned unchanged and are considered permanent.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}
	if domain.IsRetryable(err) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", domain.ErrTransient, err)
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == 413:
			return fmt.Errorf("%w: %w", domain.ErrRangeTooLarge, err)
		case httpErr.StatusCode == 429 || httpErr.StatusCode >= 500:
			return fmt.Errorf("%w: %w", domain.ErrTransient, err)
		}
	}

	msg := strings.ToLower(err.Error())
	for _, m := range rangeTooLargeMessages {
		if strings.Contains(msg, m) {
			return fmt.Errorf("%w: %w", domain.ErrRangeTooLarge, err)
		}
	}
	for _, m := range transientMessages {
		if strings.Contains(msg, m) {
			return fmt.Errorf("%w: %w", domain.ErrTransient, err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", domain.ErrTransient, err)
	}

	return err
}
