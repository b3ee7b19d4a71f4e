package sweeper

import (
	"context"
)

// Sweeper is a background job that repeats a maintenance pass until stopped.
// Start blocks until ctx is canceled or Stop is called; Stop waits for the pass in progress.
type Sweeper interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	// Name identifies the sweeper in logs
	Name() string
}
