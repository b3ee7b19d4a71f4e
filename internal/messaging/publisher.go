package messaging

import (
	"context"

	"github.com/feral-file/ff-sales-reconciler/internal/domain"
)

// Publisher defines the interface for publishing run reports to the message broker
//
//go:generate mockgen -source=publisher.go -destination=../mocks/publisher.go -package=mocks -mock_names=Publisher=MockPublisher
type Publisher interface {
	// PublishRun publishes the summary of a finished reconciliation run
	PublishRun(ctx context.Context, summary *domain.RunSummary) error
	// PublishSync publishes the summary of an ownership sync cycle
	PublishSync(ctx context.Context, summary *domain.SyncSummary) error
	// PublishDrift publishes a single ownership repair
	PublishDrift(ctx context.Context, drift domain.OwnershipDrift) error
	// Close closes the connection
	Close()
}

type noopPublisher struct{}

// NewNoopPublisher returns a Publisher that drops every message, used when no broker is configured
func NewNoopPublisher() Publisher {
	return noopPublisher{}
}

func (noopPublisher) PublishRun(context.Context, *domain.RunSummary) error     { return nil }
func (noopPublisher) PublishSync(context.Context, *domain.SyncSummary) error   { return nil }
func (noopPublisher) PublishDrift(context.Context, domain.OwnershipDrift) error { return nil }
func (noopPublisher) Close()                                                   {}
