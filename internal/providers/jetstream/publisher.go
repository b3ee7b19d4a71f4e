package jetstream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/feral-file/ff-sales-reconciler/internal/adapter"
	"github.com/feral-file/ff-sales-reconciler/internal/domain"
	"github.com/feral-file/ff-sales-reconciler/internal/logger"
	"github.com/feral-file/ff-sales-reconciler/internal/messaging"
)

// Config holds the configuration for NATS JetStream connection
type Config struct {
	URL            string
	StreamName     string
	SubjectPrefix  string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectionName string
}

type publisher struct {
	nc            adapter.NatsConn
	js            adapter.JetStream
	subjectPrefix string
}

// NewPublisher connects to NATS and makes sure the report stream exists
func NewPublisher(ctx context.Context, cfg Config, natsJS adapter.NatsJetStream) (messaging.Publisher, error) {
	opts := []nats.Option{
		nats.Name(cfg.ConnectionName),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Error(err, zap.String("message", "Disconnected from NATS"))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("Reconnected to NATS", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}

	nc, js, err := natsJS.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS and create JetStream: %w", err)
	}

	err = js.EnsureStream(ctx, jetstream.StreamConfig{
		Name:       cfg.StreamName,
		Subjects:   []string{cfg.SubjectPrefix + ".>"},
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     30 * 24 * time.Hour,
		Duplicates: 10 * time.Minute,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream %s: %w", cfg.StreamName, err)
	}

	logger.Info("Connected to NATS", zap.String("url", nc.ConnectedUrl()), zap.String("stream", cfg.StreamName))

	return &publisher{
		nc:            nc,
		js:            js,
		subjectPrefix: cfg.SubjectPrefix,
	}, nil
}

// PublishRun publishes a run summary on <prefix>.runs.<mode>
func (p *publisher) PublishRun(ctx context.Context, summary *domain.RunSummary) error {
	subject := fmt.Sprintf("%s.runs.%s", p.subjectPrefix, summary.Mode)
	return p.publish(ctx, subject, summary.RunID, summary)
}

// PublishSync publishes a sync summary on <prefix>.ownership.sync
func (p *publisher) PublishSync(ctx context.Context, summary *domain.SyncSummary) error {
	subject := fmt.Sprintf("%s.ownership.sync", p.subjectPrefix)
	return p.publish(ctx, subject, summary.RunID, summary)
}

// PublishDrift publishes a repaired drift on <prefix>.ownership.drift, deduplicated by its transaction id
func (p *publisher) PublishDrift(ctx context.Context, drift domain.OwnershipDrift) error {
	subject := fmt.Sprintf("%s.ownership.drift", p.subjectPrefix)
	return p.publish(ctx, subject, drift.TransactionID, drift)
}

func (p *publisher) publish(ctx context.Context, subject, msgID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	logger.DebugCtx(ctx, "Publishing NATS message", zap.String("subject", subject), zap.String("msg_id", msgID))

	var opts []jetstream.PublishOpt
	if msgID != "" {
		opts = append(opts, jetstream.WithMsgID(msgID))
	}
	if _, err := p.js.Publish(ctx, subject, data, opts...); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	return nil
}

// Close drains and closes the NATS connection
func (p *publisher) Close() {
	if p.nc == nil {
		return
	}

	if err := p.nc.Drain(); err != nil {
		logger.Warn("Failed to drain NATS connection", zap.Error(err))
		p.nc.Close()
	}
}
