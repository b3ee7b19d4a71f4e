package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/feral-file/ff-sales-reconciler/internal/domain"
	"github.com/feral-file/ff-sales-reconciler/internal/logger"
)

const namespace = "ff_reconciler"

var (
	ProviderRequestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provider_request_total",
		Help:      "Total number of RPC requests sent to the blockchain provider.",
	}, []string{"method", "outcome"})

	ProviderRetryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provider_retry_total",
		Help:      "Total number of retried RPC requests after a transient error.",
	}, []string{"method"})

	RangeSplitTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "range_split_total",
		Help:      "Total number of log ranges bisected after a provider rejection.",
	})

	ScanGapTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scan_gap_total",
		Help:      "Total number of block ranges left unscanned.",
	})

	LedgerEntryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_entry_total",
		Help:      "Outcome of decoded facts offered to the ledger.",
	}, []string{"mode", "outcome"})

	RunDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "run_duration_seconds",
		Help:      "Duration of reconciliation runs.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"mode"})

	OwnershipCheckTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ownership_check_total",
		Help:      "Outcome of per-token ownership checks.",
	}, []string{"outcome"})
)

// ObserveRun records the counters of a finished reconciliation run
func ObserveRun(summary *domain.RunSummary) {
	mode := string(summary.Mode)
	LedgerEntryTotal.WithLabelValues(mode, "created").Add(float64(summary.Created))
	LedgerEntryTotal.WithLabelValues(mode, "duplicate").Add(float64(summary.SkippedDuplicates))
	LedgerEntryTotal.WithLabelValues(mode, "unknown_token").Add(float64(summary.SkippedUnknownTokens))
	LedgerEntryTotal.WithLabelValues(mode, "decode_failed").Add(float64(summary.DecodeFailures))
	LedgerEntryTotal.WithLabelValues(mode, "failed").Add(float64(summary.Failed))
	RunDurationSeconds.WithLabelValues(mode).Observe(summary.Duration.Seconds())
}

// Serve exposes the default registry on addr until ctx is done
func Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Metrics server forced to shutdown", zap.Error(err))
		}
	}()

	logger.Info("Starting metrics server", zap.String("address", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
