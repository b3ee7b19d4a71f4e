package logger

import (
	"context"

	"go.uber.org/zap"
)

type runInfoKey struct{}

// RunInfo identifies a reconciliation or sync run in log lines and sentry events
type RunInfo struct {
	RunID    string
	Mode     string
	Contract string
}

// WithRun returns a context whose log lines carry the run identifiers
func WithRun(ctx context.Context, info RunInfo) context.Context {
	return context.WithValue(ctx, runInfoKey{}, info)
}

// RunFromContext returns the run identifiers stored in ctx, if any
func RunFromContext(ctx context.Context) (RunInfo, bool) {
	info, ok := ctx.Value(runInfoKey{}).(RunInfo)
	return info, ok
}

func runFields(ctx context.Context) []zap.Field {
	info, ok := RunFromContext(ctx)
	if !ok {
		return nil
	}

	fields := []zap.Field{zap.String("run_id", info.RunID)}
	if info.Mode != "" {
		fields = append(fields, zap.String("mode", info.Mode))
	}
	if info.Contract != "" {
		fields = append(fields, zap.String("contract", info.Contract))
	}
	return fields
}
