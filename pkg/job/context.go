package job

import (
	"context"
	"log/slog"
)

type jobContextKey struct{}

type jobInfo struct {
	task    string
	id      int64
	attempt int
}

func withJob(ctx context.Context, info jobInfo) context.Context {
	return context.WithValue(ctx, jobContextKey{}, info)
}

// ID returns the River job id of the task being handled, or 0 outside a worker.
func ID(ctx context.Context) int64 {
	info, _ := ctx.Value(jobContextKey{}).(jobInfo)
	return info.id
}

// Attempt returns the 1-based attempt number of the task being handled, or 0 outside a worker.
func Attempt(ctx context.Context) int {
	info, _ := ctx.Value(jobContextKey{}).(jobInfo)
	return info.attempt
}

// LogAttrs extracts the job attributes for log records.
// It has the signature of logger.ContextExtractor.
func LogAttrs(ctx context.Context) (slog.Attr, bool) {
	info, ok := ctx.Value(jobContextKey{}).(jobInfo)
	if !ok {
		return slog.Attr{}, false
	}
	return slog.Group("job",
		slog.Int64("id", info.id),
		slog.String("task", info.task),
		slog.Int("attempt", info.attempt),
	), true
}
