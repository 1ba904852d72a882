package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/mailkit/pkg/logger"
)

const (
	defaultTimeout = 5 * time.Second

	// StatusHealthy indicates all checks passed.
	StatusHealthy = "healthy"
	// StatusDegraded indicates only checks wrapped with Warn failed.
	StatusDegraded = "degraded"
	// StatusUnhealthy indicates a required check failed.
	StatusUnhealthy = "unhealthy"
)

// CheckFunc reports a dependency as unhealthy by returning an error.
// db.Healthcheck, redis.Healthcheck and job.Healthcheck have this shape.
type CheckFunc func(ctx context.Context) error

// Checks is a map of named health check functions.
type Checks map[string]CheckFunc

// Response is the aggregated result of a check run.
type Response struct {
	Checks map[string]Check `json:"checks,omitempty"`
	Status string           `json:"status"`
}

// Healthy reports whether every required check passed. A degraded response is healthy.
func (r *Response) Healthy() bool { return r.Status != StatusUnhealthy }

// Check is the result of a single check.
type Check struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

type warning struct{ err error }

func (w warning) Error() string { return w.err.Error() }
func (w warning) Unwrap() error { return w.err }

// Warn marks failures of check as degraded instead of unhealthy.
func Warn(check CheckFunc) CheckFunc {
	return func(ctx context.Context) error {
		if err := check(ctx); err != nil {
			return warning{err: err}
		}
		return nil
	}
}

type config struct {
	logger  *slog.Logger
	timeout time.Duration
}

// Option configures health check behavior.
type Option func(*config)

// WithTimeout bounds the whole check run. Default: 5 seconds.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger failed checks are reported to.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

func newConfig(opts ...Option) *config {
	cfg := &config{
		timeout: defaultTimeout,
		logger:  logger.NewNope(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Run executes all checks concurrently and aggregates the result.
func Run(ctx context.Context, checks Checks, opts ...Option) *Response {
	return runChecks(ctx, checks, newConfig(opts...))
}

type namedCheck struct {
	name string
	Check
}

func runChecks(ctx context.Context, checks Checks, cfg *config) *Response {
	resp := &Response{Status: StatusHealthy}
	if len(checks) == 0 {
		return resp
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	results := make(chan namedCheck, len(checks))
	for name, check := range checks {
		go func() {
			start := time.Now()
			err := check(ctx)
			results <- namedCheck{name: name, Check: cfg.result(ctx, name, err, time.Since(start))}
		}()
	}

	resp.Checks = make(map[string]Check, len(checks))
	for range len(checks) {
		r := <-results
		resp.Checks[r.name] = r.Check
		switch {
		case r.Status == StatusUnhealthy:
			resp.Status = StatusUnhealthy
		case r.Status == StatusDegraded && resp.Status == StatusHealthy:
			resp.Status = StatusDegraded
		}
	}
	return resp
}

func (c *config) result(ctx context.Context, name string, err error, took time.Duration) Check {
	check := Check{Status: StatusHealthy, LatencyMS: took.Milliseconds()}
	if err == nil {
		return check
	}

	check.Error = err.Error()
	level := slog.LevelError
	check.Status = StatusUnhealthy
	var w warning
	if errors.As(err, &w) {
		level = slog.LevelWarn
		check.Status = StatusDegraded
	}
	c.logger.Log(ctx, level, "health check failed", slog.String("check", name), slog.Any("error", err))
	return check
}

// Backlog fails when measure reports more than limit items, e.g. a mail queue
// that workers no longer drain.
func Backlog(measure func(ctx context.Context) (int64, error), limit int64) CheckFunc {
	return func(ctx context.Context) error {
		n, err := measure(ctx)
		if err != nil {
			return err
		}
		if n > limit {
			return fmt.Errorf("%w: %d items pending, limit %d", ErrBacklog, n, limit)
		}
		return nil
	}
}
