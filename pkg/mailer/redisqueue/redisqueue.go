// Package redisqueue is a mailer.Queue backed by Redis lists, with a sorted set holding delayed jobs.
//
// Ready jobs are pushed to "{prefix}:{queue}" and popped from the other end.
// Delayed jobs wait in "{prefix}:{queue}:delayed" scored by their due time and are
// moved to the ready list by the worker. Jobs that exhaust their attempts land in
// "{prefix}:{queue}:failed".
package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/mailkit/pkg/mailer"
)

const (
	DefaultPrefix       = "mailkit:queue"
	DefaultQueue        = "default"
	DefaultPollInterval = time.Second
	DefaultMaxAttempts  = 3
)

var (
	ErrNilJob  = errors.New("redisqueue: nil job")
	ErrEncode  = errors.New("redisqueue: failed to encode job")
	ErrDecode  = errors.New("redisqueue: failed to decode job")
	ErrBackend = errors.New("redisqueue: redis command failed")
)

// Handler processes one job. mailer.Mailer.HandleQueued satisfies it.
type Handler func(ctx context.Context, job *mailer.QueuedMail) error

// Queue pushes queued mail into Redis and runs the worker loop that drains it.
type Queue struct {
	client       redis.UniversalClient
	logger       *slog.Logger
	backoff      func(attempt int) time.Duration
	prefix       string
	pollInterval time.Duration
	maxAttempts  int
}

// Option configures a Queue.
type Option func(*Queue)

// WithPrefix sets the key prefix. Default: "mailkit:queue".
func WithPrefix(prefix string) Option {
	return func(q *Queue) {
		if prefix != "" {
			q.prefix = prefix
		}
	}
}

// WithPollInterval sets how long an idle worker waits before polling again.
func WithPollInterval(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.pollInterval = d
		}
	}
}

// WithMaxAttempts sets how many runs a job gets before it is moved to the failed list.
func WithMaxAttempts(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxAttempts = n
		}
	}
}

// WithBackoff sets the retry delay for a job that failed its n-th attempt.
func WithBackoff(fn func(attempt int) time.Duration) Option {
	return func(q *Queue) {
		if fn != nil {
			q.backoff = fn
		}
	}
}

// WithLogger sets the worker logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

// New creates a queue over client.
func New(client redis.UniversalClient, opts ...Option) *Queue {
	q := &Queue{
		client:       client,
		logger:       slog.Default(),
		prefix:       DefaultPrefix,
		pollInterval: DefaultPollInterval,
		maxAttempts:  DefaultMaxAttempts,
		backoff:      exponentialBackoff,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Push implements mailer.Queue.
func (q *Queue) Push(ctx context.Context, job *mailer.QueuedMail, queue string) error {
	data, err := encode(job)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.readyKey(queue), data).Err(); err != nil {
		return errors.Join(ErrBackend, err)
	}
	return nil
}

// Later implements mailer.Queue. A non-positive delay pushes the job straight to the ready list.
func (q *Queue) Later(ctx context.Context, delay time.Duration, job *mailer.QueuedMail, queue string) error {
	if delay <= 0 {
		return q.Push(ctx, job, queue)
	}
	data, err := encode(job)
	if err != nil {
		return err
	}
	due := time.Now().Add(delay).UnixMilli()
	if err := q.client.ZAdd(ctx, q.delayedKey(queue), redis.Z{Score: float64(due), Member: data}).Err(); err != nil {
		return errors.Join(ErrBackend, err)
	}
	return nil
}

// Pop moves due delayed jobs to the ready list and returns the oldest ready job.
// It returns nil and no error when the queue is empty.
func (q *Queue) Pop(ctx context.Context, queue string) (*mailer.QueuedMail, error) {
	if err := q.promote(ctx, queue, time.Now()); err != nil {
		return nil, err
	}

	data, err := q.client.RPop(ctx, q.readyKey(queue)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Join(ErrBackend, err)
	}

	var job mailer.QueuedMail
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, errors.Join(ErrDecode, err)
	}
	return &job, nil
}

// Len returns the number of ready and delayed jobs.
func (q *Queue) Len(ctx context.Context, queue string) (ready, delayed int64, err error) {
	pipe := q.client.Pipeline()
	readyCmd := pipe.LLen(ctx, q.readyKey(queue))
	delayedCmd := pipe.ZCard(ctx, q.delayedKey(queue))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, errors.Join(ErrBackend, err)
	}
	return readyCmd.Val(), delayedCmd.Val(), nil
}

// Failed returns the jobs that exhausted their attempts, newest first.
func (q *Queue) Failed(ctx context.Context, queue string) ([]*mailer.QueuedMail, error) {
	items, err := q.client.LRange(ctx, q.failedKey(queue), 0, -1).Result()
	if err != nil {
		return nil, errors.Join(ErrBackend, err)
	}
	jobs := make([]*mailer.QueuedMail, 0, len(items))
	for _, item := range items {
		var job mailer.QueuedMail
		if err := json.Unmarshal([]byte(item), &job); err != nil {
			return nil, errors.Join(ErrDecode, err)
		}
		jobs = append(jobs, &job)
	}
	return jobs, nil
}

// Run drains queue until ctx is canceled, handing each job to handle.
// A failed job is retried with backoff until it reaches the attempt limit.
func (q *Queue) Run(ctx context.Context, queue string, handle Handler) error {
	q.logger.InfoContext(ctx, "mail queue worker started", slog.String("queue", q.readyKey(queue)))

	for {
		if ctx.Err() != nil {
			q.logger.InfoContext(ctx, "mail queue worker stopped", slog.String("queue", q.readyKey(queue)))
			return nil
		}

		processed, err := q.Work(ctx, queue, handle)
		if err != nil && ctx.Err() == nil {
			q.logger.ErrorContext(ctx, "mail queue poll failed", slog.Any("error", err))
		}
		if processed && err == nil {
			continue
		}

		select {
		case <-ctx.Done():
		case <-time.After(q.pollInterval):
		}
	}
}

// Work processes at most one job and reports whether a job was found.
func (q *Queue) Work(ctx context.Context, queue string, handle Handler) (bool, error) {
	job, err := q.Pop(ctx, queue)
	if err != nil || job == nil {
		return false, err
	}

	herr := handle(ctx, job)
	if herr == nil {
		return true, nil
	}

	if job.Attempts < q.maxAttempts {
		delay := q.backoff(job.Attempts)
		q.logger.WarnContext(ctx, "mail job retry scheduled",
			slog.String("job_id", job.ID),
			slog.Int("attempt", job.Attempts),
			slog.Duration("delay", delay),
			slog.Any("error", herr),
		)
		return true, q.Later(ctx, delay, job, queue)
	}

	q.logger.ErrorContext(ctx, "mail job exhausted attempts",
		slog.String("job_id", job.ID),
		slog.Int("attempts", job.Attempts),
		slog.Any("error", herr),
	)
	data, err := encode(job)
	if err != nil {
		return true, err
	}
	if err := q.client.LPush(ctx, q.failedKey(queue), data).Err(); err != nil {
		return true, errors.Join(ErrBackend, err)
	}
	return true, nil
}

func (q *Queue) promote(ctx context.Context, queue string, now time.Time) error {
	due, err := q.client.ZRangeByScore(ctx, q.delayedKey(queue), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return errors.Join(ErrBackend, err)
	}

	for _, member := range due {
		// Only the worker that removes the member pushes it, so concurrent workers never duplicate a job.
		removed, err := q.client.ZRem(ctx, q.delayedKey(queue), member).Result()
		if err != nil {
			return errors.Join(ErrBackend, err)
		}
		if removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, q.readyKey(queue), member).Err(); err != nil {
			return errors.Join(ErrBackend, err)
		}
	}
	return nil
}

func (q *Queue) readyKey(queue string) string {
	if queue == "" {
		queue = DefaultQueue
	}
	return q.prefix + ":" + queue
}

func (q *Queue) delayedKey(queue string) string { return q.readyKey(queue) + ":delayed" }

func (q *Queue) failedKey(queue string) string { return q.readyKey(queue) + ":failed" }

func encode(job *mailer.QueuedMail) ([]byte, error) {
	if job == nil {
		return nil, ErrNilJob
	}
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return data, nil
}

func exponentialBackoff(attempt int) time.Duration {
	attempt = min(max(attempt, 1), 10)
	return time.Duration(1<<(attempt-1)) * 10 * time.Second
}
