package internal

import (
	"context"
	"time"

	"github.com/dmitrymomot/mailkit/pkg/job"
	"github.com/dmitrymomot/mailkit/pkg/mailer"
)

// TaskSendMail is the job task that delivers queued mail.
const TaskSendMail = "mail:send"

// TaskRefreshTransports is the scheduled task that drops cached transports.
const TaskRefreshTransports = "mail:refresh_transports"

// Enqueuer is satisfied by job.Enqueuer and job.Manager.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, payload any, opts ...job.EnqueueOption) error
}

// RiverQueue hands queued mail to River as TaskSendMail jobs.
type RiverQueue struct {
	enqueuer Enqueuer
	opts     []job.EnqueueOption
}

// NewRiverQueue creates a queue over enqueuer. opts apply to every job, e.g. job.MaxAttempts.
func NewRiverQueue(enqueuer Enqueuer, opts ...job.EnqueueOption) *RiverQueue {
	return &RiverQueue{enqueuer: enqueuer, opts: opts}
}

// Push implements mailer.Queue.
func (q *RiverQueue) Push(ctx context.Context, qm *mailer.QueuedMail, queue string) error {
	return q.enqueue(ctx, qm, job.InQueue(queue))
}

// Later implements mailer.Queue.
func (q *RiverQueue) Later(ctx context.Context, delay time.Duration, qm *mailer.QueuedMail, queue string) error {
	return q.enqueue(ctx, qm, job.InQueue(queue), job.ScheduledIn(delay))
}

func (q *RiverQueue) enqueue(ctx context.Context, qm *mailer.QueuedMail, opts ...job.EnqueueOption) error {
	if q.enqueuer == nil {
		return job.ErrNotConfigured
	}
	// UniqueKey only takes effect when a job.UniqueFor window is among the base options.
	opts = append(opts, job.Tags("mail", qm.Kind), job.UniqueKey(qm.ID))
	return q.enqueuer.Enqueue(ctx, TaskSendMail, qm, append(q.opts, opts...)...)
}

// SendQueuedMail is the job task delivering mail queued through RiverQueue.
type SendQueuedMail struct {
	handle func(ctx context.Context, qm *mailer.QueuedMail) error
}

// NewSendQueuedMail creates the task. handle is usually Manager.HandleQueued.
func NewSendQueuedMail(handle func(ctx context.Context, qm *mailer.QueuedMail) error) *SendQueuedMail {
	return &SendQueuedMail{handle: handle}
}

func (t *SendQueuedMail) Name() string { return TaskSendMail }

// Handle replays the job. River stores the job as it was enqueued, so the
// attempt count is restored from River before the run.
func (t *SendQueuedMail) Handle(ctx context.Context, qm mailer.QueuedMail) error {
	if attempt := job.Attempt(ctx); attempt > 1 {
		qm.State = mailer.StateFailed
		qm.Attempts = attempt - 1
	}
	return t.handle(ctx, &qm)
}

// RefreshTransports periodically purges cached transports so rotated credentials are picked up.
type RefreshTransports struct {
	manager  *Manager
	schedule string
}

// NewRefreshTransports creates the task. An empty schedule disables it.
func NewRefreshTransports(m *Manager, schedule string) *RefreshTransports {
	return &RefreshTransports{manager: m, schedule: schedule}
}

func (t *RefreshTransports) Name() string     { return TaskRefreshTransports }
func (t *RefreshTransports) Schedule() string { return t.schedule }

func (t *RefreshTransports) Handle(context.Context) error {
	t.manager.PurgeAll()
	return nil
}

// SyncQueue delivers queued mail inline. Delays are ignored.
type SyncQueue struct {
	handle func(ctx context.Context, qm *mailer.QueuedMail) error
}

// NewSyncQueue creates a queue that calls handle on push.
func NewSyncQueue(handle func(ctx context.Context, qm *mailer.QueuedMail) error) *SyncQueue {
	return &SyncQueue{handle: handle}
}

// Push implements mailer.Queue.
func (q *SyncQueue) Push(ctx context.Context, qm *mailer.QueuedMail, _ string) error {
	return q.handle(ctx, qm)
}

// Later implements mailer.Queue.
func (q *SyncQueue) Later(ctx context.Context, _ time.Duration, qm *mailer.QueuedMail, _ string) error {
	return q.handle(ctx, qm)
}
