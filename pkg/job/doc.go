// Package job runs background tasks on River, the Postgres-native queue.
//
// Mail workers use it to deliver queued mailables: producers enqueue a task
// by name with a JSON payload, and a worker process registers the typed
// handler that consumes it.
//
// # Tasks
//
// A task is any type with Name() and Handle(ctx, payload) methods. The payload
// type is inferred from Handle:
//
//	type SendQueuedMail struct{ manager *mailkit.Manager }
//
//	func (t *SendQueuedMail) Name() string { return "mail:send" }
//
//	func (t *SendQueuedMail) Handle(ctx context.Context, job mailer.QueuedMail) error {
//	    return t.manager.HandleQueued(ctx, &job)
//	}
//
//	manager, err := job.NewManager(pool,
//	    job.WithTask(&SendQueuedMail{manager: mails}),
//	    job.WithQueue("emails", 10),
//	)
//
// Inside Handle, [Attempt] and [ID] report the River attempt number and job id.
//
// # Scheduled tasks
//
// Tasks with a Schedule() method returning a five field cron expression run
// periodically. The mail worker uses one to drop cached transports so rotated
// credentials are picked up.
//
// # Enqueueing
//
// Processes that only produce jobs use an [Enqueuer]:
//
//	enq, err := job.NewEnqueuer(pool)
//	err = enq.Enqueue(ctx, "mail:send", queued,
//	    job.InQueue("emails"),
//	    job.ScheduledIn(10*time.Minute),
//	)
//
// River tables must exist before use; `mailworker migrate` applies River's migrations.
package job
