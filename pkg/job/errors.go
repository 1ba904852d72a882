package job

import "errors"

var (
	// ErrNotConfigured is returned when a queue is used without a River client.
	ErrNotConfigured = errors.New("job: not configured")

	// ErrUnknownTask is returned for a task name that has no registered handler.
	ErrUnknownTask = errors.New("job: unknown task")

	// ErrInvalidPayload is returned when a payload cannot be decoded into the task's type.
	ErrInvalidPayload = errors.New("job: invalid payload")

	ErrAlreadyStarted = errors.New("job: already started")
	ErrNotStarted     = errors.New("job: not started")
	ErrPoolRequired   = errors.New("job: pool is required")

	// ErrInvalidSchedule is returned for a cron expression that does not parse.
	ErrInvalidSchedule = errors.New("job: invalid schedule")

	// ErrUnhealthy is returned by Healthcheck.
	ErrUnhealthy = errors.New("job: unhealthy")
)
