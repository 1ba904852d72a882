package job

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/riverqueue/river"
)

// insert is a job insert assembled by EnqueueOptions.
type insert struct {
	river.InsertOpts
	uniqueKey string
}

// EnqueueOption configures a single enqueue call.
type EnqueueOption func(*insert)

// InQueue selects the River queue. Empty keeps the default queue.
func InQueue(name string) EnqueueOption {
	return func(in *insert) {
		if name != "" {
			in.Queue = name
		}
	}
}

// ScheduledAt delays the job until t.
func ScheduledAt(t time.Time) EnqueueOption {
	return func(in *insert) { in.ScheduledAt = t }
}

// ScheduledIn delays the job by d. Non-positive durations leave the job immediately available.
func ScheduledIn(d time.Duration) EnqueueOption {
	return func(in *insert) {
		if d > 0 {
			in.ScheduledAt = time.Now().Add(d)
		}
	}
}

// MaxAttempts caps retries. River's default (25) applies otherwise.
func MaxAttempts(n int) EnqueueOption {
	return func(in *insert) {
		if n > 0 {
			in.MaxAttempts = n
		}
	}
}

// UniqueFor skips the insert when a job of the same task and unique key was
// inserted within d. The key is the one set with UniqueKey, or a digest of the
// payload.
func UniqueFor(d time.Duration) EnqueueOption {
	return func(in *insert) { in.UniqueOpts.ByPeriod = d }
}

// UniqueKey sets the identity UniqueFor compares. Without UniqueFor it has no effect.
func UniqueKey(key string) EnqueueOption {
	return func(in *insert) { in.uniqueKey = key }
}

// Priority orders jobs, lower runs first.
func Priority(p int) EnqueueOption {
	return func(in *insert) { in.Priority = p }
}

// Tags adds tags to the job.
func Tags(tags ...string) EnqueueOption {
	return func(in *insert) { in.Tags = append(in.Tags, tags...) }
}

// prepareInsert encodes payload and applies opts.
func prepareInsert(name string, payload any, opts ...EnqueueOption) (*taskArgs, *river.InsertOpts, error) {
	args := &taskArgs{TaskName: name}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		args.Payload = raw
	}

	var in insert
	for _, opt := range opts {
		opt(&in)
	}
	if in.UniqueOpts.ByPeriod > 0 {
		in.UniqueOpts.ByArgs = true
		args.UniqueKey = in.uniqueKey
		if args.UniqueKey == "" {
			sum := sha256.Sum256(args.Payload)
			args.UniqueKey = hex.EncodeToString(sum[:])
		}
	}
	return args, &in.InsertOpts, nil
}
