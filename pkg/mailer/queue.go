package mailer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/dmitrymomot/mailkit/pkg/id"
)

// Queue hands queued mail to a background worker.
type Queue interface {
	Push(ctx context.Context, job *QueuedMail, queue string) error
	Later(ctx context.Context, delay time.Duration, job *QueuedMail, queue string) error
}

// State is the lifecycle state of a queued mail.
type State string

const (
	StatePending State = "pending"
	StateRunning State = "running"
	StateDone    State = "done"
	StateFailed  State = "failed"
)

// transitions lists the allowed state changes. A failed job may be picked up again by the queue.
var transitions = map[State][]State{
	StatePending: {StateRunning},
	StateRunning: {StateDone, StateFailed},
	StateFailed:  {StateRunning},
}

// QueuedMail is a serialized mailable waiting for delivery.
type QueuedMail struct {
	CreatedAt time.Time       `json:"created_at"`
	ID        string          `json:"id"`
	Mailer    string          `json:"mailer"`
	Kind      string          `json:"kind"`
	State     State           `json:"state"`
	Error     string          `json:"error,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
}

// Transition moves the job to the next state.
func (q *QueuedMail) Transition(to State) error {
	from := q.State
	if from == "" {
		from = StatePending
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			q.State = to
			if to == StateRunning {
				q.Attempts++
			}
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

func (q *QueuedMail) fail(err error) {
	if q.State == StateRunning {
		q.State = StateFailed
	}
	q.Error = err.Error()
}

type queuedPayload struct {
	Data  json.RawMessage `json:"data,omitempty"`
	State mailState       `json:"state"`
}

// Registry maps mailable kinds to constructors so queued payloads can be rebuilt by a worker.
type Registry struct {
	factories map[string]func() Mailable
	mu        sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]func() Mailable)}
}

// Register adds a constructor under the kind of the mailable it returns.
func (r *Registry) Register(factory func() Mailable) {
	kind := KindOf(factory())
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
}

// Register adds the mailable type T to the registry.
//
// Example:
//
//	mailer.Register[emails.OrderShipped](registry)
func Register[T any, PT interface {
	*T
	Mailable
}](r *Registry) {
	r.Register(func() Mailable { return PT(new(T)) })
}

// Kinds returns the number of registered kinds.
func (r *Registry) Kinds() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.factories)
}

// Encode serializes a mailable into a pending job.
// The mailable's own exported fields travel alongside the Mail state; message callbacks do not.
// Unknown kinds are registered on first use, so a worker running in another
// process must Register the same types.
func (r *Registry) Encode(mailable Mailable) (*QueuedMail, error) {
	if mailable == nil {
		return nil, ErrNotQueueable
	}
	if v := reflect.ValueOf(mailable); v.Kind() == reflect.Pointer && v.IsNil() {
		return nil, ErrNotQueueable
	}

	kind := KindOf(mailable)
	r.mu.Lock()
	if _, known := r.factories[kind]; !known {
		t := reflect.TypeOf(mailable)
		if t.Kind() != reflect.Pointer {
			r.mu.Unlock()
			return nil, fmt.Errorf("%w: %s is not a pointer", ErrNotQueueable, kind)
		}
		r.factories[kind] = func() Mailable {
			return reflect.New(t.Elem()).Interface().(Mailable)
		}
	}
	r.mu.Unlock()

	data, err := json.Marshal(mailable)
	if err != nil {
		return nil, errors.Join(ErrNotQueueable, err)
	}
	payload, err := json.Marshal(queuedPayload{Data: data, State: mailable.Base().queuedState()})
	if err != nil {
		return nil, errors.Join(ErrNotQueueable, err)
	}

	return &QueuedMail{
		ID:        id.NewJobID(),
		Kind:      kind,
		State:     StatePending,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Decode rebuilds the mailable carried by a job.
func (r *Registry) Decode(job *QueuedMail) (Mailable, error) {
	r.mu.RLock()
	factory, ok := r.factories[job.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMailable, job.Kind)
	}

	var payload queuedPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decode %s: %w", job.Kind, err)
	}

	mailable := factory()
	if len(payload.Data) > 0 {
		if err := json.Unmarshal(payload.Data, mailable); err != nil {
			return nil, fmt.Errorf("decode %s: %w", job.Kind, err)
		}
	}
	mailable.Base().restore(payload.State)
	return mailable, nil
}
