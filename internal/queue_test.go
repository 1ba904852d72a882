package internal_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/mailkit/internal"
	"github.com/dmitrymomot/mailkit/pkg/job"
	"github.com/dmitrymomot/mailkit/pkg/mailer"
)

type MockEnqueuer struct {
	mock.Mock
}

func (m *MockEnqueuer) Enqueue(ctx context.Context, name string, payload any, opts ...job.EnqueueOption) error {
	args := m.Called(ctx, name, payload, len(opts))
	return args.Error(0)
}

func TestRiverQueue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	qm := &mailer.QueuedMail{ID: "job-1", Kind: "welcome", Mailer: "default"}

	enq := &MockEnqueuer{}
	enq.On("Enqueue", ctx, internal.TaskSendMail, qm, 4).Return(nil).Once()
	enq.On("Enqueue", ctx, internal.TaskSendMail, qm, 5).Return(nil).Once()

	q := internal.NewRiverQueue(enq, job.MaxAttempts(5))
	require.NoError(t, q.Push(ctx, qm, "emails"))
	require.NoError(t, q.Later(ctx, time.Minute, qm, "emails"))
	enq.AssertExpectations(t)
}

func TestRiverQueue_Errors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	qm := &mailer.QueuedMail{ID: "job-1", Kind: "welcome"}

	require.ErrorIs(t, internal.NewRiverQueue(nil).Push(ctx, qm, ""), job.ErrNotConfigured)

	boom := errors.New("insert failed")
	enq := &MockEnqueuer{}
	enq.On("Enqueue", ctx, internal.TaskSendMail, qm, 3).Return(boom)
	require.ErrorIs(t, internal.NewRiverQueue(enq).Push(ctx, qm, ""), boom)
}

func TestRiverQueue_ThroughMailer(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	var captured *mailer.QueuedMail
	enq := &MockEnqueuer{}
	enq.On("Enqueue", mock.Anything, internal.TaskSendMail, mock.AnythingOfType("*mailer.QueuedMail"), 3).
		Run(func(args mock.Arguments) {
			captured = args.Get(2).(*mailer.QueuedMail)
		}).
		Return(nil)

	m := internal.NewManager(newTestConfig(t, arrayConfig), internal.WithQueue(internal.NewRiverQueue(enq)))
	require.NoError(t, m.Queue(ctx, mailer.NewMail().To("user@example.com").Subject("River").Text("Body")))
	require.NotNil(t, captured)
	assert.Equal(t, "local", captured.Mailer)

	task := internal.NewSendQueuedMail(m.HandleQueued)
	assert.Equal(t, internal.TaskSendMail, task.Name())
	require.NoError(t, task.Handle(ctx, *captured))

	ml, err := m.Mailer(ctx, "local")
	require.NoError(t, err)
	msgs := arrayOf(t, ml).Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "River", msgs[0].Email.Subject)
}

func TestSendQueuedMail_FirstAttempt(t *testing.T) {
	t.Parallel()

	var got *mailer.QueuedMail
	task := internal.NewSendQueuedMail(func(_ context.Context, qm *mailer.QueuedMail) error {
		got = qm
		return nil
	})

	require.NoError(t, task.Handle(context.Background(), mailer.QueuedMail{ID: "job-1", State: mailer.StatePending}))
	require.NotNil(t, got)
	assert.Equal(t, mailer.StatePending, got.State)
	assert.Zero(t, got.Attempts)
}

func TestRefreshTransports(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := internal.NewManager(newTestConfig(t, arrayConfig))
	task := internal.NewRefreshTransports(m, "@hourly")
	assert.Equal(t, internal.TaskRefreshTransports, task.Name())
	assert.Equal(t, "@hourly", task.Schedule())

	before, err := m.Transport(ctx, "local")
	require.NoError(t, err)
	require.NoError(t, task.Handle(ctx))
	after, err := m.Transport(ctx, "local")
	require.NoError(t, err)
	assert.NotSame(t, before, after)
}

func TestSyncQueue(t *testing.T) {
	t.Parallel()

	var calls int
	q := internal.NewSyncQueue(func(context.Context, *mailer.QueuedMail) error {
		calls++
		return nil
	})

	ctx := context.Background()
	require.NoError(t, q.Push(ctx, &mailer.QueuedMail{}, "default"))
	require.NoError(t, q.Later(ctx, time.Hour, &mailer.QueuedMail{}, "default"))
	assert.Equal(t, 2, calls)
}
