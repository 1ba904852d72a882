package redisqueue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/mailkit/pkg/logger"
	"github.com/dmitrymomot/mailkit/pkg/mailer"
	"github.com/dmitrymomot/mailkit/pkg/mailer/array"
	"github.com/dmitrymomot/mailkit/pkg/mailer/redisqueue"
)

func newQueue(t *testing.T, opts ...redisqueue.Option) (*redisqueue.Queue, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	opts = append([]redisqueue.Option{redisqueue.WithLogger(logger.NewNope())}, opts...)
	return redisqueue.New(client, opts...), mr
}

func job(id string) *mailer.QueuedMail {
	return &mailer.QueuedMail{ID: id, Kind: "mailer.Mail", State: mailer.StatePending, Payload: []byte(`{}`)}
}

func TestQueue_PushPopFIFO(t *testing.T) {
	t.Parallel()

	q, mr := newQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, job("1"), ""))
	require.NoError(t, q.Push(ctx, job("2"), ""))
	assert.True(t, mr.Exists("mailkit:queue:default"))

	first, err := q.Pop(ctx, "")
	require.NoError(t, err)
	second, err := q.Pop(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, "1", first.ID)
	assert.Equal(t, "2", second.ID)

	empty, err := q.Pop(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, empty)

	require.ErrorIs(t, q.Push(ctx, nil, ""), redisqueue.ErrNilJob)
}

func TestQueue_Later(t *testing.T) {
	t.Parallel()

	q, _ := newQueue(t, redisqueue.WithPrefix("test"))
	ctx := context.Background()

	require.NoError(t, q.Later(ctx, time.Hour, job("late"), "emails"))
	require.NoError(t, q.Later(ctx, 0, job("now"), "emails"))

	ready, delayed, err := q.Len(ctx, "emails")
	require.NoError(t, err)
	assert.EqualValues(t, 1, ready)
	assert.EqualValues(t, 1, delayed)

	got, err := q.Pop(ctx, "emails")
	require.NoError(t, err)
	assert.Equal(t, "now", got.ID)

	got, err = q.Pop(ctx, "emails")
	require.NoError(t, err)
	assert.Nil(t, got, "job is not due yet")
}

func TestQueue_PromotesDueJobs(t *testing.T) {
	t.Parallel()

	q, _ := newQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Later(ctx, time.Millisecond, job("soon"), ""))
	time.Sleep(10 * time.Millisecond)

	got, err := q.Pop(ctx, "")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "soon", got.ID)

	ready, delayed, err := q.Len(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, ready)
	assert.Zero(t, delayed)
}

func TestQueue_WorkRetriesThenFails(t *testing.T) {
	t.Parallel()

	q, _ := newQueue(t,
		redisqueue.WithMaxAttempts(2),
		redisqueue.WithBackoff(func(int) time.Duration { return time.Millisecond }),
	)
	ctx := context.Background()

	calls := 0
	handle := func(_ context.Context, j *mailer.QueuedMail) error {
		calls++
		if err := j.Transition(mailer.StateRunning); err != nil {
			return err
		}
		return errors.New("smtp down")
	}

	require.NoError(t, q.Push(ctx, job("x"), ""))

	processed, err := q.Work(ctx, "", handle)
	require.NoError(t, err)
	assert.True(t, processed)

	_, delayed, err := q.Len(ctx, "")
	require.NoError(t, err)
	assert.EqualValues(t, 1, delayed, "first failure is retried")

	time.Sleep(10 * time.Millisecond)
	processed, err = q.Work(ctx, "", handle)
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, 2, calls)

	failed, err := q.Failed(ctx, "")
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "x", failed[0].ID)
	assert.Equal(t, 2, failed[0].Attempts)

	processed, err = q.Work(ctx, "", handle)
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestQueue_MailerRoundTrip(t *testing.T) {
	t.Parallel()

	q, _ := newQueue(t)
	tr := array.New()
	m := mailer.New("default", tr, mailer.WithQueue(q), mailer.WithLogger(logger.NewNope()))
	ctx := context.Background()

	mail := mailer.NewMail().From("team@example.com").To("user@example.com").Subject("Queued").Text("hi")
	require.NoError(t, m.Queue(ctx, mail, "emails"))
	assert.Empty(t, tr.Messages(), "nothing is sent before the worker runs")

	processed, err := q.Work(ctx, "emails", m.HandleQueued)
	require.NoError(t, err)
	assert.True(t, processed)

	sent := tr.Messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "Queued", sent[0].Email.Subject)
}

func TestQueue_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	q, _ := newQueue(t, redisqueue.WithPollInterval(5*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, q.Push(ctx, job("1"), ""))

	handled := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- q.Run(ctx, "", func(_ context.Context, j *mailer.QueuedMail) error {
			handled <- j.ID
			return nil
		})
	}()

	select {
	case id := <-handled:
		assert.Equal(t, "1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("job was not handled")
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}
