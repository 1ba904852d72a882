package internal_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/mailkit/internal"
	"github.com/dmitrymomot/mailkit/pkg/mailer"
	"github.com/dmitrymomot/mailkit/pkg/mailer/array"
)

func newTestConfig(t *testing.T, data string) *internal.Config {
	t.Helper()
	cfg, err := internal.ParseConfig([]byte(data))
	require.NoError(t, err)
	return cfg
}

const arrayConfig = `
default: local
from: "App <app@example.com>"
local:
  transport: array
backup:
  transport: array
custom:
  transport: pigeon
  timeout: 3
  source_ip: 10.0.0.7
`

// stubTransport records the capabilities the manager applied.
type stubTransport struct {
	*array.Transport
	sourceIP string
	timeout  time.Duration
}

func (s *stubTransport) Name() string               { return "pigeon" }
func (s *stubTransport) SetTimeout(d time.Duration) { s.timeout = d }
func (s *stubTransport) SetSourceIP(ip string)      { s.sourceIP = ip }

func arrayOf(t *testing.T, ml *mailer.Mailer) *array.Transport {
	t.Helper()
	tr, ok := ml.Transport().(*array.Transport)
	require.True(t, ok, "expected array transport, got %T", ml.Transport())
	return tr
}

func TestManager_SendThroughDefault(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := internal.NewManager(newTestConfig(t, arrayConfig))
	assert.Equal(t, "local", m.DefaultName())

	sent, err := m.SendNow(ctx, mailer.NewMail().To("user@example.com").Subject("Hi").Text("Hello"))
	require.NoError(t, err)
	assert.Equal(t, "array", sent.Transport)
	assert.Equal(t, "app@example.com", sent.Email.From[0].Address, "always-from is applied")

	ml, err := m.Mailer(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "local", ml.Name())
	require.Len(t, arrayOf(t, ml).Messages(), 1)

	backup, err := m.Mailer(ctx, "backup")
	require.NoError(t, err)
	assert.Empty(t, arrayOf(t, backup).Messages(), "mailers do not share transports")
}

func TestManager_TransportCachingAndPurge(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := internal.NewManager(newTestConfig(t, arrayConfig))

	first, err := m.Transport(ctx, "local")
	require.NoError(t, err)
	again, err := m.Transport(ctx, "")
	require.NoError(t, err)
	assert.Same(t, first, again)

	ml, err := m.Mailer(ctx, "local")
	require.NoError(t, err)
	sameMailer, err := m.Mailer(ctx, "local")
	require.NoError(t, err)
	assert.Same(t, ml, sameMailer)

	m.Purge()
	rebuilt, err := m.Transport(ctx, "local")
	require.NoError(t, err)
	assert.NotSame(t, first, rebuilt)

	backup, err := m.Transport(ctx, "backup")
	require.NoError(t, err)
	m.PurgeAll()
	backupRebuilt, err := m.Transport(ctx, "backup")
	require.NoError(t, err)
	assert.NotSame(t, backup, backupRebuilt)
}

func TestManager_Errors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := internal.NewManager(newTestConfig(t, arrayConfig))

	_, err := m.Mailer(ctx, "missing")
	require.ErrorIs(t, err, internal.ErrMailerNotConfigured)

	_, err = m.Transport(ctx, "custom")
	require.ErrorIs(t, err, internal.ErrUnsupportedDriver)
	require.ErrorIs(t, err, internal.ErrConfiguration)
	assert.Contains(t, err.Error(), `"pigeon"`)

	empty := internal.NewManager(nil)
	_, err = empty.Transport(ctx, "local")
	require.ErrorIs(t, err, internal.ErrMailerNotConfigured)
}

func TestManager_Extend(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := internal.NewManager(newTestConfig(t, arrayConfig))

	var seen internal.Options
	m.Extend("pigeon", func(_ context.Context, opts internal.Options) (mailer.Transport, error) {
		seen = opts
		return &stubTransport{Transport: array.New()}, nil
	})

	tr, err := m.Transport(ctx, "custom")
	require.NoError(t, err)
	stub, ok := tr.(*stubTransport)
	require.True(t, ok)
	assert.Equal(t, 3*time.Second, stub.timeout)
	assert.Equal(t, "10.0.0.7", stub.sourceIP)
	assert.Equal(t, "pigeon", seen.Transport())
}

func TestManager_ExtendOverridesBuiltin(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := internal.NewManager(newTestConfig(t, arrayConfig))

	custom := &stubTransport{Transport: array.New()}
	m.Extend("array", func(context.Context, internal.Options) (mailer.Transport, error) {
		return custom, nil
	})

	tr, err := m.Transport(ctx, "local")
	require.NoError(t, err)
	assert.Same(t, custom, tr)
}

func TestManager_CreatorError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	m := internal.NewManager(newTestConfig(t, arrayConfig))
	m.Extend("pigeon", func(context.Context, internal.Options) (mailer.Transport, error) {
		return nil, boom
	})

	_, err := m.Transport(context.Background(), "custom")
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), `mailer "custom"`)
}

func TestManager_PurgeDuringResolve(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32

	m := internal.NewManager(newTestConfig(t, arrayConfig))
	m.Extend("pigeon", func(context.Context, internal.Options) (mailer.Transport, error) {
		if calls.Add(1) == 1 {
			close(started)
			<-release
		}
		return &stubTransport{Transport: array.New()}, nil
	})

	stale := make(chan mailer.Transport, 1)
	go func() {
		tr, err := m.Transport(ctx, "custom")
		assert.NoError(t, err)
		stale <- tr
	}()

	<-started
	m.Purge("custom")
	close(release)
	first := <-stale

	fresh, err := m.Transport(ctx, "custom")
	require.NoError(t, err)
	assert.NotSame(t, first, fresh, "a transport resolved before a purge is not cached")
	assert.Equal(t, int32(2), calls.Load())

	again, err := m.Transport(ctx, "custom")
	require.NoError(t, err)
	assert.Same(t, fresh, again)
}

func TestManager_ResolvesOnce(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	m := internal.NewManager(newTestConfig(t, arrayConfig))
	m.Extend("pigeon", func(context.Context, internal.Options) (mailer.Transport, error) {
		calls.Add(1)
		time.Sleep(10 * time.Millisecond)
		return &stubTransport{Transport: array.New()}, nil
	})

	var wg sync.WaitGroup
	for range 16 {
		wg.Go(func() {
			_, err := m.Transport(context.Background(), "custom")
			assert.NoError(t, err)
		})
	}
	wg.Wait()
	assert.Equal(t, int32(1), calls.Load())
}

func TestManager_SyncQueue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := internal.NewManager(newTestConfig(t, arrayConfig), internal.WithSyncQueue())

	require.NoError(t, m.Queue(ctx, mailer.NewMail().To("user@example.com").Subject("Queued").Text("Body")))
	require.NoError(t, m.Later(ctx, time.Hour, mailer.NewMail().To("user@example.com").Subject("Later").Text("Body")))
	require.NoError(t, m.Send(ctx, mailer.NewMail().To("user@example.com").Subject("Deferred").Text("Body").ShouldQueue()))

	ml, err := m.Mailer(ctx, "")
	require.NoError(t, err)
	msgs := arrayOf(t, ml).Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "Queued", msgs[0].Email.Subject)
	assert.Equal(t, "Later", msgs[1].Email.Subject)
	assert.Equal(t, "Deferred", msgs[2].Email.Subject)
}

func TestManager_HandleQueuedUsesQueuingMailer(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	var jobs []*mailer.QueuedMail
	capture := internal.NewSyncQueue(func(_ context.Context, qm *mailer.QueuedMail) error {
		jobs = append(jobs, qm)
		return nil
	})
	m := internal.NewManager(newTestConfig(t, arrayConfig), internal.WithQueue(capture))

	backup, err := m.Mailer(ctx, "backup")
	require.NoError(t, err)
	require.NoError(t, backup.Queue(ctx, mailer.NewMail().To("user@example.com").Subject("Backup").Text("Body")))
	require.Len(t, jobs, 1)
	assert.Equal(t, "backup", jobs[0].Mailer)

	require.NoError(t, m.HandleQueued(ctx, jobs[0]))
	assert.Equal(t, mailer.StateDone, jobs[0].State)
	require.Len(t, arrayOf(t, backup).Messages(), 1)

	local, err := m.Mailer(ctx, "local")
	require.NoError(t, err)
	assert.Empty(t, arrayOf(t, local).Messages())
}

func TestManager_QueueConnection(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	var named int
	other := internal.NewSyncQueue(func(context.Context, *mailer.QueuedMail) error {
		named++
		return nil
	})
	m := internal.NewManager(newTestConfig(t, arrayConfig), internal.WithQueueConnection("other", other))

	require.NoError(t, m.Send(ctx, mailer.NewMail().To("user@example.com").Text("Body").OnConnection("other")))
	assert.Equal(t, 1, named)

	require.ErrorIs(t, m.Send(ctx, mailer.NewMail().To("user@example.com").Text("Body").ShouldQueue()), mailer.ErrNoQueue)
}

func TestManager_MailerOptions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	var events []mailer.SendEvent
	m := internal.NewManager(newTestConfig(t, arrayConfig),
		internal.WithMailerOptions(mailer.WithAfterSend(func(_ context.Context, e mailer.SendEvent) {
			events = append(events, e)
		})),
		internal.WithViews(mailer.NewStringViews(map[string]string{"welcome": "<p>Hi {{.name}}</p>"})),
	)

	_, err := m.SendView(ctx, "welcome", map[string]any{"name": "Ann"}, func(msg *mailer.Message) {
		msg.To("ann@example.com").Subject("Welcome")
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "local", events[0].Mailer)
	assert.Contains(t, events[0].Email.HTML, "Hi Ann")
}
