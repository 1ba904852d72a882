package mailer

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueuedMail_Transition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		from  State
		to    State
		valid bool
	}{
		{name: "zero state is pending", from: "", to: StateRunning, valid: true},
		{name: "pending to running", from: StatePending, to: StateRunning, valid: true},
		{name: "running to done", from: StateRunning, to: StateDone, valid: true},
		{name: "running to failed", from: StateRunning, to: StateFailed, valid: true},
		{name: "failed retried", from: StateFailed, to: StateRunning, valid: true},
		{name: "pending to done", from: StatePending, to: StateDone},
		{name: "done is terminal", from: StateDone, to: StateRunning},
		{name: "failed to done", from: StateFailed, to: StateDone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			job := &QueuedMail{State: tt.from}
			err := job.Transition(tt.to)
			if !tt.valid {
				require.ErrorIs(t, err, ErrInvalidTransition)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.to, job.State)
		})
	}
}

func TestQueuedMail_AttemptsCountRuns(t *testing.T) {
	t.Parallel()

	job := &QueuedMail{State: StatePending}
	require.NoError(t, job.Transition(StateRunning))
	job.fail(assert.AnError)
	require.NoError(t, job.Transition(StateRunning))

	assert.Equal(t, 2, job.Attempts)
	assert.Equal(t, assert.AnError.Error(), job.Error)
}

func TestRegistry_Register(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	Register[OrderShipped](r)
	r.Register(func() Mailable { return &welcomeMail{} })
	r.Register(func() Mailable { return &welcomeMail{} })

	assert.Equal(t, 2, r.Kinds())
}

func TestRegistry_EncodeRejects(t *testing.T) {
	t.Parallel()

	r := NewRegistry()

	_, err := r.Encode(nil)
	require.ErrorIs(t, err, ErrNotQueueable)

	var nilMail *OrderShipped
	_, err = r.Encode(nilMail)
	require.ErrorIs(t, err, ErrNotQueueable)
}

func TestRegistry_DecodeUnknownKind(t *testing.T) {
	t.Parallel()

	_, err := NewRegistry().Decode(&QueuedMail{Kind: "emails.Missing", Payload: json.RawMessage(`{}`)})
	require.ErrorIs(t, err, ErrUnknownMailable)
}

func TestRegistry_EncodeAfterRender(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := newTestMailer(t, &recorder{})
	h := &hookedMail{}

	_, err := m.Render(ctx, h)
	require.NoError(t, err)

	job, err := m.Registry().Encode(h)
	require.NoError(t, err)
	decoded, err := m.Registry().Decode(job)
	require.NoError(t, err)

	want, err := m.Build(ctx, h)
	require.NoError(t, err)
	got, err := m.Build(ctx, decoded)
	require.NoError(t, err)

	assert.Equal(t, []Address{NewAddress("built@example.com")}, got.To)
	assert.Equal(t, []Address{NewAddress("cc@example.com")}, got.Cc)
	assert.Equal(t, want.To, got.To)
	assert.Equal(t, want.Cc, got.Cc)
	assert.Equal(t, want.Tags, got.Tags)
	assert.Equal(t, want.Subject, got.Subject)
}

func TestRegistry_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := newTestMailer(t, &recorder{})

	original := &OrderShipped{OrderID: "42"}
	original.
		From("shop@example.com", "Shop").
		To([]string{"a@example.com", "Bee <b@example.com>"}).
		Cc("c@example.com").
		Bcc("d@example.com").
		Subject("Your order").
		View("welcome.html", map[string]any{"Name": "Ann"}).
		Tag("orders").
		Metadata("order_id", "42").
		AttachData([]byte("id,total\n42,10"), "order.csv").
		OnQueue("emails")

	job, err := m.Registry().Encode(original)
	require.NoError(t, err)
	assert.Equal(t, StatePending, job.State)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, "mailer.OrderShipped", job.Kind)

	raw, err := json.Marshal(job)
	require.NoError(t, err)
	var wire QueuedMail
	require.NoError(t, json.Unmarshal(raw, &wire))

	decoded, err := m.Registry().Decode(&wire)
	require.NoError(t, err)

	restored, ok := decoded.(*OrderShipped)
	require.True(t, ok)
	assert.Equal(t, "42", restored.OrderID)
	assert.Equal(t, original.Delivery(), restored.Delivery())

	want, err := m.Build(ctx, original)
	require.NoError(t, err)
	got, err := m.Build(ctx, restored)
	require.NoError(t, err)

	assert.Equal(t, want.From, got.From)
	assert.Equal(t, want.To, got.To)
	assert.Equal(t, want.Cc, got.Cc)
	assert.Equal(t, want.Bcc, got.Bcc)
	assert.Equal(t, want.Subject, got.Subject)
	assert.Equal(t, want.HTML, got.HTML)
	assert.Equal(t, want.Tags, got.Tags)
	assert.Equal(t, want.Metadata, got.Metadata)
	require.Len(t, got.Attachments, 1)
	assert.Equal(t, want.Attachments[0].Content, got.Attachments[0].Content)
}
