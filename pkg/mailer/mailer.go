package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/dmitrymomot/mailkit/pkg/logger"
)

// Always holds the addresses applied to every message a mailer sends.
// From, ReplyTo and ReturnPath only fill roles the mailable left empty.
// To replaces every recipient and clears cc and bcc.
type Always struct {
	From       Address `json:"from" yaml:"from"`
	ReplyTo    Address `json:"reply_to" yaml:"reply_to"`
	ReturnPath Address `json:"return_path" yaml:"return_path"`
	To         Address `json:"to" yaml:"to"`
}

// SendEvent describes one delivery attempt.
type SendEvent struct {
	Email     *Email
	Sent      *SentMessage
	Err       error
	Mailer    string
	Transport string
	Duration  time.Duration
}

// Option configures a Mailer.
type Option func(*Mailer)

// WithAlways sets the addresses applied to every message.
func WithAlways(always Always) Option {
	return func(m *Mailer) {
		m.always = always
	}
}

// WithViews sets the view engine used to render templates.
func WithViews(views ViewEngine) Option {
	return func(m *Mailer) {
		m.views = views
	}
}

// WithQueue sets the default queue connection.
func WithQueue(q Queue) Option {
	return func(m *Mailer) {
		m.queue = q
	}
}

// WithQueueConnection registers a named queue connection selectable through Mail.OnConnection.
func WithQueueConnection(name string, q Queue) Option {
	return func(m *Mailer) {
		m.connections[name] = q
	}
}

// WithRegistry sets the registry used to encode and decode queued mailables.
func WithRegistry(r *Registry) Option {
	return func(m *Mailer) {
		if r != nil {
			m.registry = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Mailer) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithBeforeSend registers a hook run on the finalized email before it reaches the transport.
// A hook error cancels the send.
func WithBeforeSend(fn func(ctx context.Context, email *Email) error) Option {
	return func(m *Mailer) {
		m.before = append(m.before, fn)
	}
}

// WithAfterSend registers a hook run after every delivery attempt.
func WithAfterSend(fn func(ctx context.Context, event SendEvent)) Option {
	return func(m *Mailer) {
		m.after = append(m.after, fn)
	}
}

// WithTextFallback derives a plain text part from the HTML part when none was rendered.
func WithTextFallback() Option {
	return func(m *Mailer) {
		m.stripper = bluemonday.StrictPolicy()
	}
}

// Mailer renders mailables and hands them to a transport or a queue.
// A Mailer is safe for concurrent use; its configuration is fixed at construction.
type Mailer struct {
	transport   Transport
	views       ViewEngine
	queue       Queue
	connections map[string]Queue
	registry    *Registry
	logger      *slog.Logger
	stripper    *bluemonday.Policy
	before      []func(context.Context, *Email) error
	after       []func(context.Context, SendEvent)
	name        string
	always      Always
}

// New creates a mailer named name that delivers through transport.
func New(name string, transport Transport, opts ...Option) *Mailer {
	m := &Mailer{
		name:        name,
		transport:   transport,
		connections: make(map[string]Queue),
		registry:    NewRegistry(),
		logger:      logger.NewNope(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name returns the mailer name.
func (m *Mailer) Name() string { return m.name }

// Transport returns the transport the mailer delivers through.
func (m *Mailer) Transport() Transport { return m.transport }

// Registry returns the registry used for queued mailables.
func (m *Mailer) Registry() *Registry { return m.registry }

// Send delivers the mailable now, or queues it when it asks for deferred delivery.
func (m *Mailer) Send(ctx context.Context, mailable Mailable) error {
	if mailable.Base().Delivery().IsDeferred() {
		return m.Queue(ctx, mailable)
	}
	_, err := m.SendNow(ctx, mailable)
	return err
}

// SendNow renders and delivers the mailable immediately, ignoring its delivery mode.
func (m *Mailer) SendNow(ctx context.Context, mailable Mailable) (*SentMessage, error) {
	email, err := m.Build(ctx, mailable)
	if err != nil {
		return nil, err
	}
	return m.deliver(ctx, email)
}

// SendView renders an ad-hoc view and delivers it. view is any shape accepted by ViewFrom.
// fn, when not nil, runs after rendering and may set any field of the message.
func (m *Mailer) SendView(ctx context.Context, view any, data map[string]any, fn func(*Message)) (*SentMessage, error) {
	v, err := ViewFrom(view)
	if err != nil {
		return nil, err
	}

	msg := NewMessage()
	data = prepareData(msg, data)
	meta, err := m.render(ctx, msg, v, data, "")
	if err != nil {
		return nil, err
	}
	if s, ok := meta["subject"].(string); ok && s != "" {
		subject, err := processSubject(s, data)
		if err != nil {
			return nil, err
		}
		msg.Subject(subject)
	}
	if fn != nil {
		fn(msg)
	}

	email, err := m.finalize(msg)
	if err != nil {
		return nil, err
	}
	return m.deliver(ctx, email)
}

// Queue hands v to a queue connection. Only mailables can be queued.
// A mailable that declares a delay is queued with Later.
func (m *Mailer) Queue(ctx context.Context, v any, queue ...string) error {
	mailable, ok := v.(Mailable)
	if !ok {
		return fmt.Errorf("%w: %T", ErrNotQueueable, v)
	}
	if d := mailable.Base().Delivery(); d.Delay > 0 {
		return m.Later(ctx, d.Delay, mailable, queue...)
	}

	q, name, job, err := m.prepareQueued(mailable, queue)
	if err != nil {
		return err
	}
	if err := q.Push(ctx, job, name); err != nil {
		return fmt.Errorf("queue %s: %w", job.Kind, err)
	}

	m.logger.DebugContext(ctx, "mail queued",
		slog.String("mailer", m.name),
		slog.String("kind", job.Kind),
		slog.String("job_id", job.ID),
		slog.String("queue", name),
	)
	return nil
}

// Later hands v to a queue connection for delivery after delay. Only mailables can be queued.
func (m *Mailer) Later(ctx context.Context, delay time.Duration, v any, queue ...string) error {
	mailable, ok := v.(Mailable)
	if !ok {
		return fmt.Errorf("%w: %T", ErrNotQueueable, v)
	}

	q, name, job, err := m.prepareQueued(mailable, queue)
	if err != nil {
		return err
	}
	if err := q.Later(ctx, delay, job, name); err != nil {
		return fmt.Errorf("queue %s: %w", job.Kind, err)
	}

	m.logger.DebugContext(ctx, "mail scheduled",
		slog.String("mailer", m.name),
		slog.String("kind", job.Kind),
		slog.String("job_id", job.ID),
		slog.String("queue", name),
		slog.Duration("delay", delay),
	)
	return nil
}

func (m *Mailer) prepareQueued(mailable Mailable, queue []string) (Queue, string, *QueuedMail, error) {
	d := mailable.Base().Delivery()

	q := m.queue
	if d.Connection != "" {
		q = m.connections[d.Connection]
	}
	if q == nil {
		if d.Connection != "" {
			return nil, "", nil, fmt.Errorf("%w: %s", ErrNoQueue, d.Connection)
		}
		return nil, "", nil, ErrNoQueue
	}

	name := d.Queue
	if len(queue) > 0 && queue[0] != "" {
		name = queue[0]
	}

	job, err := m.registry.Encode(mailable)
	if err != nil {
		return nil, "", nil, err
	}
	job.Mailer = m.name
	return q, name, job, nil
}

// HandleQueued replays a queued mailable through SendNow.
// The job moves to StateRunning and then to StateDone or StateFailed.
// A failed send is reported to the mailable when it implements FailureHandler.
func (m *Mailer) HandleQueued(ctx context.Context, job *QueuedMail) error {
	if err := job.Transition(StateRunning); err != nil {
		return err
	}

	mailable, err := m.registry.Decode(job)
	if err != nil {
		job.fail(err)
		return err
	}

	if _, err := m.SendNow(ctx, mailable); err != nil {
		job.fail(err)
		if h, ok := mailable.(FailureHandler); ok {
			h.Failed(ctx, err)
		}
		m.logger.ErrorContext(ctx, "queued mail failed",
			slog.String("mailer", m.name),
			slog.String("kind", job.Kind),
			slog.String("job_id", job.ID),
			slog.Int("attempt", job.Attempts),
			slog.Any("error", err),
		)
		return err
	}

	return job.Transition(StateDone)
}

// Render builds the mailable and returns its HTML body, falling back to the text body.
// Nothing is sent.
func (m *Mailer) Render(ctx context.Context, mailable Mailable) (string, error) {
	email, err := m.Build(ctx, mailable)
	if err != nil {
		return "", err
	}
	if email.HTML != "" {
		return email.HTML, nil
	}
	return email.Text, nil
}

// Build hydrates the mailable and produces the finalized email.
//
// Fields are applied in a fixed order: content, from, recipients, subject,
// priority, tags, metadata, message callbacks, attachments. The mailer's
// Always addresses are applied last.
func (m *Mailer) Build(ctx context.Context, mailable Mailable) (*Email, error) {
	if err := hydrate(ctx, mailable); err != nil {
		return nil, err
	}

	mail := mailable.Base()
	s := mail.state

	msg := NewMessage()
	data := prepareData(msg, viewData(mailable))

	meta, err := m.render(ctx, msg, mail.view(), data, s.Charset)
	if err != nil {
		return nil, err
	}

	if len(s.From) > 0 {
		msg.From(s.From[0].Address, s.From[0].Name)
	}
	addAll(msg.To, s.To)
	addAll(msg.Cc, s.Cc)
	addAll(msg.Bcc, s.Bcc)
	addAll(msg.ReplyTo, s.ReplyTo)
	addAll(msg.ReturnPath, s.ReturnPath)

	subject, err := m.subject(mailable, meta, data)
	if err != nil {
		return nil, err
	}
	msg.Subject(subject)

	if s.Priority > 0 {
		msg.Priority(s.Priority)
	}
	for _, tag := range s.Tags {
		msg.Tag(tag)
	}
	for _, md := range s.Metadata {
		msg.Metadata(md.Key, md.Value)
	}
	for _, fn := range mail.callbacks {
		fn(msg)
	}
	for _, a := range s.Attachments {
		msg.Attach(a.File, a.Options)
	}
	for _, a := range s.RawAttachments {
		msg.AttachData(a.Data, a.Name, a.Options)
	}

	return m.finalize(msg)
}

// render fills the message bodies from the view and returns the markdown frontmatter, if any.
func (m *Mailer) render(ctx context.Context, msg *Message, view View, data map[string]any, charset string) (map[string]any, error) {
	var meta map[string]any

	if view.Markdown != "" {
		md, ok := m.views.(MarkdownRenderer)
		if !ok {
			return nil, fmt.Errorf("%w: markdown view %s", ErrNoViewEngine, view.Markdown)
		}
		res, err := md.RenderMarkdown(ctx, view.Markdown, data)
		if err != nil {
			return nil, err
		}
		msg.HTML(res.HTML, charset)
		msg.Text(res.Text, charset)
		meta = res.Metadata
	}

	if view.HTML != "" {
		out, err := m.fetch(ctx, view.HTML, data)
		if err != nil {
			return nil, err
		}
		msg.HTML(out, charset)
	}
	if view.Text != "" {
		out, err := m.fetch(ctx, view.Text, data)
		if err != nil {
			return nil, err
		}
		msg.Text(out, charset)
	}
	if view.HTMLString != "" {
		msg.HTML(view.HTMLString, charset)
	}
	if view.Raw != "" {
		msg.Text(view.Raw, charset)
	}

	if m.stripper != nil && msg.HTMLBody() != "" && msg.TextBody() == "" {
		msg.Text(m.plainText(msg.HTMLBody()), charset)
	}

	return meta, nil
}

func (m *Mailer) fetch(ctx context.Context, name string, data map[string]any) (string, error) {
	if m.views == nil {
		return "", fmt.Errorf("%w: view %s", ErrNoViewEngine, name)
	}
	return m.views.Fetch(ctx, name, data)
}

// plainText strips markup and collapses blank lines.
func (m *Mailer) plainText(body string) string {
	stripped := html.UnescapeString(m.stripper.Sanitize(body))
	lines := strings.Split(stripped, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" && (len(out) == 0 || out[len(out)-1] == "") {
			continue
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// subject resolves the subject: explicit, then the frontmatter subject, then the mailable name.
func (m *Mailer) subject(mailable Mailable, meta map[string]any, data map[string]any) (string, error) {
	if s := mailable.Base().GetSubject(); s != "" {
		return s, nil
	}
	if s, ok := meta["subject"].(string); ok && s != "" {
		return processSubject(s, data)
	}
	return DefaultSubject(NameOf(mailable)), nil
}

// processSubject executes the subject as a text template, so frontmatter may use {{.Variable}}.
func processSubject(subject string, data map[string]any) (string, error) {
	tmpl, err := texttemplate.New("subject").Parse(subject)
	if err != nil {
		return "", errors.Join(ErrRenderFailed, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", errors.Join(ErrRenderFailed, err)
	}
	return buf.String(), nil
}

// finalize applies the Always addresses, validates the message and finalizes it.
func (m *Mailer) finalize(msg *Message) (*Email, error) {
	if !msg.HasAddresses(RoleFrom) && !m.always.From.IsZero() {
		msg.From(m.always.From.Address, m.always.From.Name)
	}
	if !msg.HasAddresses(RoleReplyTo) && !m.always.ReplyTo.IsZero() {
		msg.ReplyTo(m.always.ReplyTo.Address, m.always.ReplyTo.Name)
	}
	if !msg.HasAddresses(RoleReturnPath) && !m.always.ReturnPath.IsZero() {
		msg.ReturnPath(m.always.ReturnPath.Address, m.always.ReturnPath.Name)
	}
	if !m.always.To.IsZero() {
		msg.SetTo(m.always.To)
	}

	if err := msg.Err(); err != nil {
		return nil, err
	}
	if !msg.HasAddresses(RoleFrom) {
		return nil, ErrNoSender
	}
	if !msg.HasAddresses(RoleTo) && !msg.HasAddresses(RoleCc) && !msg.HasAddresses(RoleBcc) {
		return nil, ErrNoRecipient
	}
	if msg.HTMLBody() == "" && msg.TextBody() == "" {
		return nil, ErrNoContent
	}

	return msg.Finalize()
}

// deliver runs the hooks around the transport call and wraps transport errors in a DeliveryError.
func (m *Mailer) deliver(ctx context.Context, email *Email) (*SentMessage, error) {
	for _, fn := range m.before {
		if err := fn(ctx, email); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	sent, err := m.transport.Send(ctx, email)
	event := SendEvent{
		Email:     email,
		Sent:      sent,
		Mailer:    m.name,
		Transport: m.transport.Name(),
		Duration:  time.Since(start),
	}
	if err != nil {
		event.Err = &DeliveryError{Mailer: m.name, Email: email, Err: err}
	}

	for _, fn := range m.after {
		fn(ctx, event)
	}

	if event.Err != nil {
		m.logger.ErrorContext(ctx, "mail delivery failed",
			slog.String("mailer", m.name),
			slog.String("transport", event.Transport),
			slog.String("message_id", email.MessageID),
			slog.Any("error", err),
		)
		return nil, event.Err
	}

	m.logger.InfoContext(ctx, "mail sent",
		slog.String("mailer", m.name),
		slog.String("transport", event.Transport),
		slog.String("message_id", email.MessageID),
		slog.Int("recipients", len(email.Recipients())),
		slog.Duration("duration", event.Duration),
	)
	return sent, nil
}

func addAll(add func(string, ...string) *Message, addrs []Address) {
	for _, a := range addrs {
		add(a.Address, a.Name)
	}
}
