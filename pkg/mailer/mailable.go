package mailer

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Mailable is a declarative, replayable definition of one kind of email.
// Embed Mail in a struct to implement it.
type Mailable interface {
	Base() *Mail
}

// Builder is implemented by mailables that populate themselves right before delivery.
type Builder interface {
	Build(ctx context.Context) error
}

// EnvelopeProvider is implemented by mailables that describe their addressing declaratively.
type EnvelopeProvider interface {
	Envelope() Envelope
}

// ContentProvider is implemented by mailables that describe their views declaratively.
type ContentProvider interface {
	Content() Content
}

// HeadersProvider is implemented by mailables that add message headers.
type HeadersProvider interface {
	Headers() Headers
}

// ViewDataProvider exposes the named fields a mailable contributes to its view data.
type ViewDataProvider interface {
	ViewData() map[string]any
}

// FailureHandler is notified when a queued send of the mailable fails.
type FailureHandler interface {
	Failed(ctx context.Context, err error)
}

// Namer overrides the name used for the default subject.
type Namer interface {
	MailName() string
}

// Envelope describes the addressing of a mailable.
type Envelope struct {
	From     *Address
	Metadata map[string]string
	Subject  string
	To       []Address
	Cc       []Address
	Bcc      []Address
	ReplyTo  []Address
	Tags     []string
	Using    []func(*Message)
}

// Content describes the views of a mailable.
type Content struct {
	With       map[string]any
	View       string
	HTML       string
	Text       string
	HTMLString string
	Markdown   string
}

// Headers describes extra headers of a mailable.
type Headers struct {
	Text       map[string]string
	MessageID  string
	References []string
}

// DeliveryMode selects between sending in the caller and handing off to a queue.
type DeliveryMode string

const (
	DeliverImmediately DeliveryMode = "immediate"
	DeliverDeferred    DeliveryMode = "deferred"
)

// Delivery is carried by every mailable and tells the mailer how to dispatch it.
type Delivery struct {
	Mode       DeliveryMode  `json:"mode"`
	Connection string        `json:"connection,omitempty"`
	Queue      string        `json:"queue,omitempty"`
	Delay      time.Duration `json:"delay,omitempty"`
}

// Immediate returns the default synchronous delivery.
func Immediate() Delivery {
	return Delivery{Mode: DeliverImmediately}
}

// Deferred returns a queued delivery on the given connection and queue.
// Empty names select the defaults.
func Deferred(connection, queue string, delay time.Duration) Delivery {
	return Delivery{Mode: DeliverDeferred, Connection: connection, Queue: queue, Delay: delay}
}

// IsDeferred reports whether the mailable should be queued.
func (d Delivery) IsDeferred() bool {
	return d.Mode == DeliverDeferred
}

type fileAttachment struct {
	File    string        `json:"file"`
	Options AttachOptions `json:"options"`
}

type rawAttachment struct {
	Name    string        `json:"name"`
	Options AttachOptions `json:"options"`
	Data    []byte        `json:"data"`
}

// mailState is the serializable part of a Mail.
type mailState struct {
	ViewData       map[string]any   `json:"view_data,omitempty"`
	Delivery       Delivery         `json:"delivery"`
	Subject        string           `json:"subject,omitempty"`
	View           string           `json:"view,omitempty"`
	TextView       string           `json:"text_view,omitempty"`
	HTMLString     string           `json:"html,omitempty"`
	TextString     string           `json:"text,omitempty"`
	Markdown       string           `json:"markdown,omitempty"`
	Charset        string           `json:"charset,omitempty"`
	From           []Address        `json:"from,omitempty"`
	To             []Address        `json:"to,omitempty"`
	Cc             []Address        `json:"cc,omitempty"`
	Bcc            []Address        `json:"bcc,omitempty"`
	ReplyTo        []Address        `json:"reply_to,omitempty"`
	ReturnPath     []Address        `json:"return_path,omitempty"`
	Attachments    []fileAttachment `json:"attachments,omitempty"`
	RawAttachments []rawAttachment  `json:"raw_attachments,omitempty"`
	Tags           []string         `json:"tags,omitempty"`
	Metadata       []Metadata       `json:"metadata,omitempty"`
	Priority       int              `json:"priority,omitempty"`
}

// Mail holds the state of a mailable. The zero value is ready to use.
// Message callbacks registered with WithMessage are not carried through a queue.
type Mail struct {
	callbacks []func(*Message)
	errs      []error
	pristine  *mailState
	state     mailState
	hydrated  bool
}

// NewMail returns an ad-hoc mailable.
func NewMail() *Mail {
	return &Mail{}
}

// Base implements Mailable.
func (m *Mail) Base() *Mail { return m }

func (m *Mail) list(role Role) *[]Address {
	switch role {
	case RoleFrom:
		return &m.state.From
	case RoleTo:
		return &m.state.To
	case RoleCc:
		return &m.state.Cc
	case RoleBcc:
		return &m.state.Bcc
	case RoleReplyTo:
		return &m.state.ReplyTo
	case RoleReturnPath:
		return &m.state.ReturnPath
	default:
		return nil
	}
}

func (m *Mail) appendAddresses(role Role, v any, name []string) *Mail {
	if s, ok := v.(string); ok && len(name) > 0 {
		v = Named{Address: s, Name: name[0]}
	}
	addrs, err := AddressesFrom(v)
	if err != nil {
		m.errs = append(m.errs, fmt.Errorf("%s: %w", role, err))
		return m
	}
	list := m.list(role)
	*list = append(*list, addrs...)
	return m
}

// From appends sender addresses. Only the first one is used when building the message.
func (m *Mail) From(v any, name ...string) *Mail { return m.appendAddresses(RoleFrom, v, name) }

// To appends recipients. v is any shape accepted by AddressesFrom.
func (m *Mail) To(v any, name ...string) *Mail { return m.appendAddresses(RoleTo, v, name) }

// Cc appends carbon copy recipients.
func (m *Mail) Cc(v any, name ...string) *Mail { return m.appendAddresses(RoleCc, v, name) }

// Bcc appends blind carbon copy recipients.
func (m *Mail) Bcc(v any, name ...string) *Mail { return m.appendAddresses(RoleBcc, v, name) }

// ReplyTo appends reply-to addresses.
func (m *Mail) ReplyTo(v any, name ...string) *Mail { return m.appendAddresses(RoleReplyTo, v, name) }

// ReturnPath appends a bounce address.
func (m *Mail) ReturnPath(v any, name ...string) *Mail {
	return m.appendAddresses(RoleReturnPath, v, name)
}

// Addresses returns a copy of the addresses recorded for a role.
func (m *Mail) Addresses(role Role) []Address {
	if list := m.list(role); list != nil {
		return slices.Clone(*list)
	}
	return nil
}

// Has reports whether the address is recorded for the role.
func (m *Mail) Has(role Role, address string) bool {
	return slices.ContainsFunc(m.Addresses(role), func(a Address) bool {
		return strings.EqualFold(a.Address, address)
	})
}

// Subject sets the subject line.
func (m *Mail) Subject(subject string) *Mail {
	m.state.Subject = subject
	return m
}

// GetSubject returns the explicitly set subject.
func (m *Mail) GetSubject() string { return m.state.Subject }

// Priority sets the message priority, 1 (highest) to 5 (lowest).
func (m *Mail) Priority(level int) *Mail {
	m.state.Priority = level
	return m
}

// Charset sets the body charset. Defaults to utf-8.
func (m *Mail) Charset(charset string) *Mail {
	m.state.Charset = charset
	return m
}

// Tag adds a provider tag.
func (m *Mail) Tag(tag string) *Mail {
	if !slices.Contains(m.state.Tags, tag) {
		m.state.Tags = append(m.state.Tags, tag)
	}
	return m
}

// HasTag reports whether the tag was added.
func (m *Mail) HasTag(tag string) bool {
	return slices.Contains(m.state.Tags, tag)
}

// Metadata adds a provider metadata pair.
func (m *Mail) Metadata(key, value string) *Mail {
	m.state.Metadata = append(m.state.Metadata, Metadata{Key: key, Value: value})
	return m
}

// HasMetadata reports whether the key is set to value.
func (m *Mail) HasMetadata(key, value string) bool {
	return slices.Contains(m.state.Metadata, Metadata{Key: key, Value: value})
}

// HTML sets a literal HTML body.
func (m *Mail) HTML(html string) *Mail {
	m.state.HTMLString = html
	return m
}

// Text sets a literal plain text body.
func (m *Mail) Text(text string) *Mail {
	m.state.TextString = text
	return m
}

// View sets the HTML view and merges data into the view data.
func (m *Mail) View(name string, data ...map[string]any) *Mail {
	m.state.View = name
	return m.mergeData(data)
}

// TextView sets the plain text view and merges data into the view data.
func (m *Mail) TextView(name string, data ...map[string]any) *Mail {
	m.state.TextView = name
	return m.mergeData(data)
}

// Markdown sets a markdown view rendered into both the HTML and text parts.
func (m *Mail) Markdown(name string, data ...map[string]any) *Mail {
	m.state.Markdown = name
	return m.mergeData(data)
}

// With adds a view data entry.
func (m *Mail) With(key string, value any) *Mail {
	if m.state.ViewData == nil {
		m.state.ViewData = make(map[string]any)
	}
	m.state.ViewData[key] = value
	return m
}

func (m *Mail) mergeData(data []map[string]any) *Mail {
	for _, d := range data {
		for k, v := range d {
			m.With(k, v)
		}
	}
	return m
}

// Attach appends a file attachment.
func (m *Mail) Attach(path string, opts ...AttachOptions) *Mail {
	m.state.Attachments = append(m.state.Attachments, fileAttachment{File: path, Options: firstOptions(opts)})
	return m
}

// AttachData appends an in-memory attachment.
func (m *Mail) AttachData(data []byte, name string, opts ...AttachOptions) *Mail {
	m.state.RawAttachments = append(m.state.RawAttachments, rawAttachment{
		Data:    slices.Clone(data),
		Name:    name,
		Options: firstOptions(opts),
	})
	return m
}

// WithMessage registers a callback run after all structured fields were applied.
func (m *Mail) WithMessage(fn func(*Message)) *Mail {
	if fn != nil {
		m.callbacks = append(m.callbacks, fn)
	}
	return m
}

// ShouldQueue marks the mailable for deferred delivery on the default connection and queue.
func (m *Mail) ShouldQueue() *Mail {
	m.state.Delivery.Mode = DeliverDeferred
	return m
}

// OnConnection selects the queue connection and marks the mailable for deferred delivery.
func (m *Mail) OnConnection(name string) *Mail {
	m.state.Delivery.Mode = DeliverDeferred
	m.state.Delivery.Connection = name
	return m
}

// OnQueue selects the queue name and marks the mailable for deferred delivery.
func (m *Mail) OnQueue(name string) *Mail {
	m.state.Delivery.Mode = DeliverDeferred
	m.state.Delivery.Queue = name
	return m
}

// Delay postpones queued delivery and marks the mailable for deferred delivery.
func (m *Mail) Delay(d time.Duration) *Mail {
	m.state.Delivery.Mode = DeliverDeferred
	m.state.Delivery.Delay = d
	return m
}

// Delivery returns how the mailable asks to be dispatched.
func (m *Mail) Delivery() Delivery {
	if m.state.Delivery.Mode == "" {
		return Immediate()
	}
	return m.state.Delivery
}

// Err returns the errors recorded by the fluent setters.
func (m *Mail) Err() error {
	return errors.Join(m.errs...)
}

func (m *Mail) snapshot() mailState {
	return m.state.clone()
}

// queuedState is the state a queued copy starts from: the state before the
// hooks ran, so the worker can run them again without doubling their output.
func (m *Mail) queuedState() mailState {
	if m.pristine != nil {
		return m.pristine.clone()
	}
	return m.snapshot()
}

func (m *Mail) restore(s mailState) {
	m.state = s
	m.pristine = nil
	m.hydrated = false
	m.callbacks = nil
	m.errs = nil
}

func (s mailState) clone() mailState {
	s.ViewData = maps.Clone(s.ViewData)
	s.From = slices.Clone(s.From)
	s.To = slices.Clone(s.To)
	s.Cc = slices.Clone(s.Cc)
	s.Bcc = slices.Clone(s.Bcc)
	s.ReplyTo = slices.Clone(s.ReplyTo)
	s.ReturnPath = slices.Clone(s.ReturnPath)
	s.Attachments = slices.Clone(s.Attachments)
	s.RawAttachments = slices.Clone(s.RawAttachments)
	s.Tags = slices.Clone(s.Tags)
	s.Metadata = slices.Clone(s.Metadata)
	return s
}

// hydrate runs the optional hooks of a mailable once, in a fixed order:
// Build, Headers, Envelope, Content. A failed run is rolled back, so the
// next attempt starts from the same state and runs Build again.
func hydrate(ctx context.Context, mailable Mailable) error {
	m := mailable.Base()
	if m.hydrated {
		return m.Err()
	}

	before := m.snapshot()
	callbacks, errs := len(m.callbacks), len(m.errs)
	if err := runHooks(ctx, mailable); err != nil {
		m.state = before
		m.callbacks = m.callbacks[:callbacks:callbacks]
		m.errs = m.errs[:errs:errs]
		return err
	}

	m.pristine = &before
	m.hydrated = true
	return nil
}

func runHooks(ctx context.Context, mailable Mailable) error {
	m := mailable.Base()
	if b, ok := mailable.(Builder); ok {
		if err := b.Build(ctx); err != nil {
			return err
		}
	}

	if hp, ok := mailable.(HeadersProvider); ok {
		h := hp.Headers()
		m.WithMessage(func(msg *Message) {
			if h.MessageID != "" {
				msg.AddIDHeader("Message-ID", h.MessageID)
			}
			if len(h.References) > 0 {
				msg.AddIDHeader("References", h.References...)
			}
			for _, k := range slices.Sorted(maps.Keys(h.Text)) {
				msg.AddTextHeader(k, h.Text[k])
			}
		})
	}

	if ep, ok := mailable.(EnvelopeProvider); ok {
		env := ep.Envelope()
		if env.From != nil {
			m.From(*env.From)
		}
		for _, a := range env.To {
			m.To(a)
		}
		for _, a := range env.Cc {
			m.Cc(a)
		}
		for _, a := range env.Bcc {
			m.Bcc(a)
		}
		for _, a := range env.ReplyTo {
			m.ReplyTo(a)
		}
		if env.Subject != "" {
			m.Subject(env.Subject)
		}
		for _, tag := range env.Tags {
			m.Tag(tag)
		}
		for _, k := range slices.Sorted(maps.Keys(env.Metadata)) {
			m.Metadata(k, env.Metadata[k])
		}
		for _, fn := range env.Using {
			m.WithMessage(fn)
		}
	}

	if cp, ok := mailable.(ContentProvider); ok {
		c := cp.Content()
		if c.View != "" {
			m.View(c.View)
		}
		if c.HTML != "" {
			m.View(c.HTML)
		}
		if c.Text != "" {
			m.TextView(c.Text)
		}
		if c.HTMLString != "" {
			m.HTML(c.HTMLString)
		}
		if c.Markdown != "" {
			m.Markdown(c.Markdown)
		}
		for k, v := range c.With {
			m.With(k, v)
		}
	}

	return m.Err()
}

// viewData merges the accumulated view data with the fields the mailable declares.
func viewData(mailable Mailable) map[string]any {
	m := mailable.Base()
	data := maps.Clone(m.state.ViewData)
	if data == nil {
		data = make(map[string]any)
	}
	if p, ok := mailable.(ViewDataProvider); ok {
		maps.Copy(data, p.ViewData())
	}
	return data
}

// view returns the content reference of a mailable.
func (m *Mail) view() View {
	return View{
		HTML:       m.state.View,
		Text:       m.state.TextView,
		Raw:        m.state.TextString,
		HTMLString: m.state.HTMLString,
		Markdown:   m.state.Markdown,
	}
}

// KindOf returns the registry kind of a mailable: its package-qualified type name.
func KindOf(mailable Mailable) string {
	return baseType(mailable).String()
}

// NameOf returns the short name of a mailable, honoring Namer.
func NameOf(mailable Mailable) string {
	if n, ok := mailable.(Namer); ok {
		return n.MailName()
	}
	return baseType(mailable).Name()
}

func baseType(v any) reflect.Type {
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

// DefaultSubject turns a type name into a title-cased, space-separated subject:
// "OrderShipped" becomes "Order Shipped".
func DefaultSubject(name string) string {
	var b strings.Builder
	for i, r := range name {
		switch {
		case r == '_' || r == '-':
			b.WriteRune(' ')
			continue
		case i > 0 && unicode.IsUpper(r):
			b.WriteRune(' ')
		}
		b.WriteRune(r)
	}
	words := strings.Join(strings.Fields(strings.ToLower(b.String())), " ")
	return cases.Title(language.Und).String(words)
}
