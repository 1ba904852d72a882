package mailer

import (
	"errors"
	"fmt"
	"net/textproto"
	"slices"
	"strings"
	"time"

	"github.com/dmitrymomot/mailkit/pkg/id"
)

// Role identifies an address list on a message.
type Role string

const (
	RoleFrom       Role = "from"
	RoleTo         Role = "to"
	RoleCc         Role = "cc"
	RoleBcc        Role = "bcc"
	RoleReplyTo    Role = "reply_to"
	RoleReturnPath Role = "return_path"
)

const (
	DefaultCharset  = "utf-8"
	DefaultPriority = 3
)

const cidPrefix = "cid:"

// reservedHeaders are populated from structured fields and cannot be set as raw headers.
var reservedHeaders = map[string]struct{}{
	"From":                      {},
	"Sender":                    {},
	"To":                        {},
	"Cc":                        {},
	"Bcc":                       {},
	"Reply-To":                  {},
	"Return-Path":               {},
	"Subject":                   {},
	"Date":                      {},
	"Mime-Version":              {},
	"Content-Type":              {},
	"Content-Transfer-Encoding": {},
	"X-Priority":                {},
}

// Header is an extra header line. ID headers have their value wrapped in angle brackets.
type Header struct {
	Name  string
	Value string
	ID    bool
}

// Metadata is a key/value pair attached to the message for provider-side tracking.
type Metadata struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type body struct {
	content string
	charset string
	set     bool
}

// Message accumulates the fields of one outgoing email.
// A Message is owned by a single send call and is not safe for concurrent use.
type Message struct {
	meta        map[string]any
	sender      Address
	subject     string
	html        body
	text        body
	messageID   string
	roles       map[Role][]Address
	attachments []Attachment
	headers     []Header
	tags        []string
	metadata    []Metadata
	errs        []error
	priority    int
}

// NewMessage creates an empty message builder.
func NewMessage() *Message {
	return &Message{roles: make(map[Role][]Address)}
}

func (m *Message) add(role Role, address string, name []string) *Message {
	a := NewAddress(address, name...)
	if err := a.Validate(); err != nil {
		m.errs = append(m.errs, fmt.Errorf("%s: %w", role, err))
		return m
	}
	m.roles[role] = append(m.roles[role], a)
	return m
}

// From appends a from address.
func (m *Message) From(address string, name ...string) *Message { return m.add(RoleFrom, address, name) }

// To appends a to address.
func (m *Message) To(address string, name ...string) *Message { return m.add(RoleTo, address, name) }

// Cc appends a cc address.
func (m *Message) Cc(address string, name ...string) *Message { return m.add(RoleCc, address, name) }

// Bcc appends a bcc address.
func (m *Message) Bcc(address string, name ...string) *Message { return m.add(RoleBcc, address, name) }

// ReplyTo appends a reply-to address.
func (m *Message) ReplyTo(address string, name ...string) *Message {
	return m.add(RoleReplyTo, address, name)
}

// ReturnPath sets the bounce address. Only the first return path is used on the wire.
func (m *Message) ReturnPath(address string, name ...string) *Message {
	return m.add(RoleReturnPath, address, name)
}

// Sender sets the Sender header, the mailbox responsible for the actual transmission.
func (m *Message) Sender(address string, name ...string) *Message {
	a := NewAddress(address, name...)
	if err := a.Validate(); err != nil {
		m.errs = append(m.errs, fmt.Errorf("sender: %w", err))
		return m
	}
	m.sender = a
	return m
}

// SetTo replaces the to list and clears cc and bcc.
func (m *Message) SetTo(addrs ...Address) *Message {
	m.roles[RoleTo] = slices.Clone(addrs)
	delete(m.roles, RoleCc)
	delete(m.roles, RoleBcc)
	return m
}

// SetCc replaces the cc list.
func (m *Message) SetCc(addrs ...Address) *Message {
	m.roles[RoleCc] = slices.Clone(addrs)
	return m
}

// SetBcc replaces the bcc list.
func (m *Message) SetBcc(addrs ...Address) *Message {
	m.roles[RoleBcc] = slices.Clone(addrs)
	return m
}

// Addresses returns a copy of the addresses recorded for a role.
func (m *Message) Addresses(role Role) []Address {
	return slices.Clone(m.roles[role])
}

// HasAddresses reports whether the role has at least one address.
func (m *Message) HasAddresses(role Role) bool {
	return len(m.roles[role]) > 0
}

// Subject sets the subject line.
func (m *Message) Subject(subject string) *Message {
	m.subject = subject
	return m
}

// GetSubject returns the current subject.
func (m *Message) GetSubject() string { return m.subject }

// Priority sets the X-Priority level, clamped to 1 (highest) .. 5 (lowest).
func (m *Message) Priority(level int) *Message {
	m.priority = min(max(level, 1), 5)
	return m
}

// HTML sets the HTML part.
func (m *Message) HTML(content string, charset ...string) *Message {
	m.html = newBody(content, charset)
	return m
}

// Text sets the plain text part.
func (m *Message) Text(content string, charset ...string) *Message {
	m.text = newBody(content, charset)
	return m
}

// HTMLBody returns the HTML part, if any.
func (m *Message) HTMLBody() string { return m.html.content }

// TextBody returns the plain text part, if any.
func (m *Message) TextBody() string { return m.text.content }

func newBody(content string, charset []string) body {
	cs := DefaultCharset
	if len(charset) > 0 && charset[0] != "" {
		cs = charset[0]
	}
	return body{content: content, charset: cs, set: true}
}

// Attach appends a file attachment. Name and MIME type are inferred from the path unless overridden.
func (m *Message) Attach(path string, opts ...AttachOptions) *Message {
	o := firstOptions(opts)
	m.attachments = append(m.attachments, Attachment{
		Source:      SourceFile,
		Path:        path,
		Filename:    o.As,
		ContentType: o.Mime,
	})
	return m
}

// AttachData appends an in-memory attachment.
func (m *Message) AttachData(data []byte, name string, opts ...AttachOptions) *Message {
	o := firstOptions(opts)
	if o.As != "" {
		name = o.As
	}
	m.attachments = append(m.attachments, Attachment{
		Source:      SourceData,
		Filename:    name,
		ContentType: o.Mime,
		Content:     slices.Clone(data),
	})
	return m
}

// Embed registers a file as an inline part and returns the "cid:" reference for the HTML body.
func (m *Message) Embed(path string) string {
	cid := id.NewContentID()
	m.attachments = append(m.attachments, Attachment{
		Source:    SourceFile,
		Path:      path,
		ContentID: cid,
		Inline:    true,
	})
	return cidPrefix + cid
}

// EmbedData registers in-memory data as an inline part named name and returns its "cid:" reference.
func (m *Message) EmbedData(data []byte, name string, mime ...string) string {
	var ct string
	if len(mime) > 0 {
		ct = mime[0]
	}
	m.attachments = append(m.attachments, Attachment{
		Source:      SourceData,
		Filename:    name,
		ContentType: ct,
		ContentID:   name,
		Content:     slices.Clone(data),
		Inline:      true,
	})
	return cidPrefix + name
}

// Attachments returns the attachments in the order they were added.
func (m *Message) Attachments() []Attachment {
	return slices.Clone(m.attachments)
}

// AddTextHeader appends a raw header. Structured headers such as To or Subject are rejected.
func (m *Message) AddTextHeader(name, value string) *Message {
	name = textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(name))
	if name == "Message-Id" {
		m.messageID = strings.Trim(value, "<> ")
		return m
	}
	if _, reserved := reservedHeaders[name]; reserved {
		m.errs = append(m.errs, fmt.Errorf("%w: %s", ErrReservedHeader, name))
		return m
	}
	m.headers = append(m.headers, Header{Name: name, Value: value})
	return m
}

// AddIDHeader appends a header whose value is a message identifier, such as In-Reply-To.
// Message-ID itself replaces the generated identifier.
func (m *Message) AddIDHeader(name string, ids ...string) *Message {
	name = textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(name))
	if name == "Message-Id" {
		if len(ids) > 0 {
			m.messageID = strings.Trim(ids[0], "<> ")
		}
		return m
	}
	if _, reserved := reservedHeaders[name]; reserved {
		m.errs = append(m.errs, fmt.Errorf("%w: %s", ErrReservedHeader, name))
		return m
	}
	wrapped := make([]string, 0, len(ids))
	for _, v := range ids {
		wrapped = append(wrapped, "<"+strings.Trim(v, "<> ")+">")
	}
	m.headers = append(m.headers, Header{Name: name, Value: strings.Join(wrapped, " "), ID: true})
	return m
}

// Tag adds a provider tag. Duplicate tags are ignored.
func (m *Message) Tag(tag string) *Message {
	if tag != "" && !slices.Contains(m.tags, tag) {
		m.tags = append(m.tags, tag)
	}
	return m
}

// Metadata adds a provider metadata pair.
func (m *Message) Metadata(key, value string) *Message {
	m.metadata = append(m.metadata, Metadata{Key: key, Value: value})
	return m
}

// Err returns the errors recorded by the fluent setters.
func (m *Message) Err() error {
	return errors.Join(m.errs...)
}

// Finalize resolves attachments and produces the transport-ready Email.
func (m *Message) Finalize() (*Email, error) {
	if err := m.Err(); err != nil {
		return nil, err
	}

	attachments := make([]Attachment, 0, len(m.attachments))
	for _, a := range m.attachments {
		resolved, err := a.resolve()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", a.Path, err)
		}
		attachments = append(attachments, resolved)
	}

	email := &Email{
		From:        slices.Clone(m.roles[RoleFrom]),
		Sender:      m.sender,
		To:          slices.Clone(m.roles[RoleTo]),
		Cc:          slices.Clone(m.roles[RoleCc]),
		Bcc:         slices.Clone(m.roles[RoleBcc]),
		ReplyTo:     slices.Clone(m.roles[RoleReplyTo]),
		Subject:     m.subject,
		Priority:    m.priority,
		HTML:        m.html.content,
		Text:        m.text.content,
		Charset:     m.charset(),
		Attachments: attachments,
		Headers:     slices.Clone(m.headers),
		Tags:        slices.Clone(m.tags),
		Metadata:    slices.Clone(m.metadata),
		MessageID:   m.messageID,
		Date:        time.Now(),
	}
	if rp := m.roles[RoleReturnPath]; len(rp) > 0 {
		email.ReturnPath = rp[0]
	}
	if email.MessageID == "" {
		email.MessageID = generateMessageID(email)
	}
	return email, nil
}

func (m *Message) charset() string {
	switch {
	case m.html.set:
		return m.html.charset
	case m.text.set:
		return m.text.charset
	default:
		return DefaultCharset
	}
}

func generateMessageID(e *Email) string {
	var domain string
	if from := e.envelopeSender(); !from.IsZero() {
		if at := strings.LastIndexByte(from.Address, '@'); at >= 0 {
			domain = from.Address[at+1:]
		}
	}
	return id.NewMessageID(domain)
}

func firstOptions(opts []AttachOptions) AttachOptions {
	if len(opts) > 0 {
		return opts[0]
	}
	return AttachOptions{}
}
