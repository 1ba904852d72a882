package mailer

import (
	"bytes"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"gopkg.in/gomail.v2"
)

var priorityLabels = map[int]string{
	1: "Highest",
	2: "High",
	3: "Normal",
	4: "Low",
	5: "Lowest",
}

// Email is a finalized message ready to be handed to a Transport.
type Email struct {
	Date        time.Time
	Sender      Address
	ReturnPath  Address
	Subject     string
	HTML        string
	Text        string
	Charset     string
	MessageID   string
	From        []Address
	To          []Address
	Cc          []Address
	Bcc         []Address
	ReplyTo     []Address
	Attachments []Attachment
	Headers     []Header
	Tags        []string
	Metadata    []Metadata
	Priority    int
}

// Envelope returns the SMTP envelope: the bounce sender and every recipient.
func (e *Email) Envelope() (Address, []Address) {
	return e.envelopeSender(), e.Recipients()
}

func (e *Email) envelopeSender() Address {
	switch {
	case !e.ReturnPath.IsZero():
		return e.ReturnPath
	case !e.Sender.IsZero():
		return e.Sender
	case len(e.From) > 0:
		return e.From[0]
	default:
		return Address{}
	}
}

// Recipients returns to, cc and bcc addresses without duplicates.
func (e *Email) Recipients() []Address {
	return dedupe(e.To, e.Cc, e.Bcc)
}

// MetadataMap returns metadata as a map; later keys win.
func (e *Email) MetadataMap() map[string]string {
	out := make(map[string]string, len(e.Metadata))
	for _, md := range e.Metadata {
		out[md.Key] = md.Value
	}
	return out
}

// InlineAttachments returns the embedded parts.
func (e *Email) InlineAttachments() []Attachment {
	return slices.DeleteFunc(slices.Clone(e.Attachments), func(a Attachment) bool { return !a.Inline })
}

// Message converts the email into a gomail message.
func (e *Email) Message() *gomail.Message {
	charset := e.Charset
	if charset == "" {
		charset = DefaultCharset
	}
	msg := gomail.NewMessage(gomail.SetCharset(strings.ToUpper(charset)))

	setAddresses(msg, "From", e.From)
	setAddresses(msg, "To", e.To)
	setAddresses(msg, "Cc", e.Cc)
	setAddresses(msg, "Bcc", e.Bcc)
	setAddresses(msg, "Reply-To", e.ReplyTo)
	if !e.Sender.IsZero() {
		msg.SetAddressHeader("Sender", e.Sender.Address, e.Sender.Name)
	}
	if !e.ReturnPath.IsZero() {
		msg.SetHeader("Return-Path", "<"+e.ReturnPath.Address+">")
	}
	msg.SetHeader("Subject", e.Subject)
	if !e.Date.IsZero() {
		msg.SetDateHeader("Date", e.Date)
	}
	if e.MessageID != "" {
		msg.SetHeader("Message-ID", "<"+e.MessageID+">")
	}
	if label, ok := priorityLabels[e.Priority]; ok {
		msg.SetHeader("X-Priority", fmt.Sprintf("%d (%s)", e.Priority, label))
	}

	for name, values := range e.extraHeaders() {
		msg.SetHeader(name, values...)
	}

	switch {
	case e.Text != "" && e.HTML != "":
		msg.SetBody("text/plain", e.Text)
		msg.AddAlternative("text/html", e.HTML)
	case e.HTML != "":
		msg.SetBody("text/html", e.HTML)
	case e.Text != "":
		msg.SetBody("text/plain", e.Text)
	}

	for _, a := range e.Attachments {
		settings := []gomail.FileSetting{
			gomail.SetCopyFunc(copyBytes(a.Content)),
			gomail.SetHeader(partHeader(a)),
		}
		if a.Inline {
			msg.Embed(a.Filename, settings...)
			continue
		}
		msg.Attach(a.Filename, settings...)
	}

	return msg
}

// extraHeaders groups custom, tag and metadata headers by name.
// Tags and metadata are appended after the custom headers and never replace them.
func (e *Email) extraHeaders() map[string][]string {
	out := make(map[string][]string, len(e.Headers)+2)
	for _, h := range e.Headers {
		out[h.Name] = append(out[h.Name], h.Value)
	}
	for _, tag := range e.Tags {
		out["X-Tag"] = append(out["X-Tag"], tag)
	}
	for _, md := range e.Metadata {
		name := "X-Metadata-" + md.Key
		out[name] = append(out[name], md.Value)
	}
	return out
}

// WriteTo writes the MIME encoded message.
func (e *Email) WriteTo(w io.Writer) (int64, error) {
	return e.Message().WriteTo(w)
}

// Bytes returns the MIME encoded message.
func (e *Email) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := e.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func setAddresses(msg *gomail.Message, field string, addrs []Address) {
	if len(addrs) == 0 {
		return
	}
	values := make([]string, 0, len(addrs))
	for _, a := range addrs {
		values = append(values, msg.FormatAddress(a.Address, a.Name))
	}
	msg.SetHeader(field, values...)
}

func partHeader(a Attachment) map[string][]string {
	ct := a.ContentType
	if ct == "" {
		ct = mimeOctetStream
	}
	h := map[string][]string{
		"Content-Type": {fmt.Sprintf("%s; name=%q", ct, a.Filename)},
	}
	if a.Inline {
		h["Content-ID"] = []string{"<" + a.ContentID + ">"}
	}
	return h
}

func copyBytes(data []byte) func(io.Writer) error {
	return func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	}
}
