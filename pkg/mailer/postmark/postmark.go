// Package postmark provides a mailer transport for the Postmark email API.
package postmark

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/dmitrymomot/mailkit/pkg/mailer"
)

// DefaultBaseURL is the Postmark API root.
const DefaultBaseURL = "https://api.postmarkapp.com"

var (
	ErrInvalidConfig = errors.New("postmark: invalid configuration")
	ErrRequest       = errors.New("postmark: request failed")
)

// Config holds Postmark transport configuration.
type Config struct {
	Token           string `yaml:"token" env:"POSTMARK_TOKEN"`
	MessageStreamID string `yaml:"message_stream_id" env:"POSTMARK_MESSAGE_STREAM_ID"`
	BaseURL         string `yaml:"base_url" env:"POSTMARK_BASE_URL"`
}

// Transport sends messages through Postmark.
type Transport struct {
	client *resty.Client
	cfg    Config
}

type header struct {
	Name  string
	Value string
}

type attachment struct {
	Name        string
	Content     []byte // encoded as base64 by encoding/json
	ContentType string
	ContentID   string `json:",omitempty"`
}

type payload struct {
	Metadata      map[string]string `json:",omitempty"`
	From          string            `json:"From"`
	To            string            `json:"To"`
	Cc            string            `json:",omitempty"`
	Bcc           string            `json:",omitempty"`
	ReplyTo       string            `json:",omitempty"`
	Subject       string            `json:"Subject"`
	Tag           string            `json:",omitempty"`
	HtmlBody      string            `json:",omitempty"`
	TextBody      string            `json:",omitempty"`
	MessageStream string            `json:",omitempty"`
	Headers       []header          `json:",omitempty"`
	Attachments   []attachment      `json:",omitempty"`
}

type response struct {
	MessageID string
	Message   string
	ErrorCode int
}

// New creates a Postmark transport. A nil client uses resty defaults.
func New(cfg Config, client *resty.Client) (*Transport, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("%w: token is required", ErrInvalidConfig)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if client == nil {
		client = resty.New()
	}
	return &Transport{client: client, cfg: cfg}, nil
}

// Name implements mailer.Transport.
func (t *Transport) Name() string { return "postmark" }

// Send implements mailer.Transport.
// Postmark accepts a single tag per message, so only the first tag is sent.
func (t *Transport) Send(ctx context.Context, email *mailer.Email) (*mailer.SentMessage, error) {
	body := t.payload(email)

	var out response
	resp, err := t.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetHeader("X-Postmark-Server-Token", t.cfg.Token).
		SetBody(body).
		SetResult(&out).
		SetError(&out).
		Post(strings.TrimSuffix(t.cfg.BaseURL, "/") + "/email")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequest, err)
	}
	if resp.IsError() || out.ErrorCode != 0 {
		return nil, fmt.Errorf("%w: %w: status %d: code %d: %s",
			ErrRequest, mailer.ErrProviderRejected, resp.StatusCode(), out.ErrorCode, out.Message)
	}

	sent := mailer.NewSentMessage(t.Name(), email)
	sent.ProviderID = out.MessageID
	return sent, nil
}

func (t *Transport) payload(email *mailer.Email) payload {
	p := payload{
		From:          join(email.From),
		To:            join(email.To),
		Cc:            join(email.Cc),
		Bcc:           join(email.Bcc),
		ReplyTo:       join(email.ReplyTo),
		Subject:       email.Subject,
		HtmlBody:      email.HTML,
		TextBody:      email.Text,
		MessageStream: t.cfg.MessageStreamID,
	}
	if len(email.Tags) > 0 {
		p.Tag = email.Tags[0]
	}
	if len(email.Metadata) > 0 {
		p.Metadata = email.MetadataMap()
	}
	if email.MessageID != "" {
		p.Headers = append(p.Headers, header{Name: "Message-ID", Value: "<" + email.MessageID + ">"})
	}
	for _, h := range email.Headers {
		p.Headers = append(p.Headers, header{Name: h.Name, Value: h.Value})
	}
	for _, a := range email.Attachments {
		att := attachment{Name: a.Filename, Content: a.Content, ContentType: a.ContentType}
		if a.Inline {
			att.ContentID = "cid:" + a.ContentID
		}
		p.Attachments = append(p.Attachments, att)
	}
	return p
}

func join(list []mailer.Address) string {
	parts := make([]string, 0, len(list))
	for _, a := range list {
		parts = append(parts, a.String())
	}
	return strings.Join(parts, ",")
}
