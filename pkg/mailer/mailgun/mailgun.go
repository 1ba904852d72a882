// Package mailgun provides a mailer transport for the Mailgun HTTP API.
// Messages are posted as raw MIME to the messages.mime endpoint.
package mailgun

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/go-resty/resty/v2"

	"github.com/dmitrymomot/mailkit/pkg/mailer"
)

const (
	DefaultEndpoint = "api.mailgun.net"
	DefaultScheme   = "https"
)

var (
	ErrInvalidConfig = errors.New("mailgun: invalid configuration")
	ErrRequest       = errors.New("mailgun: request failed")
)

// Config holds Mailgun transport configuration.
type Config struct {
	Domain   string `yaml:"domain" env:"MAILGUN_DOMAIN"`
	Secret   string `yaml:"secret" env:"MAILGUN_SECRET"`
	Endpoint string `yaml:"endpoint" env:"MAILGUN_ENDPOINT" envDefault:"api.mailgun.net"`
	Scheme   string `yaml:"scheme" env:"MAILGUN_SCHEME" envDefault:"https"`
}

// Transport sends messages through Mailgun.
type Transport struct {
	client *resty.Client
	cfg    Config
}

type response struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// New creates a Mailgun transport. A nil client uses resty defaults.
func New(cfg Config, client *resty.Client) (*Transport, error) {
	if cfg.Domain == "" || cfg.Secret == "" {
		return nil, fmt.Errorf("%w: domain and secret are required", ErrInvalidConfig)
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Scheme == "" {
		cfg.Scheme = DefaultScheme
	}
	if client == nil {
		client = resty.New()
	}
	return &Transport{client: client, cfg: cfg}, nil
}

// Name implements mailer.Transport.
func (t *Transport) Name() string { return "mailgun" }

// URL returns the endpoint messages are posted to.
func (t *Transport) URL() string {
	return fmt.Sprintf("%s://%s/v3/%s/messages.mime", t.cfg.Scheme, t.cfg.Endpoint, url.PathEscape(t.cfg.Domain))
}

// Send implements mailer.Transport.
func (t *Transport) Send(ctx context.Context, email *mailer.Email) (*mailer.SentMessage, error) {
	raw, err := email.Bytes()
	if err != nil {
		return nil, err
	}

	_, rcpts := email.Envelope()
	form := url.Values{}
	for _, r := range rcpts {
		form.Add("to", r.String())
	}
	for _, tag := range email.Tags {
		form.Add("o:tag", tag)
	}
	for _, md := range email.Metadata {
		form.Add("v:"+md.Key, md.Value)
	}

	var out response
	resp, err := t.client.R().
		SetContext(ctx).
		SetBasicAuth("api", t.cfg.Secret).
		SetFormDataFromValues(form).
		SetFileReader("message", "message.mime", bytes.NewReader(raw)).
		SetResult(&out).
		Post(t.URL())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequest, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: %w: status %d: %s", ErrRequest, mailer.ErrProviderRejected, resp.StatusCode(), resp.String())
	}

	sent := mailer.NewSentMessage(t.Name(), email)
	sent.ProviderID = out.ID
	return sent, nil
}
