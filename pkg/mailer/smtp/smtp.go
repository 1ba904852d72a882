// Package smtp provides a mailer transport that delivers gomail messages over SMTP.
package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	"gopkg.in/gomail.v2"

	"github.com/dmitrymomot/mailkit/pkg/mailer"
)

// Transport sends messages through an SMTP server.
type Transport struct {
	dialer  Dialer
	scheme  Scheme
	host    string
	timeout time.Duration
	mu      sync.RWMutex
}

// New creates an SMTP transport from cfg.
func New(cfg Config) (*Transport, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	scheme := SchemeFor(cfg.Encryption, cfg.Port)
	d := &connDialer{
		host:      cfg.Host,
		port:      cfg.Port,
		username:  cfg.Username,
		password:  cfg.Password,
		localName: cfg.LocalDomain,
		sourceIP:  cfg.SourceIP,
		scheme:    scheme,
		tls: &tls.Config{
			ServerName:         cfg.Host,
			InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // opt-in for local relays
			MinVersion:         tls.VersionTLS12,
		},
	}
	if cfg.AuthMode == AuthXOAuth2 {
		d.auth = XOAuth2(cfg.Username, newTokenSource(cfg.OAuth))
	}

	t := NewWithDialer(d, scheme)
	t.host = cfg.Host
	t.timeout = cfg.Timeout
	return t, nil
}

// NewWithDialer creates a transport over an existing dialer.
func NewWithDialer(d Dialer, scheme Scheme) *Transport {
	return &Transport{dialer: d, scheme: scheme}
}

// Scheme returns the connection scheme.
func (t *Transport) Scheme() Scheme { return t.scheme }

// SetTimeout implements mailer.TimeoutSetter. The timeout bounds a whole session,
// from dial to QUIT.
func (t *Transport) SetTimeout(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timeout = d
}

// SetSourceIP implements mailer.SourceIPSetter. It binds outgoing connections to ip.
// Dialers passed to NewWithDialer ignore it.
func (t *Transport) SetSourceIP(ip string) {
	if d, ok := t.dialer.(*connDialer); ok {
		d.setSourceIP(ip)
	}
}

// Name implements mailer.Transport.
func (t *Transport) Name() string { return "smtp" }

// Send implements mailer.Transport. The SMTP envelope uses the email's bounce address and every recipient,
// so Bcc recipients receive the message without appearing in its headers.
func (t *Transport) Send(ctx context.Context, email *mailer.Email) (*mailer.SentMessage, error) {
	t.mu.RLock()
	timeout := t.timeout
	t.mu.RUnlock()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	sender, rcpts := email.Envelope()
	to := make([]string, 0, len(rcpts))
	for _, r := range rcpts {
		to = append(to, r.Address)
	}

	if err := t.send(ctx, sender.Address, to, email.Message()); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errors.Join(err, ctxErr)
		}
		return nil, err
	}
	return mailer.NewSentMessage(t.Name(), email), nil
}

func (t *Transport) send(ctx context.Context, from string, to []string, msg *gomail.Message) error {
	sc, err := t.dialer.Dial(ctx)
	if err != nil {
		if errors.Is(err, ErrStartTLSRequired) || errors.Is(err, ErrAuth) || errors.Is(err, ErrInvalidConfig) {
			return err
		}
		return fmt.Errorf("%w: %s: %v", ErrDial, t.host, err)
	}
	if err := sc.Send(from, to, msg); err != nil {
		_ = sc.Close()
		return fmt.Errorf("%w: %v", ErrSend, err)
	}
	return sc.Close()
}
