// Package array provides a transport that keeps messages in memory.
// It is meant for tests and local development.
package array

import (
	"context"
	"slices"
	"sync"

	"github.com/dmitrymomot/mailkit/pkg/mailer"
)

// Transport collects every sent message.
type Transport struct {
	messages []*mailer.SentMessage
	mu       sync.Mutex
}

// New creates an empty array transport.
func New() *Transport {
	return &Transport{}
}

// Send implements mailer.Transport.
func (t *Transport) Send(ctx context.Context, email *mailer.Email) (*mailer.SentMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sent := mailer.NewSentMessage(t.Name(), email)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, sent)
	return sent, nil
}

// Name implements mailer.Transport.
func (t *Transport) Name() string { return "array" }

// Messages returns the collected messages in send order.
func (t *Transport) Messages() []*mailer.SentMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.messages)
}

// Flush drops every collected message.
func (t *Transport) Flush() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = nil
}
