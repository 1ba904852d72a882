package mailer

import (
	"context"
	"time"
)

// Transport delivers finalized messages over some protocol.
type Transport interface {
	// Send delivers the email and blocks until the transport accepts or rejects it.
	Send(ctx context.Context, email *Email) (*SentMessage, error)

	// Name identifies the transport kind, e.g. "smtp" or "ses".
	Name() string
}

// SentMessage is the receipt returned by a transport.
type SentMessage struct {
	Email      *Email
	Transport  string
	MessageID  string
	ProviderID string // identifier assigned by the remote provider, when there is one
	Sender     Address
	Recipients []Address
}

// NewSentMessage builds a receipt for an email accepted by the named transport.
func NewSentMessage(transport string, email *Email) *SentMessage {
	sender, rcpts := email.Envelope()
	return &SentMessage{
		Email:      email,
		Transport:  transport,
		MessageID:  email.MessageID,
		Sender:     sender,
		Recipients: rcpts,
	}
}

// TimeoutSetter is implemented by transports that accept a per-send timeout.
type TimeoutSetter interface {
	SetTimeout(d time.Duration)
}

// SourceIPSetter is implemented by transports that can bind outgoing connections to a local address.
type SourceIPSetter interface {
	SetSourceIP(ip string)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, email *Email) (*SentMessage, error)

// Send calls f.
func (f TransportFunc) Send(ctx context.Context, email *Email) (*SentMessage, error) {
	return f(ctx, email)
}

// Name returns "func".
func (f TransportFunc) Name() string { return "func" }
