package mailer

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAddress indicates an address value could not be normalized.
	ErrInvalidAddress = errors.New("mailer: invalid address")

	// ErrInvalidView indicates a view specification is neither a name, an html/text pair nor a named map.
	ErrInvalidView = errors.New("mailer: invalid view")

	// ErrNotQueueable indicates an attempt to queue something that is not a Mailable.
	ErrNotQueueable = errors.New("mailer: only mailables can be queued")

	// ErrNoQueue indicates a deferred send without a configured queue connection.
	ErrNoQueue = errors.New("mailer: queue connection is not configured")

	// ErrNoSender indicates the message has no from address after defaults were applied.
	ErrNoSender = errors.New("mailer: message must have a from address")

	// ErrNoRecipient indicates the message has no to, cc or bcc address.
	ErrNoRecipient = errors.New("mailer: message must have at least one recipient")

	// ErrNoContent indicates neither an HTML nor a text body was produced.
	ErrNoContent = errors.New("mailer: message must have html or text content")

	// ErrNoViewEngine indicates a view reference was given but no view engine is configured.
	ErrNoViewEngine = errors.New("mailer: view engine is not configured")

	// ErrTemplateNotFound indicates the template file was not found.
	ErrTemplateNotFound = errors.New("mailer: template not found")

	// ErrLayoutNotFound indicates the layout file was not found.
	ErrLayoutNotFound = errors.New("mailer: layout not found")

	// ErrRenderFailed indicates template rendering failed.
	ErrRenderFailed = errors.New("mailer: failed to render template")

	// ErrInvalidFrontmatter indicates invalid YAML frontmatter.
	ErrInvalidFrontmatter = errors.New("mailer: invalid frontmatter")

	// ErrSendFailed indicates the transport failed to deliver the message.
	ErrSendFailed = errors.New("mailer: failed to send email")

	// ErrProviderRejected indicates an email API answered with an error response.
	ErrProviderRejected = errors.New("mailer: provider rejected the message")

	// ErrReservedHeader indicates an attempt to add a structured header through the raw header API.
	ErrReservedHeader = errors.New("mailer: header is managed by the message builder")

	// ErrAttachmentUnreadable indicates a file attachment or embedded file could not be read.
	ErrAttachmentUnreadable = errors.New("mailer: attachment is not readable")

	// ErrUnknownMailable indicates a queued payload references a mailable kind that is not registered.
	ErrUnknownMailable = errors.New("mailer: unknown mailable kind")

	// ErrInvalidTransition indicates an illegal queued job state change.
	ErrInvalidTransition = errors.New("mailer: invalid queued mail state transition")
)

// DeliveryError is returned when a transport fails to send a finalized message.
// It matches ErrSendFailed as well as the transport's own error.
type DeliveryError struct {
	Email  *Email
	Err    error
	Mailer string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%v via %q: %v", ErrSendFailed, e.Mailer, e.Err)
}

func (e *DeliveryError) Unwrap() []error {
	return []error{ErrSendFailed, e.Err}
}
