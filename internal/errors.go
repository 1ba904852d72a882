package internal

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration reports a missing or malformed mail configuration.
	ErrConfiguration = errors.New("mailkit: invalid configuration")

	// ErrMailerNotConfigured is returned for a mailer name absent from the configuration.
	ErrMailerNotConfigured = fmt.Errorf("%w: mailer not configured", ErrConfiguration)

	// ErrUnsupportedDriver is returned for a transport kind with neither a built-in nor a custom creator.
	ErrUnsupportedDriver = fmt.Errorf("%w: unsupported mail transport", ErrConfiguration)
)
