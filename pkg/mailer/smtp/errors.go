package smtp

import "errors"

var (
	ErrInvalidConfig = errors.New("smtp: invalid configuration")
	ErrDial          = errors.New("smtp: failed to connect")
	ErrSend          = errors.New("smtp: failed to send message")
	ErrAuth          = errors.New("smtp: authentication failed")

	ErrStartTLSRequired = errors.New("smtp: server does not offer STARTTLS")
)
