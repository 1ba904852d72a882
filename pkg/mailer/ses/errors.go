package ses

import (
	"errors"
	"fmt"

	"github.com/aws/smithy-go"

	"github.com/dmitrymomot/mailkit/pkg/mailer"
)

var (
	ErrConfig      = errors.New("ses: failed to load aws configuration")
	ErrRateLimited = errors.New("ses: sending rate exceeded")
	ErrRejected    = errors.New("ses: message rejected")
	ErrUnverified  = errors.New("ses: sender identity not verified")
	ErrService     = errors.New("ses: service unavailable")
	ErrSend        = errors.New("ses: failed to send email")
)

// categorize maps SES API error codes to sentinel errors.
// Rejections also match mailer.ErrProviderRejected.
func categorize(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "TooManyRequestsException", "Throttling", "LimitExceededException":
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		case "MessageRejected", "AccountSuspendedException", "SendingPausedException":
			return fmt.Errorf("%w: %w: %v", ErrRejected, mailer.ErrProviderRejected, err)
		case "MailFromDomainNotVerifiedException", "NotFoundException":
			return fmt.Errorf("%w: %w: %v", ErrUnverified, mailer.ErrProviderRejected, err)
		case "ServiceUnavailableException", "InternalServiceErrorException":
			return fmt.Errorf("%w: %v", ErrService, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrSend, err)
}
