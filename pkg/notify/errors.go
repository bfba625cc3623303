package notify

import (
	"errors"
	"fmt"
)

var (
	// ErrUserNotFound is returned by UserFetcher implementations for a missing
	// user document. The pipeline narrows it to the role the user plays.
	ErrUserNotFound          = errors.New("user not found")
	ErrRecipientNotFound     = errors.New("recipient not found")
	ErrSenderNotFound        = errors.New("sender not found")
	ErrSelfNotification      = errors.New("sender and recipient are the same user")
	ErrInvalidPayload        = errors.New("invalid event payload")
	ErrDuplicateNotification = errors.New("notification already exists")
	ErrDeliveryFailed        = errors.New("push delivery failed")
)

// DeliveryError describes a failed delivery with enough context to replay it.
type DeliveryError struct {
	Token       string
	Title       string
	Body        string
	StatusCode  int
	GatewayBody string
	Cause       error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("push delivery to %s failed: status=%d body=%s", e.Token, e.StatusCode, e.GatewayBody)
	}
	return fmt.Sprintf("push delivery to %s failed: %v", e.Token, e.Cause)
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *DeliveryError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrDeliveryFailed}
	}
	return []error{ErrDeliveryFailed, e.Cause}
}
