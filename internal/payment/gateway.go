// Package payment wraps the card processor's authorize/capture/cancel
// primitives behind the three operations the order workflow uses.
package payment

import (
	"context"
	"fmt"
)

// Authorization is a hold placed on the customer's card, not yet captured.
type Authorization struct {
	ID           string
	ClientSecret string
}

// Confirmation is the processor's acknowledgement of a capture or cancel.
type Confirmation struct {
	ID     string
	Status string
}

// Gateway is the surface the order lifecycle consumes.
type Gateway interface {
	Authorize(ctx context.Context, amountMinor int64, currency string, metadata map[string]string) (*Authorization, error)
	Capture(ctx context.Context, paymentID string) (*Confirmation, error)
	Cancel(ctx context.Context, paymentID string) (*Confirmation, error)
}

// AuthorizationError is any processor-side rejection of a hold (declined
// card, insufficient funds, invalid request).
type AuthorizationError struct {
	Code    string
	Message string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("payment authorization failed: %s (%s)", e.Message, e.Code)
}

// CaptureError reports a failed settle of a held authorization (expired,
// already captured, voided).
type CaptureError struct {
	PaymentID string
	Message   string
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("payment capture failed for %s: %s", e.PaymentID, e.Message)
}

// CancelError reports a failed release of a hold. Callers doing cleanup
// treat it as non-fatal.
type CancelError struct {
	PaymentID string
	Message   string
}

func (e *CancelError) Error() string {
	return fmt.Sprintf("payment cancel failed for %s: %s", e.PaymentID, e.Message)
}

// TimeoutError means the gateway did not answer in time; the outcome of the
// call is unknown. Distinct from a processor rejection.
type TimeoutError struct {
	Op string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("payment gateway timeout during %s", e.Op)
}
