package service

import "fmt"

// ValidationError rejects bad creation input before any side effect.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Message
}

func validationErrorf(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// OrderCreationError wraps a payment or persistence failure hit mid-creation
// after the other side was cleaned up best-effort.
type OrderCreationError struct {
	Err error
}

func (e *OrderCreationError) Error() string {
	return "order creation failed: " + e.Err.Error()
}

func (e *OrderCreationError) Unwrap() error {
	return e.Err
}
