package store

import "errors"

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrOrderItemNotFound = errors.New("order item not found")
	ErrNumberExhausted   = errors.New("could not generate a unique order number")
)
