package pubsub

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable is wrapped by adapters when the broker cannot be reached or used.
	ErrUnavailable = errors.New("broker unavailable")
	// ErrRejected is wrapped by adapters when the broker declines a specific message.
	ErrRejected = errors.New("send rejected")
)

// Unavailable wraps err so that errors.Is(err, ErrUnavailable) holds.
func Unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

// Rejected wraps err so that errors.Is(err, ErrRejected) holds.
func Rejected(err error) error {
	return fmt.Errorf("%w: %w", ErrRejected, err)
}

// Recover turns a panic raised by fn into an error.
func Recover(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic recovered: %v", r)
		}
	}()
	return fn()
}
