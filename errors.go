package relay

import (
	"errors"
	"fmt"

	"github.com/tehsphinx/relay/pubsub"
)

// Kind classifies publish failures.
type Kind int

// Publish failure kinds.
const (
	KindBrokerUnavailable Kind = iota + 1
	KindSendRejected
)

func (k Kind) String() string {
	switch k {
	case KindBrokerUnavailable:
		return "broker_unavailable"
	case KindSendRejected:
		return "send_rejected"
	default:
		return "unknown"
	}
}

var (
	// ErrBrokerUnavailable matches publish errors caused by an unreachable or unusable broker.
	ErrBrokerUnavailable = errors.New("broker unavailable")
	// ErrSendRejected matches publish errors where the broker declined the message.
	ErrSendRejected = errors.New("send rejected")

	// ErrAlreadyRegistered is returned by a second Register call.
	ErrAlreadyRegistered = errors.New("subscriber already registered")
	// ErrClosed is returned by Register after Close.
	ErrClosed = errors.New("subscriber closed")
)

// Error is returned by Publisher.Publish.
type Error struct {
	Kind  Kind
	Topic string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("publish to %v: %v: %v", e.Topic, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrBrokerUnavailable:
		return e.Kind == KindBrokerUnavailable
	case ErrSendRejected:
		return e.Kind == KindSendRejected
	}
	return false
}

func newError(topic string, err error) *Error {
	kind := KindBrokerUnavailable
	if errors.Is(err, pubsub.ErrRejected) {
		kind = KindSendRejected
	}
	return &Error{
		Kind:  kind,
		Topic: topic,
		Err:   err,
	}
}
