package nats

import (
	"context"
	"errors"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/tehsphinx/relay/pubsub"
)

var unavailableErrs = []error{
	nats.ErrNoServers,
	nats.ErrConnectionClosed,
	nats.ErrConnectionDraining,
	nats.ErrConnectionReconnecting,
	nats.ErrInvalidConnection,
	nats.ErrStaleConnection,
	nats.ErrReconnectBufExceeded,
	nats.ErrTimeout,
	context.DeadlineExceeded,
	context.Canceled,
}

var rejectedErrs = []error{
	nats.ErrMaxPayload,
	nats.ErrBadSubject,
	nats.ErrInvalidMsg,
	nats.ErrAuthorization,
}

// noStreamErrs mean nothing answered on the subject. On a live connection that is a topic
// no stream covers, not a broker outage.
var noStreamErrs = []error{
	nats.ErrNoResponders,
	nats.ErrNoStreamResponse,
}

// classify maps a NATS client error onto the pubsub error kinds. Errors the client does
// not name are blamed on the message while the connection is up (stream limits and other
// server side admission checks) and on the broker otherwise.
func classify(err error, connected bool) error {
	if err == nil {
		return nil
	}
	for _, e := range unavailableErrs {
		if errors.Is(err, e) {
			return pubsub.Unavailable(err)
		}
	}
	for _, e := range rejectedErrs {
		if errors.Is(err, e) {
			return pubsub.Rejected(err)
		}
	}
	if strings.Contains(strings.ToLower(err.Error()), nats.PERMISSIONS_ERR) {
		return pubsub.Rejected(err)
	}
	for _, e := range noStreamErrs {
		if errors.Is(err, e) && !connected {
			return pubsub.Unavailable(err)
		}
	}
	if connected {
		return pubsub.Rejected(err)
	}
	return pubsub.Unavailable(err)
}
