package relay

import "context"

// MessageHandler processes the body of one delivery. Returned errors go back to the
// broker adapter untouched.
type MessageHandler func(ctx context.Context, body string) error

// LogHandler returns a handler recording every body it is given at info level.
// It keeps no state between calls.
func LogHandler(log Logger) MessageHandler {
	return func(_ context.Context, body string) error {
		log.WithField("body", body).Infof("Message received: %s", body)
		return nil
	}
}
