// Package memory implements the pubsub interfaces with an in-process broker.
// It honors consumer groups like a real broker does (every group receives each message
// once, members of a group take turns) and can be switched into failure modes, which
// makes it the broker double of choice in tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tehsphinx/relay/pubsub"
)

const defaultBuffer = 64

var (
	// ErrClosed is returned once the broker has been closed.
	ErrClosed = errors.New("memory broker closed")
	// ErrDown is returned while the broker is marked as down.
	ErrDown = errors.New("memory broker down")
	// ErrTooLarge is returned for payloads above the configured maximum.
	ErrTooLarge = errors.New("payload exceeds max payload")
)

var (
	_ pubsub.Publisher  = (*Broker)(nil)
	_ pubsub.Subscriber = (*Broker)(nil)
)

// Logger is the subset of a logger the broker reports dropped deliveries to.
type Logger interface {
	Errorf(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

// Option configures the broker.
type Option func(b *Broker)

// WithMaxPayload rejects messages larger than n bytes.
func WithMaxPayload(n int) Option {
	return func(b *Broker) {
		b.maxPayload = n
	}
}

// WithRedelivery retries a delivery whose handler failed until it was attempted maxDeliver times.
func WithRedelivery(maxDeliver int) Option {
	return func(b *Broker) {
		b.maxDeliver = maxDeliver
	}
}

// WithLogger sets the logger handler failures are reported to.
func WithLogger(log Logger) Option {
	return func(b *Broker) {
		b.log = log
	}
}

// Broker is an in-process message broker.
type Broker struct {
	log        Logger
	maxPayload int
	maxDeliver int

	attempts atomic.Int64
	down     atomic.Bool

	m      sync.RWMutex
	closed bool
	nextID int
	topics map[string]map[string]*group
}

type group struct {
	subs []*subscription
	next atomic.Uint64
}

// New creates a new memory broker.
func New(opts ...Option) *Broker {
	b := &Broker{
		log:        noopLogger{},
		maxDeliver: 1,
		topics:     make(map[string]map[string]*group),
	}
	for _, o := range opts {
		o(b)
	}
	if b.maxDeliver < 1 {
		b.maxDeliver = 1
	}
	return b
}

// SetDown toggles the broker between reachable and unreachable.
func (b *Broker) SetDown(down bool) {
	b.down.Store(down)
}

// Connected reports whether publishes are currently accepted.
func (b *Broker) Connected() bool {
	b.m.RLock()
	defer b.m.RUnlock()

	return !b.closed && !b.down.Load()
}

// Attempts returns the number of Publish calls the broker has seen, failed ones included.
func (b *Broker) Attempts() int64 {
	return b.attempts.Load()
}

// Publish implements the pubsub.Publisher interface.
func (b *Broker) Publish(ctx context.Context, msg pubsub.Message) (pubsub.Ack, error) {
	b.attempts.Add(1)

	if r := ctx.Err(); r != nil {
		return pubsub.Ack{}, pubsub.Unavailable(r)
	}
	if b.down.Load() {
		return pubsub.Ack{}, pubsub.Unavailable(ErrDown)
	}
	if b.maxPayload > 0 && len(msg.Data) > b.maxPayload {
		return pubsub.Ack{}, pubsub.Rejected(fmt.Errorf("%w: %d > %d", ErrTooLarge, len(msg.Data), b.maxPayload))
	}

	b.m.RLock()
	defer b.m.RUnlock()

	if b.closed {
		return pubsub.Ack{}, pubsub.Unavailable(ErrClosed)
	}

	for _, grp := range b.topics[msg.Subject] {
		if len(grp.subs) == 0 {
			continue
		}
		n := grp.next.Add(1) - 1
		sub := grp.subs[n%uint64(len(grp.subs))]

		data := append([]byte(nil), msg.Data...)
		if r := sub.enqueue(ctx, delivery{subject: msg.Subject, data: data}); r != nil {
			return pubsub.Ack{}, pubsub.Unavailable(r)
		}
	}
	return pubsub.Ack{}, nil
}

// Subscribe implements the pubsub.Subscriber interface.
func (b *Broker) Subscribe(subject, queue string, handler pubsub.Handler) (pubsub.Subscription, error) {
	return b.subscribe(subject, queue, handler, false)
}

// SubscribeAsync implements the pubsub.Subscriber interface.
func (b *Broker) SubscribeAsync(subject, queue string, handler pubsub.Handler) (pubsub.Subscription, error) {
	return b.subscribe(subject, queue, handler, true)
}

// Flush implements the pubsub.Subscriber interface.
func (b *Broker) Flush() error {
	if !b.Connected() {
		return pubsub.Unavailable(ErrDown)
	}
	return nil
}

// Close stops all subscriptions. Publishing after Close fails with ErrClosed.
func (b *Broker) Close() {
	b.m.Lock()
	if b.closed {
		b.m.Unlock()
		return
	}
	b.closed = true

	var subs []*subscription
	for _, groups := range b.topics {
		for _, grp := range groups {
			subs = append(subs, grp.subs...)
		}
	}
	b.topics = make(map[string]map[string]*group)
	b.m.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
}

func (b *Broker) subscribe(subject, queue string, handler pubsub.Handler, async bool) (pubsub.Subscription, error) {
	b.m.Lock()
	defer b.m.Unlock()

	if b.closed {
		return nil, pubsub.Unavailable(ErrClosed)
	}
	if b.down.Load() {
		return nil, pubsub.Unavailable(ErrDown)
	}

	sub := &subscription{
		broker:  b,
		id:      b.nextID,
		subject: subject,
		queue:   queue,
		handler: handler,
		async:   async,
		ch:      make(chan delivery, defaultBuffer),
		done:    make(chan struct{}),
	}
	b.nextID++

	groups, ok := b.topics[subject]
	if !ok {
		groups = make(map[string]*group)
		b.topics[subject] = groups
	}
	grp, ok := groups[queue]
	if !ok {
		grp = &group{}
		groups[queue] = grp
	}
	grp.subs = append(grp.subs, sub)

	go sub.run()
	return sub, nil
}

func (b *Broker) remove(sub *subscription) {
	b.m.Lock()
	defer b.m.Unlock()

	groups, ok := b.topics[sub.subject]
	if !ok {
		return
	}
	grp, ok := groups[sub.queue]
	if !ok {
		return
	}
	for i, s := range grp.subs {
		if s.id == sub.id {
			grp.subs = append(grp.subs[:i], grp.subs[i+1:]...)
			break
		}
	}
	if len(grp.subs) == 0 {
		delete(groups, sub.queue)
	}
	if len(groups) == 0 {
		delete(b.topics, sub.subject)
	}
}

type noopLogger struct{}

func (noopLogger) Errorf(string, ...interface{}) {}
func (noopLogger) Warnf(string, ...interface{})  {}
