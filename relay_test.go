package relay_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matryer/is"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/tehsphinx/relay"
	"github.com/tehsphinx/relay/internal/metrics"
	"github.com/tehsphinx/relay/internal/natstest"
	"github.com/tehsphinx/relay/pubsub"
	"github.com/tehsphinx/relay/pubsub/memory"
	"github.com/tehsphinx/relay/pubsub/nats"
)

const (
	topic = "relay.test"
	group = "test-group"
	wait  = 2 * time.Second
)

type collector struct {
	m      sync.Mutex
	bodies []string
	ch     chan string
}

func newCollector() *collector {
	return &collector{ch: make(chan string, 16)}
}

func (c *collector) handle(_ context.Context, body string) error {
	c.m.Lock()
	c.bodies = append(c.bodies, body)
	c.m.Unlock()
	c.ch <- body
	return nil
}

func (c *collector) next(t *testing.T) string {
	t.Helper()
	select {
	case body := <-c.ch:
		return body
	case <-time.After(wait):
		t.Fatal("timed out waiting for delivery")
		return ""
	}
}

func TestPublishSubscribe(t *testing.T) {
	asrt := is.New(t)
	ctx := context.Background()

	broker := memory.New()
	defer broker.Close()

	coll := newCollector()
	sub := relay.NewSubscriber(broker, topic, group, relay.WithHandler(coll.handle))
	asrt.NoErr(sub.Register(ctx))
	defer sub.Close()

	pub := relay.NewPublisher(broker, topic)

	t.Run("payloads arrive unmodified", func(t *testing.T) {
		asrt := asrt.New(t)

		for _, body := range []string{"hello", "Grüße 🌍", strings.Repeat("x", 4096), "  spaces  "} {
			res, err := pub.Publish(ctx, body)
			asrt.NoErr(err)
			asrt.Equal(res.Topic, topic)
			asrt.True(!res.Persisted)
			asrt.Equal(coll.next(t), body)
		}
	})

	t.Run("empty body", func(t *testing.T) {
		asrt := asrt.New(t)

		_, err := pub.Publish(ctx, "")
		asrt.NoErr(err)
		asrt.Equal(coll.next(t), "")
	})
}

func TestPublishErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("broker unavailable", func(t *testing.T) {
		asrt := is.New(t)

		broker := memory.New()
		defer broker.Close()
		broker.SetDown(true)

		pub := relay.NewPublisher(broker, topic)
		_, err := pub.Publish(ctx, "hello")

		asrt.True(errors.Is(err, relay.ErrBrokerUnavailable))
		asrt.True(!errors.Is(err, relay.ErrSendRejected))
		asrt.Equal(broker.Attempts(), int64(1)) // no retry

		var pubErr *relay.Error
		asrt.True(errors.As(err, &pubErr))
		asrt.Equal(pubErr.Kind, relay.KindBrokerUnavailable)
		asrt.Equal(pubErr.Topic, topic)
		asrt.True(errors.Is(err, memory.ErrDown))
	})

	t.Run("send rejected", func(t *testing.T) {
		asrt := is.New(t)

		broker := memory.New(memory.WithMaxPayload(4))
		defer broker.Close()

		pub := relay.NewPublisher(broker, topic)
		_, err := pub.Publish(ctx, "too large")

		asrt.True(errors.Is(err, relay.ErrSendRejected))
		asrt.True(!errors.Is(err, relay.ErrBrokerUnavailable))
		asrt.Equal(broker.Attempts(), int64(1))
	})

	t.Run("closed broker", func(t *testing.T) {
		asrt := is.New(t)

		broker := memory.New()
		broker.Close()

		_, err := relay.NewPublisher(broker, topic).Publish(ctx, "hello")
		asrt.True(errors.Is(err, relay.ErrBrokerUnavailable))
	})

	t.Run("cancelled context", func(t *testing.T) {
		asrt := is.New(t)

		broker := memory.New()
		defer broker.Close()

		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := relay.NewPublisher(broker, topic).Publish(cctx, "hello")
		asrt.True(errors.Is(err, relay.ErrBrokerUnavailable))
		asrt.True(errors.Is(err, context.Canceled))
	})
}

func TestPublishLogs(t *testing.T) {
	asrt := is.New(t)
	logger, hook := test.NewNullLogger()

	broker := memory.New()
	defer broker.Close()

	pub := relay.NewPublisher(broker, topic, relay.WithLogger(logger))
	_, err := pub.Publish(context.Background(), "hello")
	asrt.NoErr(err)

	entry := hook.LastEntry()
	asrt.True(entry != nil)
	asrt.Equal(entry.Level, logrus.InfoLevel)
	asrt.Equal(entry.Message, "Message sent: hello")
	asrt.Equal(entry.Data["topic"], topic)
}

func TestLogHandlerScenario(t *testing.T) {
	asrt := is.New(t)
	ctx := context.Background()
	logger, hook := test.NewNullLogger()

	broker := memory.New()
	defer broker.Close()

	sub := relay.NewSubscriber(broker, topic, group, relay.WithLogger(logger))
	asrt.NoErr(sub.Register(ctx))
	defer sub.Close()
	hook.Reset()

	_, err := relay.NewPublisher(broker, topic).Publish(ctx, "hello")
	asrt.NoErr(err)

	entry := waitForEntry(t, hook, "Message received: hello")
	asrt.Equal(entry.Data["body"], "hello")
	asrt.Equal(entry.Data["topic"], topic)
	asrt.Equal(entry.Data["group"], group)
}

func TestOnMessageKeepsNoState(t *testing.T) {
	asrt := is.New(t)
	ctx := context.Background()
	logger, hook := test.NewNullLogger()

	sub := relay.NewSubscriber(memory.New(), topic, group, relay.WithLogger(logger))

	asrt.NoErr(sub.OnMessage(ctx, "same"))
	asrt.NoErr(sub.OnMessage(ctx, "same"))

	entries := hook.AllEntries()
	asrt.Equal(len(entries), 2)
	asrt.Equal(entries[0].Message, entries[1].Message)
	asrt.Equal(entries[0].Data, entries[1].Data)
	asrt.Equal(sub.State(), relay.StateUnregistered)
}

func TestSubscriberLifecycle(t *testing.T) {
	asrt := is.New(t)
	ctx := context.Background()

	broker := memory.New()
	defer broker.Close()

	sub := relay.NewSubscriber(broker, topic, group)
	asrt.Equal(sub.State(), relay.StateUnregistered)

	asrt.NoErr(sub.Register(ctx))
	asrt.Equal(sub.State(), relay.StateRegistered)

	asrt.Equal(sub.Register(ctx), relay.ErrAlreadyRegistered)

	asrt.NoErr(sub.Close())
	asrt.Equal(sub.State(), relay.StateClosed)
	asrt.Equal(sub.Register(ctx), relay.ErrClosed)
	asrt.NoErr(sub.Close())
}

type flakySubscriber struct {
	pubsub.Subscriber
	failures int
}

func (f *flakySubscriber) Subscribe(subject, queue string, handler pubsub.Handler) (pubsub.Subscription, error) {
	sub, err := f.Subscriber.Subscribe(subject, queue, handler)
	if err != nil {
		return nil, err
	}
	return &flakySubscription{Subscription: sub, failures: f.failures}, nil
}

type flakySubscription struct {
	pubsub.Subscription
	failures int
}

func (f *flakySubscription) Unsubscribe() error {
	if f.failures > 0 {
		f.failures--
		return errors.New("unsubscribe refused")
	}
	return f.Subscription.Unsubscribe()
}

func TestCloseRetriesFailedUnsubscribe(t *testing.T) {
	asrt := is.New(t)
	ctx := context.Background()

	broker := memory.New()
	defer broker.Close()

	coll := newCollector()
	sub := relay.NewSubscriber(&flakySubscriber{Subscriber: broker, failures: 1}, topic, group,
		relay.WithHandler(coll.handle))
	asrt.NoErr(sub.Register(ctx))

	asrt.True(sub.Close() != nil)
	asrt.Equal(sub.State(), relay.StateRegistered)

	asrt.NoErr(sub.Close())
	asrt.Equal(sub.State(), relay.StateClosed)

	_, err := relay.NewPublisher(broker, topic).Publish(ctx, "after close")
	asrt.NoErr(err)
	select {
	case body := <-coll.ch:
		t.Fatalf("closed subscriber received %q", body)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRegisterBrokerDown(t *testing.T) {
	asrt := is.New(t)

	broker := memory.New()
	defer broker.Close()
	broker.SetDown(true)

	sub := relay.NewSubscriber(broker, topic, group)
	err := sub.Register(context.Background())
	asrt.True(err != nil)
	asrt.Equal(sub.State(), relay.StateUnregistered)
}

func TestConsumerGroups(t *testing.T) {
	asrt := is.New(t)
	ctx := context.Background()

	broker := memory.New()
	defer broker.Close()

	var (
		m      sync.Mutex
		counts = map[string]int{}
		wg     sync.WaitGroup
	)
	const msgs = 10
	wg.Add(msgs * 2)

	handler := func(name string) relay.MessageHandler {
		return func(context.Context, string) error {
			m.Lock()
			counts[name]++
			m.Unlock()
			wg.Done()
			return nil
		}
	}

	for _, s := range []*relay.Subscriber{
		relay.NewSubscriber(broker, topic, "group-a", relay.WithHandler(handler("a1"))),
		relay.NewSubscriber(broker, topic, "group-a", relay.WithHandler(handler("a2"))),
		relay.NewSubscriber(broker, topic, "group-b", relay.WithHandler(handler("b1"))),
	} {
		asrt.NoErr(s.Register(ctx))
		defer s.Close()
	}

	pub := relay.NewPublisher(broker, topic)
	for i := 0; i < msgs; i++ {
		_, err := pub.Publish(ctx, "msg")
		asrt.NoErr(err)
	}
	wg.Wait()

	asrt.Equal(counts["a1"]+counts["a2"], msgs)
	asrt.Equal(counts["b1"], msgs)
}

func TestHandlerErrorRedelivery(t *testing.T) {
	ctx := context.Background()
	errFail := errors.New("failed")

	run := func(t *testing.T, broker *memory.Broker, failures int) int {
		var (
			m     sync.Mutex
			calls int
		)
		done := make(chan struct{}, 8)
		sub := relay.NewSubscriber(broker, topic, group, relay.WithHandler(func(context.Context, string) error {
			m.Lock()
			defer m.Unlock()
			calls++
			done <- struct{}{}
			if calls <= failures {
				return errFail
			}
			return nil
		}))
		is.New(t).NoErr(sub.Register(ctx))
		defer sub.Close()

		_, err := relay.NewPublisher(broker, topic).Publish(ctx, "hello")
		is.New(t).NoErr(err)

		// collect calls until no further delivery shows up
		for {
			select {
			case <-done:
			case <-time.After(200 * time.Millisecond):
				m.Lock()
				defer m.Unlock()
				return calls
			}
		}
	}

	t.Run("disabled", func(t *testing.T) {
		broker := memory.New()
		defer broker.Close()
		is.New(t).Equal(run(t, broker, 1), 1)
	})

	t.Run("enabled", func(t *testing.T) {
		broker := memory.New(memory.WithRedelivery(5))
		defer broker.Close()
		is.New(t).Equal(run(t, broker, 2), 3)
	})

	t.Run("gives up after max deliveries", func(t *testing.T) {
		broker := memory.New(memory.WithRedelivery(3))
		defer broker.Close()
		is.New(t).Equal(run(t, broker, 10), 3)
	})
}

func TestRelayOverNATS(t *testing.T) {
	asrt := is.New(t)
	ctx := context.Background()

	conn, shutdown, err := natstest.NewTestConn()
	asrt.NoErr(err)
	defer shutdown()

	coll := newCollector()
	sub := relay.NewSubscriber(nats.Subscriber(conn), topic, group,
		relay.WithHandler(coll.handle), relay.WithConcurrentDelivery(true))
	asrt.NoErr(sub.Register(ctx))
	defer sub.Close()

	pub := relay.NewPublisher(nats.Publisher(conn), topic, relay.WithPublishTimeout(time.Second))

	_, err = pub.Publish(ctx, "hello")
	asrt.NoErr(err)
	asrt.Equal(coll.next(t), "hello")

	_, err = pub.Publish(ctx, "")
	asrt.NoErr(err)
	asrt.Equal(coll.next(t), "")

	conn.Close()
	_, err = pub.Publish(ctx, "hello")
	asrt.True(errors.Is(err, relay.ErrBrokerUnavailable))
}

func TestRelayOverJetStream(t *testing.T) {
	asrt := is.New(t)
	ctx := context.Background()

	ts, err := natstest.Start(natstest.WithJetStream())
	asrt.NoErr(err)
	defer ts.Shutdown()

	js, err := ts.Conn.JetStream()
	asrt.NoErr(err)
	asrt.NoErr(nats.EnsureStream(js, "RELAY", topic))

	coll := newCollector()
	sub := relay.NewSubscriber(nats.JetStreamSubscriber(ts.Conn, js), topic, group,
		relay.WithHandler(coll.handle))
	asrt.NoErr(sub.Register(ctx))
	defer sub.Close()

	pub := relay.NewPublisher(nats.JetStreamPublisher(ts.Conn, js), topic, relay.WithPublishTimeout(2*time.Second))

	first, err := pub.Publish(ctx, "hello")
	asrt.NoErr(err)
	asrt.True(first.Persisted)
	asrt.Equal(first.Topic, topic)
	asrt.Equal(first.Stream, "RELAY")
	asrt.True(first.Sequence > 0)
	asrt.Equal(coll.next(t), "hello")

	second, err := pub.Publish(ctx, "")
	asrt.NoErr(err)
	asrt.Equal(second.Sequence, first.Sequence+1)
	asrt.Equal(coll.next(t), "")

	// a topic no stream covers is refused while the broker is reachable
	other := relay.NewPublisher(nats.JetStreamPublisher(ts.Conn, js), "relay.unbound", relay.WithPublishTimeout(time.Second))
	_, err = other.Publish(ctx, "lost")
	asrt.True(errors.Is(err, relay.ErrSendRejected))
	asrt.True(!errors.Is(err, relay.ErrBrokerUnavailable))
}

func waitForEntry(t *testing.T, hook *test.Hook, msg string) *logrus.Entry {
	t.Helper()

	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		for _, e := range hook.AllEntries() {
			if e.Message == msg {
				return e
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no log entry %q", msg)
	return nil
}

func TestMetrics(t *testing.T) {
	asrt := is.New(t)
	ctx := context.Background()
	prom := metrics.NewProm()

	broker := memory.New(memory.WithMaxPayload(8))
	defer broker.Close()

	coll := newCollector()
	sub := relay.NewSubscriber(broker, topic, group, relay.WithHandler(coll.handle), relay.WithMetrics(prom))
	asrt.NoErr(sub.Register(ctx))
	defer sub.Close()

	pub := relay.NewPublisher(broker, topic, relay.WithMetrics(prom))
	_, err := pub.Publish(ctx, "hello")
	asrt.NoErr(err)
	coll.next(t)
	_, err = pub.Publish(ctx, "far too large")
	asrt.True(err != nil)

	asrt.Equal(testutil.ToFloat64(prom.Published.WithLabelValues(topic)), 1.0)
	asrt.Equal(testutil.ToFloat64(prom.PublishFailed.WithLabelValues(topic, "send_rejected")), 1.0)
	asrt.Equal(testutil.ToFloat64(prom.Received.WithLabelValues(topic)), 1.0)
}
