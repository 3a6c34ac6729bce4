// Package broker opens the broker connection shared by the publisher, the subscriber
// and the health checks of a relay process.
package broker

import (
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"github.com/tehsphinx/relay/internal/config"
	"github.com/tehsphinx/relay/pubsub"
	"github.com/tehsphinx/relay/pubsub/memory"
	natsps "github.com/tehsphinx/relay/pubsub/nats"
)

const flushTimeout = 2 * time.Second

// Client owns the broker connection.
type Client struct {
	Publisher  pubsub.Publisher
	Subscriber pubsub.Subscriber

	log      logrus.FieldLogger
	conn     *nats.Conn
	mem      *memory.Broker
	embedded *server.Server
	storeDir string
}

// Open connects to the broker selected by cfg.Broker.Driver. For JetStream the stream
// covering cfg.Topic is created if missing.
func Open(cfg *config.Config, log logrus.FieldLogger) (*Client, error) {
	log = log.WithField("driver", cfg.Broker.Driver)

	switch cfg.Broker.Driver {
	case config.DriverMemory:
		return openMemory(cfg, log), nil
	case config.DriverNATS, config.DriverJetStream:
		return openNATS(cfg, log)
	default:
		return nil, fmt.Errorf("unknown broker driver %q", cfg.Broker.Driver)
	}
}

func openMemory(cfg *config.Config, log logrus.FieldLogger) *Client {
	opts := []memory.Option{
		memory.WithLogger(log),
		memory.WithMaxPayload(cfg.Broker.MaxPayload),
	}
	if cfg.Subscriber.RedeliverOnError {
		opts = append(opts, memory.WithRedelivery(cfg.Broker.MaxDeliver))
	}

	mem := memory.New(opts...)
	log.Info("using in-process memory broker")
	return &Client{
		Publisher:  mem,
		Subscriber: mem,
		log:        log,
		mem:        mem,
	}
}

func openNATS(cfg *config.Config, log logrus.FieldLogger) (*Client, error) {
	c := &Client{log: log}
	jetStream := cfg.Broker.Driver == config.DriverJetStream

	url := cfg.Broker.URL
	if emb := cfg.Broker.Embedded; emb.Enabled {
		storeDir := emb.StoreDir
		if jetStream && storeDir == "" {
			dir, err := os.MkdirTemp("", "relay-jetstream-")
			if err != nil {
				return nil, fmt.Errorf("failed to create jetstream store dir: %w", err)
			}
			storeDir = dir
			c.storeDir = dir
		}

		srv, err := StartEmbedded(EmbeddedOptions{
			Host:       emb.Host,
			Port:       emb.Port,
			JetStream:  jetStream,
			StoreDir:   storeDir,
			MaxPayload: cfg.Broker.MaxPayload,
		})
		if err != nil {
			c.Close()
			return nil, err
		}
		c.embedded = srv
		url = srv.ClientURL()
		log.Infof("embedded nats server listening on %v", url)
	}

	conn, err := nats.Connect(url,
		nats.Name(cfg.Broker.Name),
		nats.Timeout(cfg.Broker.ConnectTimeout),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warnf("disconnected from broker: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infof("reconnected to broker %v", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			if sub != nil {
				log.Errorf("async broker error on %v: %v", sub.Subject, err)
				return
			}
			log.Errorf("async broker error: %v", err)
		}),
	)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to connect to nats at %v: %w", url, err)
	}
	c.conn = conn

	subOpts := []natsps.Option{
		natsps.WithLogger(log),
		natsps.WithAckWait(cfg.Broker.AckWait),
	}
	if cfg.Subscriber.RedeliverOnError {
		subOpts = append(subOpts, natsps.WithRedelivery(cfg.Broker.MaxDeliver))
	}

	if !jetStream {
		c.Publisher = natsps.Publisher(conn)
		c.Subscriber = natsps.Subscriber(conn, subOpts...)
		log.Infof("connected to nats at %v", conn.ConnectedUrl())
		return c, nil
	}

	js, err := conn.JetStream()
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to open jetstream context: %w", err)
	}
	if r := natsps.EnsureStream(js, cfg.Broker.Stream, cfg.Topic); r != nil {
		c.Close()
		return nil, r
	}

	c.Publisher = natsps.JetStreamPublisher(conn, js)
	c.Subscriber = natsps.JetStreamSubscriber(conn, js, subOpts...)
	log.Infof("connected to jetstream at %v, stream => %v", conn.ConnectedUrl(), cfg.Broker.Stream)
	return c, nil
}

// Connected reports whether the broker can currently be used.
func (c *Client) Connected() bool {
	switch {
	case c.mem != nil:
		return c.mem.Connected()
	case c.conn != nil:
		return c.conn.IsConnected()
	default:
		return false
	}
}

// Close flushes and closes the connection and stops the embedded server, if any.
func (c *Client) Close() {
	if c.mem != nil {
		c.mem.Close()
	}
	if c.conn != nil {
		if err := c.conn.FlushTimeout(flushTimeout); err != nil && c.conn.IsConnected() {
			c.log.Warnf("failed to flush broker connection: %v", err)
		}
		c.conn.Close()
	}
	if c.embedded != nil {
		c.embedded.Shutdown()
		c.embedded.WaitForShutdown()
	}
	if c.storeDir != "" {
		_ = os.RemoveAll(c.storeDir)
	}
}
