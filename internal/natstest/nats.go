// Package natstest starts throwaway NATS servers for tests.
package natstest

import (
	"fmt"
	"net"
	"os"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/tehsphinx/relay/internal/broker"
)

// Option configures the test server.
type Option func(opt *broker.EmbeddedOptions)

// WithJetStream enables JetStream with a temporary store directory.
func WithJetStream() Option {
	return func(opt *broker.EmbeddedOptions) {
		opt.JetStream = true
	}
}

// WithMaxPayload limits the payload size the server accepts.
func WithMaxPayload(n int) Option {
	return func(opt *broker.EmbeddedOptions) {
		opt.MaxPayload = n
	}
}

// TestServer is a running server plus a client connected to it.
type TestServer struct {
	Server *server.Server
	Conn   *nats.Conn

	storeDir string
}

// Start starts a server on a free localhost port and connects to it.
func Start(opts ...Option) (*TestServer, error) {
	port, err := getFreePort(3)
	if err != nil {
		return nil, fmt.Errorf("no free port found")
	}

	embOpts := broker.EmbeddedOptions{
		Host: "localhost",
		Port: port,
	}
	for _, o := range opts {
		o(&embOpts)
	}

	ts := &TestServer{}
	if embOpts.JetStream {
		dir, r := os.MkdirTemp("", "natstest-")
		if r != nil {
			return nil, fmt.Errorf("failed to create store dir: %w", r)
		}
		embOpts.StoreDir = dir
		ts.storeDir = dir
	}

	ts.Server, err = broker.StartEmbedded(embOpts)
	if err != nil {
		ts.Shutdown()
		return nil, err
	}

	ts.Conn, err = nats.Connect(ts.Server.ClientURL())
	if err != nil {
		ts.Shutdown()
		return nil, fmt.Errorf("failed to connect to nats server: %w", err)
	}
	if r := ts.Conn.Flush(); r != nil {
		ts.Shutdown()
		return nil, fmt.Errorf("failed to reach nats server: %w", r)
	}
	return ts, nil
}

// NewTestConn creates a nats test connection and returns a shutdown function to be deferred.
func NewTestConn(opts ...Option) (conn *nats.Conn, shutdown func(), err error) {
	ts, err := Start(opts...)
	if err != nil {
		return nil, nil, err
	}
	return ts.Conn, ts.Shutdown, nil
}

// Shutdown closes the connection, stops the server and removes its store.
func (s *TestServer) Shutdown() {
	if s.Conn != nil {
		s.Conn.Close()
	}
	if s.Server != nil {
		s.Server.Shutdown()
		s.Server.WaitForShutdown()
	}
	if s.storeDir != "" {
		_ = os.RemoveAll(s.storeDir)
	}
}

func getFreePort(n int) (port int, err error) {
	for i := 0; i < n; i++ {
		if port, err = getPort(); err == nil {
			return port, err
		}
	}
	return 0, err
}

func getPort() (port int, err error) {
	ln, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}
	port = ln.Addr().(*net.TCPAddr).Port
	err = ln.Close()
	return port, err
}
