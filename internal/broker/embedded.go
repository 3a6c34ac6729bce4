package broker

import (
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

const readyTimeout = 5 * time.Second

// EmbeddedOptions configures an in-process NATS server.
type EmbeddedOptions struct {
	Host string
	// -1 picks a random free port
	Port       int
	JetStream  bool
	StoreDir   string
	MaxPayload int
}

// StartEmbedded starts a NATS server inside the process and waits until it accepts clients.
func StartEmbedded(opts EmbeddedOptions) (*server.Server, error) {
	srvOpts := &server.Options{
		Host:      opts.Host,
		Port:      opts.Port,
		JetStream: opts.JetStream,
		StoreDir:  opts.StoreDir,
		NoLog:     true,
		NoSigs:    true,
	}
	if opts.MaxPayload > 0 {
		srvOpts.MaxPayload = int32(opts.MaxPayload)
	}

	srv, err := server.NewServer(srvOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create nats server: %w", err)
	}

	srv.Start()
	if !srv.ReadyForConnections(readyTimeout) {
		srv.Shutdown()
		return nil, errors.New("embedded nats server not ready in time")
	}
	return srv, nil
}
