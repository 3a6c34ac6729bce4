// Package httpapi is the inbound HTTP surface of the relay.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tehsphinx/relay"
)

const (
	SendPath   = "/relay/send"
	HealthPath = "/healthz"

	defaultMaxBody = 1 << 20
	readTimeout    = 10 * time.Second
)

// Publisher is what the send endpoint forwards bodies to.
type Publisher interface {
	Publish(ctx context.Context, body string) (relay.PublishResult, error)
}

// Option configures the server.
type Option func(s *Server)

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Server) {
		s.log = log
	}
}

// WithMaxBodyBytes limits the size of request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

// WithHealth adds the health endpoint, reporting healthy while fn returns true.
func WithHealth(fn func() bool) Option {
	return func(s *Server) {
		s.healthy = fn
	}
}

// WithMetrics serves h on path.
func WithMetrics(path string, h http.Handler) Option {
	return func(s *Server) {
		s.metricsPath = path
		s.metrics = h
	}
}

// Server serves the relay's HTTP endpoints.
type Server struct {
	pub         Publisher
	log         logrus.FieldLogger
	maxBody     int64
	healthy     func() bool
	metricsPath string
	metrics     http.Handler

	srv *http.Server
}

// New creates a server listening on addr once started.
func New(addr string, pub Publisher, opts ...Option) *Server {
	s := &Server{
		pub:     pub,
		log:     logrus.StandardLogger(),
		maxBody: defaultMaxBody,
	}
	for _, o := range opts {
		o(s)
	}

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readTimeout,
	}
	return s
}

// Routes returns the route table of the server.
func (s *Server) Routes() []Route {
	routes := []Route{
		{Method: http.MethodPost, Path: SendPath, Handler: s.handleSend},
	}
	if s.healthy != nil {
		routes = append(routes, Route{Method: http.MethodGet, Path: HealthPath, Handler: s.handleHealth})
	}
	if s.metrics != nil {
		routes = append(routes, Route{Method: http.MethodGet, Path: s.metricsPath, Handler: s.metrics.ServeHTTP})
	}
	return routes
}

// Handler builds the http.Handler serving the route table.
func (s *Server) Handler() http.Handler {
	return newRouter(s.Routes())
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.srv.Addr, err)
	}

	go func() {
		s.log.Infof("HTTP server starting on %s", ln.Addr())
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Errorf("HTTP server error: %v", err)
		}
	}()
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeText(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("error: body exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeText(w, http.StatusBadRequest, "error: failed to read body")
		return
	}

	msg := string(body)
	if _, err := s.pub.Publish(r.Context(), msg); err != nil {
		writeText(w, statusFor(err), "error: "+err.Error())
		return
	}
	writeText(w, http.StatusOK, "Message sent: "+msg)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if !s.healthy() {
		writeText(w, http.StatusServiceUnavailable, "broker unavailable")
		return
	}
	writeText(w, http.StatusOK, "ok")
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, relay.ErrSendRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, relay.ErrBrokerUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeText(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, text)
}
