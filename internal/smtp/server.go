package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/emersion/go-smtp"
)

// shutdownTimeout is the maximum time to wait for in-flight connections
// during graceful shutdown.
const shutdownTimeout = 30 * time.Second

const (
	defaultReadTimeout  = 60 * time.Second
	defaultWriteTimeout = 60 * time.Second
	defaultMaxMessage   = 25 << 20
)

// ServerConfig holds the configuration for an SMTP server.
type ServerConfig struct {
	// ListenAddr is the address to listen on (e.g., ":2525").
	ListenAddr string

	// Hostname is the server hostname used in the greeting and EHLO responses.
	Hostname string

	// MaxMessageBytes limits the DATA size; zero means 25 MiB.
	MaxMessageBytes int64

	// TLSConfig enables STARTTLS. If nil, STARTTLS is not advertised and
	// AUTH is refused.
	TLSConfig *tls.Config
}

// Server is an SMTP listener feeding a Backend.
type Server struct {
	config   ServerConfig
	srv      *smtp.Server

	mu       sync.Mutex
	listener net.Listener
}

// New creates a new SMTP Server with the given configuration.
func New(cfg ServerConfig, be *Backend) *Server {
	if cfg.Hostname == "" {
		cfg.Hostname = "localhost"
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = defaultMaxMessage
	}

	srv := smtp.NewServer(be)
	srv.Addr = cfg.ListenAddr
	srv.Domain = cfg.Hostname
	srv.ReadTimeout = defaultReadTimeout
	srv.WriteTimeout = defaultWriteTimeout
	srv.MaxMessageBytes = cfg.MaxMessageBytes
	srv.MaxRecipients = 1
	srv.TLSConfig = cfg.TLSConfig

	return &Server{config: cfg, srv: srv}
}

// ListenAndServe starts the SMTP server and blocks until the context is cancelled.
// On context cancellation, it stops accepting new connections and waits up to
// 30 seconds for in-flight sessions to complete.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	slog.Info("SMTP server listening",
		"addr", ln.Addr().String(),
		"hostname", s.config.Hostname,
		"tls_enabled", s.config.TLSConfig != nil,
	)

	stopped := make(chan struct{})
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		select {
		case <-ctx.Done():
		case <-stopped:
			return
		}
		slog.Info("shutting down SMTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("shutdown timeout reached, forcing close", "error", err)
			s.srv.Close()
		}
	}()

	err := s.srv.Serve(ln)
	// Serve returns as soon as Shutdown starts; wait for the drain.
	close(stopped)
	<-drained
	if errors.Is(err, smtp.ErrServerClosed) || ctx.Err() != nil {
		return nil
	}
	return err
}

// Addr returns the listener address, or empty string if not listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
