// Package server exposes the e-mail webhook, the device API and the
// operational endpoints over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/shineum/inkpost/internal/delivery"
	"github.com/shineum/inkpost/internal/email"
	"github.com/shineum/inkpost/internal/store"
)

const (
	shutdownTimeout   = 30 * time.Second
	readHeaderTimeout = 10 * time.Second

	defaultAuthHeader   = "X-Authenticated-Email"
	defaultMaxBodyBytes = 32 << 20
)

// Deliverer runs an inbound message through the delivery pipeline.
type Deliverer interface {
	Deliver(ctx context.Context, msg *email.InboundMessage) (*delivery.Report, error)
}

// Devices is the device lifecycle used by the device API. *device.Registrar
// implements it.
type Devices interface {
	Register(ctx context.Context, accountID int64, code string) (*store.Device, error)
	Reconnect(ctx context.Context, accountID, deviceID int64, code string) (*store.Device, error)
	Delete(ctx context.Context, accountID, deviceID int64) error
	List(ctx context.Context, accountID int64) ([]store.Device, error)
}

// Accounts resolves the account asserted by the upstream proxy.
type Accounts interface {
	AccountByEmail(ctx context.Context, email string) (*store.Account, error)
}

// Config holds the HTTP listener configuration.
type Config struct {
	Listen string
	// WebhookToken, when set, is required on every webhook request.
	WebhookToken string
	// AuthHeader names the header carrying the authenticated account e-mail.
	AuthHeader   string
	MaxBodyBytes int64
}

// Server is the HTTP front of inkpost.
type Server struct {
	cfg      Config
	pipeline Deliverer
	devices  Devices
	accounts Accounts
	metrics  http.Handler
	engine   *gin.Engine

	mu       sync.Mutex
	listener net.Listener
}

// New builds the router. metricsHandler may be nil to leave /metrics out.
func New(cfg Config, pipeline Deliverer, devices Devices, accounts Accounts, metricsHandler http.Handler) *Server {
	if cfg.AuthHeader == "" {
		cfg.AuthHeader = defaultAuthHeader
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}

	s := &Server{
		cfg:      cfg,
		pipeline: pipeline,
		devices:  devices,
		accounts: accounts,
		metrics:  metricsHandler,
	}
	s.engine = s.routes()
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(recovery(), requestID(), accessLog())

	r.GET("/healthz", s.health)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics))
	}

	api := r.Group("/api")
	api.POST("/webhook/email", s.webhookAuth(), s.handleWebhook)

	dev := api.Group("", s.accountAuth())
	dev.POST("/device/register", s.handleRegister)
	dev.POST("/device/:id/reconnect", s.handleReconnect)
	dev.DELETE("/device/:id", s.handleDelete)
	dev.GET("/devices", s.handleList)

	return r
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListenAndServe serves until ctx is cancelled, then drains in-flight
// requests for up to 30 seconds.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves HTTP on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	slog.Info("HTTP server listening",
		"addr", ln.Addr().String(),
		"webhook_token", s.cfg.WebhookToken != "",
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
		slog.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("shutdown timeout reached, forcing close", "error", err)
			srv.Close()
		}
	}()

	err := srv.Serve(ln)
	// Serve returns as soon as Shutdown starts; wait for the drain.
	close(stopped)
	<-drained
	if errors.Is(err, http.ErrServerClosed) {
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
