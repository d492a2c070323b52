// Package api provides the HTTP server of KolpingBot.
//
// It exposes the Messenger webhook (subscription handshake and signed callbacks), the
// Twilio WhatsApp webhook and a health endpoint. Accepted events are queued on the
// channel services; replies are sent asynchronously by the response handler.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dietfurt/kolpingbot/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	// DefaultAddr is the listen address when none is configured.
	DefaultAddr = ":8080"
	// DefaultMaxBodyBytes bounds webhook request bodies.
	DefaultMaxBodyBytes = 1 << 20
)

// Enqueuer accepts inbound events for asynchronous processing.
type Enqueuer interface {
	Enqueue(ev models.InboundEvent) bool
}

// Opts holds configuration for the API server.
type Opts struct {
	Addr          string
	AppSecret     string
	VerifyToken   string
	Messenger     Enqueuer
	TwilioHandler http.HandlerFunc
	MaxBodyBytes  int64
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithAppSecret sets the Messenger app secret used to verify callback signatures.
func WithAppSecret(secret string) Option {
	return func(o *Opts) { o.AppSecret = secret }
}

// WithVerifyToken sets the token expected in the subscription handshake.
func WithVerifyToken(token string) Option {
	return func(o *Opts) { o.VerifyToken = token }
}

// WithMessenger enables the /webhook routes, queueing parsed events on e.
func WithMessenger(e Enqueuer) Option {
	return func(o *Opts) { o.Messenger = e }
}

// WithTwilioHandler enables POST /twilio/webhook.
func WithTwilioHandler(h http.HandlerFunc) Option {
	return func(o *Opts) { o.TwilioHandler = h }
}

func WithMaxBodyBytes(n int64) Option {
	return func(o *Opts) { o.MaxBodyBytes = n }
}

// Server is the HTTP front of the bot.
type Server struct {
	opts    Opts
	router  *chi.Mux
	server  *http.Server
	started time.Time
}

// NewServer creates a Server and registers its routes.
func NewServer(opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr, MaxBodyBytes: DefaultMaxBodyBytes}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Server{opts: cfg, started: time.Now()}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.healthHandler)
	if s.opts.Messenger != nil {
		r.Get("/webhook", s.verifyHandler)
		r.Post("/webhook", s.webhookHandler)
		slog.Debug("Server routes: messenger webhook enabled")
	}
	if s.opts.TwilioHandler != nil {
		r.Post("/twilio/webhook", s.opts.TwilioHandler)
		slog.Debug("Server routes: twilio webhook enabled")
	}
	return r
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens on the configured address until Shutdown is called.
func (s *Server) Run() error {
	s.server = &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	slog.Info("Server.Run: listening", "addr", s.opts.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	slog.Info("Server.Shutdown: shutting down HTTP server")
	return s.server.Shutdown(ctx)
}
