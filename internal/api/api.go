// Package api provides the HTTP boundary for ZapRelay.
//
// It exposes the inbound webhook endpoint, a health probe and a read-only
// debug surface over the conversation registry. The webhook endpoint
// acknowledges immediately and hands the message to an independently
// scheduled pipeline run; processing outcomes are observable only through
// logs and the debug surface.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/zaprelay/zaprelay/internal/models"
	"github.com/zaprelay/zaprelay/internal/store"
)

// DefaultAddr is the default listen address.
const DefaultAddr = ":8080"

// SignatureHeader carries the webhook shared secret.
const SignatureHeader = "X-Webhook-Signature"

// maxWebhookBody bounds the inbound body size.
const maxWebhookBody = 1 << 20

// Processor runs one canonical message through the pipeline.
type Processor interface {
	Process(ctx context.Context, msg models.CanonicalMessage) models.Outcome
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr              string
	WebhookSecret     string
	SimulationMode    bool
	BackendConfigured bool
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithWebhookSecret enables shared-secret validation of inbound webhooks.
func WithWebhookSecret(secret string) Option {
	return func(o *Opts) { o.WebhookSecret = secret }
}

// WithSimulationMode records the interlock state for the health probe.
func WithSimulationMode(on bool) Option {
	return func(o *Opts) { o.SimulationMode = on }
}

// WithBackendConfigured records AI backend validity for the health probe.
func WithBackendConfigured(ok bool) Option {
	return func(o *Opts) { o.BackendConfigured = ok }
}

// Server hosts the webhook and debug endpoints.
type Server struct {
	addr              string
	secret            string
	simulationMode    bool
	backendConfigured bool
	st                store.Store
	pipeline          Processor
	mux               *http.ServeMux
}

// NewServer creates the API server over the given store and pipeline.
// The webhook secret falls back to the WEBHOOK_SECRET environment variable;
// validation is disabled when it is empty.
func NewServer(st store.Store, pipeline Processor, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.WebhookSecret == "" {
		cfg.WebhookSecret = os.Getenv("WEBHOOK_SECRET")
	}

	s := &Server{
		addr:              cfg.Addr,
		secret:            cfg.WebhookSecret,
		simulationMode:    cfg.SimulationMode,
		backendConfigured: cfg.BackendConfigured,
		st:                st,
		pipeline:          pipeline,
		mux:               http.NewServeMux(),
	}
	s.mux.HandleFunc("/webhook", s.webhookHandler)
	s.mux.HandleFunc("/health", s.healthHandler)
	s.mux.HandleFunc("/conversations", s.conversationsHandler)
	s.mux.HandleFunc("/conversations/", s.conversationsHandler)
	return s
}

// Handler returns the server's HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run starts the HTTP listener and blocks until it fails or ctx is done.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: listening", "addr", s.addr, "signature_validation", s.secret != "", "simulation_mode", s.simulationMode)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
