// Package api provides the HTTP server that receives Slack traffic.
//
// Slack expects an answer within three seconds, so every handler parses the
// request, hands it to the router and acknowledges immediately. Signature
// verification is left to the ingress in front of the server.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
)

// Default server settings.
const (
	DefaultAddr            = ":8080"
	DefaultShutdownTimeout = 10 * time.Second
	maxBodyBytes           = 1 << 20
)

// Router handles parsed Slack payloads. messaging.Router implements it.
type Router interface {
	HandleCommand(ctx context.Context, cmd slack.SlashCommand) string
	HandleEvent(ctx context.Context, ev slackevents.EventsAPIEvent) error
	HandleInteraction(ctx context.Context, cb slack.InteractionCallback) error
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithShutdownTimeout bounds graceful shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.ShutdownTimeout = d
	}
}

// Server serves the Slack endpoints and the health check.
type Server struct {
	router Router
	opts   Opts
	mux    *http.ServeMux
}

// NewServer creates a Server.
func NewServer(router Router, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr, ShutdownTimeout: DefaultShutdownTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Server{router: router, opts: cfg, mux: http.NewServeMux()}
	s.mux.HandleFunc("/healthz", s.healthHandler)
	s.mux.HandleFunc("/slack/events", s.eventsHandler)
	s.mux.HandleFunc("/slack/commands", s.commandsHandler)
	s.mux.HandleFunc("/slack/interactions", s.interactionsHandler)
	slog.Debug("Server: routes registered", "addr", cfg.Addr)
	return s
}

// Addr is the configured listen address.
func (s *Server) Addr() string {
	return s.opts.Addr
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.ListenAndServe: listening", "addr", s.opts.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("Server.ListenAndServe: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server.ListenAndServe: shutdown failed", "error", err)
		return err
	}
	return nil
}
