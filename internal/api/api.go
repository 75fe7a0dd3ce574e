// Package api provides the HTTP surface and the main server logic for LeadPipe.
//
// It wires the storage, completion, and transport modules together, exposes
// health and audit endpoints, and runs the Telegram transport in either
// polling or webhook mode until the process is signaled to stop.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/leadpipe/leadpipe/internal/conversation"
	"github.com/leadpipe/leadpipe/internal/dispatch"
	"github.com/leadpipe/leadpipe/internal/genai"
	"github.com/leadpipe/leadpipe/internal/identity"
	"github.com/leadpipe/leadpipe/internal/lead"
	"github.com/leadpipe/leadpipe/internal/lockfile"
	"github.com/leadpipe/leadpipe/internal/models"
	"github.com/leadpipe/leadpipe/internal/reply"
	"github.com/leadpipe/leadpipe/internal/store"
	"github.com/leadpipe/leadpipe/internal/telegram"
)

// Server defaults.
const (
	// DefaultAddr is the default API server listen address.
	DefaultAddr = ":8080"
	// ModePolling runs the transport as a getUpdates long-poll loop.
	ModePolling = "polling"
	// ModeWebhook runs the transport as a webhook receiver on the API server.
	ModeWebhook = "webhook"
	// shutdownTimeout bounds the graceful HTTP server shutdown.
	shutdownTimeout = 10 * time.Second
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr       string
	Mode       string
	WebhookURL string
	StateDir   string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the API server listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithMode selects the transport mode: ModePolling or ModeWebhook.
func WithMode(mode string) Option {
	return func(o *Opts) {
		o.Mode = mode
	}
}

// WithWebhookURL sets the public base URL webhook deliveries arrive on.
func WithWebhookURL(url string) Option {
	return func(o *Opts) {
		o.WebhookURL = url
	}
}

// WithStateDir sets the state directory used for the single-instance lock.
func WithStateDir(dir string) Option {
	return func(o *Opts) {
		o.StateDir = dir
	}
}

// Server carries the dependencies of the HTTP handlers.
type Server struct {
	store store.Store
}

// NewServer creates an API server over the given store.
func NewServer(st store.Store) *Server {
	return &Server{store: st}
}

// Run wires all modules together and blocks until the process is signaled or
// a fatal component error occurs.
func Run(telegramOpts []telegram.Option, storeOpts []store.Option, genaiOpts []genai.Option, apiOpts []Option) error {
	cfg := Opts{Addr: DefaultAddr, Mode: ModePolling}
	for _, opt := range apiOpts {
		opt(&cfg)
	}
	if cfg.Mode != ModePolling && cfg.Mode != ModeWebhook {
		return fmt.Errorf("unknown transport mode %q", cfg.Mode)
	}
	if cfg.Mode == ModeWebhook && cfg.WebhookURL == "" {
		return fmt.Errorf("webhook mode requires a public webhook URL")
	}

	st, err := store.New(storeOpts...)
	if err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("Server failed to close store", "error", err)
		}
	}()

	// Without a completion provider the pipeline still runs, echoing input.
	var provider reply.Provider
	if gc, err := genai.NewClient(genaiOpts...); err != nil {
		slog.Warn("Server starting in degraded mode without completion provider", "error", err)
	} else {
		provider = gc
	}

	dispatcher := dispatch.NewDispatcher(
		identity.NewResolver(st),
		conversation.NewLog(st),
		lead.NewCapture(st),
		reply.NewOrchestrator(provider),
	)

	client, err := telegram.NewClient(telegramOpts...)
	if err != nil {
		return fmt.Errorf("initialize telegram client: %w", err)
	}
	svc := telegram.NewService(client, dispatcher)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.CheckToken(ctx); err != nil {
		return err
	}

	server := NewServer(st)
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", server.healthzHandler)
	mux.HandleFunc("/", server.rootHandler)
	mux.HandleFunc("/leads", server.leadsHandler)
	mux.HandleFunc("/users", server.usersHandler)

	transportErr := make(chan error, 1)
	switch cfg.Mode {
	case ModeWebhook:
		mux.HandleFunc(svc.WebhookPath(), svc.WebhookHandler())
		if err := svc.RegisterWebhook(ctx, cfg.WebhookURL); err != nil {
			return fmt.Errorf("register webhook: %w", err)
		}
	case ModePolling:
		// Concurrent pollers of one bot token race on getUpdates, so polling
		// mode is guarded by a state directory lock.
		if cfg.StateDir != "" {
			lock, err := lockfile.AcquireLock(cfg.StateDir)
			if err != nil {
				return fmt.Errorf("acquire instance lock: %w", err)
			}
			defer lock.Release()
		}
		go func() {
			if err := svc.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				transportErr <- err
			}
		}()
	}

	httpServer := &http.Server{Addr: cfg.Addr, Handler: mux}
	httpErr := make(chan error, 1)
	go func() {
		slog.Info("LeadPipe API server listening", "addr", cfg.Addr, "mode", cfg.Mode)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case err := <-transportErr:
		slog.Error("Transport failed", "error", err)
		runErr = fmt.Errorf("transport: %w", err)
	case err := <-httpErr:
		slog.Error("API server failed", "error", err)
		runErr = fmt.Errorf("api server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("API server shutdown failed", "error", err)
		if runErr == nil {
			runErr = fmt.Errorf("api server shutdown: %w", err)
		}
	}
	return runErr
}

// healthzHandler reports liveness.
func (s *Server) healthzHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// rootHandler answers platform health probes that hit "/".
func (s *Server) rootHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	s.healthzHandler(w, r)
}

// leadsHandler lists captured leads for operator review.
func (s *Server) leadsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	leads, err := s.store.ListLeads(r.Context())
	if err != nil {
		slog.Error("Server.leadsHandler: failed to list leads", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list leads"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(leads))
}

// usersHandler lists known users for operator review.
func (s *Server) usersHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		slog.Error("Server.usersHandler: failed to list users", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list users"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(users))
}
