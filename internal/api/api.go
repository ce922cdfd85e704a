// Package api provides HTTP handlers and the main API server logic for
// CampusRelay.
//
// It exposes the Chatwoot intake webhook plus operational endpoints for
// health and session inspection, and owns the service bootstrap: messaging
// channel, identity store, classifier, responders, orchestrator and debounce
// queue are wired together here.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/campusrelay/CampusRelay/internal/classifier"
	"github.com/campusrelay/CampusRelay/internal/genai"
	"github.com/campusrelay/CampusRelay/internal/messaging"
	"github.com/campusrelay/CampusRelay/internal/models"
	"github.com/campusrelay/CampusRelay/internal/orchestrator"
	"github.com/campusrelay/CampusRelay/internal/queue"
	"github.com/campusrelay/CampusRelay/internal/responders"
	"github.com/campusrelay/CampusRelay/internal/session"
	"github.com/campusrelay/CampusRelay/internal/store"
	"github.com/campusrelay/CampusRelay/internal/twiliowhatsapp"
	"github.com/campusrelay/CampusRelay/internal/whatsapp"
)

// Constants for API server configuration
const (
	// DefaultAddr is the default API server listen address
	DefaultAddr = ":8080"
	// DefaultReadHeaderTimeout bounds slow-header attacks on the listener
	DefaultReadHeaderTimeout = 10 * time.Second
	// DefaultShutdownTimeout bounds graceful shutdown
	DefaultShutdownTimeout = 10 * time.Second
)

// Channel selects the outbound messaging implementation.
type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelTwilio   Channel = "twilio"
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr             string
	Channel          Channel
	DebounceInterval time.Duration
	SessionTTL       time.Duration
	DefaultDomain    models.Domain
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the API server listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithChannel selects the messaging channel implementation.
func WithChannel(c Channel) Option {
	return func(o *Opts) { o.Channel = c }
}

// WithDebounceInterval sets the message intake debounce interval.
func WithDebounceInterval(d time.Duration) Option {
	return func(o *Opts) { o.DebounceInterval = d }
}

// WithSessionTTL sets the conversation session time-to-live.
func WithSessionTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.SessionTTL = ttl }
}

// WithDefaultDomain sets the fallback domain for unclassifiable messages.
func WithDefaultDomain(d models.Domain) Option {
	return func(o *Opts) { o.DefaultDomain = d }
}

// Server holds the wired collaborators behind the HTTP endpoints.
type Server struct {
	msgService messaging.Service
	sessions   session.Store
	queue      *queue.Queue
	orch       *orchestrator.Orchestrator
	st         store.Store
	genaiSet   bool
	addr       string
}

// NewServer wires the HTTP layer around already-constructed collaborators.
// st may be nil (credential auth then always rejects unknown users at the
// resolver the orchestrator was built with).
func NewServer(msgService messaging.Service, sessions session.Store, q *queue.Queue, orch *orchestrator.Orchestrator, st store.Store, genaiConfigured bool, addr string) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	return &Server{
		msgService: msgService,
		sessions:   sessions,
		queue:      q,
		orch:       orch,
		st:         st,
		genaiSet:   genaiConfigured,
		addr:       addr,
	}
}

// routes registers all endpoints on a fresh mux.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook/chatwoot", s.chatwootWebhookHandler)
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/sessions", s.sessionsHandler)
	mux.HandleFunc("/sessions/", s.sessionDetailHandler)
	if ts, ok := s.msgService.(*messaging.TwilioService); ok {
		mux.HandleFunc("/webhook/twilio", ts.TwilioWebhookHandler)
	}
	return mux
}

// Handler returns the server's HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.routes()
}

// Start runs the response pump and the HTTP listener. It blocks until the
// listener fails or ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if err := s.msgService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}
	go s.pumpResponses(ctx)

	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("CampusRelay API running", "addr", s.addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("CampusRelay API shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("API shutdown failed", "error", err)
		}
		s.queue.Stop()
		if err := s.msgService.Stop(); err != nil {
			slog.Error("Messaging service stop failed", "error", err)
		}
		if s.st != nil {
			if err := s.st.Close(); err != nil {
				slog.Error("Store close failed", "error", err)
			}
		}
		return nil
	}
}

// pumpResponses feeds incoming channel messages into the debounce queue.
func (s *Server) pumpResponses(ctx context.Context) {
	for {
		select {
		case resp, ok := <-s.msgService.Responses():
			if !ok {
				slog.Debug("Server.pumpResponses: responses channel closed")
				return
			}
			s.sessions.Get(resp.From)
			s.sessions.SetChannelRef(resp.From, resp.From)
			s.queue.Enqueue(resp.From, resp.Body)
			slog.Debug("Server.pumpResponses: message enqueued", "from", resp.From)
		case <-ctx.Done():
			return
		}
	}
}

// Run bootstraps the full service from per-module options and blocks until
// shutdown. This is the entrypoint used by cmd/CampusRelay.
func Run(ctx context.Context, waOpts []whatsapp.Option, storeOpts []store.Option, genaiOpts []genai.Option, apiOpts []Option) error {
	cfg := Opts{
		Addr:             DefaultAddr,
		Channel:          ChannelWhatsApp,
		DebounceInterval: queue.DefaultDebounceInterval,
		SessionTTL:       session.DefaultTTL,
		DefaultDomain:    orchestrator.DefaultDomain,
	}
	for _, opt := range apiOpts {
		opt(&cfg)
	}

	// Identity store: DSN-configured SQL backend, in-memory otherwise.
	var idStore store.Store
	var storeCfg store.Opts
	for _, opt := range storeOpts {
		opt(&storeCfg)
	}
	switch {
	case storeCfg.DSN == "":
		slog.Info("No identity store DSN configured, using in-memory store")
		idStore = store.NewMemoryStore()
	case store.DetectDSNType(storeCfg.DSN) == "postgres":
		ps, err := store.NewPostgresStore(storeOpts...)
		if err != nil {
			return fmt.Errorf("failed to open PostgreSQL identity store: %w", err)
		}
		idStore = ps
	default:
		ss, err := store.NewSQLiteStore(storeOpts...)
		if err != nil {
			return fmt.Errorf("failed to open SQLite identity store: %w", err)
		}
		idStore = ss
	}

	// GenAI is optional: without it responders answer from static templates.
	var genaiClient genai.ClientInterface
	if gc, err := genai.NewClient(genaiOpts...); err != nil {
		slog.Warn("GenAI client not configured, responders will use static templates", "error", err)
	} else {
		genaiClient = gc
	}

	// Messaging channel.
	var msgService messaging.Service
	switch cfg.Channel {
	case ChannelTwilio:
		tc, err := twiliowhatsapp.NewClient()
		if err != nil {
			return fmt.Errorf("failed to create Twilio client: %w", err)
		}
		msgService = messaging.NewTwilioService(tc)
	default:
		wc, err := whatsapp.NewClient(waOpts...)
		if err != nil {
			return fmt.Errorf("failed to create WhatsApp client: %w", err)
		}
		msgService = messaging.NewWhatsAppService(wc)
	}

	sessions := session.NewMemoryStore(cfg.SessionTTL)
	orch := orchestrator.New(
		classifier.New(),
		sessions,
		responders.NewDefaultRegistry(genaiClient),
		idStore, idStore,
		messaging.NewDeliverer(msgService),
		orchestrator.WithDefaultDomain(cfg.DefaultDomain),
	)
	q := queue.NewQueue(orch.ProcessBatch, queue.WithInterval(cfg.DebounceInterval), queue.WithContext(ctx))

	server := NewServer(msgService, sessions, q, orch, idStore, genaiClient != nil, cfg.Addr)
	return server.Start(ctx)
}
