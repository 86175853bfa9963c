// ABOUTME: Gateway orchestrator that wires the store, providers, and pipeline
// ABOUTME: Manages the HTTP server, observers, and component lifecycle

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/2389/omni-gateway/internal/chatbot"
	"github.com/2389/omni-gateway/internal/config"
	"github.com/2389/omni-gateway/internal/dedupe"
	"github.com/2389/omni-gateway/internal/events"
	"github.com/2389/omni-gateway/internal/hub"
	"github.com/2389/omni-gateway/internal/ingest"
	"github.com/2389/omni-gateway/internal/metrics"
	"github.com/2389/omni-gateway/internal/provider"
	"github.com/2389/omni-gateway/internal/store"
)

// Gateway orchestrates the omni-gateway server components: webhook
// ingestion, the conversation API, and the real-time observer hub.
type Gateway struct {
	config     *config.Config
	store      store.Store
	guard      *dedupe.Guard
	hub        *hub.Hub
	ingest     *ingest.Service
	metrics    *metrics.Service
	adapters   map[string]provider.Adapter
	publisher  *events.AMQPPublisher
	httpServer *http.Server
	logger     *slog.Logger

	// serverID identifies this gateway instance
	serverID string
}

// initStore creates a store based on config and environment.
func initStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Database.Driver {
	case "postgres":
		s, err := store.NewPostgresStore(cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("initializing postgres store: %w", err)
		}
		return s, nil
	default:
		dbPath := cfg.Database.Path
		if envPath := os.Getenv("OMNI_DB_PATH"); envPath != "" {
			dbPath = envPath
		}
		s, err := store.NewSQLiteStore(dbPath)
		if err != nil {
			return nil, fmt.Errorf("initializing sqlite store: %w", err)
		}
		return s, nil
	}
}

// buildProviders constructs the configured adapters and picks the active
// sender for outbound delivery.
func buildProviders(cfg *config.Config, logger *slog.Logger) (map[string]provider.Adapter, provider.Sender) {
	adapters := make(map[string]provider.Adapter)
	var zapi *provider.ZAPI
	var evolution *provider.Evolution

	if cfg.Providers.ZAPI.Enabled {
		zapi = provider.NewZAPI(
			cfg.Providers.ZAPI.InstanceID,
			cfg.Providers.ZAPI.Token,
			cfg.Providers.ZAPI.ClientToken,
			logger,
		)
		adapters[zapi.Name()] = zapi
	}
	if cfg.Providers.Evolution.Enabled {
		evolution = provider.NewEvolution(
			cfg.Providers.Evolution.BaseURL,
			cfg.Providers.Evolution.Instance,
			cfg.Providers.Evolution.APIKey,
			logger,
		)
		adapters[evolution.Name()] = evolution
	}

	switch cfg.Providers.Active {
	case "zapi":
		return adapters, zapi
	case "evolution":
		return adapters, evolution
	}
	return adapters, nil
}

// buildGreeter constructs the auto-reply generator from config. Returns nil
// when the chatbot is disabled.
func buildGreeter(cfg *config.Config, logger *slog.Logger) chatbot.Greeter {
	if !cfg.Chatbot.Enabled {
		return nil
	}

	static := chatbot.NewStatic(cfg.Chatbot.BotName, cfg.Chatbot.BusinessName)
	if cfg.Chatbot.Generator != "openai" {
		return static
	}

	llm := chatbot.NewClient(
		cfg.Chatbot.OpenAI.BaseURL,
		cfg.Chatbot.OpenAI.APIKey,
		cfg.Chatbot.OpenAI.Model,
		cfg.Chatbot.BotName,
		cfg.Chatbot.BusinessName,
	)
	return chatbot.NewFallback(llm, static, logger)
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	guard := dedupe.NewGuard(dedupe.NewCache(cfg.Dedupe.TTL, cfg.Dedupe.MaxEntries), s)

	var sinks []hub.Sink
	var publisher *events.AMQPPublisher
	if cfg.Events.AMQP.Enabled {
		publisher, err = events.NewAMQPPublisher(cfg.Events.AMQP.URL, cfg.Events.AMQP.Exchange, logger)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("connecting to broker: %w", err)
		}
		sinks = append(sinks, publisher)
		logger.Info("AMQP publishing enabled", "exchange", cfg.Events.AMQP.Exchange)
	}

	eventHub := hub.New(logger, sinks...)

	adapters, sender := buildProviders(cfg, logger)
	if len(adapters) == 0 {
		logger.Warn("no providers enabled, webhooks will be rejected")
	}
	if sender == nil {
		logger.Warn("no active provider, outbound sends disabled")
	}

	var opts []ingest.Option
	if sender != nil {
		opts = append(opts, ingest.WithSender(sender))
	}
	if greeter := buildGreeter(cfg, logger); greeter != nil {
		opts = append(opts, ingest.WithGreeter(greeter))
	}

	gw := &Gateway{
		config:    cfg,
		store:     s,
		guard:     guard,
		hub:       eventHub,
		ingest:    ingest.New(s, guard, eventHub, logger, opts...),
		metrics:   metrics.New(s),
		adapters:  adapters,
		publisher: publisher,
		logger:    logger.With("component", "gateway"),
		serverID:  generateServerID(),
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// routes builds the HTTP mux for the gateway.
func (g *Gateway) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/health/ready", g.handleReady)

	// Provider webhooks. GET is the endpoint-verification ping some
	// providers send on configuration.
	mux.HandleFunc("POST /webhook/{provider}", g.handleWebhook)
	mux.HandleFunc("GET /webhook/{provider}", g.handleWebhookPing)

	// Real-time observers
	mux.HandleFunc("GET /ws", g.handleObserver)

	// Conversation API
	mux.HandleFunc("GET /api/conversations", g.handleListConversations)
	mux.HandleFunc("GET /api/conversations/metrics", g.handleMetrics)
	mux.HandleFunc("GET /api/conversations/{id}/messages", g.handleListMessages)
	mux.HandleFunc("POST /api/conversations/{id}/messages", g.handleSendMessage)
	mux.HandleFunc("POST /api/conversations/{id}/close", g.handleCloseConversation)
	mux.HandleFunc("POST /api/conversations/broadcast", g.handleBroadcast)

	return mux
}

// Run starts the gateway server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown gracefully stops the server and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.hub.Close()
	g.guard.Close()
	if g.publisher != nil {
		errs = appendCloseError(errs, "AMQP close", g.publisher.Close())
	}
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the store answers queries.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := g.store.CountConversations(r.Context(), time.Now().UTC()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, "store not ready: %v", err)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d observers)", g.hub.ObserverCount())
}

// generateServerID creates a unique identifier for this gateway instance.
func generateServerID() string {
	return fmt.Sprintf("omni-gateway-%d", time.Now().UnixNano()%1000000)
}
