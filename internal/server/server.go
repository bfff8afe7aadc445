// Package server exposes the ledger over HTTP and WebSocket. All routes are
// JSON; lifecycle events stream to WebSocket clients via the signal bus.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/veilmarket/veilmarket/internal/domain"
	"github.com/veilmarket/veilmarket/internal/server/handler"
	"github.com/veilmarket/veilmarket/internal/server/middleware"
	"github.com/veilmarket/veilmarket/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// Per-client request rate limiting. Applied only when RateLimiter is
	// provided in Handlers.
	RateLimit       int
	RateLimitWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Markets  *handler.MarketHandler
	Bets     *handler.BetHandler
	Balances *handler.BalanceHandler
	Audit    *handler.AuditHandler
	Events   *handler.EventsHandler

	// RateLimiter optionally enables per-client rate limiting.
	RateLimiter domain.RateLimiter
}

// Server is the HTTP + WebSocket API server for the market ledger.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (rate limiting, logging, CORS, auth) and attaches
// the WebSocket hub.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Market lifecycle.
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("POST /api/markets", handlers.Markets.CreateMarket)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("POST /api/markets/{id}/resolve", handlers.Markets.ResolveMarket)
	mux.HandleFunc("POST /api/markets/{id}/decrypt", handlers.Markets.RequestDecrypt)
	mux.HandleFunc("POST /api/markets/{id}/settle", handlers.Markets.SettleMarket)
	mux.HandleFunc("POST /api/markets/{id}/archive", handlers.Markets.ArchiveMarket)
	mux.HandleFunc("GET /api/markets/{id}/archive", handlers.Markets.GetArchive)

	// Bets.
	mux.HandleFunc("POST /api/markets/{id}/bets", handlers.Bets.PlaceBet)
	mux.HandleFunc("GET /api/markets/{id}/bets", handlers.Bets.ListBets)
	mux.HandleFunc("GET /api/markets/{id}/bets/{index}", handlers.Bets.GetBet)
	mux.HandleFunc("POST /api/markets/{id}/bets/{index}/decrypt", handlers.Bets.RequestDecrypt)
	mux.HandleFunc("POST /api/markets/{id}/bets/{index}/withdraw", handlers.Bets.Withdraw)
	mux.HandleFunc("GET /api/bets", handlers.Bets.ListByBettor)

	// Shielded balances.
	mux.HandleFunc("GET /api/balances/{principal}", handlers.Balances.GetBalance)
	mux.HandleFunc("POST /api/balances/{principal}/deposit", handlers.Balances.Deposit)
	mux.HandleFunc("POST /api/balances/{principal}/operator", handlers.Balances.SetOperator)
	mux.HandleFunc("POST /api/balances/{principal}/reveal", handlers.Balances.RevealBalance)
	mux.HandleFunc("GET /api/decrypts/{ticket}", handlers.Balances.PollDecrypt)

	// Audit trail and event replay.
	mux.HandleFunc("GET /api/audit", handlers.Audit.ListAudit)
	mux.HandleFunc("GET /api/events", handlers.Events.ListEvents)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux

	h = middleware.Auth(cfg.APIKey)(h)

	if handlers.RateLimiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateLimitWindow
		if window <= 0 {
			window = time.Second
		}
		h = middleware.RateLimit(handlers.RateLimiter, cfg.RateLimit, window)(h)
	}

	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
