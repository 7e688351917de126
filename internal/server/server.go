// Package server exposes the ledger over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/alanyoungcy/storeledger/internal/domain"
	"github.com/alanyoungcy/storeledger/internal/server/handler"
	"github.com/alanyoungcy/storeledger/internal/server/middleware"
	"github.com/alanyoungcy/storeledger/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// RateLimit is requests per RateWindow per client IP; zero disables.
	RateLimit  int
	RateWindow time.Duration
	// SignatureMaxSkew bounds the age of a signed request's timestamp.
	SignatureMaxSkew time.Duration
	// TrustedProxies may set the client address via forwarding headers.
	TrustedProxies []netip.Prefix
}

// Handlers aggregates the HTTP handlers the server registers. History may
// be nil when no projection store is configured.
type Handlers struct {
	Health  *handler.HealthHandler
	Ledger  *handler.LedgerHandler
	History *handler.HistoryHandler
}

// Server is the HTTP + WebSocket API server for the ledger.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer registers all routes and wraps them in the middleware chain:
// CORS, logging, rate limiting, then signature auth. A nil replay guard
// accepts a signed request as often as it is sent within the skew window.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, replay domain.ReplayGuard, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/ready", handlers.Health.Ready)
	mux.HandleFunc("GET /api/status", handlers.Health.GetStatus)
	mux.HandleFunc("GET /api/deployment", handlers.Health.GetDeployment)
	mux.HandleFunc("POST /api/snapshots", handlers.Health.TriggerSnapshot)

	l := handlers.Ledger
	mux.HandleFunc("POST /api/stores", l.CreateStore)
	mux.HandleFunc("GET /api/stores", l.ListStores)
	mux.HandleFunc("GET /api/stores/{storeId}", l.GetStore)
	mux.HandleFunc("POST /api/stores/{storeId}/types", l.MintNewType)
	mux.HandleFunc("POST /api/stores/{storeId}/types/{typeId}/listings", l.MintExistingType)
	mux.HandleFunc("PUT /api/stores/{storeId}/types/{typeId}/terms", l.SetListingTerms)
	mux.HandleFunc("GET /api/stores/{storeId}/types/{typeId}", l.GetTokenType)
	mux.HandleFunc("GET /api/stores/{storeId}/types/{typeId}/balances/{owner}", l.GetBalance)

	mux.HandleFunc("GET /api/trades/open", l.ListOpenTrades)
	mux.HandleFunc("GET /api/trades/{tradeId}", l.GetTrade)
	mux.HandleFunc("POST /api/trades/{tradeId}/complete", l.CompleteTrade)
	mux.HandleFunc("POST /api/trades/{tradeId}/close", l.CloseTrade)
	mux.HandleFunc("POST /api/trades/batch/complete", l.BatchCompleteTrade)
	mux.HandleFunc("POST /api/trades/batch/close", l.BatchCloseTrade)

	mux.HandleFunc("GET /api/markets/{storeAddress}/open", l.ListStoreOpenTrades)
	mux.HandleFunc("GET /api/markets/{storeAddress}/open/page", l.ListStoreOpenTradesPage)

	mux.HandleFunc("POST /api/treasury/deposit", l.Deposit)
	mux.HandleFunc("POST /api/treasury/credit", l.CreditToken)
	mux.HandleFunc("POST /api/treasury/approve", l.Approve)
	mux.HandleFunc("GET /api/treasury/{address}", l.GetAccount)

	if handlers.History != nil {
		mux.HandleFunc("GET /api/accounts/{address}/trades", handlers.History.ListAccountTrades)
		mux.HandleFunc("GET /api/audit", handlers.History.ListAudit)
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.SignatureAuth(cfg.SignatureMaxSkew, replay, time.Now)(h)
	h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, cfg.TrustedProxies)(h)
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
		handler:    h,
		logger:     logger,
	}
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
