package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/clobx/clobd/internal/domain"
	"github.com/clobx/clobd/internal/server/handler"
	"github.com/clobx/clobd/internal/server/middleware"
	"github.com/clobx/clobd/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	AdminAPIKey string // admin routes fail closed if empty

	RateLimiter     domain.RateLimiter // optional; nil disables rate limiting
	RateLimit       int
	RateLimitWindow time.Duration
}

// Handlers aggregates all HTTP handlers the server registers.
type Handlers struct {
	Health      *handler.HealthHandler
	Markets     *handler.MarketHandler
	Orders      *handler.OrderHandler
	Orderbook   *handler.OrderbookHandler
	SmartOrders *handler.SmartOrderHandler
	Admin       *handler.AdminHandler
}

// Server is the HTTP + WebSocket API server for the exchange core.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up logging, CORS, optional rate limiting, admin auth (scoped to
// admin routes only), and the live orderbook WebSocket feed.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	admin := middleware.AdminAuth(cfg.AdminAPIKey)

	// Health.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Markets.
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{id}/stats", handlers.Markets.GetMarketStats)
	mux.HandleFunc("GET /api/markets/{id}/price-history", handlers.Markets.GetMarketPriceHistory)
	mux.Handle("POST /api/markets", admin(http.HandlerFunc(handlers.Markets.CreateMarket)))

	// Orders.
	mux.HandleFunc("GET /api/orders", handlers.Orders.ListOrders)
	mux.HandleFunc("DELETE /api/orders/{id}", handlers.Orders.CancelOrder)

	// Orderbook.
	mux.HandleFunc("GET /api/orderbook/{id}", handlers.Orderbook.GetOrderbook)
	mux.HandleFunc("GET /api/orderbook/{id}/trades", handlers.Orderbook.GetRecentTrades)
	mux.HandleFunc("GET /api/orderbook/{id}/price", handlers.Orderbook.GetPrice)
	if wsHub != nil {
		mux.HandleFunc("GET /api/orderbook/{id}/stream", wsHub.HandleWS)
	}

	// Smart router / order acceptance.
	mux.HandleFunc("POST /api/smart-orders/preview", handlers.SmartOrders.PreviewPlan)
	mux.HandleFunc("POST /api/smart-orders", handlers.SmartOrders.PlaceOrder)
	mux.HandleFunc("POST /api/smart-orders/requirements", handlers.SmartOrders.GetRequirements)

	// Admin.
	mux.Handle("POST /api/admin/settlements/{tradeId}", admin(http.HandlerFunc(handlers.Admin.ForceSettle)))

	var h http.Handler = mux

	if cfg.RateLimiter != nil {
		window := cfg.RateLimitWindow
		if window <= 0 {
			window = time.Second
		}
		h = middleware.RateLimit(cfg.RateLimiter, cfg.RateLimit, window)(h)
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

	return &Server{httpServer: srv, mux: mux, logger: logger}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
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
