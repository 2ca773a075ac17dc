// Package server is the marketplace's HTTP and websocket API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/alanyoungcy/nftmarket/internal/server/handler"
	"github.com/alanyoungcy/nftmarket/internal/server/middleware"
	"github.com/alanyoungcy/nftmarket/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // empty disables API-key auth
	AdminKey    string // empty disables the deposit endpoint
	RateLimit   int    // requests per RateWindow per client IP; 0 disables
	RateWindow  time.Duration
}

// Handlers aggregates the route handlers.
type Handlers struct {
	Health   *handler.HealthHandler
	Auctions *handler.AuctionHandler
	Listings *handler.ListingHandler
	Accounts *handler.AccountHandler
	Assets   *handler.AssetHandler
	Events   *handler.EventsHandler  // nil without the redis bus
	Archive  *handler.ArchiveHandler // nil when the archive is disabled
}

// Server is the API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers routes and wraps them in middleware. hub and limiter
// may be nil.
func NewServer(cfg Config, h Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           NewHandler(cfg, h, hub, limiter, logger),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      5 * time.Minute, // covers an on-chain transfer awaiting its receipt
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// NewHandler builds the routed, middleware-wrapped handler.
func NewHandler(cfg Config, h Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)
	mux.HandleFunc("GET /api/time", h.Assets.Time)
	mux.HandleFunc("GET /api/assets", h.Assets.ListOwned)

	mux.HandleFunc("GET /api/auctions", h.Auctions.List)
	mux.HandleFunc("POST /api/auctions", h.Auctions.Create)
	mux.HandleFunc("GET /api/auctions/{asset_id}", h.Auctions.Get)
	mux.HandleFunc("POST /api/auctions/{asset_id}/bids", h.Auctions.Bid)
	mux.HandleFunc("POST /api/auctions/{asset_id}/finalize", h.Auctions.Finalize)

	mux.HandleFunc("GET /api/listings", h.Listings.List)
	mux.HandleFunc("POST /api/listings", h.Listings.Sell)
	mux.HandleFunc("GET /api/listings/{asset_id}", h.Listings.Get)
	mux.HandleFunc("POST /api/listings/{asset_id}/buy", h.Listings.Buy)

	mux.HandleFunc("GET /api/accounts/{address}/balance", h.Accounts.Balance)
	mux.Handle("POST /api/accounts/{address}/deposit",
		middleware.RequireKey(cfg.AdminKey, http.HandlerFunc(h.Accounts.Deposit)))

	if h.Events != nil {
		mux.HandleFunc("GET /api/events", h.Events.Replay)
	}
	if h.Archive != nil {
		mux.Handle("GET /api/archive",
			middleware.RequireKey(cfg.AdminKey, http.HandlerFunc(h.Archive.Months)))
		mux.Handle("GET /api/archive/{month}",
			middleware.RequireKey(cfg.AdminKey, http.HandlerFunc(h.Archive.Month)))
	}

	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var out http.Handler = mux
	if limiter != nil && cfg.RateLimit > 0 && cfg.RateWindow > 0 {
		out = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(out)
	}
	out = middleware.Auth(cfg.APIKey, "/api/health")(out)
	out = middleware.Logging(logger)(out)
	return middleware.CORS(cfg.CORSOrigins)(out)
}

// Start listens until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
