package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/Osiyomeoh/novax-yield-sub003/internal/market"
	"github.com/Osiyomeoh/novax-yield-sub003/internal/metrics"
	"github.com/Osiyomeoh/novax-yield-sub003/internal/pool"
	"github.com/Osiyomeoh/novax-yield-sub003/internal/registry"
	"github.com/Osiyomeoh/novax-yield-sub003/internal/settlement"
	"github.com/Osiyomeoh/novax-yield-sub003/internal/store"
	"github.com/Osiyomeoh/novax-yield-sub003/internal/stream"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pgPool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pgPool.Close)
		st = store.NewPostgresStore(pgPool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Settlement gateway + approval checker ---
	var gateway settlement.Gateway
	if gwURL := os.Getenv("SETTLEMENT_URL"); gwURL != "" {
		gateway = settlement.NewHTTPGateway(gwURL, 10*time.Second)
		slog.Info("settlement gateway configured", "url", gwURL)
	} else {
		slog.Warn("SETTLEMENT_URL not set, using in-memory settlement gateway")
		gateway = settlement.NewMemoryGateway()
	}

	approvals := settlement.NewMemoryApprovals(splitList(os.Getenv("APPROVED_BACKING_REFS"))...)

	// --- Fee configuration ---
	fees := market.FeeConfig{
		PlatformBps:     envBps("PLATFORM_FEE_BPS", 250),
		RoyaltyBps:      envBps("ROYALTY_FEE_BPS", 100),
		PlatformAccount: envOr("PLATFORM_FEE_ACCOUNT", "treasury:platform"),
		RoyaltyAccount:  envOr("ROYALTY_FEE_ACCOUNT", "treasury:royalty"),
	}

	// --- WebSocket hub ---
	hub := stream.NewHub()
	go hub.Run()

	// --- Services ---
	reg := registry.New(st)
	managers := splitList(os.Getenv("POOL_MANAGERS"))
	poolSvc := pool.NewService(st, reg, gateway, approvals, managers, hub)

	marketSvc, err := market.NewService(st, reg, gateway, fees, hub)
	if err != nil {
		slog.Error("invalid fee configuration", "err", err)
		os.Exit(1)
	}

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"yield-ledger"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time ledger events.
		r.Get("/ws", hub.HandleWS)

		// Pool ledger.
		r.Get("/pools", poolSvc.HandleListPools)
		r.Post("/pools", poolSvc.HandleCreatePool)
		r.Get("/pools/{poolID}", poolSvc.HandleGetPool)
		r.Post("/pools/{poolID}/invest", poolSvc.HandleInvest)
		r.Post("/pools/{poolID}/withdraw", poolSvc.HandleWithdraw)
		r.Post("/pools/{poolID}/distributions", poolSvc.HandleDistribute)
		r.Post("/pools/{poolID}/close", poolSvc.HandleClosePool)
		r.Get("/pools/{poolID}/positions/{investor}", poolSvc.HandleGetPosition)

		// Marketplace.
		r.Get("/listings", marketSvc.HandleListListings)
		r.Post("/listings", marketSvc.HandleCreateListing)
		r.Get("/listings/{listingID}", marketSvc.HandleGetListing)
		r.Post("/listings/{listingID}/buy", marketSvc.HandleBuy)
		r.Post("/listings/{listingID}/cancel", marketSvc.HandleCancel)
		r.Get("/listings/{listingID}/orders", marketSvc.HandleListingOrders)
		r.Get("/marketplace/stats", marketSvc.HandleStats)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("yield-ledger listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down yield-ledger...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("yield-ledger stopped")
}

// splitList parses a comma-separated env value into trimmed entries.
func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBps(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	bps, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		slog.Error("invalid bps value", "key", key, "value", v)
		os.Exit(1)
	}
	return bps
}
