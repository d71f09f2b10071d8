// Package server provides HTTP server initialization and lifecycle management
// for the Tracklight timeline service.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/tracklight/tracklight/internal/aggregator"
	"github.com/tracklight/tracklight/internal/config"
	"github.com/tracklight/tracklight/internal/storage"
	"github.com/tracklight/tracklight/web/handlers"
)

// securityHeadersMiddleware adds security headers to all HTTP responses.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// Start initializes and starts the HTTP server.
// Returns the actual address being listened on (useful for testing with port
// 0) and the WebSocketHub for wiring batch notifications. The aggregator
// parameter may be nil, which disables the async put path and hides the
// queue depth from /api/v1/stats.
func Start(ctx context.Context, cfg *config.Config, store storage.TimelineStore, agg *aggregator.Aggregator) (string, *handlers.WebSocketHub) {
	mux := http.NewServeMux()

	// Create WebSocket hub
	wsHub := handlers.NewWebSocketHub(cfg.Server.Port)
	go wsHub.Run()

	// Create rate limiter from config
	rateLimiter := handlers.NewRateLimiter(cfg.Ingest.RateLimit, cfg.Ingest.RateBurst)

	apiHandlers := handlers.NewAPIHandlers(store, agg, wsHub)

	var qg handlers.QueueSizeGetter
	if agg != nil {
		qg = agg
	}
	statsHandler := handlers.NewStatsHandler(store, qg, cfg.Cluster.ClusterName)

	// API routes (require auth in production mode)
	apiMux := http.NewServeMux()
	if cfg.Features.EnableREST {
		apiMux.HandleFunc("/api/v1/timeline", func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost {
				apiHandlers.PutEntities(w, r)
			} else {
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			}
		})
		apiMux.HandleFunc("/api/v1/timeline/{entityType}", func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet {
				apiHandlers.ListEntities(w, r)
			} else {
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			}
		})
		// The literal "events" segment takes precedence over {entityId}.
		apiMux.HandleFunc("/api/v1/timeline/{entityType}/events", func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet {
				apiHandlers.GetEvents(w, r)
			} else {
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			}
		})
		apiMux.HandleFunc("/api/v1/timeline/{entityType}/{entityId}", func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet {
				apiHandlers.GetEntity(w, r)
			} else {
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			}
		})
		apiMux.HandleFunc("/api/v1/stats", func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet {
				statsHandler.ServeHTTP(w, r)
			} else {
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			}
		})
	}

	// Health endpoint — no auth required, used by monitoring
	mux.HandleFunc("/api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy","version":"1.0.0"}`))
	})

	// Wrap API routes with auth middleware
	mux.Handle("/api/", handlers.RequireAuth(apiMux, cfg))

	// WebSocket endpoint (no auth required - origin validation handles security)
	if cfg.Features.EnableWebSocket {
		mux.Handle("/api/v1/ws", wsHub)
	}

	// Wrap entire server with rate limiting, then security headers
	handler := handlers.RateLimitMiddleware(mux, rateLimiter)
	handler = securityHeadersMiddleware(handler)

	// Create server with security timeouts
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("Failed to listen on %s: %v", addr, err)
	}

	actualAddr := listener.Addr().String()

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("Server error: %v", err)
		}
	}()

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		wsHub.Stop()
	}()

	return actualAddr, wsHub
}
