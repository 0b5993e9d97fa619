package engine

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/mux"
)

// SetupConfig holds configuration for the engine HTTP handler.
type SetupConfig struct {
	Store        *Store
	Logger       *slog.Logger
	SharedSecret string
	Version      string
}

// Setup creates the complete HTTP handler using the engine.
func Setup(cfg SetupConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	router := mux.NewRouter().UseEncodedPath()

	// Middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(accessLogMiddleware(cfg.Logger))
	router.Use(middleware.Recoverer)
	router.Use(AuthMiddleware(cfg.Store, cfg.SharedSecret, cfg.Logger))

	// Health endpoints
	router.HandleFunc("/health", healthHandler(cfg.Version)).Methods("GET")
	router.HandleFunc("/ready", readyHandler(cfg.Store)).Methods("GET")
	router.HandleFunc("/openapi.json", NewOpenAPIGenerator(cfg.Store, "assetbook API", cfg.Version).Handler()).Methods("GET")

	// Asset audit trail, registered before the generic {id} routes
	router.HandleFunc("/api/v1/assets/{id}/events", assetEventsHandler(cfg)).Methods("GET")

	RegisterRoutes(router, APIConfig{
		Store:  cfg.Store,
		Logger: cfg.Logger,
	})

	return router
}

// assetEventsHandler lists the audit entries of one asset.
func assetEventsHandler(cfg SetupConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id, err := pathID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid id: "+err.Error())
			return
		}

		if _, err := cfg.Store.Get(ctx, "assets", id); err != nil {
			writeStoreError(w, cfg.Logger, err)
			return
		}

		events, err := cfg.Store.ListAssetEvents(ctx, id)
		if err != nil {
			writeStoreError(w, cfg.Logger, err)
			return
		}

		data := make([]map[string]any, 0, len(events))
		for _, ev := range events {
			data = append(data, map[string]any{
				"type": "asset_events",
				"id":   ev.ReferenceID,
				"attributes": map[string]any{
					"asset_id":   ev.AssetID,
					"action":     ev.Action,
					"asset_type": ev.AssetType,
					"asset_code": ev.AssetCode,
					"currency":   ev.Currency,
					"timestamp":  ev.Timestamp,
				},
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": data})
	}
}

// =============================================================================
// Health
// =============================================================================

func healthHandler(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "healthy",
			"version": version,
		})
	}
}

func readyHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	}
}

// =============================================================================
// Middleware
// =============================================================================

// accessLogMiddleware logs one line per request.
func accessLogMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
