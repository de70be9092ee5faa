package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/heartwood-builders/attribution/internal/attribution"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the attribution HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		server := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           newRouter(env),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			zap.L().Info("http server listening", zap.String("addr", cfg.Server.Addr))
			errCh <- server.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	},
}

func newRouter(env *env) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/v1/attributions", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			SpanID string `json:"span_id"`
			DryRun bool   `json:"dry_run"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		if body.SpanID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "span_id is required"})
			return
		}

		result, err := env.pipeline.Run(req.Context(), body.SpanID, body.DryRun)
		if err != nil {
			zap.L().Error("attribution request failed",
				zap.String("span_id", body.SpanID), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "attribution failed"})
			return
		}
		writeJSON(w, http.StatusOK, result)
	})

	r.Post("/v1/corrections", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			CorrectedBy string                   `json:"corrected_by"`
			Corrections []attribution.Correction `json:"corrections"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}

		applied, err := env.attrStore.ApplyCorrections(req.Context(), body.Corrections, body.CorrectedBy)
		if err != nil {
			zap.L().Error("corrections failed", zap.Error(err))
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"applied": applied})
	})

	r.Get("/v1/reviews", func(w http.ResponseWriter, req *http.Request) {
		items, err := env.attrStore.PendingReviews(req.Context(), 100)
		if err != nil {
			zap.L().Error("review listing failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "review listing failed"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
