package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/meridian-group/scorecard-cli/internal/extract"
	"github.com/meridian-group/scorecard-cli/internal/model"
	"github.com/meridian-group/scorecard-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP extraction API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(env, cfg.Server.RequestsPerSecond),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// newRouter builds the chi router with CORS, request logging, and a global
// token-bucket rate limit.
func newRouter(env *pipelineEnv, requestsPerSecond float64) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))
	r.Use(rateLimitMiddleware(requestsPerSecond))

	r.Get("/health", handleHealth)
	r.Get("/stats", handleStats(env))
	r.Get("/runs", handleRuns(env))
	r.Post("/extract", handleExtract(env))

	return r
}

// rateLimitMiddleware applies one shared token bucket across all requests.
func rateLimitMiddleware(requestsPerSecond float64) func(http.Handler) http.Handler {
	limiter := rate.NewLimiter(rate.Limit(requestsPerSecond), int(requestsPerSecond)+1)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleStats(env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"usage": env.Stats.Snapshot(),
			"cache": env.Cache.Stats(),
		})
	}
}

func handleRuns(env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runs, err := env.Store.ListRuns(r.Context(), store.RunFilter{
			ParameterID: r.URL.Query().Get("parameter"),
			Country:     r.URL.Query().Get("country"),
			FailedOnly:  r.URL.Query().Get("failed") == "true",
		})
		if err != nil {
			zap.L().Error("list runs failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "list runs failed"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
	}
}

// extractRequestBody is the POST /extract payload.
type extractRequestBody struct {
	Parameter string `json:"parameter"`
	Country   string `json:"country"`
	Model     string `json:"model,omitempty"`
	Documents []struct {
		Source  string `json:"source"`
		Content string `json:"content"`
	} `json:"documents"`
}

func handleExtract(env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body extractRequestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		if body.Parameter == "" || body.Country == "" || len(body.Documents) == 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "parameter, country, and documents are required"})
			return
		}

		param, ok := env.Registry.Get(body.Parameter)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("unknown parameter %q", body.Parameter)})
			return
		}

		docs := make([]model.Document, 0, len(body.Documents))
		for _, d := range body.Documents {
			docs = append(docs, model.Document{
				Content:  d.Content,
				Metadata: model.DocumentMetadata{Source: d.Source},
			})
		}

		result := env.Orchestrator.Extract(r.Context(), extract.Request{
			ParameterID:   param.ID,
			Country:       body.Country,
			Documents:     docs,
			ModelOverride: body.Model,
			Builder:       param.Builder(),
			Parser:        param.Parser(),
			Validator:     param.Validator(),
		})

		status := http.StatusOK
		if !result.Success {
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, result)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("write response failed", zap.Error(err))
	}
}
