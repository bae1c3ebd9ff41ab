package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agentpilot-us/revenue-agents-sub002/internal/batch"
	"github.com/agentpilot-us/revenue-agents-sub002/internal/importer"
	"github.com/agentpilot-us/revenue-agents-sub002/internal/model"
	"github.com/agentpilot-us/revenue-agents-sub002/internal/store"
)

var servePort int

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the knowledge base acquisition API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		api := newAPIServer(env.Store, newImporter(env, cfg.Import.AutoApprove), newBatchExecutor(env), cfg.Owner)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: api.routes(),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// apiServer wires HTTP handlers to the store, orchestrator, and batch
// executor.
type apiServer struct {
	store store.Store
	orch  *importer.Orchestrator
	exec  *batch.Executor
	owner string
}

func newAPIServer(st store.Store, orch *importer.Orchestrator, exec *batch.Executor, owner string) *apiServer {
	return &apiServer{store: st, orch: orch, exec: exec, owner: owner}
}

func (s *apiServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Route("/imports", func(r chi.Router) {
			r.Post("/", s.handleCreateImport)
			r.Get("/", s.handleListImports)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", s.handleGetImport)
				r.Post("/cancel", s.handleCancelImport)
			})
		})
		r.Post("/batch", s.handleBatch)
	})

	return r
}

func (s *apiServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) handleCreateImport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SourceURL string `json:"source_url"`
		Industry  string `json:"industry"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.SourceURL == "" {
		writeError(w, http.StatusBadRequest, "source_url is required")
		return
	}

	job, err := s.orch.Start(r.Context(), req.SourceURL, req.Industry)
	if err != nil {
		zap.L().Error("start import failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create import job")
		return
	}

	// The import outlives the request; progress is polled via the job record.
	go func() {
		if _, err := s.orch.Run(context.Background(), job.ID); err != nil {
			zap.L().Error("import run failed",
				zap.String("job_id", job.ID),
				zap.Error(err),
			)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{"job": job})
}

func (s *apiServer) handleListImports(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	filter := store.JobFilter{Limit: limit, Offset: offset}
	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = model.JobStatus(status)
	}

	jobs, err := s.store.ListJobs(r.Context(), filter)
	if err != nil {
		zap.L().Error("list imports failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *apiServer) handleGetImport(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")

	job, err := s.store.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		zap.L().Error("get import failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *apiServer) handleCancelImport(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")

	if _, err := s.store.GetJob(r.Context(), jobID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		zap.L().Error("load job for cancel failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}

	ok, err := s.store.RequestCancel(r.Context(), jobID)
	if err != nil {
		zap.L().Error("cancel import failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to cancel job")
		return
	}
	if !ok {
		writeError(w, http.StatusConflict, "job is already terminal")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "cancel": "requested"})
}

// handleBatch streams batch progress as server-sent events until the batch
// completes or the client disconnects.
func (s *apiServer) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URLs []string `json:"urls"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.URLs) == 0 {
		writeError(w, http.StatusBadRequest, "urls is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sink := batch.NewChannelSink(16)
	go func() {
		defer sink.Close()
		if _, _, err := s.exec.Execute(r.Context(), s.owner, req.URLs, sink); err != nil {
			zap.L().Warn("batch run failed", zap.Error(err))
		}
	}()

	for event := range sink.Events() {
		payload, err := json.Marshal(event)
		if err != nil {
			zap.L().Error("marshal batch event failed", zap.Error(err))
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}
}

func parseLimitOffset(r *http.Request) (int, int, error) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxListLimit {
			return 0, 0, eris.Errorf("limit must be between 1 and %d", maxListLimit)
		}
		limit = n
	}
	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return 0, 0, eris.New("offset must be non-negative")
		}
		offset = n
	}
	return limit, offset, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("write response failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
