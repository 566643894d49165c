package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/stockpulse/internal/model"
	"github.com/sells-group/stockpulse/internal/retrieval"
	"github.com/sells-group/stockpulse/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		api := newAPI(ctx, env.Store, env.Index, env.Pipeline, env.Registry, cfg.Retrieval.TopK)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           api.routes(cfg.Server.CORSOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		// Let a background run record its report before the store closes.
		api.wait()
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// runner starts one pipeline run.
type runner interface {
	Run(ctx context.Context) (*model.RunReport, error)
}

// api serves the HTTP endpoints. At most one pipeline run is in flight.
type api struct {
	baseCtx  context.Context
	store    store.Store
	index    *retrieval.Store
	runner   runner
	gatherer prometheus.Gatherer
	topK     int

	running atomic.Bool
	wg      sync.WaitGroup
}

func newAPI(ctx context.Context, st store.Store, idx *retrieval.Store, r runner, g prometheus.Gatherer, topK int) *api {
	if topK <= 0 {
		topK = 3
	}
	return &api{baseCtx: ctx, store: st, index: idx, runner: r, gatherer: g, topK: topK}
}

func (a *api) routes(origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", a.health)
	r.Handle("/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))

	r.Get("/search", a.search)
	r.Post("/ask", a.ask)
	r.Delete("/documents/{company}/{month}", a.deleteDocument)

	r.Route("/runs", func(r chi.Router) {
		r.Post("/", a.startRun)
		r.Get("/", a.listRuns)
		r.Get("/{id}", a.getRun)
	})

	r.Get("/companies/{name}", a.getCompany)
	return r
}

func (a *api) wait() { a.wg.Wait() }

func (a *api) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"documents": a.index.Len(),
		"running":   a.running.Load(),
	})
}

func (a *api) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	k, err := parseTopK(r.URL.Query().Get("k"), a.topK)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	hits, err := a.index.Search(r.Context(), q, k)
	if err != nil {
		zap.L().Warn("api: search failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "search unavailable")
		return
	}
	if hits == nil {
		hits = []retrieval.Result{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": hits})
}

type askRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k"`
}

func (a *api) ask(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}
	if req.TopK <= 0 {
		req.TopK = a.topK
	}
	writeJSON(w, http.StatusOK, a.index.Answer(r.Context(), req.Question, req.TopK))
}

func (a *api) deleteDocument(w http.ResponseWriter, r *http.Request) {
	key := model.UnitKey{Company: chi.URLParam(r, "company"), Month: chi.URLParam(r, "month")}
	if _, err := model.ParseMonth(key.Month); err != nil {
		writeError(w, http.StatusBadRequest, "month must be YYYY-MM")
		return
	}

	err := a.index.Delete(r.Context(), key)
	switch {
	case errors.Is(err, retrieval.ErrNotIndexed):
		writeError(w, http.StatusNotFound, "document not found")
	case err != nil:
		zap.L().Error("api: delete document failed", zap.Stringer("key", key), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "delete failed")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (a *api) startRun(w http.ResponseWriter, _ *http.Request) {
	if !a.running.CompareAndSwap(false, true) {
		writeError(w, http.StatusConflict, "a run is already in progress")
		return
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.running.Store(false)

		report, err := a.runner.Run(a.baseCtx)
		if err != nil {
			zap.L().Error("api: run failed", zap.Error(err))
			return
		}
		zap.L().Info("api: run complete",
			zap.String("run_id", report.RunID),
			zap.Int("succeeded", report.Succeeded),
			zap.Int("failed", report.Failed),
		)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (a *api) listRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RunFilter{Status: model.RunStatus(q.Get("status"))}
	var err error
	if filter.Limit, err = parseNonNegative(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, "limit: "+err.Error())
		return
	}
	if filter.Offset, err = parseNonNegative(q.Get("offset")); err != nil {
		writeError(w, http.StatusBadRequest, "offset: "+err.Error())
		return
	}

	runs, err := a.store.ListRuns(r.Context(), filter)
	if err != nil {
		zap.L().Error("api: list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list runs failed")
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (a *api) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := a.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "run not found")
	case err != nil:
		zap.L().Error("api: get run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "get run failed")
	default:
		writeJSON(w, http.StatusOK, run)
	}
}

func (a *api) getCompany(w http.ResponseWriter, r *http.Request) {
	facts, err := loadCompanyFacts(r.Context(), a.store, chi.URLParam(r, "name"))
	if err != nil {
		zap.L().Error("api: company lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "company lookup failed")
		return
	}
	if facts.empty() {
		writeError(w, http.StatusNotFound, "company not found")
		return
	}
	writeJSON(w, http.StatusOK, facts)
}

func parseTopK(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	k, err := strconv.Atoi(raw)
	if err != nil || k < 1 || k > 50 {
		return 0, eris.New("k must be between 1 and 50")
	}
	return k, nil
}

func parseNonNegative(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, eris.New("must be a non-negative integer")
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
