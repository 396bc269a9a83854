package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vindex/vindex/internal/discovery"
	"github.com/vindex/vindex/internal/metrics"
	"github.com/vindex/vindex/internal/model"
	"github.com/vindex/vindex/internal/store"
)

// discoveryFailedMessage is the caller-visible body for every recoverable
// discovery failure.
const discoveryFailedMessage = "Could not discover wine details. Please manually enter the wine information."

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the wine discovery HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
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
			Handler:           newRouter(env.Service, cfg.Server.CORSOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// newRouter builds the HTTP API around svc.
func newRouter(svc *discovery.Service, origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))
	r.Use(metrics.Middleware())

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":         "ok",
			"search_circuit": svc.SearchCircuit(),
		})
	})
	r.Handle("/metrics", promhttp.Handler())

	h := &wineHandler{svc: svc}
	r.Route("/api/wine-discovery", func(r chi.Router) {
		r.Post("/discover", h.discover)
		r.Get("/search/winery", h.searchByWinery)
		r.Get("/search/name", h.searchByName)
		r.Get("/validated", h.listValidated)
		r.Get("/{id}", h.get)
	})
	return r
}

type wineHandler struct {
	svc *discovery.Service
}

type discoverRequest struct {
	Winery   string `json:"winery"`
	WineName string `json:"wineName"`
	Vintage  string `json:"vintage"`
}

func (h *wineHandler) discover(w http.ResponseWriter, r *http.Request) {
	var req discoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := h.svc.Discover(r.Context(), req.Winery, req.WineName, req.Vintage)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, rec)
	case discovery.IsDiscoveryFailed(err):
		writeError(w, http.StatusBadRequest, discoveryFailedMessage)
	default:
		h.internalError(w, r, err)
	}
}

func (h *wineHandler) get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, rec)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "wine not found")
	default:
		h.internalError(w, r, err)
	}
}

func (h *wineHandler) searchByWinery(w http.ResponseWriter, r *http.Request) {
	h.writeList(w, r)(h.svc.SearchByWinery(r.Context(), r.URL.Query().Get("name")))
}

func (h *wineHandler) searchByName(w http.ResponseWriter, r *http.Request) {
	h.writeList(w, r)(h.svc.SearchByName(r.Context(), r.URL.Query().Get("query")))
}

func (h *wineHandler) listValidated(w http.ResponseWriter, r *http.Request) {
	h.writeList(w, r)(h.svc.ListValidated(r.Context()))
}

func (h *wineHandler) writeList(w http.ResponseWriter, r *http.Request) func([]model.WineRecord, error) {
	return func(recs []model.WineRecord, err error) {
		if err != nil {
			h.internalError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, recs)
	}
}

func (h *wineHandler) internalError(w http.ResponseWriter, r *http.Request, err error) {
	zap.L().Error("request failed",
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
