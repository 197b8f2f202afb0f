// Package api exposes the funnel Load and Save contracts over HTTP and
// provides a client that satisfies session.Backend against that server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pluqqy/funnelkit/pkg/composer"
	"github.com/pluqqy/funnelkit/pkg/models"
	"github.com/pluqqy/funnelkit/pkg/reconcile"
	"github.com/pluqqy/funnelkit/pkg/storage"
)

const maxBodyBytes = 4 << 20

// CreateRequest is the body of POST /v1/funnels.
type CreateRequest struct {
	Name        string          `json:"name"`
	ThemeConfig json.RawMessage `json:"themeConfig,omitempty"`
}

// SaveResponse is the body returned by PUT /v1/funnels/{id}/tree.
type SaveResponse struct {
	Success bool `json:"success"`
	*models.Remap
	Error     string `json:"error,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server serves the funnel API.
type Server struct {
	repo       storage.Repository
	reconciler *reconcile.Reconciler
	serializer *reconcile.Serializer
	logger     *slog.Logger
	router     chi.Router
}

// NewServer builds the router over repo and reconciler.
func NewServer(repo storage.Repository, reconciler *reconcile.Reconciler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		repo:       repo,
		reconciler: reconciler,
		serializer: reconcile.NewSerializer(),
		logger:     logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Route("/v1/funnels", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Post("/", s.handleCreate)
		r.Route("/{funnelID}", func(r chi.Router) {
			r.Get("/", s.handleLoad)
			r.Put("/tree", s.handleSave)
			r.Get("/preview", s.handlePreview)
		})
	})
	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down,
// letting in-flight saves finish.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.logger.Info("API shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := s.repo.ListFunnels(r.Context())
	if err != nil {
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		s.fail(w, r, http.StatusBadRequest, errors.New("name is required"))
		return
	}
	f, err := s.repo.CreateFunnel(r.Context(), req.Name, req.ThemeConfig)
	if err != nil {
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	s.logger.Info("funnel created", "funnel_id", f.ID, "name", f.Name)
	writeJSON(w, http.StatusCreated, f)
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	f, err := s.reconciler.Load(r.Context(), chi.URLParam(r, "funnelID"))
	if err != nil {
		s.fail(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	funnelID := chi.URLParam(r, "funnelID")

	var req models.SaveRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, SaveResponse{Error: err.Error()})
		return
	}
	if req.FunnelID != "" && req.FunnelID != funnelID {
		writeJSON(w, http.StatusBadRequest, SaveResponse{Error: "funnelId does not match the URL"})
		return
	}
	req.FunnelID = funnelID

	remap, err := s.serializer.Do(r.Context(), funnelID, func(ctx context.Context) (*models.Remap, error) {
		return s.reconciler.Save(ctx, req)
	})
	if err != nil {
		status := statusFor(err)
		s.logger.Warn("save rejected", "funnel_id", funnelID, "status", status, "error", err)
		writeJSON(w, status, SaveResponse{Error: err.Error(), Retryable: reconcile.IsRetryable(err)})
		return
	}
	writeJSON(w, http.StatusOK, SaveResponse{Success: true, Remap: remap})
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	f, err := s.reconciler.Load(r.Context(), chi.URLParam(r, "funnelID"))
	if err != nil {
		s.fail(w, r, statusFor(err), err)
		return
	}
	preview, err := composer.ComposeFunnel(f)
	if err != nil {
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(preview))
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, reconcile.ErrFunnelNotFound), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, reconcile.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, reconcile.ErrSuperseded), errors.Is(err, storage.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, reconcile.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
