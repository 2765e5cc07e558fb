package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bnema/domain-redirector/internal/models"
	"github.com/bnema/domain-redirector/internal/parser"
	"github.com/bnema/domain-redirector/internal/rewrite"
	"github.com/bnema/domain-redirector/internal/settings"
)

// maxImportSize caps an uploaded interchange file
const maxImportSize = 4 << 20

// Server exposes the settings service and the rewrite engine over HTTP
type Server struct {
	settings *settings.Service
	engine   *rewrite.Engine
}

// New creates a server
func New(svc *settings.Service, engine *rewrite.Engine) *Server {
	if engine == nil {
		engine = rewrite.New(rewrite.ModeSubstring)
	}
	return &Server{settings: svc, engine: engine}
}

// Handler returns the API router
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(slogMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/rules", s.handleRows)
	r.Post("/rules", s.handleAddReplacement)
	r.Delete("/rules/{domain}", s.handleRemoveReplacement)

	r.Get("/lists", s.handleLists)
	r.Post("/whitelist/{domain}", s.listHandler(s.settings.AddWhitelist))
	r.Delete("/whitelist/{domain}", s.listHandler(s.settings.RemoveWhitelist))
	r.Post("/blacklist/{domain}", s.listHandler(s.settings.AddBlacklist))
	r.Delete("/blacklist/{domain}", s.listHandler(s.settings.RemoveBlacklist))

	r.Get("/export", s.handleExport)
	r.Post("/import", s.handleImport)

	r.Get("/evaluate", s.handleEvaluate)
	r.Get("/go", s.handleGo)

	return r
}

// Run serves on addr until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		slog.Info("HTTP API shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP API shutdown", slog.Any("error", err))
		}
	}()

	slog.Info("HTTP API listening", slog.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// EvaluateResponse is the body of GET /evaluate
type EvaluateResponse struct {
	URL         string `json:"url"`
	Domain      string `json:"domain"`
	Redirect    bool   `json:"redirect"`
	Destination string `json:"destination,omitempty"`
}

// ListsResponse is the body of GET /lists
type ListsResponse struct {
	Whitelist []string `json:"whitelist"`
	Blacklist []string `json:"blacklist"`
}

// ImportResponse is the body of POST /import
type ImportResponse struct {
	Imported    int            `json:"imported"`
	Skipped     int            `json:"skipped"`
	SkipReasons map[string]int `json:"skip_reasons,omitempty"`
}

func (s *Server) handleRows(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.settings.Rows())
}

func (s *Server) handleAddReplacement(w http.ResponseWriter, r *http.Request) {
	var req settings.Replacement
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.settings.AddReplacement(req.Domain, req.Replacement); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.settings.Rows())
}

func (s *Server) handleRemoveReplacement(w http.ResponseWriter, r *http.Request) {
	if err := s.settings.RemoveReplacement(chi.URLParam(r, "domain")); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.settings.Rows())
}

func (s *Server) handleLists(w http.ResponseWriter, r *http.Request) {
	rs := s.settings.RuleSet()
	writeJSON(w, http.StatusOK, ListsResponse{Whitelist: rs.Whitelist, Blacklist: rs.Blacklist})
}

func (s *Server) listHandler(fn func(string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(chi.URLParam(r, "domain")); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.handleLists(w, r)
	}
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", settings.ExportFilename))
	if err := s.settings.Export(w); err != nil {
		slog.Error("Export failed", slog.Any("error", err))
	}
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	stats, err := s.settings.Import(http.MaxBytesReader(w, r.Body, maxImportSize))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, parser.ErrInvalidImport) {
			status = http.StatusBadRequest
		}
		writeError(w, status, "Failed to import domain replacements. Please ensure the file is valid JSON.")
		return
	}
	writeJSON(w, http.StatusOK, ImportResponse{
		Imported:    stats.Imported,
		Skipped:     stats.Skipped,
		SkipReasons: stats.SkipReasons,
	})
}

func (s *Server) evaluate(r *http.Request) (EvaluateResponse, bool) {
	raw := r.URL.Query().Get("url")
	if raw == "" {
		return EvaluateResponse{}, false
	}
	in := models.InputFromURL(raw)
	dest, ok := s.engine.Evaluate(in, s.settings.RuleSet())
	return EvaluateResponse{
		URL:         in.CurrentURL,
		Domain:      in.CurrentDomain,
		Redirect:    ok,
		Destination: dest,
	}, true
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	resp, ok := s.evaluate(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGo(w http.ResponseWriter, r *http.Request) {
	resp, ok := s.evaluate(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	if !resp.Redirect {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, resp.Destination, http.StatusFound)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Encode response", slog.Any("error", err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func slogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("HTTP request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
		)
	})
}
