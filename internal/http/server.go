package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"parchment/pkg/manuscript"
	"parchment/pkg/metrics"
	"parchment/pkg/words"
)

const (
	contentTypeJSON        = "application/json"
	contentTypeMetrics     = "text/plain; version=0.0.4"
	defaultHTTPPort        = 8080
	defaultShutdownTimeout = time.Second * 5
	maxBodyBytes           = 8 << 20
)

type iManuscript interface {
	Get(number uint64) (manuscript.Page, error)
	Append(np manuscript.NewPage) (manuscript.Page, error)
	Delete(p manuscript.Page) error
	Entries() ([]manuscript.EntryStatus, error)
	Recycled() []manuscript.IndexEntry
}

// Server exposes a manuscript over HTTP.
type Server struct {
	m                 iManuscript
	registry          *metrics.Registry
	httpServer        *http.Server
	readHeaderTimeout time.Duration
	URL               string
	addr              string
}

// NewServer creates a server for m listening on port. A nil registry
// disables the metrics output.
func NewServer(m iManuscript, registry *metrics.Registry, port int, readHeaderTimeout time.Duration) *Server {
	if port == 0 {
		port = defaultHTTPPort
	}
	if readHeaderTimeout <= 0 {
		readHeaderTimeout = time.Second
	}
	return &Server{
		m:                 m,
		registry:          registry,
		readHeaderTimeout: readHeaderTimeout,
		URL:               "http://localhost:" + strconv.Itoa(port),
		addr:              ":" + strconv.Itoa(port),
	}
}

// Start starts serving in the background.
func (s *Server) Start() error {
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.countRequests)

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)

	r.Route("/api", func(r chi.Router) {
		r.Get("/pages", s.handleList)
		r.Post("/pages", s.handleAppend)
		r.Get("/pages/{number}", s.handleGet)
		r.Delete("/pages/{number}", s.handleDelete)
		r.Get("/recycling", s.handleRecycling)
	})

	return r
}

func (s *Server) startHTTPServer() error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.readHeaderTimeout,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("HTTP server started", "addr", s.URL)
	return nil
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		if s.registry == nil {
			return
		}
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		labels := map[string]string{
			"method": r.Method,
			"route":  route,
			"code":   strconv.Itoa(ww.Status()),
		}
		s.registry.IncCounter("parchment_http_requests_total", labels, 1)
		s.registry.ObserveHistogram("parchment_http_request_seconds", map[string]string{"route": route}, time.Since(start).Seconds())
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("Error encoding response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	}
	s.writeJSON(w, status, NewErrorResponse(err.Error()))
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, manuscript.ErrPageDeleted):
		return http.StatusGone
	case errors.Is(err, manuscript.ErrPageConflict):
		return http.StatusConflict
	case errors.Is(err, words.ErrOutOfBounds):
		return http.StatusNotFound
	case errors.Is(err, manuscript.ErrEmptyPage),
		errors.Is(err, words.ErrReservedValueNotAllowed),
		errors.Is(err, words.ErrReservedValueEncountered):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, NewOKResponse())
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", contentTypeMetrics)
	if s.registry == nil {
		return
	}
	if _, err := s.registry.WriteTo(w); err != nil {
		slog.Warn("Failed to write metrics response", "error", err)
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	entries, err := s.m.Entries()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewPagesResponse(entries))
}

func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request) {
	var np manuscript.NewPage
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&np); err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Invalid page body: "+err.Error()))
		return
	}

	p, err := s.m.Append(np)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, NewPageResponse(p, nil))
}

func (s *Server) pageNumber(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	number, err := manuscript.ParseNumber(chi.URLParam(r, "number"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse(err.Error()))
		return 0, false
	}
	return number, true
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	number, ok := s.pageNumber(w, r)
	if !ok {
		return
	}

	p, err := s.m.Get(number)
	if err != nil {
		s.writeError(w, err)
		return
	}
	values, err := p.Values()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewPageResponse(p, values))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	number, ok := s.pageNumber(w, r)
	if !ok {
		return
	}

	p, err := s.m.Get(number)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.m.Delete(p); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewSuccessResponse())
}

func (s *Server) handleRecycling(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, NewRecycledResponse(s.m.Recycled()))
}
