package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Trigger is the scheduler surface the admin API drives.
type Trigger interface {
	TriggerNow() bool
	Running() bool
	Next() time.Time
}

type Logger interface {
	Infow(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
}

// Server is the backup process's own admin surface: metrics, liveness and a
// manual trigger.
type Server struct {
	router  chi.Router
	trigger Trigger
	metrics http.Handler
	logger  Logger
	server  *http.Server
}

func New(addr string, trigger Trigger, metrics http.Handler, logger Logger) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		trigger: trigger,
		metrics: metrics,
		logger:  logger,
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
}

func (s *Server) setupRoutes() {
	s.router.Handle("/metrics", s.metrics)
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Post("/runs", s.handleTrigger)
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listener and serves in the background. A bind failure is
// returned; later serve errors are logged.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}

	go func() {
		s.logger.Infow("Admin server listening", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorw("Admin server error", "error", err)
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown admin server: %w", err)
	}
	return nil
}

type healthResponse struct {
	Status  string     `json:"status"`
	Running bool       `json:"running"`
	NextRun *time.Time `json:"next_run,omitempty"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok", Running: s.trigger.Running()}
	if next := s.trigger.Next(); !next.IsZero() {
		resp.NextRun = &next
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTrigger(w http.ResponseWriter, _ *http.Request) {
	if !s.trigger.TriggerNow() {
		writeJSON(w, http.StatusConflict, map[string]string{"status": "a backup run is already in progress"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "backup run started"})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Infow("Admin request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
