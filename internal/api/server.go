// Package api exposes the redactor over HTTP.
//
// Endpoints:
//
//	GET  /health                 - liveness, uptime, remote policy
//	POST /redaction/{mode}       - mask a text (regex, ner, llm, hybrid)
//	GET  /download/{docID}       - masked text (?format=masked) or audit (?format=audit)
//	POST /restore/{docID}        - original text; requires X-Admin-Key
//	POST /chat                   - ask the chat model about a masked document
//	GET  /metrics                - Prometheus exposition
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"pii-redactor/internal/config"
	"pii-redactor/internal/detector"
	"pii-redactor/internal/docstore"
	"pii-redactor/internal/envelope"
	"pii-redactor/internal/logger"
	"pii-redactor/internal/metrics"
	"pii-redactor/internal/redactor"
)

// AdminKeyHeader carries the shared secret for /restore.
const AdminKeyHeader = "X-Admin-Key"

// Server is the HTTP front end.
type Server struct {
	cfg       *config.Config
	svc       *redactor.Service
	metrics   *metrics.Metrics // nil = /metrics disabled
	log       *logger.Logger
	startTime time.Time
	adminKey  string
	maxBody   int64
}

// defaultMaxBody applies when the configured body cap is not positive.
const defaultMaxBody = 10 << 20

// New creates a server. m may be nil.
func New(cfg *config.Config, svc *redactor.Service, m *metrics.Metrics, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Discard()
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}
	return &Server{
		cfg:       cfg,
		svc:       svc,
		metrics:   m,
		log:       log,
		startTime: time.Now(),
		adminKey:  cfg.AdminKey,
		maxBody:   maxBody,
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLog)

	r.Get("/health", s.handleHealth)
	r.Post("/redaction/{mode}", s.handleRedact)
	r.Get("/download/{docID}", s.handleDownload)
	r.With(s.adminAuth).Post("/restore/{docID}", s.handleRestore)
	r.Post("/chat", s.handleChat)
	r.Get("/metrics", s.handleMetrics)
	return r
}

// adminAuth requires the configured admin key. An empty key locks the
// route entirely rather than opening it.
func (s *Server) adminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(AdminKeyHeader)
		if s.adminKey == "" || subtle.ConstantTimeCompare([]byte(got), []byte(s.adminKey)) != 1 {
			s.log.Warnf("auth", "rejected %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
			writeError(w, http.StatusForbidden, "invalid admin key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestLog logs method, path, status and latency. Bodies are never logged.
func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debugf("http", "%s %s %d %s req=%s", r.Method, r.URL.Path, ww.Status(),
			time.Since(start).Round(time.Microsecond), middleware.GetReqID(r.Context()))
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		writeError(w, http.StatusServiceUnavailable, "metrics not enabled")
		return
	}
	s.metrics.Handler().ServeHTTP(w, r)
}

// statusFor maps pipeline errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, redactor.ErrInvalidMode),
		errors.Is(err, redactor.ErrNoEnvelope),
		errors.Is(err, redactor.ErrEmptyMessage),
		errors.Is(err, envelope.ErrDecrypt):
		return http.StatusBadRequest
	case errors.Is(err, docstore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, detector.ErrRemoteDisabled):
		return http.StatusForbidden
	case errors.Is(err, detector.ErrRemoteUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// writeServiceError reports err with its mapped status. Internal errors get
// a generic message.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.log.Errorf("http", "internal error: %v", err)
		msg = "internal error"
	}
	writeError(w, status, msg)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // client gone
}

// ListenAndServe serves HTTP/1.1 and cleartext HTTP/2 until ctx is
// cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.cfg.BindAddress, s.cfg.Port))
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	h2srv := &http2.Server{
		MaxConcurrentStreams: 250,
		MaxReadFrameSize:     1 << 20, // 1 MiB
		IdleTimeout:          90 * time.Second,
	}
	srv := &http.Server{
		Handler:           h2c.NewHandler(s.Handler(), h2srv),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Infof("listen", "serving on %s", ln.Addr())
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
