package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/kamikazebr/keydist/internal/keysync"
	"github.com/kamikazebr/keydist/internal/logging"
	"github.com/kamikazebr/keydist/pkg/version"
)

// Syncer is the part of the orchestrator the status server needs
type Syncer interface {
	Stats() keysync.Stats
	RunOnce(ctx context.Context) keysync.Outcome
}

// StatusServer serves health and sync statistics over HTTP
type StatusServer struct {
	addr   string
	syncer Syncer
	logger zerolog.Logger
}

// NewStatusServer creates a status server listening on addr
func NewStatusServer(addr string, syncer Syncer, logger zerolog.Logger) *StatusServer {
	return &StatusServer{
		addr:   addr,
		syncer: syncer,
		logger: logging.Component(logger, "status"),
	}
}

// Handler returns the router
func (s *StatusServer) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.health)
	r.Get("/status", s.status)
	r.Post("/sync", s.sync)

	return r
}

// Serve blocks until ctx is cancelled or the listener fails
func (s *StatusServer) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.addr).Msg("status server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *StatusServer) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "keydist",
		"version": version.Version,
	})
}

func (s *StatusServer) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.syncer.Stats())
}

func (s *StatusServer) sync(w http.ResponseWriter, r *http.Request) {
	out := s.syncer.RunOnce(r.Context())
	code := http.StatusOK
	if !out.Success {
		code = http.StatusBadGateway
	}
	writeJSON(w, code, out)
}

func (s *StatusServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Str("request_id", middleware.GetReqID(r.Context())).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
