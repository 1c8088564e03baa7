package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/snarg/rt-trainer/internal/config"
	"github.com/snarg/rt-trainer/internal/metrics"
	"github.com/snarg/rt-trainer/internal/pool"
	"github.com/snarg/rt-trainer/internal/question"
)

// Server is the HTTP/WebSocket front of the trainer.
type Server struct {
	http     *http.Server
	pool     *pool.Pool
	bank     *question.Bank
	attempts *AttemptManager
	log      zerolog.Logger
}

// NewServer wires routes and middleware.
func NewServer(cfg *config.Config, p *pool.Pool, bank *question.Bank, attempts *AttemptManager, version string, startTime time.Time, log zerolog.Logger) *Server {
	s := &Server{
		pool:     p,
		bank:     bank,
		attempts: attempts,
		log:      log,
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(log))
	r.Use(CORS)
	r.Use(metrics.InstrumentHandler)

	// Unauthenticated: health and metrics
	health := NewHealthHandler(p, bank, version, startTime)
	r.Get("/api/v1/health", health.ServeHTTP)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(cfg.AuthToken))
		r.Get("/api/v1/questions", s.handleListQuestions)
		r.Post("/api/v1/attempts", s.handleStartAttempt)
		r.Post("/api/v1/attempts/{id}/finish", s.handleFinishAttempt)
		r.Get("/api/v1/ws/audio", s.handleAudioWS)
	})

	s.http = &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
