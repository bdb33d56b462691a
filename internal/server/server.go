// Package server exposes the cached telemetry over HTTP for the display.
// Handlers never fail on upstream trouble: the resolver absorbs source
// errors and the response degrades to stale or no-data instead.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"homewatt/internal/resolver"
	"homewatt/internal/totals"
)

// Options configure the HTTP listener.
type Options struct {
	ListenAddr      string
	MaxForecast     int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Server serves the display API.
type Server struct {
	resolver *resolver.Resolver
	totals   *totals.Calculator
	opts     Options
	logger   zerolog.Logger
	httpSrv  *http.Server
	now      func() time.Time
}

// New builds the server and its route table.
func New(res *resolver.Resolver, calc *totals.Calculator, opts Options, logger zerolog.Logger) *Server {
	if opts.ListenAddr == "" {
		opts.ListenAddr = ":5050"
	}
	if opts.MaxForecast <= 0 {
		opts.MaxForecast = 6
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 10 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 30 * time.Second
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 120 * time.Second
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}

	s := &Server{
		resolver: res,
		totals:   calc,
		opts:     opts,
		logger:   logger.With().Str("component", "server").Logger(),
		now:      time.Now,
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(api chi.Router) {
		api.Get("/price", s.handlePrice)
		api.Get("/cost", s.handleCost)
		api.Get("/health", s.handleHealth)
		api.Get("/totals", s.handleTotals)
		api.Get("/forecast", s.handleForecast)
	})

	s.httpSrv = &http.Server{
		Addr:              opts.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: opts.ReadTimeout,
		ReadTimeout:       opts.ReadTimeout,
		WriteTimeout:      opts.WriteTimeout,
		IdleTimeout:       opts.IdleTimeout,
	}

	return s
}

// Handler exposes the route table, mainly for tests.
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.opts.ListenAddr).Msg("listening")
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}
