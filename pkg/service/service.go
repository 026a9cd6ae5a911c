// Package service runs the bootstrap engine as a long-lived service:
// periodic re-triggering of runs plus a small HTTP listener for metrics and
// health checks.
package service

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/openboots/openboots/pkg/telemetry"
)

// RunFunc executes one bootstrap run and returns its exit code.
type RunFunc func(ctx context.Context) (int, error)

// Service re-triggers bootstrap runs on an interval and serves /metrics and
// /healthz while running.
type Service struct {
	interval time.Duration
	run      RunFunc
	metrics  *telemetry.Metrics
	listen   string
	log      *telemetry.Logger
}

// New creates a Service. listen may be empty to disable the HTTP listener.
func New(interval time.Duration, run RunFunc, metrics *telemetry.Metrics, listen string, log *telemetry.Logger) *Service {
	return &Service{
		interval: interval,
		run:      run,
		metrics:  metrics,
		listen:   listen,
		log:      log.Component("service"),
	}
}

// Run executes the service loop until ctx is cancelled. The first run fires
// immediately; a failed run is logged and the loop keeps going, retries
// happen only through the next tick.
func (s *Service) Run(ctx context.Context) error {
	var server *http.Server
	if s.listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", s.metrics.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		server = &http.Server{
			Addr:              s.listen,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			s.log.Info().Str("listen", s.listen).Msg("metrics listener started")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error().Err(err).Msg("metrics listener failed")
			}
		}()
	}

	s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if server != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = server.Shutdown(shutdownCtx)
			}
			s.log.Info().Msg("service loop stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Service) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	s.log.Info().Msg("triggering bootstrap run")
	exitCode, err := s.run(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("bootstrap run errored")
		return
	}
	s.log.Info().Int("exit_code", exitCode).Msg("bootstrap run returned")
}
