// Package observability serves the health and metrics endpoints.
package observability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const (
	shutdownTimeout = 5 * time.Second
	probeTimeout    = 3 * time.Second
	errorWindow     = 5 * time.Minute
)

var (
	dailyCostGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "llm_daily_cost_usd",
		Help: "LLM spend for the current local day in USD.",
	})
	recentErrorsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "llm_errors_5m",
		Help: "LLM call errors in the last five minutes.",
	})
	breakerGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "circuit_breaker_status",
		Help: "LLM circuit breaker state, 1 when open.",
	})
)

// HealthStore covers the probes the health server reads.
type HealthStore interface {
	Ping(ctx context.Context) error
	DailyLLMCost(ctx context.Context, loc *time.Location) (float64, error)
	LLMErrorsSince(ctx context.Context, since time.Time) (int, error)
}

// BreakerStatus exposes the LLM circuit breaker state.
type BreakerStatus interface {
	BreakerState() string
}

type healthResponse struct {
	Status  string            `json:"status"`
	Details map[string]string `json:"details"`
}

type Server struct {
	store   HealthStore
	breaker BreakerStatus
	loc     *time.Location
	port    int
	logger  zerolog.Logger
}

func NewServer(store HealthStore, breaker BreakerStatus, loc *time.Location, port int, logger zerolog.Logger) *Server {
	return &Server{
		store:   store,
		breaker: breaker,
		loc:     loc,
		port:    port,
		logger:  logger,
	}
}

// Start blocks until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)

		defer cancel()

		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Int("port", s.port).Msg("health server starting")

	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("health server: %w", err)
	}

	return nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", s.refreshGauges(promhttp.Handler()))

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()

	resp := healthResponse{
		Status:  "OK",
		Details: map[string]string{"db": "OK", "circuit_breaker": "CLOSED"},
	}

	code := http.StatusOK

	if breakerOpen(s.breaker.BreakerState()) {
		resp.Status = "DEGRADED"
		resp.Details["circuit_breaker"] = "OPEN"
	}

	if err := s.store.Ping(ctx); err != nil {
		resp.Status = "CRITICAL"
		resp.Details["db"] = err.Error()
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error().Err(err).Msg("failed to write health response")
	}
}

// refreshGauges updates the snapshot gauges before every scrape so the
// exported values track the store without a background poller.
func (s *Server) refreshGauges(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		defer cancel()

		if cost, err := s.store.DailyLLMCost(ctx, s.loc); err == nil {
			dailyCostGauge.Set(cost)
		}

		if n, err := s.store.LLMErrorsSince(ctx, time.Now().Add(-errorWindow)); err == nil {
			recentErrorsGauge.Set(float64(n))
		}

		if breakerOpen(s.breaker.BreakerState()) {
			breakerGauge.Set(1)
		} else {
			breakerGauge.Set(0)
		}

		next.ServeHTTP(w, r)
	})
}

func breakerOpen(state string) bool {
	return strings.EqualFold(state, "open")
}
