package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	pingErr error
	cost    float64
	errs    int
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) DailyLLMCost(context.Context, *time.Location) (float64, error) {
	return f.cost, nil
}

func (f *fakeStore) LLMErrorsSince(context.Context, time.Time) (int, error) {
	return f.errs, nil
}

type fakeBreaker struct{ state string }

func (f *fakeBreaker) BreakerState() string { return f.state }

func getHealth(t *testing.T, srv *Server) (int, healthResponse) {
	t.Helper()

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	return rec.Code, resp
}

func TestHealthOK(t *testing.T) {
	srv := NewServer(&fakeStore{}, &fakeBreaker{state: "closed"}, time.UTC, 0, zerolog.Nop())

	code, resp := getHealth(t, srv)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "OK", resp.Status)
	assert.Equal(t, "OK", resp.Details["db"])
	assert.Equal(t, "CLOSED", resp.Details["circuit_breaker"])
}

func TestHealthDegradedWhenBreakerOpen(t *testing.T) {
	srv := NewServer(&fakeStore{}, &fakeBreaker{state: "open"}, time.UTC, 0, zerolog.Nop())

	code, resp := getHealth(t, srv)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "DEGRADED", resp.Status)
	assert.Equal(t, "OPEN", resp.Details["circuit_breaker"])
}

func TestHealthCriticalWhenDBDown(t *testing.T) {
	store := &fakeStore{pingErr: errors.New("connection refused")}
	srv := NewServer(store, &fakeBreaker{state: "closed"}, time.UTC, 0, zerolog.Nop())

	code, resp := getHealth(t, srv)

	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "CRITICAL", resp.Status)
	assert.Equal(t, "connection refused", resp.Details["db"])
}

func TestMetricsExposesGauges(t *testing.T) {
	store := &fakeStore{cost: 1.25, errs: 4}
	srv := NewServer(store, &fakeBreaker{state: "open"}, time.UTC, 0, zerolog.Nop())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "llm_daily_cost_usd 1.25")
	assert.Contains(t, body, "llm_errors_5m 4")
	assert.Contains(t, body, "circuit_breaker_status 1")
}
