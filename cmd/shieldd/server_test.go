package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shieldpool/internal/orchestrator"
	"shieldpool/internal/pool"
	"shieldpool/internal/transactions"
)

func TestSenderRateLimiter(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewSenderRateLimiter(1, 2, time.Minute)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"), "buckets are per sender")

	now = now.Add(time.Second)
	assert.True(t, l.Allow("a"))
	assert.InDelta(t, 0, l.Tokens("a"), 1e-9)
	assert.InDelta(t, 2, l.Tokens("unknown"), 1e-9)

	// idle buckets are dropped and start full again
	now = now.Add(2 * time.Minute)
	l.Allow("b")
	l.mu.Lock()
	_, kept := l.limiters["a"]
	l.mu.Unlock()
	assert.False(t, kept)

	l.Reset()
	assert.InDelta(t, 2, l.Tokens("b"), 1e-9)
}

func TestHealthChecker(t *testing.T) {
	hc := NewHealthChecker("test")
	state := map[string]error{}
	for _, name := range []string{"store", "pool"} {
		hc.RegisterComponent(name, func() error { return state[name] })
	}

	health := hc.CheckHealth()
	assert.Equal(t, Healthy, health.Status)
	require.Len(t, health.Components, 2)
	assert.Equal(t, "pool", health.Components[0].Name)

	state["pool"] = ErrDegraded("paused")
	assert.Equal(t, Degraded, hc.CheckHealth().Status)

	state["store"] = errors.New("disk gone")
	assert.Equal(t, Unhealthy, hc.CheckHealth().Status)

	rec := httptest.NewRecorder()
	hc.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body HealthReport
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, Unhealthy, body.Status)
	assert.Equal(t, "test", body.Version)
}

func TestMetricsObserveOperations(t *testing.T) {
	m := NewMetrics()
	op := orchestrator.Operation{ID: "op", Kind: transactions.KindWithdraw, Amount: 5}

	m.StageEntered(op, orchestrator.StageRequestProof)
	m.StageEntered(op, orchestrator.StageRequestProof)
	m.OperationFinished(op, nil, time.Second)
	m.OperationFinished(op, orchestrator.ErrInsufficientBalance, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.stages.WithLabelValues("withdraw", "request_proof")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("withdraw", "confirmed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("withdraw", "validation")))
}

func TestMetricsHandlerExportsPool(t *testing.T) {
	p, err := pool.New(pool.Config{Depth: 3, Logger: zerolog.Nop()}, nil)
	require.NoError(t, err)
	m := NewMetrics()
	m.WatchPool(p)
	m.RecordCircuitSetup(time.Second)
	p.SetPaused(true)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "shieldpool_pool_paused 1"), body)
	assert.Contains(t, body, "shieldpool_circuit_setup_seconds_count 1")
}
