package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutionCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ExecutionStarted()
	m.ExecutionStarted()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.InFlight))

	m.ExecutionFinished("process", "completed", "", 2*time.Second)
	m.ExecutionFinished("sdk", "failed", "timeout", time.Second)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.InFlight))

	expected := `
		# HELP claudebridge_executions_total Finished executions by backend, status and failure reason
		# TYPE claudebridge_executions_total counter
		claudebridge_executions_total{backend="process",reason="",status="completed"} 1
		claudebridge_executions_total{backend="sdk",reason="timeout",status="failed"} 1
	`
	require.NoError(t, testutil.CollectAndCompare(m.Executions, strings.NewReader(expected)))
	assert.Equal(t, 2, testutil.CollectAndCount(m.ExecutionDuration))
}

func TestToolAndCostCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ToolDecision("Read", true)
	m.ToolDecision("Bash", false)
	m.ToolDecision("Bash", false)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ToolDecisions.WithLabelValues("Bash", "deny")))

	m.Cost(0.25)
	m.Cost(-1)
	m.Cost(0.5)
	assert.InDelta(t, 0.75, testutil.ToFloat64(m.CostUSD), 1e-9)

	m.Expired(3)
	m.Expired(0)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.SessionsExpired))

	m.Fallback("process", "sdk", "backend_unavailable")
	m.Demoted("process")
	m.Limited()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimited))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ExecutionStarted()
		m.ExecutionFinished("sdk", "completed", "", time.Second)
		m.ToolDecision("Read", true)
		m.Cost(1)
		m.Fallback("a", "b", "c")
		m.Demoted("a")
		m.Expired(1)
		m.Limited()
	})
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.Cost(1.5)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "claudebridge_cost_usd_total 1.5")
}
