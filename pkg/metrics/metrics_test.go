package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// value returns the current value of the counter or gauge name matching labels.
func value(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	for _, family := range families {
		if family.GetName() != name {
			continue
		}
	metrics:
		for _, m := range family.GetMetric() {
			for _, pair := range m.GetLabel() {
				if want, ok := labels[pair.GetName()]; ok && want != pair.GetValue() {
					continue metrics
				}
			}
			if m.GetCounter() != nil {
				return m.GetCounter().GetValue()
			}
			return m.GetGauge().GetValue()
		}
	}
	return 0
}

func TestObserveInvocation(t *testing.T) {
	labels := map[string]string{"engine": "lite", "method": "query", "outcome": OutcomeOK}
	before := value(t, "epidata_engine_invocations_total", labels)
	beforeRows := value(t, "epidata_result_rows_total", map[string]string{"engine": "lite", "method": "query"})

	ObserveInvocation("lite", "query", OutcomeOK, 20*time.Millisecond, 3)
	ObserveInvocation("lite", "query", OutcomeOK, 10*time.Millisecond, 0)

	assert.Equal(t, before+2, value(t, "epidata_engine_invocations_total", labels))
	assert.Equal(t, beforeRows+3, value(t, "epidata_result_rows_total", map[string]string{"engine": "lite", "method": "query"}))

	ObserveInvocation("", "listKeys", OutcomeRemoteError, time.Millisecond, 0)
	assert.Equal(t, float64(1), value(t, "epidata_engine_invocations_total", map[string]string{"engine": "unknown", "method": "listKeys", "outcome": OutcomeRemoteError}))
}

func TestOpenEngines(t *testing.T) {
	before := value(t, "epidata_open_engines", nil)
	EngineOpened()
	EngineOpened()
	EngineClosed()
	assert.Equal(t, before+1, value(t, "epidata_open_engines", nil))
	EngineClosed()
}

func TestHandlerExposesMetrics(t *testing.T) {
	ObserveInvocation("lite", "queryMeasurementSummary", OutcomeOK, time.Millisecond, 1)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "epidata_engine_invocations_total")
	assert.Contains(t, rec.Body.String(), `method="queryMeasurementSummary"`)
}
