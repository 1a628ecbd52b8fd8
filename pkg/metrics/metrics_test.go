package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.Progression(OutcomeSuccess)
	m.Progression(OutcomeSuccess)
	m.Progression(OutcomeConcurrentModification)
	m.ProjectCreated(OutcomeConfigurationError)
	m.HistoryAppendFailed()
	m.CacheLookup(true)
	m.CacheLookup(false)
	m.OrphanedProjects(3)

	assert.InDelta(t, 2, testutil.ToFloat64(m.progressions.WithLabelValues(OutcomeSuccess)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.progressions.WithLabelValues(OutcomeConcurrentModification)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.projectsCreated.WithLabelValues(OutcomeConfigurationError)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.historyFailures), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.eventFailures), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.cacheLookups.WithLabelValues("hit")), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(m.orphanedProjects), 0)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.Progression(OutcomeSuccess)
		m.ProjectCreated(OutcomeSuccess)
		m.HistoryAppendFailed()
		m.EventPublishFailed()
		m.CacheLookup(true)
		m.OrphanedProjects(1)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Progression(OutcomeInvalidTransition)

	server := httptest.NewServer(m.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `wfm_step_progressions_total{outcome="invalid_transition"} 1`)
}
