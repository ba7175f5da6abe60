package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)

	pr.IncAttempt("fetch")
	pr.IncAttempt("fetch")
	pr.IncJoin("ensure")
	pr.IncDropped()
	pr.ObserveAttempt(OutcomeSuccess, 150*time.Millisecond)
	pr.ObserveAttempt(OutcomePersistenceError, 20*time.Millisecond)
	pr.SetPendingHandlers(3)
	pr.SetCredentialValid(true)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, mfs)

	assert.Equal(t, float64(2), testutil.ToFloat64(pr.attempts.WithLabelValues("fetch")))
	assert.Equal(t, float64(1), testutil.ToFloat64(pr.joins.WithLabelValues("ensure")))
	assert.Equal(t, float64(1), testutil.ToFloat64(pr.dropped))
	assert.Equal(t, float64(1), testutil.ToFloat64(pr.outcomes.WithLabelValues(string(OutcomePersistenceError))))
	assert.Equal(t, float64(3), testutil.ToFloat64(pr.pendingHandlers))
	assert.Equal(t, float64(1), testutil.ToFloat64(pr.credentialValid))

	pr.SetCredentialValid(false)
	assert.Equal(t, float64(0), testutil.ToFloat64(pr.credentialValid))
}

func TestPrometheusRecorder_NilReceiver(t *testing.T) {
	var pr *PrometheusRecorder

	assert.NotPanics(t, func() {
		pr.IncAttempt("fetch")
		pr.IncJoin("fetch")
		pr.IncDropped()
		pr.ObserveAttempt(OutcomeSuccess, time.Second)
		pr.SetPendingHandlers(1)
		pr.SetCredentialValid(true)
	})
}

func TestHTTPHandler(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)
	pr.IncAttempt("ensure")

	w := httptest.NewRecorder()
	HTTPHandler(reg).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "checkin_attempts_total")
}

func TestNoopRecorder(t *testing.T) {
	var r Recorder = NoopRecorder{}
	assert.NotPanics(t, func() {
		r.IncAttempt("fetch")
		r.ObserveAttempt(OutcomeTransportError, time.Second)
	})
}
