package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAndGaugesDoNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		MessagesSent.WithLabelValues("con").Inc()
		MessagesReceived.WithLabelValues("ack").Inc()
		OperationsTotal.WithLabelValues("Read", "ok").Inc()
		ActiveObservations.Inc()
		ActiveObservations.Dec()
		NotificationsSent.WithLabelValues("threshold").Inc()
		TransactionRollbacks.Inc()
		BlockTransfersInFlight.WithLabelValues("in").Inc()
	})
}

func TestOperationsTotalCountsByLabel(t *testing.T) {
	OperationsTotal.WithLabelValues("Write", "ok").Inc()
	got := testutil.ToFloat64(OperationsTotal.WithLabelValues("Write", "ok"))
	assert.GreaterOrEqual(t, got, 1.0)
}

func TestHandlerServesMetricsEndpoint(t *testing.T) {
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "lwm2m_")
}
