package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.RequestReceived("slash_command")
	m.RequestReceived("slash_command")
	m.RequestRejected("signature")
	m.TaskStarted()
	m.TaskFinished("mention", "ok", 2*time.Second)
	m.TicketCreated("jira")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("slash_command")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejections.WithLabelValues("signature")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tasks.WithLabelValues("mention", "ok")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.inflight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tickets.WithLabelValues("jira")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.RequestReceived("event_callback")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `starship_webhook_requests_total{kind="event_callback"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
