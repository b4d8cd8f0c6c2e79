package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCollector_Counts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordPushEvent("new_message")
	c.RecordPushEvent("new_message")
	c.RecordPushEvent("new_match")
	c.RecordPushDropped("not_open")
	c.RecordSendDropped()
	c.RecordReconnect()
	c.RecordAPIRequest("GET /auth/me", 200, 20*time.Millisecond)
	c.RecordAPIRequest("GET /auth/me", 401, 5*time.Millisecond)

	require.Equal(t, 2.0, testutil.ToFloat64(c.pushEvents.WithLabelValues("new_message")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.pushEvents.WithLabelValues("new_match")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.pushDropped.WithLabelValues("not_open")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.sendDropped))
	require.Equal(t, 1.0, testutil.ToFloat64(c.reconnects))
	require.Equal(t, 1.0, testutil.ToFloat64(c.apiRequests.WithLabelValues("GET /auth/me", "401")))
	require.Equal(t, 1, testutil.CollectAndCount(c.apiLatency))
}

func TestHandler_ExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordReconnect()

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "spark_push_reconnects_total 1")
}

func TestOrNop(t *testing.T) {
	require.Equal(t, Nop{}, OrNop(nil))

	c := NewCollector(prometheus.NewRegistry())
	require.Same(t, c, OrNop(c))
}
