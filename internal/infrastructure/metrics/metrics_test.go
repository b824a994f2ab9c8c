package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.EventHandled("processor", "finished", 20*time.Millisecond)
	m.EventHandled("processor", "finished", 10*time.Millisecond)
	m.EventHandled("transmitter", "failed", time.Millisecond)
	m.PayloadsPolled(5, 2)
	m.RecordWritten("create")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.events.WithLabelValues("processor", "finished")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("transmitter", "failed")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.payloads.WithLabelValues("received")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.payloads.WithLabelValues("dropped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.writes.WithLabelValues("create")))
}

func TestRouter(t *testing.T) {
	m := New()
	m.RecordWritten("update")

	srv := httptest.NewServer(m.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	assert.True(t, strings.Contains(string(body), `regsync_record_writes_total{op="update"} 1`))
}
