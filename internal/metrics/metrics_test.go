package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The worker-side handler must expose the operator alert surface
// without an echo server in front of it.
func TestHandlerExposesPipelineCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	MustRegister(reg)
	OutboxFailedTotal.Inc()
	ConsumerHandledTotal.WithLabelValues("archive", "ok").Inc()

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, 200, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "relay_outbox_failed_total")
	assert.Contains(t, string(body), "relay_consumer_handled_total")
}
