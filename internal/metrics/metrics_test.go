package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRegisterOnInjectedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.EventsProcessed.WithLabelValues("pair", "swap").Inc()
	m.EventsProcessed.WithLabelValues("pair", "swap").Inc()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsProcessed.WithLabelValues("pair", "swap")))

	// a second set on a separate registry must not panic on duplicate registration
	New(prometheus.NewRegistry())
}

func TestMetricsHandler(t *testing.T) {
	m := New(nil)
	m.LatestLedger.Set(12345)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "astroswap_indexer_rpc_latest_ledger 12345"))
	assert.True(t, strings.Contains(body, "go_goroutines"))
}
