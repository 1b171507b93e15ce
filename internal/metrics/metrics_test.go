package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCollector_RegistersOnInjectedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	require.NotNil(t, c)

	// Registering twice on the same registry must fail: the series exist.
	assert.Panics(t, func() { NewCollector(reg) })

	// Separate registries do not collide.
	assert.NotPanics(t, func() { NewCollector(prometheus.NewRegistry()) })
	assert.NotPanics(t, func() { NewCollector(nil) })
}

func TestCollector_ObserveOperation(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.ObserveOperation("CreateTask", OutcomeSuccess, 3*time.Millisecond)
	c.ObserveOperation("CreateTask", OutcomeSuccess, 5*time.Millisecond)
	c.ObserveOperation("CreateTask", "business_logic", time.Millisecond)

	require.Equal(t, 2.0, testutil.ToFloat64(c.operations.WithLabelValues("CreateTask", OutcomeSuccess)))
	require.Equal(t, 1.0, testutil.ToFloat64(c.operations.WithLabelValues("CreateTask", "business_logic")))
	require.Equal(t, 1, testutil.CollectAndCount(c.latency))
}

func TestCollector_CacheAndSessions(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.CacheLookup("list", true)
	c.CacheLookup("list", false)
	c.CacheLookup("list", false)
	c.StoreRetry("GetAllTasks")
	c.SetActiveSessions(3)
	c.CeilingRejected()
	c.Interrupted()
	c.Interrupted()

	require.Equal(t, 1.0, testutil.ToFloat64(c.cacheLookups.WithLabelValues("list", "hit")))
	require.Equal(t, 2.0, testutil.ToFloat64(c.cacheLookups.WithLabelValues("list", "miss")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.storeRetries.WithLabelValues("GetAllTasks")))
	require.Equal(t, 3.0, testutil.ToFloat64(c.sessions))
	require.Equal(t, 1.0, testutil.ToFloat64(c.rejections))
	require.Equal(t, 2.0, testutil.ToFloat64(c.interruptions))
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())
	c.SetActiveSessions(2)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.True(t, strings.Contains(body, "deepwork_active_sessions 2"), body)
}
