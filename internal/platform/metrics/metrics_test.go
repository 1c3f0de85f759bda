package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersOnInjectedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.TasksSubmitted.WithLabelValues("upscale").Inc()
	c.RefundFailures.Inc()
	c.RefundFailures.Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(c.TasksSubmitted.WithLabelValues("upscale")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.RefundFailures))

	// a second collector on a fresh registry must not collide
	assert.NotPanics(t, func() { New(prometheus.NewRegistry()) })
	// the same registry rejects duplicates
	assert.Panics(t, func() { New(reg) })
}

func TestHandlerExposesMetrics(t *testing.T) {
	reg := NewRegistry()
	c := New(reg)
	c.CleanupTasksDeleted.Add(3)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "enhancer_cleanup_tasks_deleted_total 3")
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
