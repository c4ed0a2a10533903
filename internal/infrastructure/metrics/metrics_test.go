package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveSync("success", 120*time.Millisecond)
	m.ObserveSync("failure", 40*time.Millisecond)
	m.ObserveBatch("partial_failure", 2*time.Second)
	m.CircuitRejected()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `fieldsync_sync_duration_seconds_count{outcome="success"} 1`)
	assert.Contains(t, body, `fieldsync_sync_duration_seconds_count{outcome="failure"} 1`)
	assert.Contains(t, body, `fieldsync_batch_duration_seconds_count{outcome="partial_failure"} 1`)
	assert.Contains(t, body, "fieldsync_circuit_rejections_total 1")
}

func TestMetrics_IsolatedRegistries(t *testing.T) {
	// два экземпляра не делят коллекторы
	a := New()
	b := New()
	a.CircuitRejected()

	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "fieldsync_circuit_rejections_total 0")
}
