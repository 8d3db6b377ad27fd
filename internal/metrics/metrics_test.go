package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecordOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveDispatch("export", "processed")
	m.ObserveDispatch("export", "processed")
	m.ObserveDispatch("delete", "skipped")
	m.ExportStarted()
	m.ExportStarted()
	m.ExportFinished()
	m.AddBatchItems("cascade", "likes", "deleted", 3)
	m.AddBatchItems("cascade", "likes", "error", 0)
	m.ObserveJob("export", time.Now(), errors.New("boom"))
	m.ObserveExportBytes(2048)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.DispatchTotal.WithLabelValues("export", "processed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DispatchTotal.WithLabelValues("delete", "skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunningExports))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.BatchItemsTotal.WithLabelValues("cascade", "likes", "deleted")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.JobDurationSeconds))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveDispatch("export", "processed")
		m.ExportStarted()
		m.ExportFinished()
		m.ObserveJob("delete", time.Now(), nil)
		m.ObserveExportBytes(1)
		m.AddBatchItems("purge", "posts", "deleted", 1)
	})
}

func TestHandlerServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg).ObserveDispatch("delete", "processed")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `dsr_queue_dispatch_total{outcome="processed",type="delete"} 1`)
}
