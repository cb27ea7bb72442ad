package monitor

import (
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shirou/gopsutil/v4/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveAnalysis(t *testing.T) {
	m := New()
	m.ObserveAnalysis("succeeded", 2*time.Second, 0)
	m.ObserveAnalysis("succeeded", time.Second, 2)
	m.ObserveAnalysis("failed", time.Second, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.AnalysesTotal.WithLabelValues("succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AnalysesTotal.WithLabelValues("failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DetectorFailures.WithLabelValues("partial")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.AnalysisDuration))
}

func TestCheckProcessInfo(t *testing.T) {
	m := New()
	p, err := process.NewProcess(int32(os.Getpid()))
	require.NoError(t, err)
	assert.True(t, m.CheckProcessInfo(p))
	assert.Greater(t, testutil.ToFloat64(m.memUsage), 0.0)
}

func TestHandler(t *testing.T) {
	m := New()
	m.RequestsTotal.WithLabelValues("http").Inc()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `audit_requests_total{transport="http"} 1`))
	assert.Contains(t, body, "memory_usage_Megabytes")
}
