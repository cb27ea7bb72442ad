package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"time"

	"FloorAuditServer/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// Metrics is the server's prometheus registry.
type Metrics struct {
	registry *prometheus.Registry

	memUsage prometheus.Gauge
	cpuUsage prometheus.Gauge

	RequestsTotal    *prometheus.CounterVec
	AnalysesTotal    *prometheus.CounterVec
	AnalysisDuration prometheus.Histogram
	DetectorFailures *prometheus.CounterVec
	ActiveJobs       prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		memUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "memory_usage_Megabytes",
			Help: "Memory usage in Megabytes",
		}),
		cpuUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cpu_usage_percent",
			Help: "CPU usage in percent",
		}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_requests_total",
			Help: "Total number of analysis requests by transport",
		}, []string{"transport"}),
		AnalysesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_analyses_total",
			Help: "Finished analyses by terminal status",
		}, []string{"status"}),
		AnalysisDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "audit_analysis_duration_seconds",
			Help:    "Wall time of one analysis run",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		DetectorFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_detector_failures_total",
			Help: "Detector or recognition tasks that failed inside an analysis",
		}, []string{"task"}),
		ActiveJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "audit_active_jobs",
			Help: "Analyses queued or running",
		}),
	}
	m.registry.MustRegister(m.memUsage, m.cpuUsage, m.RequestsTotal, m.AnalysesTotal,
		m.AnalysisDuration, m.DetectorFailures, m.ActiveJobs)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveAnalysis records one finished analysis.
func (m *Metrics) ObserveAnalysis(status string, elapsed time.Duration, warnings int) {
	m.AnalysesTotal.WithLabelValues(status).Inc()
	m.AnalysisDuration.Observe(elapsed.Seconds())
	if warnings > 0 {
		m.DetectorFailures.WithLabelValues("partial").Add(float64(warnings))
	}
}

// CheckProcessInfo samples the RSS and CPU of p. It returns false once the
// process is gone.
func (m *Metrics) CheckProcessInfo(p *process.Process) bool {
	running, err := p.IsRunning()
	if err != nil || !running {
		return false
	}
	if memInfo, err := p.MemoryInfo(); err == nil {
		m.memUsage.Set(float64(memInfo.RSS / 1024 / 1024))
	}
	if cpuPercent, err := p.CPUPercent(); err == nil {
		m.cpuUsage.Set(math.Round(cpuPercent*100) / 100)
	}
	return true
}

// StartMon serves /metrics on port and samples this process every 500ms
// until ctx is done.
func (m *Metrics) StartMon(ctx context.Context, port int) {
	pid, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.Log().Error("Process lookup failed", zap.Error(err))
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log().Error("Prometheus server ListenAndServe error", zap.Error(err))
		}
	}()
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
checkPcs:
	for {
		select {
		case <-ctx.Done():
			break checkPcs
		case <-ticker.C:
			m.CheckProcessInfo(pid)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log().Error("Prometheus server Shutdown error", zap.Error(err))
	}
}
