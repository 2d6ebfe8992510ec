package job_runner

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 广播和重新调度的指标，nil时所有方法为空操作
type Metrics struct {
	published          *prometheus.CounterVec
	publishErrors      *prometheus.CounterVec
	stageErrors        *prometheus.CounterVec
	runsCreated        *prometheus.CounterVec
	rescheduleFailures prometheus.Counter
	cycleDuration      prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "job_runner",
			Name:      "broadcast_published_total",
			Help:      "Messages published to workers, by action",
		}, []string{"action"}),
		publishErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "job_runner",
			Name:      "broadcast_publish_errors_total",
			Help:      "Messages that could not be published, by action",
		}, []string{"action"}),
		stageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "job_runner",
			Name:      "broadcast_stage_errors_total",
			Help:      "Broadcast cycle stages that failed, by stage",
		}, []string{"stage"}),
		runsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "job_runner",
			Name:      "runs_created_total",
			Help:      "Runs created by the core, by source",
		}, []string{"source"}),
		rescheduleFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "job_runner",
			Name:      "reschedule_failures_total",
			Help:      "Reschedules that could not find a valid schedule time",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "job_runner",
			Name:      "broadcast_cycle_duration_seconds",
			Help:      "Duration of one broadcast cycle",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.published, m.publishErrors, m.stageErrors,
		m.runsCreated, m.rescheduleFailures, m.cycleDuration)
	return m
}

func (m *Metrics) incPublished(action string) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(action).Inc()
}

func (m *Metrics) incPublishError(action string) {
	if m == nil {
		return
	}
	m.publishErrors.WithLabelValues(action).Inc()
}

func (m *Metrics) incStageError(stage string) {
	if m == nil {
		return
	}
	m.stageErrors.WithLabelValues(stage).Inc()
}

func (m *Metrics) incRunsCreated(source string, n int) {
	if m == nil {
		return
	}
	m.runsCreated.WithLabelValues(source).Add(float64(n))
}

func (m *Metrics) incRescheduleFailure() {
	if m == nil {
		return
	}
	m.rescheduleFailures.Inc()
}

func (m *Metrics) observeCycle(d time.Duration) {
	if m == nil {
		return
	}
	m.cycleDuration.Observe(d.Seconds())
}

// NewMetricsServer 提供 /metrics 和 /healthz
func NewMetricsServer(addr string, gatherer prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
