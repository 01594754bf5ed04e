package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	httpDurationHistogram *prometheus.HistogramVec
	transitionCounter     *prometheus.CounterVec
	idempotencyCounter    *prometheus.CounterVec
	notificationCounter   *prometheus.CounterVec
	lockWaitHistogram     *prometheus.HistogramVec
	expiredCounter        prometheus.Counter
	workerRunCounter      *prometheus.CounterVec
	auditGapCounter       *prometheus.CounterVec
	inFlightGauge         *prometheus.GaugeVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		transitionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "threshold_transitions_total",
			Help: "Threshold change events committed to the audit log",
		}, []string{"event_type"})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		notificationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "threshold_notifications_published_total",
			Help: "Notification fan-out attempts by role and result",
		}, []string{"role", "result"})

		lockWaitHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "threshold_lock_wait_seconds",
			Help:    "Time spent acquiring per-key locks",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		}, []string{"backend"})

		expiredCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "threshold_requests_expired_total",
			Help: "Change requests moved to EXPIRED",
		})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		auditGapCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "threshold_audit_gaps_total",
			Help: "Requests found without an expected audit event",
		}, []string{"event_type"})

		inFlightGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Requests currently being served, by method",
		}, []string{"method"})

		prometheus.MustRegister(
			inFlightGauge,
			httpDurationHistogram,
			transitionCounter,
			idempotencyCounter,
			notificationCounter,
			lockWaitHistogram,
			expiredCounter,
			workerRunCounter,
			auditGapCounter,
		)
	})
}

// TrackInFlight marks a request as started and returns the func ending it.
func TrackInFlight(method string) func() {
	if inFlightGauge == nil {
		return func() {}
	}
	g := inFlightGauge.WithLabelValues(method)
	g.Inc()
	return g.Dec
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementTransition(eventType string) {
	if transitionCounter == nil {
		return
	}
	transitionCounter.WithLabelValues(eventType).Inc()
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func IncrementNotificationPublish(role, result string) {
	if notificationCounter == nil {
		return
	}
	notificationCounter.WithLabelValues(role, result).Inc()
}

func ObserveLockWait(backend string, wait time.Duration) {
	if lockWaitHistogram == nil {
		return
	}
	lockWaitHistogram.WithLabelValues(backend).Observe(wait.Seconds())
}

func AddExpired(n int) {
	if expiredCounter == nil || n <= 0 {
		return
	}
	expiredCounter.Add(float64(n))
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}

func IncrementAuditGap(eventType string) {
	if auditGapCounter == nil {
		return
	}
	auditGapCounter.WithLabelValues(eventType).Inc()
}
