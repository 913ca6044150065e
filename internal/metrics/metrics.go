package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rwa_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "code"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rwa_http_request_duration_seconds",
			Help:    "Histogram of response latency (seconds) for HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
	LoansIssued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rwa_loans_issued_total",
			Help: "Loans admitted by the collateral policy",
		},
	)
	LoanTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rwa_loan_transitions_total",
			Help: "Loans moved to a terminal status",
		},
		[]string{"status"},
	)
	OperationRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rwa_operation_rejections_total",
			Help: "Engine operations rejected, by operation and error code",
		},
		[]string{"operation", "code"},
	)
	RiskObservations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rwa_risk_observations_total",
			Help: "Accepted risk observations by source",
		},
		[]string{"source"},
	)
	DuplicateDeliveries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rwa_risk_duplicate_deliveries_total",
			Help: "Risk submissions ignored because their workflow id was already recorded",
		},
	)
	LockWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rwa_asset_lock_wait_seconds",
			Help:    "Time spent waiting for an asset's exclusive section",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 2, 5},
		},
	)
	LockTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rwa_asset_lock_timeouts_total",
			Help: "Operations that gave up waiting for an asset's exclusive section",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		LoansIssued,
		LoanTransitions,
		OperationRejections,
		RiskObservations,
		DuplicateDeliveries,
		LockWait,
		LockTimeouts,
	)
}

// ObserveLockWait is passed to keylock.WithWaitObserver.
func ObserveLockWait(d time.Duration) {
	LockWait.Observe(d.Seconds())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records request counts and latency. route resolves the route
// pattern after the handler has run so path parameters don't explode label
// cardinality.
func Middleware(route func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			name := route(r)
			HTTPRequestsTotal.WithLabelValues(name, r.Method, strconv.Itoa(rec.status)).Inc()
			HTTPRequestDuration.WithLabelValues(name, r.Method).Observe(time.Since(start).Seconds())
		})
	}
}
