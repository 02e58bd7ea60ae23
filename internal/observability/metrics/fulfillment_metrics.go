package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Config carries the constant labels stamped onto every series.
type Config struct {
	ServiceName string
	Environment string
}

const (
	ReserveOutcomeOK           = "ok"
	ReserveOutcomeInsufficient = "insufficient"
	ReserveOutcomeNotFound     = "not_found"
	ReserveOutcomeError        = "error"
)

const (
	StaleActionRestarted     = "restarted"
	StaleActionRetried       = "retried"
	StaleActionCancelled     = "cancelled"
	StaleActionAutoDelivered = "auto_delivered"
)

// FulfillmentMetrics captures order pipeline and ledger health signals.
type FulfillmentMetrics struct {
	ordersCreated    prometheus.Counter
	ordersRejected   prometheus.Counter
	transitions      *prometheus.CounterVec
	ledgerOps        *prometheus.CounterVec
	lifecycleRuns    *prometheus.CounterVec
	lifecycleRetries prometheus.Counter
	staleHandled     *prometheus.CounterVec
	jobRuns          *prometheus.CounterVec
	jobErrors        *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	runLoopLag       prometheus.Histogram
}

var (
	fulfillmentMetricsOnce sync.Once
	fulfillmentMetrics     *FulfillmentMetrics
)

// Fulfillment returns the singleton metrics registry.
func Fulfillment() *FulfillmentMetrics {
	return FulfillmentWithConfig(Config{})
}

// FulfillmentWithConfig returns the singleton using config labels.
func FulfillmentWithConfig(cfg Config) *FulfillmentMetrics {
	fulfillmentMetricsOnce.Do(func() {
		fulfillmentMetrics = newFulfillmentMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return fulfillmentMetrics
}

// ResetFulfillmentMetricsForTest resets the singleton for tests.
func ResetFulfillmentMetricsForTest() {
	fulfillmentMetricsOnce = sync.Once{}
	fulfillmentMetrics = nil
}

func newFulfillmentMetrics(registerer prometheus.Registerer, cfg Config) *FulfillmentMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "fulfillment"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &FulfillmentMetrics{
		ordersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "fulfillment_orders_created_total",
			Help:        "Orders accepted with all reservations held.",
			ConstLabels: constLabels,
		}),
		ordersRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "fulfillment_orders_rejected_total",
			Help:        "Order creations aborted by a failed stock reservation.",
			ConstLabels: constLabels,
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "fulfillment_order_transition_total",
			Help:        "Committed order status transitions.",
			ConstLabels: constLabels,
		}, []string{"from", "to"}),
		ledgerOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "fulfillment_ledger_operation_total",
			Help:        "Inventory ledger operations by type and outcome.",
			ConstLabels: constLabels,
		}, []string{"operation", "outcome"}),
		lifecycleRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "fulfillment_lifecycle_runs_total",
			Help:        "Lifecycle worker runs by terminal result.",
			ConstLabels: constLabels,
		}, []string{"result"}),
		lifecycleRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "fulfillment_lifecycle_retries_total",
			Help:        "Lifecycle tasks re-enqueued after transient errors.",
			ConstLabels: constLabels,
		}),
		staleHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "fulfillment_stale_orders_handled_total",
			Help:        "Stale orders handled by the reconciler sweep.",
			ConstLabels: constLabels,
		}, []string{"status", "action"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "fulfillment_scheduler_job_runs_total",
			Help:        "Reconciler job runs by name.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "fulfillment_scheduler_job_errors_total",
			Help:        "Reconciler job errors by low-cardinality reason.",
			ConstLabels: constLabels,
		}, []string{"job", "reason"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "fulfillment_scheduler_job_duration_seconds",
			Help:        "Reconciler job latency.",
			Buckets:     []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			ConstLabels: constLabels,
		}, []string{"job"}),
		runLoopLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "fulfillment_scheduler_runloop_lag_seconds",
			Help:        "Reconciler run loop lag beyond the configured interval.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			ConstLabels: constLabels,
		}),
	}

	registerOrReuse(registerer, m.ordersCreated)
	registerOrReuse(registerer, m.ordersRejected)
	registerOrReuse(registerer, m.transitions)
	registerOrReuse(registerer, m.ledgerOps)
	registerOrReuse(registerer, m.lifecycleRuns)
	registerOrReuse(registerer, m.lifecycleRetries)
	registerOrReuse(registerer, m.staleHandled)
	registerOrReuse(registerer, m.jobRuns)
	registerOrReuse(registerer, m.jobErrors)
	registerOrReuse(registerer, m.jobDuration)
	registerOrReuse(registerer, m.runLoopLag)

	return m
}

func registerOrReuse(registerer prometheus.Registerer, collector prometheus.Collector) {
	if err := registerer.Register(collector); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
			panic(err)
		}
	}
}

func (m *FulfillmentMetrics) IncOrderCreated()  { m.ordersCreated.Inc() }
func (m *FulfillmentMetrics) IncOrderRejected() { m.ordersRejected.Inc() }

func (m *FulfillmentMetrics) IncTransition(from, to string) {
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *FulfillmentMetrics) IncLedgerOp(operation, outcome string) {
	m.ledgerOps.WithLabelValues(operation, outcome).Inc()
}

func (m *FulfillmentMetrics) IncLifecycleRun(result string) {
	m.lifecycleRuns.WithLabelValues(result).Inc()
}

func (m *FulfillmentMetrics) IncLifecycleRetry() { m.lifecycleRetries.Inc() }

func (m *FulfillmentMetrics) IncStaleHandled(status, action string) {
	m.staleHandled.WithLabelValues(status, action).Inc()
}

func (m *FulfillmentMetrics) IncJobRun(job string) {
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *FulfillmentMetrics) IncJobError(job, reason string) {
	m.jobErrors.WithLabelValues(job, reason).Inc()
}

func (m *FulfillmentMetrics) ObserveJobDuration(job string, d time.Duration) {
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *FulfillmentMetrics) ObserveRunLoopLag(d time.Duration) {
	m.runLoopLag.Observe(d.Seconds())
}
