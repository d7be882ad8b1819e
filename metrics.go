package producer

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts delivery events. It is shared by every concurrent delivery of a
// producer and is safe for concurrent use. A nil *Metrics discards everything.
type Metrics struct {
	recordsSent      prometheus.Counter
	recordsFailed    *prometheus.CounterVec
	retries          prometheus.Counter
	backoffResets    prometheus.Counter
	shortSleeps      prometheus.Counter
	retriesExhausted *prometheus.CounterVec
	errors           prometheus.Counter

	// numErrors mirrors the errors counter for in-process reads
	numErrors atomic.Int64
}

// NewMetrics creates the delivery counters and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		recordsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kinesis_shipper_records_sent_total",
			Help: "Total number of entries accepted by the service",
		}),
		recordsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kinesis_shipper_records_failed_total",
			Help: "Total number of entries still rejected after the last retry, by error code",
		}, []string{"error_code"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kinesis_shipper_retries_total",
			Help: "Total number of batch retry rounds",
		}),
		backoffResets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kinesis_shipper_backoff_resets_total",
			Help: "Total number of backoff resets after partial progress",
		}),
		shortSleeps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kinesis_shipper_short_sleeps_total",
			Help: "Total number of sleeps that returned before the requested duration",
		}),
		retriesExhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kinesis_shipper_retries_exhausted_total",
			Help: "Total number of batches that still had failures after the last retry",
		}, []string{"policy"}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kinesis_shipper_errors_total",
			Help: "Total number of entries given up on after retries were exhausted",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.recordsSent,
			m.recordsFailed,
			m.retries,
			m.backoffResets,
			m.shortSleeps,
			m.retriesExhausted,
			m.errors,
		)
	}
	return m
}

// NumErrors returns the number of entries given up on after retries were exhausted.
func (m *Metrics) NumErrors() int64 {
	if m == nil {
		return 0
	}
	return m.numErrors.Load()
}

func (m *Metrics) sent(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.recordsSent.Add(float64(n))
}

func (m *Metrics) failed(code string) {
	if m == nil {
		return
	}
	m.recordsFailed.WithLabelValues(code).Inc()
}

func (m *Metrics) retry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

func (m *Metrics) backoffReset() {
	if m == nil {
		return
	}
	m.backoffResets.Inc()
}

func (m *Metrics) shortSleep() {
	if m == nil {
		return
	}
	m.shortSleeps.Inc()
}

func (m *Metrics) exhausted(policy string) {
	if m == nil {
		return
	}
	m.retriesExhausted.WithLabelValues(policy).Inc()
}

func (m *Metrics) dropped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.errors.Add(float64(n))
	m.numErrors.Add(int64(n))
}
