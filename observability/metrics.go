package observability

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"lendpool/native/lending"
)

// LendingMetrics records pool operations and the committed pool shape.
type LendingMetrics struct {
	operations *prometheus.CounterVec
	errors     *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	throttles  *prometheus.CounterVec
	requests   *prometheus.CounterVec
	liquidity  *prometheus.GaugeVec
	borrowed   *prometheus.GaugeVec
	activeLoan prometheus.Gauge
	lenders    prometheus.Gauge

	mu     sync.Mutex
	tokens map[string]struct{}
}

var (
	lendingMetricsOnce sync.Once
	lendingRegistry    *LendingMetrics
)

// Lending returns the lazily-initialised metrics registered with the default
// prometheus registry.
func Lending() *LendingMetrics {
	lendingMetricsOnce.Do(func() {
		lendingRegistry = NewLendingMetrics(prometheus.DefaultRegisterer)
	})
	return lendingRegistry
}

// NewLendingMetrics builds the collectors and registers them with reg.
func NewLendingMetrics(reg prometheus.Registerer) *LendingMetrics {
	m := &LendingMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lendpool",
			Subsystem: "lending",
			Name:      "operations_total",
			Help:      "Total pool operations segmented by operation and outcome.",
		}, []string{"op", "outcome"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lendpool",
			Subsystem: "lending",
			Name:      "errors_total",
			Help:      "Total rejected pool operations segmented by operation and error code.",
		}, []string{"op", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lendpool",
			Subsystem: "lending",
			Name:      "operation_duration_seconds",
			Help:      "Latency distribution for pool operations including persistence.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lendpool",
			Subsystem: "api",
			Name:      "throttles_total",
			Help:      "Count of API requests rejected due to throttling policies.",
		}, []string{"reason"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lendpool",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total API requests segmented by route and outcome.",
		}, []string{"route", "outcome"}),
		liquidity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "lendpool",
			Subsystem: "lending",
			Name:      "pool_liquidity",
			Help:      "Recorded pool liquidity per token.",
		}, []string{"token"}),
		borrowed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "lendpool",
			Subsystem: "lending",
			Name:      "open_borrowed",
			Help:      "Principal of unrepaid loans per borrow token.",
		}, []string{"token"}),
		activeLoan: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lendpool",
			Subsystem: "lending",
			Name:      "active_loans",
			Help:      "Number of loans not yet repaid.",
		}),
		lenders: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lendpool",
			Subsystem: "lending",
			Name:      "lender_entries",
			Help:      "Number of (participant, token) lender entries.",
		}),
		tokens: make(map[string]struct{}),
	}
	if reg != nil {
		reg.MustRegister(
			m.operations,
			m.errors,
			m.latency,
			m.throttles,
			m.requests,
			m.liquidity,
			m.borrowed,
			m.activeLoan,
			m.lenders,
		)
	}
	return m
}

// ObserveOperation records the outcome of one host call.
func (m *LendingMetrics) ObserveOperation(op string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	op = labelOrUnknown(op)
	outcome := "success"
	if err != nil {
		outcome = "error"
		code := lending.CodeOf(err)
		if code == "" {
			if errors.Is(err, lending.ErrAmountOverflow) {
				code = "AmountOverflow"
			} else {
				code = "internal"
			}
		}
		m.errors.WithLabelValues(op, code).Inc()
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// ObservePool refreshes the pool gauges from a committed snapshot.
func (m *LendingMetrics) ObservePool(pool *lending.Pool) {
	if m == nil || pool == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]struct{})
	for _, entry := range pool.LiquidityEntries() {
		token := entry.Key.String()
		seen[token] = struct{}{}
		m.liquidity.WithLabelValues(token).Set(float64(entry.Amount))
	}
	stats := pool.Stats()
	for _, token := range pool.BorrowTokens.Tokens() {
		label := token.String()
		seen[label] = struct{}{}
		m.borrowed.WithLabelValues(label).Set(float64(stats.OpenBorrowed[token]))
	}
	for token := range m.tokens {
		if _, ok := seen[token]; !ok {
			m.liquidity.DeleteLabelValues(token)
			m.borrowed.DeleteLabelValues(token)
		}
	}
	m.tokens = seen
	m.activeLoan.Set(float64(stats.ActiveLoans))
	m.lenders.Set(float64(stats.Lenders))
}

// ObserveRequest records the outcome of an API request. The status code
// should be the HTTP status ultimately written to the client.
func (m *LendingMetrics) ObserveRequest(route string, status int) {
	if m == nil {
		return
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(labelOrUnknown(route), outcome).Inc()
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit" so dashboards and alerts remain consistent.
func (m *LendingMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if strings.TrimSpace(reason) == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}

func labelOrUnknown(v string) string {
	if strings.TrimSpace(v) == "" {
		return "unknown"
	}
	return v
}
