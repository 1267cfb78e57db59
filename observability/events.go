package observability

import (
	"strconv"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"lendpool/core/events"
)

// EventMetrics counts committed pool events. It satisfies events.Emitter so it
// can sit in the host's fanout next to the stream hub.
type EventMetrics struct {
	emitted *prometheus.CounterVec
	volume  *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *EventMetrics
)

// Events returns the metrics registry tracking committed pool events.
func Events() *EventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = NewEventMetrics(prometheus.DefaultRegisterer)
	})
	return eventRegistry
}

// NewEventMetrics builds the event collectors and registers them with reg.
func NewEventMetrics(reg prometheus.Registerer) *EventMetrics {
	m := &EventMetrics{
		emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lendpool",
			Subsystem: "events",
			Name:      "emitted_total",
			Help:      "Count of committed pool events segmented by type.",
		}, []string{"type"}),
		volume: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lendpool",
			Subsystem: "events",
			Name:      "amount_total",
			Help:      "Sum of event amounts segmented by type and token.",
		}, []string{"type", "token"}),
	}
	if reg != nil {
		reg.MustRegister(m.emitted, m.volume)
	}
	return m
}

// Emit implements events.Emitter.
func (m *EventMetrics) Emit(evt events.Event) {
	if m == nil {
		return
	}
	typ := strings.TrimSpace(evt.Type)
	if typ == "" {
		typ = "unknown"
	}
	m.emitted.WithLabelValues(typ).Inc()

	token := evt.Attributes["token"]
	if token == "" {
		return
	}
	if amount, err := strconv.ParseUint(evt.Attributes["amount"], 10, 64); err == nil {
		m.volume.WithLabelValues(typ, token).Add(float64(amount))
	}
}
