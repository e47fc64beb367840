package rtclient

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Call outcomes used as the outcome label of rtclient_calls_total.
const (
	outcomeOK         = "ok"
	outcomeRemote     = "remote_error"
	outcomeTimeout    = "timeout"
	outcomeNotReady   = "not_ready"
	outcomeClosed     = "closed"
	outcomeCanceled   = "canceled"
	outcomeSendFailed = "send_failed"
)

// metrics is nil when no Registerer is configured; every method is nil safe.
type metrics struct {
	calls          *prometheus.CounterVec
	pending        prometheus.Gauge
	reconnects     prometheus.Counter
	listenerErrors prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	if reg == nil {
		return nil, nil
	}
	m := &metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rtclient_calls_total",
			Help: "Calls made over the duplex channel by outcome.",
		}, []string{"outcome"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rtclient_pending_calls",
			Help: "Calls waiting for a response.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtclient_push_reconnects_total",
			Help: "Push channel reconnections scheduled.",
		}),
		listenerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtclient_listener_errors_total",
			Help: "Bus listeners that returned an error or panicked.",
		}),
	}
	for _, c := range []prometheus.Collector{m.calls, m.pending, m.reconnects, m.listenerErrors} {
		err := reg.Register(c)
		if err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}
	return m, nil
}

func (m *metrics) call(outcome string) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(outcome).Inc()
}

func (m *metrics) setPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}

func (m *metrics) reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *metrics) listenerError() {
	if m == nil {
		return
	}
	m.listenerErrors.Inc()
}
