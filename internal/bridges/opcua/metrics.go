package opcua

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts gateway traffic and lifecycle events.
// A nil *Metrics records nothing.
type Metrics struct {
	published       prometheus.Counter
	publishFailures prometheus.Counter
	writes          prometheus.Counter
	writeFailures   *prometheus.CounterVec
	parseErrors     prometheus.Counter
	restarts        prometheus.Counter
	connectAttempts *prometheus.CounterVec
	state           *prometheus.GaugeVec
}

// NewMetrics creates the gateway collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_messages_published_total",
			Help: "Sensor messages published to the broker",
		}),
		publishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_publish_failures_total",
			Help: "Sensor publishes the broker rejected",
		}),
		writes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_writes_total",
			Help: "Commands written to the automation server",
		}),
		writeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_write_failures_total",
			Help: "Commands dropped, by reason",
		}, []string{"reason"}),
		parseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_parse_errors_total",
			Help: "Inbound messages discarded as unparseable or unroutable",
		}),
		restarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_restarts_total",
			Help: "Supervisor restart cycles",
		}),
		connectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_connect_attempts_total",
			Help: "Connect attempts, by session and result",
		}, []string{"session", "result"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_state",
			Help: "1 for the current gateway state, 0 otherwise",
		}, []string{"state"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.published, m.publishFailures, m.writes, m.writeFailures,
			m.parseErrors, m.restarts, m.connectAttempts, m.state,
		)
	}
	return m
}

func (m *Metrics) incPublished() {
	if m != nil {
		m.published.Inc()
	}
}

func (m *Metrics) incPublishFailure() {
	if m != nil {
		m.publishFailures.Inc()
	}
}

func (m *Metrics) incWrite() {
	if m != nil {
		m.writes.Inc()
	}
}

func (m *Metrics) incWriteFailure(kind Kind) {
	if m != nil {
		m.writeFailures.WithLabelValues(string(kind)).Inc()
	}
}

func (m *Metrics) incParseError() {
	if m != nil {
		m.parseErrors.Inc()
	}
}

func (m *Metrics) incRestart() {
	if m != nil {
		m.restarts.Inc()
	}
}

func (m *Metrics) connectAttempt(session string, ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.connectAttempts.WithLabelValues(session, result).Inc()
}

func (m *Metrics) setState(s GatewayState) {
	if m == nil {
		return
	}
	for _, st := range allGatewayStates {
		v := 0.0
		if st == s {
			v = 1
		}
		m.state.WithLabelValues(string(st)).Set(v)
	}
}
