package webmail

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts webmail operations by outcome. A nil *Metrics records
// nothing.
type Metrics struct {
	operations *prometheus.CounterVec
	sentCopies *prometheus.CounterVec
}

// NewMetrics registers the webmail collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mailpanel",
			Subsystem: "webmail",
			Name:      "operations_total",
			Help:      "Webmail operations by name and outcome.",
		}, []string{"op", "outcome"}),
		sentCopies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mailpanel",
			Subsystem: "webmail",
			Name:      "sent_copy_total",
			Help:      "Attempts to store a copy of a sent message in the Sent folder.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.operations, m.sentCopies)
	}
	return m
}

func (m *Metrics) observe(op string, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, outcome(err)).Inc()
}

func (m *Metrics) sentCopy(err error) {
	if m == nil {
		return
	}
	label := "saved"
	if err != nil {
		label = "failed"
	}
	m.sentCopies.WithLabelValues(label).Inc()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsAuthError(err):
		return "auth_error"
	case IsConnectError(err):
		return "connect_error"
	case IsParseError(err):
		return "parse_error"
	case errors.Is(err, ErrMessageNotFound):
		return "not_found"
	case IsProtocolError(err):
		return "protocol_error"
	default:
		return "error"
	}
}
