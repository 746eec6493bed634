package link

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the prometheus collectors of the link layer.
type Metrics struct {
	Handshakes  *prometheus.CounterVec
	Disconnects *prometheus.CounterVec
	Neighbours  *prometheus.GaugeVec
	Messages    *prometheus.CounterVec
	SendErrors  *prometheus.CounterVec
}

// NewMetrics creates the link collectors and registers them with reg, if it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dvrouter_link_handshakes_total",
			Help: "Handshake outcomes by direction.",
		}, []string{"direction", "result"}),
		Disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dvrouter_link_disconnects_total",
			Help: "Logical neighbour disconnects by reason.",
		}, []string{"reason"}),
		Neighbours: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dvrouter_link_connections",
			Help: "Registered connections by direction.",
		}, []string{"direction"}),
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dvrouter_link_messages_total",
			Help: "Protocol messages by direction and type.",
		}, []string{"direction", "type"}),
		SendErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dvrouter_link_send_errors_total",
			Help: "Messages that could not be queued or written.",
		}, []string{"reason"}),
	}
	if reg != nil {
		reg.MustRegister(m.Handshakes, m.Disconnects, m.Neighbours, m.Messages, m.SendErrors)
	}
	return m
}

const (
	dirInbound  = "inbound"
	dirOutbound = "outbound"

	resultOk   = "ok"
	resultFail = "fail"

	reasonRead     = "read"
	reasonWrite    = "write"
	reasonDead     = "dead"
	reasonRemoved  = "removed"
	reasonReplaced = "replaced"
)
