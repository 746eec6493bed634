package perf

import (
	"expvar"

	"github.com/encodeous/metric"
)

var (
	DispatchLatency      = metric.NewHistogram("1m1s")
	VectorsSentPerSecond = metric.NewCounter("10s1s")
	VectorsRecvPerSecond = metric.NewCounter("10s1s")
	DialsPerSecond       = metric.NewCounter("10s1s")
)

func init() {
	expvar.Publish("dvrouter:VectorsSent/s", VectorsSentPerSecond)
	expvar.Publish("dvrouter:VectorsRecv/s", VectorsRecvPerSecond)
	expvar.Publish("dvrouter:Dials/s", DialsPerSecond)
	expvar.Publish("dvrouter:DispatchLatency (µs)", DispatchLatency)
}
