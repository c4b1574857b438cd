// Package metrics defines the peer orchestrator's Prometheus surface: RPC
// call counts by method and outcome, mirroring pkg/sesman/metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// RPCTotal counts every peer RPC by method name and outcome ("ok" or
// "error").
var RPCTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "svarog",
		Subsystem: "peer",
		Name:      "rpc_total",
		Help:      "Total peer orchestrator RPCs served, by method and outcome.",
	},
	[]string{"method", "outcome"},
)

// CeremoniesTotal counts completed ceremonies by operation and outcome.
var CeremoniesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "svarog",
		Subsystem: "peer",
		Name:      "ceremonies_total",
		Help:      "Total ceremonies run by this peer, by operation and outcome.",
	},
	[]string{"operation", "outcome"},
)

// Registry is the collector registry the CLI mounts at /metrics.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(RPCTotal, CeremoniesTotal)
}

// Observe records the outcome of one RPC call.
func Observe(method string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	RPCTotal.WithLabelValues(method, outcome).Inc()
}

// ObserveCeremony records the outcome of one completed ceremony.
func ObserveCeremony(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	CeremoniesTotal.WithLabelValues(operation, outcome).Inc()
}
