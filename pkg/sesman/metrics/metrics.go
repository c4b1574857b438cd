// Package metrics defines the session manager's Prometheus surface: RPC call
// counts by method and outcome, and a gauge for the store's entry count.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// RPCTotal counts every session-manager RPC by method name and outcome
// ("ok" or "error").
var RPCTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "svarog",
		Subsystem: "sesman",
		Name:      "rpc_total",
		Help:      "Total session manager RPCs served, by method and outcome.",
	},
	[]string{"method", "outcome"},
)

// SessionsLive reports the store's total entry count (session config slots
// plus pending message slots), sampled after each NewSession; it is not a
// count of distinct sessions, and eviction does not update it.
var SessionsLive = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "svarog",
		Subsystem: "sesman",
		Name:      "sessions_live",
		Help:      "Number of entries in the session store, sampled at each NewSession.",
	},
)

// Registry is the collector registry the CLI mounts at /metrics.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(RPCTotal, SessionsLive)
}

// Observe records the outcome of one RPC call.
func Observe(method string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	RPCTotal.WithLabelValues(method, outcome).Inc()
}
