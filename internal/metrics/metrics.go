// Package metrics holds the gateway's process-wide Prometheus counters.
//
// spec.md §9's design notes call for "metrics in a module-scoped counter
// only if that language offers lock-free atomics" — Prometheus's
// client_golang counters are exactly that: safe for concurrent Inc() from
// every request goroutine with no caller-side locking.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// LoopDetections counts loops declared by the hybrid detector, labeled
	// by which strategy fired ("short" or "long") and by path
	// ("streaming" or "buffered").
	LoopDetections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relaycore_loop_detections_total",
		Help: "Number of content loops detected by the hybrid loop detector.",
	}, []string{"strategy", "path"})

	// ToolCallLoopBlocks counts tool-call repetitions blocked by the
	// tool-call-loop tracker, labeled by mode.
	ToolCallLoopBlocks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relaycore_tool_call_loop_blocks_total",
		Help: "Number of tool calls blocked by the tool-call-loop tracker.",
	}, []string{"mode"})

	// JSONRepairOutcomes counts JSON repair attempts, labeled by
	// strict/best-effort and success/fail.
	JSONRepairOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relaycore_json_repair_outcomes_total",
		Help: "JSON repair attempts by mode and outcome.",
	}, []string{"mode", "outcome"})

	// EmptyResponseRetries counts empty-response auto-retries, labeled by
	// whether the retry budget was exhausted.
	EmptyResponseRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relaycore_empty_response_retries_total",
		Help: "Empty-response auto-retry attempts.",
	}, []string{"outcome"})

	// BackendErrors counts errors surfaced from backend adapters, labeled
	// by backend name and error kind.
	BackendErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relaycore_backend_errors_total",
		Help: "Errors returned by backend connectors.",
	}, []string{"backend", "kind"})
)

// Registry bundles the counters above into a single registerable set, so
// main.go can register them once against a *prometheus.Registry without
// relying on the global default registry (which would make tests in this
// process interfere with each other if they ever register twice).
func Registry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(LoopDetections, ToolCallLoopBlocks, JSONRepairOutcomes, EmptyResponseRetries, BackendErrors)
	return reg
}
