// Package metrics registers the coordinator's Prometheus
// instrumentation. Registration at package init, one counter per
// terminal outcome plus a queue-depth gauge, follows the convention
// used across the retrieved pack for prometheus/client_golang
// (e.g. sushant-115-gojodb/pkg/telemetry and
// talent-plan-tinykv/kv/server's use of the same library).
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// TransactionsExecuted counts Coordinator.Execute calls that
	// dispatched a round immediately, labeled by dispatch reason.
	// Calls left queued behind the head-of-line blocker are not
	// counted.
	TransactionsExecuted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dtxncoord",
		Name:      "transactions_executed_total",
		Help:      "Rounds dispatched via Execute, by dispatch reason.",
	}, []string{"reason"})

	// TransactionsFinished counts terminal outcomes, by status kind.
	TransactionsFinished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dtxncoord",
		Name:      "transactions_finished_total",
		Help:      "Transactions that reached a terminal outcome, by status.",
	}, []string{"status"})

	// DependencyEdges counts dependency bookkeeping events.
	DependencyEdges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dtxncoord",
		Name:      "dependency_edges_total",
		Help:      "Dependency graph edge events, by kind.",
	}, []string{"kind"})

	// QueueDepth is the current span of the pending queue
	// (NextIndex - FirstIndex), including cleared slots not yet
	// trimmed.
	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "dtxncoord",
		Name:      "pending_queue_depth",
		Help:      "Current PendingQueue depth (next_index - first_index).",
	})
)

func init() {
	prometheus.MustRegister(TransactionsExecuted, TransactionsFinished, DependencyEdges, QueueDepth)
}
