// Package metrics defines the venue's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every counter the pipeline stages increment. All stages
// share one instance; prometheus counters are safe for concurrent use.
type Metrics struct {
	OrdersAccepted prometheus.Counter
	OrdersRejected prometheus.Counter
	Trades         prometheus.Counter
	SeqDrops       prometheus.Counter
	SpoofDrops     prometheus.Counter
	MDRecords      prometheus.Counter
	SnapshotCycles prometheus.Counter
	DropCopySent   prometheus.Counter

	registry *prometheus.Registry
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		OrdersAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "talos_orders_accepted_total",
			Help: "New orders accepted by the matching engine.",
		}),
		OrdersRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "talos_orders_rejected_total",
			Help: "Requests rejected for structural invalidity.",
		}),
		Trades: factory.NewCounter(prometheus.CounterOpts{
			Name: "talos_trades_total",
			Help: "Trades executed.",
		}),
		SeqDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "talos_gateway_sequence_drops_total",
			Help: "Inbound messages dropped for out-of-order or duplicate sequence numbers.",
		}),
		SpoofDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "talos_gateway_spoof_drops_total",
			Help: "Inbound messages dropped for client identity mismatch.",
		}),
		MDRecords: factory.NewCounter(prometheus.CounterOpts{
			Name: "talos_marketdata_records_total",
			Help: "Incremental market data records published.",
		}),
		SnapshotCycles: factory.NewCounter(prometheus.CounterOpts{
			Name: "talos_marketdata_snapshot_cycles_total",
			Help: "Complete snapshot publications.",
		}),
		DropCopySent: factory.NewCounter(prometheus.CounterOpts{
			Name: "talos_dropcopy_sent_total",
			Help: "Execution reports published to the drop-copy feed.",
		}),
		registry: reg,
	}
}

// Handler serves the registry for the admin HTTP server.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
