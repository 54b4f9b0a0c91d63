package raid6

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of one store.
type Metrics struct {
	// Operation metrics
	OperationsTotal   *prometheus.CounterVec   // raid6_operations_total{operation,status}
	OperationDuration *prometheus.HistogramVec // raid6_operation_duration_seconds{operation}

	// Transfer metrics
	BytesWritten prometheus.Counter // raid6_bytes_written_total
	BytesRead    prometheus.Counter // raid6_bytes_read_total

	// Layout metrics
	Objects prometheus.Gauge // raid6_objects
	Stripes prometheus.Gauge // raid6_stripes

	// Failure and repair metrics
	DegradedStripeReads  prometheus.Counter // raid6_degraded_stripe_reads_total
	MissingBlocks        prometheus.Gauge   // raid6_missing_blocks
	BlocksRebuilt        prometheus.Counter // raid6_blocks_rebuilt_total
	UnrecoverableStripes prometheus.Counter // raid6_unrecoverable_stripes_total
}

// NewMetrics registers the store metrics with registry. A nil registry gets
// a fresh private one, so several stores can live in one process. When the
// registry already holds the collectors, from a store opened earlier with
// the same registry, those are reused and keep counting.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	f := factory{reg: registry}

	return &Metrics{
		OperationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "raid6_operations_total",
			Help: "Store operations by operation and status",
		}, []string{"operation", "status"}),

		OperationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "raid6_operation_duration_seconds",
			Help:    "Store operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),

		BytesWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "raid6_bytes_written_total",
			Help: "Object bytes written, padding excluded",
		}),

		BytesRead: f.NewCounter(prometheus.CounterOpts{
			Name: "raid6_bytes_read_total",
			Help: "Object bytes returned by Retrieve",
		}),

		Objects: f.NewGauge(prometheus.GaugeOpts{
			Name: "raid6_objects",
			Help: "Number of committed objects",
		}),

		Stripes: f.NewGauge(prometheus.GaugeOpts{
			Name: "raid6_stripes",
			Help: "Stripe cursor (stripes allocated so far)",
		}),

		DegradedStripeReads: f.NewCounter(prometheus.CounterOpts{
			Name: "raid6_degraded_stripe_reads_total",
			Help: "Stripes decoded on the fly because a data block was missing",
		}),

		MissingBlocks: f.NewGauge(prometheus.GaugeOpts{
			Name: "raid6_missing_blocks",
			Help: "Missing blocks found by the last detection pass",
		}),

		BlocksRebuilt: f.NewCounter(prometheus.CounterOpts{
			Name: "raid6_blocks_rebuilt_total",
			Help: "Blocks rebuilt and written back by repair",
		}),

		UnrecoverableStripes: f.NewCounter(prometheus.CounterOpts{
			Name: "raid6_unrecoverable_stripes_total",
			Help: "Stripes repair could not rebuild",
		}),
	}
}

// factory mirrors promauto.With but tolerates collectors that are already
// registered.
type factory struct {
	reg prometheus.Registerer
}

func (f factory) NewCounterVec(opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	return register(f.reg, prometheus.NewCounterVec(opts, labels))
}

func (f factory) NewHistogramVec(opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	return register(f.reg, prometheus.NewHistogramVec(opts, labels))
}

func (f factory) NewCounter(opts prometheus.CounterOpts) prometheus.Counter {
	return register(f.reg, prometheus.NewCounter(opts))
}

func (f factory) NewGauge(opts prometheus.GaugeOpts) prometheus.Gauge {
	return register(f.reg, prometheus.NewGauge(opts))
}

// register adds c to reg, or returns the equal collector reg already has.
// Conflicting descriptors still panic, as with promauto.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	err := reg.Register(c)
	if err == nil {
		return c
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing
		}
	}
	panic(err)
}
