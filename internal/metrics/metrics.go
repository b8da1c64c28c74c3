// Package metrics provides Prometheus metrics for the rpma library.
//
// Connection Metrics:
//   - rpma_connections_total: connections established since start
//   - rpma_connections_active: currently established connections
//   - rpma_connection_events_total: lifecycle events by kind
//
// Memory Metrics:
//   - rpma_regions_registered_total: memory registrations since start
//   - rpma_regions_active: currently registered regions
//
// Operation Metrics:
//   - rpma_reads_total: remote read operations submitted
//   - rpma_read_bytes_total: bytes requested by remote reads
//   - rpma_completions_total: completions drained, by status
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsTotal counts connections that reached the established state.
	ConnectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rpma_connections_total",
			Help: "Total number of established connections",
		},
	)

	// ConnectionsActive tracks currently established connections.
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rpma_connections_active",
			Help: "Number of currently established connections",
		},
	)

	// ConnectionEvents counts delivered connection lifecycle events.
	ConnectionEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpma_connection_events_total",
			Help: "Connection lifecycle events delivered",
		},
		[]string{"event"},
	)

	// RegionsTotal counts memory registrations.
	RegionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rpma_regions_registered_total",
			Help: "Total number of memory regions registered",
		},
	)

	// RegionsActive tracks currently registered memory regions.
	RegionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rpma_regions_active",
			Help: "Number of currently registered memory regions",
		},
	)

	// ReadsTotal counts submitted remote read operations.
	ReadsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rpma_reads_total",
			Help: "Total number of remote read operations submitted",
		},
	)

	// ReadBytesTotal counts bytes requested by remote reads.
	ReadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rpma_read_bytes_total",
			Help: "Total bytes requested by remote read operations",
		},
	)

	// CompletionsTotal counts drained operation completions by status.
	CompletionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpma_completions_total",
			Help: "Operation completions drained, by status",
		},
		[]string{"status"},
	)
)
