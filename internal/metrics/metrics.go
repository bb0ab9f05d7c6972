// Package metrics exposes Prometheus instrumentation for the sync core and
// the dev server. Collectors register on the default registry; the server
// serves them via promhttp.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsApplied counts backend events applied to an in-memory
	// collection, by stream and event kind.
	EventsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "homeledger_sync_events_applied_total",
		Help: "Backend events applied to a synced collection.",
	}, []string{"stream", "kind"})

	// EventsSuppressed counts incremental events ignored because they
	// arrived before the initial snapshot load completed.
	EventsSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "homeledger_sync_events_suppressed_total",
		Help: "Incremental events suppressed before the initial snapshot.",
	}, []string{"stream"})

	// EventsIgnored counts change/remove events targeting an id absent from
	// the working list (a documented no-op).
	EventsIgnored = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "homeledger_sync_events_ignored_total",
		Help: "Events targeting an id absent from the working list.",
	}, []string{"stream", "kind"})

	// Subscribers tracks the number of active subscribers per shared stream.
	Subscribers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "homeledger_stream_subscribers",
		Help: "Active subscribers per shared stream.",
	}, []string{"stream"})

	// WireConnections tracks open WebSocket connections on the dev server.
	WireConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "homeledger_wire_connections",
		Help: "Open WebSocket connections.",
	})

	// WireFrames counts processed wire frames by op.
	WireFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "homeledger_wire_frames_total",
		Help: "Processed wire frames by op.",
	}, []string{"op"})
)
