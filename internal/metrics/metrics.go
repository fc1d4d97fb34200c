// Package metrics holds the service's Prometheus collectors, registered on
// the default registry and exposed via /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesDecoded counts frames decoded from bridge stdout, by frame type.
	FramesDecoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sumo_bridge_frames_decoded_total",
		Help: "Frames decoded from simulator stdout, labeled by frame type.",
	}, []string{"type"})

	// MalformedLines counts undecodable stdout lines that were dropped.
	MalformedLines = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sumo_bridge_malformed_lines_total",
		Help: "Stdout lines dropped because they failed structural decoding.",
	})

	// CommandsSent counts command lines written to the simulator's stdin.
	CommandsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sumo_bridge_commands_sent_total",
		Help: "Command lines written to simulator stdin.",
	})

	// PublishedMessages counts hub publishes, by topic.
	PublishedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sumo_bridge_published_messages_total",
		Help: "Messages published to realtime topics.",
	}, []string{"topic"})

	// DroppedMessages counts per-client deliveries that were dropped because
	// the client could not accept the write.
	DroppedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sumo_bridge_dropped_messages_total",
		Help: "Per-client deliveries dropped on write failure or backpressure.",
	})

	// ProcessSpawns counts simulator process spawn attempts, by outcome.
	ProcessSpawns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sumo_bridge_process_spawns_total",
		Help: "Simulator spawn attempts, labeled by outcome.",
	}, []string{"outcome"})
)
