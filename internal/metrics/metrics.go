package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Frame drop reasons.
const (
	DropNotOpen    = "not_open"
	DropWriteError = "write_error"
	DropDecode     = "decode_error"
)

// Metrics contains all Prometheus metrics for the voice relay.
type Metrics struct {
	// Stream registry
	ActiveStreams      prometheus.Gauge
	StreamsCreated     prometheus.Counter
	StreamsEnded       prometheus.Counter
	ResolutionFailures prometheus.Counter

	// Relay channel
	FramesForwarded   prometheus.Counter
	FramesDropped     *prometheus.CounterVec
	RelayConnects     prometheus.Counter
	RelayReconnects   prometheus.Counter
	RelayUnavailable  prometheus.Gauge
	MalformedMessages prometheus.Counter

	// Reply player
	RepliesPlayed  prometheus.Counter
	RepliesSkipped prometheus.Counter
	RepliesFailed  prometheus.Counter

	gatherer prometheus.Gatherer
}

// New creates the metrics and registers them with reg.
// Tests pass a fresh prometheus.NewRegistry so instances do not collide.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicerelay_active_streams",
			Help: "Current number of tracked speaker streams",
		}),
		StreamsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicerelay_streams_created_total",
			Help: "Total number of speaker streams created",
		}),
		StreamsEnded: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicerelay_streams_ended_total",
			Help: "Total number of speaker streams removed",
		}),
		ResolutionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicerelay_identity_resolution_failures_total",
			Help: "Total number of speaker label lookups that failed",
		}),
		FramesForwarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicerelay_frames_forwarded_total",
			Help: "Total number of decoded frames sent to the relay",
		}),
		FramesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicerelay_frames_dropped_total",
			Help: "Total number of decoded frames that were not sent",
		}, []string{"reason"}),
		RelayConnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicerelay_relay_connects_total",
			Help: "Total number of successful relay connections",
		}),
		RelayReconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicerelay_relay_reconnect_attempts_total",
			Help: "Total number of scheduled relay reconnect attempts",
		}),
		RelayUnavailable: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicerelay_relay_unavailable",
			Help: "1 once the relay has given up reconnecting",
		}),
		MalformedMessages: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicerelay_relay_malformed_messages_total",
			Help: "Total number of inbound relay messages that could not be decoded",
		}),
		RepliesPlayed: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicerelay_replies_played_total",
			Help: "Total number of replies played to completion",
		}),
		RepliesSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicerelay_replies_skipped_total",
			Help: "Total number of replies skipped for lack of a voice connection",
		}),
		RepliesFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicerelay_replies_failed_total",
			Help: "Total number of replies that failed to play",
		}),
		gatherer: reg,
	}
}

// Handler serves the registered metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
