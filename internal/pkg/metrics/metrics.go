package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// UpstreamConnected mirrors the status topic: 1 after a successful
	// CONNACK, 0 on any loss or failed attempt.
	UpstreamConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cardata_bridge_upstream_connected",
			Help: "Whether the vendor broker session is established (1=connected, 0=down).",
		},
	)

	// SessionState is a one-hot encoding of the session state machine.
	SessionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cardata_bridge_session_state",
			Help: "Current upstream session state (one-hot across the state label).",
		},
		[]string{"state"},
	)

	// MessagesReceivedTotal counts messages arriving from the vendor broker.
	MessagesReceivedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cardata_bridge_messages_received_total",
			Help: "Total messages received on the vendor account subscription.",
		},
	)

	// RawRepublishedTotal counts raw mirror publishes to the local broker.
	RawRepublishedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cardata_bridge_raw_republished_total",
			Help: "Total messages mirrored verbatim onto the local raw topic.",
		},
	)

	// TelemetryRepublishedTotal counts per-property fan-out publishes.
	TelemetryRepublishedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cardata_bridge_telemetry_republished_total",
			Help: "Total per-property telemetry messages published to vehicle topics.",
		},
	)

	// RepublishSkippedTotal counts messages whose fan-out was abandoned.
	RepublishSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardata_bridge_republish_skipped_total",
			Help: "Messages not fanned out, by reason (the raw mirror is unaffected).",
		},
		[]string{"reason"}, // bad_json, bad_vin, no_data, publish_error
	)

	// TokenRefreshTotal counts refresh-token grant attempts.
	TokenRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardata_bridge_token_refresh_total",
			Help: "Total OAuth refresh attempts by outcome.",
		},
		[]string{"status"}, // success, failed
	)

	// TokenRefreshLatency records the duration of refresh round trips.
	TokenRefreshLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cardata_bridge_token_refresh_duration_seconds",
			Help:    "Latency of OAuth refresh round trips.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// ClientRebuildsTotal counts full teardowns of the vendor client.
	ClientRebuildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardata_bridge_client_rebuilds_total",
			Help: "Total vendor client rebuilds by trigger.",
		},
		[]string{"trigger"}, // watchdog, refresh, rotation
	)

	// ConnectBackoffTotal counts backoff fences raised after failed attempts.
	ConnectBackoffTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardata_bridge_connect_backoff_total",
			Help: "Backoff fences raised, by failure class.",
		},
		[]string{"class"},
	)

	// IdentityTokenExpiry exposes the exp claim of the active identity token.
	IdentityTokenExpiry = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cardata_bridge_identity_token_expiry_seconds",
			Help: "Unix timestamp at which the current identity token expires.",
		},
	)
)

func init() {
	prometheus.MustRegister(UpstreamConnected)
	prometheus.MustRegister(SessionState)
	prometheus.MustRegister(MessagesReceivedTotal)
	prometheus.MustRegister(RawRepublishedTotal)
	prometheus.MustRegister(TelemetryRepublishedTotal)
	prometheus.MustRegister(RepublishSkippedTotal)
	prometheus.MustRegister(TokenRefreshTotal)
	prometheus.MustRegister(TokenRefreshLatency)
	prometheus.MustRegister(ClientRebuildsTotal)
	prometheus.MustRegister(ConnectBackoffTotal)
	prometheus.MustRegister(IdentityTokenExpiry)
}
