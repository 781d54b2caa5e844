package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsActive tracks the number of live channel connections.
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "coursefeed_connections_active",
		Help: "Number of websocket connections currently open.",
	})

	// Reconnects counts reconnect attempts after abnormal closures.
	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coursefeed_reconnects_total",
		Help: "Total reconnect attempts scheduled after abnormal closures.",
	})

	// EnvelopesReceived counts decoded envelopes per type.
	EnvelopesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coursefeed_envelopes_received_total",
		Help: "Total envelopes decoded from the transport, by type.",
	}, []string{"type"})

	// EnvelopesDelivered counts envelopes that reached at least one sink.
	EnvelopesDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coursefeed_envelopes_delivered_total",
		Help: "Total envelopes dispatched to sinks, by type.",
	}, []string{"type"})

	// EnvelopesDropped counts envelopes discarded before dispatch.
	EnvelopesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coursefeed_envelopes_dropped_total",
		Help: "Total envelopes dropped before dispatch, by reason.",
	}, []string{"reason"})

	// DecodeErrors counts malformed frames dropped at the connection.
	DecodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coursefeed_decode_errors_total",
		Help: "Total malformed frames dropped at the transport.",
	})

	// CatalogRefreshes counts catalog fetches by outcome.
	CatalogRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coursefeed_catalog_refreshes_total",
		Help: "Total catalog fetches, by outcome.",
	}, []string{"outcome"})
)

// Drop reasons used with EnvelopesDropped.
const (
	ReasonDuplicate    = "duplicate"
	ReasonCrossChannel = "cross_channel"
	ReasonAddressee    = "addressee"
	ReasonUnknownType  = "unknown_type"
)
